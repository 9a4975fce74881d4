package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"aeroctl/internal/actuate"
	"aeroctl/internal/config"
)

func (s *Server) getHealth(c *fiber.Ctx) error {
	status := "ok"
	code := fiber.StatusOK
	if !s.svc.Running() {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"running":   s.svc.Running(),
		"timestamp": time.Now().Unix(),
	})
}

// getStatus reports the state snapshot. Requesting it marks the service
// as observed, which arms the alternating full sensor poll; ?refresh=1
// forces an immediate poll.
func (s *Server) getStatus(c *fiber.Ctx) error {
	return c.JSON(s.svc.Status(c.QueryBool("refresh")))
}

func (s *Server) setFanMode(c *fiber.Ctx) error {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if _, err := actuate.ParseFanMode(req.Mode); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.svc.SetFanMode(req.Mode); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success"})
}

func (s *Server) setFanSpeed(c *fiber.Ctx) error {
	var req struct {
		Percent *int `json:"percent"`
	}
	if err := c.BodyParser(&req); err != nil || req.Percent == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "percent is required"})
	}
	if err := s.svc.SetFixedFanPercent(*req.Percent); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success"})
}

func (s *Server) setBatteryPolicy(c *fiber.Ctx) error {
	var req struct {
		Policy string `json:"policy"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if _, err := actuate.PolicyCode(actuate.ChargePolicy(req.Policy)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.svc.SetBatteryPolicy(req.Policy); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success"})
}

func (s *Server) setBatteryThreshold(c *fiber.Ctx) error {
	var req struct {
		Percent *int `json:"percent"`
	}
	if err := c.BodyParser(&req); err != nil || req.Percent == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "percent is required"})
	}
	if err := s.svc.SetBatteryThreshold(*req.Percent); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success"})
}

// profilePayload is the JSON rendering of a profile. Curve points travel
// as [temperature, speed] pairs, matching the YAML form.
type profilePayload struct {
	FanMode              string       `json:"fan_mode"`
	FixedFanPercent      int          `json:"fixed_fan_percent"`
	CPUCurve             [][2]float64 `json:"cpu_curve"`
	GPUCurve             [][2]float64 `json:"gpu_curve"`
	BatteryPolicy        string       `json:"battery_policy"`
	BatteryThreshold     int          `json:"battery_threshold"`
	AdjustmentIntervalMS int64        `json:"adjustment_interval_ms"`
	HysteresisPercent    int          `json:"hysteresis_percent"`
	MinStep              int          `json:"min_step"`
	MaxStep              int          `json:"max_step"`
}

func payloadFromProfile(p config.ProfileConfig) profilePayload {
	return profilePayload{
		FanMode:              p.FanMode,
		FixedFanPercent:      p.FixedFanPercent,
		CPUCurve:             pairsFromCurve(p.CPUCurve),
		GPUCurve:             pairsFromCurve(p.GPUCurve),
		BatteryPolicy:        p.BatteryPolicy,
		BatteryThreshold:     p.BatteryThreshold,
		AdjustmentIntervalMS: p.AdjustmentInterval.Milliseconds(),
		HysteresisPercent:    p.HysteresisPercent,
		MinStep:              p.MinStep,
		MaxStep:              p.MaxStep,
	}
}

func (p profilePayload) toProfile() config.ProfileConfig {
	return config.ProfileConfig{
		FanMode:            p.FanMode,
		FixedFanPercent:    p.FixedFanPercent,
		CPUCurve:           curveFromPairs(p.CPUCurve),
		GPUCurve:           curveFromPairs(p.GPUCurve),
		BatteryPolicy:      p.BatteryPolicy,
		BatteryThreshold:   p.BatteryThreshold,
		AdjustmentInterval: config.Duration{Duration: time.Duration(p.AdjustmentIntervalMS) * time.Millisecond},
		HysteresisPercent:  p.HysteresisPercent,
		MinStep:            p.MinStep,
		MaxStep:            p.MaxStep,
	}
}

func pairsFromCurve(points []config.CurvePoint) [][2]float64 {
	out := make([][2]float64, 0, len(points))
	for _, pt := range points {
		out = append(out, [2]float64{pt.Temp, pt.Speed})
	}
	return out
}

func curveFromPairs(pairs [][2]float64) []config.CurvePoint {
	out := make([]config.CurvePoint, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, config.CurvePoint{Temp: p[0], Speed: p[1]})
	}
	return out
}

func (s *Server) getProfile(c *fiber.Ctx) error {
	return c.JSON(payloadFromProfile(s.svc.Profile()))
}

// putProfile replaces the profile. Fields missing from the body keep
// their current values, so partial updates work the same way the
// configuration file overlays defaults.
func (s *Server) putProfile(c *fiber.Ctx) error {
	payload := payloadFromProfile(s.svc.Profile())
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	profile := payload.toProfile()
	if err := profile.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.svc.ApplyProfile(profile); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success"})
}
