package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"aeroctl/internal/config"
	"aeroctl/internal/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Device.Backend = "sim"
	cfg.Profile.AdjustmentInterval = config.Duration{Duration: 50 * time.Millisecond}

	svc, err := service.New(cfg, "", zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("service.Start: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return New(svc, zerolog.Nop(), true)
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	var payload map[string]any
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(data) > 0 && json.Unmarshal(data, &payload) != nil {
		payload = nil
	}
	return resp, payload
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, payload := doJSON(t, s, http.MethodGet, "/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["status"] != "ok" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp, payload := doJSON(t, s, http.MethodGet, "/api/status?refresh=1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["fan_mode"] != "auto" {
		t.Fatalf("fan_mode = %v", payload["fan_mode"])
	}
	if temp, ok := payload["cpu_temperature"].(float64); !ok || temp <= 0 {
		t.Fatalf("cpu_temperature = %v", payload["cpu_temperature"])
	}
}

func TestSetFanMode(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/api/fan/mode", `{"mode":"turbo"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown mode status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, s, http.MethodPost, "/api/fan/mode", `{"mode":"bios"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	_, payload := doJSON(t, s, http.MethodGet, "/api/status", "")
	if payload["fan_mode"] != "bios" {
		t.Fatalf("fan_mode = %v", payload["fan_mode"])
	}
}

func TestSetFanSpeed(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/api/fan/speed", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing percent status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, s, http.MethodPost, "/api/fan/speed", `{"percent":70}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	_, payload := doJSON(t, s, http.MethodGet, "/api/status", "")
	if payload["fan_mode"] != "fixed" || payload["applied_percent"] != float64(70) {
		t.Fatalf("state = %v/%v", payload["fan_mode"], payload["applied_percent"])
	}
}

func TestBatteryEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/api/battery/policy", `{"policy":"eco"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown policy status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, s, http.MethodPost, "/api/battery/policy", `{"policy":"custom"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("policy status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, s, http.MethodPost, "/api/battery/threshold", `{"percent":75}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("threshold status = %d", resp.StatusCode)
	}

	_, payload := doJSON(t, s, http.MethodGet, "/api/status?refresh=1", "")
	if payload["battery_policy"] != "custom" || payload["battery_threshold"] != float64(75) {
		t.Fatalf("battery state = %v/%v", payload["battery_policy"], payload["battery_threshold"])
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := newTestServer(t)

	_, payload := doJSON(t, s, http.MethodGet, "/api/profile", "")
	if payload["fan_mode"] != "auto" {
		t.Fatalf("profile fan_mode = %v", payload["fan_mode"])
	}

	// Partial update: untouched fields keep their values.
	resp, _ := doJSON(t, s, http.MethodPut, "/api/profile", `{"fan_mode":"fixed","fixed_fan_percent":45}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}
	_, payload = doJSON(t, s, http.MethodGet, "/api/profile", "")
	if payload["fan_mode"] != "fixed" || payload["fixed_fan_percent"] != float64(45) {
		t.Fatalf("profile = %v", payload)
	}
	if payload["hysteresis_percent"] != float64(5) {
		t.Fatalf("hysteresis lost on partial update: %v", payload["hysteresis_percent"])
	}

	resp, _ = doJSON(t, s, http.MethodPut, "/api/profile", `{"battery_threshold":10}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid profile status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if len(data) == 0 {
		t.Fatal("empty metrics body")
	}
}
