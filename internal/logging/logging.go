// Package logging builds the process logger: stdout in text or json
// form, optionally teeing entries to a Loki endpoint so fan control
// decisions stay auditable on headless machines.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"aeroctl/internal/config"
)

// defaultLabels accompany every shipped log stream; configured labels
// are merged over them, so a stream is always attributable to this
// daemon even under a custom label set.
var defaultLabels = model.LabelSet{"app": "aeroctl"}

// Setup creates the process logger from configuration. The returned
// cleanup flushes and stops the Loki client when shipping is enabled;
// it is non-nil and safe to call either way.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	console, err := consoleSink(cfg.Format)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	writers := []io.Writer{console}
	cleanup := func() {}

	if cfg.Loki.Enabled {
		shipper, err := newLokiWriter(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, shipper)
		cleanup = shipper.stop
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger().Level(level)
	return logger, cleanup, nil
}

func parseLevel(raw string) (zerolog.Level, error) {
	if raw == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

func consoleSink(format string) (io.Writer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, nil
	case "json":
		return os.Stdout, nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// lokiWriter adapts the push client to io.Writer. Every log line
// becomes one stream entry under the merged label set.
type lokiWriter struct {
	client *loki.Client
	labels model.LabelSet
}

func newLokiWriter(cfg config.LokiConfig) (*lokiWriter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("loki url is required")
	}
	clientCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create loki client: %w", err)
	}
	return &lokiWriter{client: client, labels: lokiLabels(cfg.Labels)}, nil
}

func lokiLabels(extra map[string]string) model.LabelSet {
	overlay := make(model.LabelSet, len(extra))
	for k, v := range extra {
		overlay[model.LabelName(k)] = model.LabelValue(v)
	}
	return defaultLabels.Merge(overlay)
}

func (w *lokiWriter) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	if line == "" {
		return len(p), nil
	}
	if err := w.client.Handle(w.labels, time.Now(), line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *lokiWriter) stop() {
	w.client.Stop()
}
