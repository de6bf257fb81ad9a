package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/mohammad-safakhou/articleflow/config"
)

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, tracer, err := SetupTelemetry(context.Background(), config.TelemetryConfig{}, TelemetryOptions{})
	if err != nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	if tel.Enabled() {
		t.Fatalf("expected disabled telemetry")
	}
	if tracer == nil {
		t.Fatalf("expected a tracer")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSetupTelemetryEnabled(t *testing.T) {
	cfg := config.TelemetryConfig{Enabled: true, ServiceName: "articleflow-test", OTLPEndpoint: "127.0.0.1:4317"}
	tel, tracer, err := SetupTelemetry(context.Background(), cfg, TelemetryOptions{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	if !tel.Enabled() || tracer == nil {
		t.Fatalf("expected exporter to be installed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// no spans were recorded so shutdown has nothing to export
	_ = tel.Shutdown(ctx)
}
