package probe

import (
	"context"
	"testing"
)

func TestProbeNeverErrors(t *testing.T) {
	specs := Probe(context.Background())

	if specs.CPUCores < 1 {
		t.Fatalf("expected at least 1 CPU core, got %d", specs.CPUCores)
	}
	if specs.CPUModel == "" {
		t.Fatalf("expected a non-empty CPU model, got empty string")
	}
	if specs.RAMGB <= 0 {
		t.Fatalf("expected positive RAM, got %v", specs.RAMGB)
	}
}
