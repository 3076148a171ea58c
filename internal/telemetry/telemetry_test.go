package telemetry

import (
	"context"
	"testing"
)

func TestEnabled(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"true", true},
		{"TRUE", false},
		{"1", false},
		{"false", false},
	}
	for _, tc := range cases {
		t.Setenv("SOLDER_OTEL_ENABLED", tc.value)
		if got := Enabled(); got != tc.want {
			t.Errorf("Enabled() with SOLDER_OTEL_ENABLED=%q = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("SOLDER_OTEL_ENABLED", "")

	if err := Init(context.Background(), "solder", "test"); err != nil {
		t.Fatalf("Init with telemetry disabled: %v", err)
	}
	if m := Meter(""); m == nil {
		t.Fatal("Meter(\"\") returned nil")
	}
	if m := Meter("custom"); m == nil {
		t.Fatal("Meter(\"custom\") returned nil")
	}
}

func TestRecordHelpersSafeWithoutExporter(t *testing.T) {
	t.Setenv("SOLDER_OTEL_ENABLED", "")
	if err := Init(context.Background(), "solder", "test"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx := context.Background()
	RecordEvent(ctx, "fired")
	RecordClaim(ctx, true)
	RecordJobOutcome(ctx, "succeeded", "")
	RecordJobOutcome(ctx, "retried", "rate_limited")
	RecordExternalCreate(ctx, "created")
	RecordReclaimed(ctx, 3)
	RecordReclaimed(ctx, 0)
}

func TestShutdownWithNothingRegistered(t *testing.T) {
	Shutdown(context.Background())
	Shutdown(context.Background())
}
