package cubeengine

import "testing"

func TestDefaultEngineConfig_IsInternallyValid(t *testing.T) {
	cfg := DefaultEngineConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestEngineConfig_ValidateRejectsMaxLimitBelowDefaultLimit(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Query.MaxLimit = cfg.Query.DefaultLimit - 1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for maxLimit below defaultLimit")
	}
	if err.Error() != "cubeengine: invalid config field query.maxLimit: must be >= query.defaultLimit" {
		t.Fatalf("got %q", err.Error())
	}
}

func TestEngineConfig_ValidateRejectsOutOfRangeFlowDepth(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Flow.MaxStepsBefore = 6
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for maxStepsBefore > 5")
	}

	cfg = DefaultEngineConfig()
	cfg.Flow.MaxStepsAfter = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative maxStepsAfter")
	}
}
