package config

import (
	"strings"
	"testing"
)

const sampleDoc = `
num_worlds: 5
success_threshold: 0.8
fleet:
  - hostname: a
    address: a.local
    capacity: 3
  - hostname: b
    address: b.local
    capacity: 2
`

func TestLoad_AppliesOverDefaults(t *testing.T) {
	cfg, err := Load([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.NumWorlds != 5 {
		t.Fatalf("NumWorlds = %d, want 5", cfg.NumWorlds)
	}
	if cfg.SuccessThresholdPass != 80 {
		t.Fatalf("SuccessThresholdPass = %v, want default 80 (untouched by doc)", cfg.SuccessThresholdPass)
	}
	if len(cfg.Fleet) != 2 {
		t.Fatalf("Fleet = %v, want 2 machines", cfg.Fleet)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load([]byte("not_a_real_option: 1\n"))
	if err == nil {
		t.Fatalf("Load() = nil, want ConfigInvalid for unknown key")
	}
}

func TestApplyEnv_OverlaysRecognizedVars(t *testing.T) {
	cfg := Default()
	env := func() []string {
		return []string{"ORCHESTRATOR_NUM_WORLDS=7", "UNRELATED=ignored"}
	}
	cfg = ApplyEnv(cfg, env)
	if cfg.NumWorlds != 7 {
		t.Fatalf("NumWorlds = %d, want 7 after env overlay", cfg.NumWorlds)
	}
}

func TestConfig_ValidateRejectsBadQualityWeights(t *testing.T) {
	cfg := Default()
	cfg.Fleet = []MachineSpec{{Hostname: "a", Address: "a.local", Capacity: 1}}
	cfg.QualityWeights.TestCoverage = 99
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "sum to 100") {
		t.Fatalf("Validate() = %v, want sum-to-100 error", err)
	}
}

func TestConfig_ValidateRequiresNonEmptyFleet(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() = nil, want error for empty fleet")
	}
}

func TestConfig_ValidatePassesWithDefaultsAndFleet(t *testing.T) {
	cfg := Default()
	cfg.Fleet = []MachineSpec{{Hostname: "a", Address: "a.local", Capacity: 1}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}
