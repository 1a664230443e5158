// Package config implements C12: the declarative configuration document and
// its environment overlay. Every constructor downstream (queue.New,
// fleet.New, supervisor.New, runstate.New) takes Option values; this
// package's job is only to load the declarative document (YAML, the same
// library `jordigilh-kubernaut` and `r3e-network-service_layer` use for
// config) and turn it into the typed values those Option funcs want.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/worldforge/orchestrator/internal/domain"
	"github.com/worldforge/orchestrator/internal/quality"
)

// MachineSpec is one entry of the fleet list.
type MachineSpec struct {
	Hostname string `yaml:"hostname"`
	Address  string `yaml:"address"`
	Capacity int    `yaml:"capacity"`
}

// QualityWeights mirrors quality.Weights in YAML-tagged form.
type QualityWeights struct {
	StyleLint     int `yaml:"style_lint"`
	TypeCheck     int `yaml:"type_check"`
	SecurityAudit int `yaml:"security_audit"`
	TestCoverage  int `yaml:"test_coverage"`
}

// Config is the full §4.11 declarative document. Field names match the
// spec's option names; yaml tags keep the on-disk document in snake_case.
type Config struct {
	NumWorlds             int            `yaml:"num_worlds"`
	SuccessThreshold      float64        `yaml:"success_threshold"`
	WorldTimeoutSeconds   int            `yaml:"world_timeout_seconds"`
	MaxConcurrentTasks    int            `yaml:"max_concurrent_tasks"`
	MaxQueueSize          int            `yaml:"max_queue_size"`
	MaxRetries            int            `yaml:"max_retries"`
	InitialBackoffMS      int            `yaml:"initial_backoff_ms"`
	BackoffMultiplier     float64        `yaml:"backoff_multiplier"`
	MaxBackoffMS          int            `yaml:"max_backoff_ms"`
	SuccessThresholdPass  float64        `yaml:"success_threshold_pass"`
	SuccessThresholdFix   float64        `yaml:"success_threshold_fix"`
	MaxAutoFixAttempts    int            `yaml:"max_autofix_attempts"`
	QualityWeights        QualityWeights `yaml:"quality_weights"`
	CheckpointIntervalSec int            `yaml:"checkpoint_interval_seconds"`
	Fleet                 []MachineSpec  `yaml:"fleet"`
	LogDir                string         `yaml:"log_dir"`
	WorktreeBasePath      string         `yaml:"worktree_base_path"`

	// AgentCommand is the opaque headless agent invocation, templated per
	// world: each element is passed through as an argv entry, with
	// "{worktree}" replaced by the world's worktree path. The core never
	// interprets the command's semantics, per §Non-goals' "polymorphic agent
	// backends are a policy-layer concern, not an inheritance hierarchy."
	AgentCommand []string `yaml:"agent_command"`

	// Ambient persistence/API knobs. Not named in spec.md's §4.11 table
	// (which is scoped to orchestration policy) but required to stand the
	// rest of the stack up — see SPEC_FULL.md's ambient-stack section.
	StoreDriver string `yaml:"store_driver"` // "sqlite", "mysql", or "memory"
	StoreDSN    string `yaml:"store_dsn"`
	APIAddress  string `yaml:"api_address"`

	// NotifyURL, if set, is the webhook internal/notify.HTTPNotifier posts
	// run events and publish summaries to. Empty disables the notification
	// sink entirely rather than pointing it at a no-op URL.
	NotifyURL string `yaml:"notify_url"`

	// AdvisorAnthropicKey, AdvisorOpenAIKey, and AdvisorGoogleKey configure
	// the quality advisor panel's chat model providers. A deployment with
	// none set runs with no panel; self-reported sub-scores are then the
	// only source of QualityReport sub-scores.
	AdvisorAnthropicKey string `yaml:"advisor_anthropic_key"`
	AdvisorOpenAIKey    string `yaml:"advisor_openai_key"`
	AdvisorGoogleKey    string `yaml:"advisor_google_key"`
}

// Default returns the spec's documented defaults.
func Default() Config {
	return Config{
		NumWorlds:             5,
		SuccessThreshold:      0.8,
		WorldTimeoutSeconds:   600,
		MaxConcurrentTasks:    4,
		MaxQueueSize:          1000,
		MaxRetries:            3,
		InitialBackoffMS:      500,
		BackoffMultiplier:     2,
		MaxBackoffMS:          30000,
		SuccessThresholdPass:  80,
		SuccessThresholdFix:   60,
		MaxAutoFixAttempts:    2,
		QualityWeights:        QualityWeights{StyleLint: 30, TypeCheck: 25, SecurityAudit: 30, TestCoverage: 15},
		CheckpointIntervalSec: 300,
		LogDir:                "./var/log",
		WorktreeBasePath:      "./var/worktrees",
		AgentCommand:          []string{"agent", "run", "--worktree", "{worktree}"},
		StoreDriver:           "memory",
		APIAddress:            ":8080",
	}
}

// Load parses a YAML document into Config, starting from Default() so an
// omitted key keeps its default rather than zeroing out. Unknown keys are
// rejected with ConfigInvalid, matching §6's "unknown keys are rejected with
// a startup error" contract.
func Load(yamlDoc []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(yamlDoc))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return cfg, nil
}

// LoadFile reads and parses a YAML configuration file, then applies the
// environment overlay.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %v", domain.ErrConfigInvalid, path, err)
	}
	cfg, err := Load(data)
	if err != nil {
		return Config{}, err
	}
	return ApplyEnv(cfg, os.Environ), nil
}

// envPrefix namespaces every overlay variable so the orchestrator never
// collides with an unrelated ORCHESTRATOR_-free environment variable.
const envPrefix = "ORCHESTRATOR_"

// ApplyEnv overlays recognized ORCHESTRATOR_* environment variables onto
// cfg, applied at startup per §6. environ is injected (rather than read
// directly from os.Environ) so tests can supply a fixed slice.
func ApplyEnv(cfg Config, environ func() []string) Config {
	env := map[string]string{}
	for _, kv := range environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	if v, ok := env[envPrefix+"NUM_WORLDS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NumWorlds = n
		}
	}
	if v, ok := env[envPrefix+"SUCCESS_THRESHOLD"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SuccessThreshold = f
		}
	}
	if v, ok := env[envPrefix+"WORLD_TIMEOUT_SECONDS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorldTimeoutSeconds = n
		}
	}
	if v, ok := env[envPrefix+"MAX_CONCURRENT_TASKS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentTasks = n
		}
	}
	if v, ok := env[envPrefix+"MAX_QUEUE_SIZE"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxQueueSize = n
		}
	}
	if v, ok := env[envPrefix+"LOG_DIR"]; ok {
		cfg.LogDir = v
	}
	if v, ok := env[envPrefix+"WORKTREE_BASE_PATH"]; ok {
		cfg.WorktreeBasePath = v
	}
	if v, ok := env[envPrefix+"STORE_DRIVER"]; ok {
		cfg.StoreDriver = v
	}
	if v, ok := env[envPrefix+"STORE_DSN"]; ok {
		cfg.StoreDSN = v
	}
	if v, ok := env[envPrefix+"API_ADDRESS"]; ok {
		cfg.APIAddress = v
	}
	if v, ok := env[envPrefix+"NOTIFY_URL"]; ok {
		cfg.NotifyURL = v
	}
	if v, ok := env[envPrefix+"ADVISOR_ANTHROPIC_KEY"]; ok {
		cfg.AdvisorAnthropicKey = v
	}
	if v, ok := env[envPrefix+"ADVISOR_OPENAI_KEY"]; ok {
		cfg.AdvisorOpenAIKey = v
	}
	if v, ok := env[envPrefix+"ADVISOR_GOOGLE_KEY"]; ok {
		cfg.AdvisorGoogleKey = v
	}
	return cfg
}

// Validate checks cross-field invariants that a bare YAML schema can't
// express: quality weights summing to 100, a sane threshold band, and a
// non-empty fleet.
func (c Config) Validate() error {
	qw := quality.Weights{
		StyleLint:     c.QualityWeights.StyleLint,
		TypeCheck:     c.QualityWeights.TypeCheck,
		SecurityAudit: c.QualityWeights.SecurityAudit,
		TestCoverage:  c.QualityWeights.TestCoverage,
	}
	if err := qw.Validate(); err != nil {
		return err
	}
	if c.SuccessThresholdFix > c.SuccessThresholdPass {
		return fmt.Errorf("%w: success_threshold_fix (%v) must be <= success_threshold_pass (%v)",
			domain.ErrConfigInvalid, c.SuccessThresholdFix, c.SuccessThresholdPass)
	}
	if c.NumWorlds <= 0 {
		return fmt.Errorf("%w: num_worlds must be positive", domain.ErrConfigInvalid)
	}
	if len(c.Fleet) == 0 {
		return fmt.Errorf("%w: fleet must declare at least one machine", domain.ErrConfigInvalid)
	}
	return nil
}

// QualityWeightsValue converts the YAML-tagged QualityWeights into
// quality.Weights for the components that consume it.
func (c Config) QualityWeightsValue() quality.Weights {
	return quality.Weights{
		StyleLint:     c.QualityWeights.StyleLint,
		TypeCheck:     c.QualityWeights.TypeCheck,
		SecurityAudit: c.QualityWeights.SecurityAudit,
		TestCoverage:  c.QualityWeights.TestCoverage,
	}
}

// WorldTimeout converts WorldTimeoutSeconds into a time.Duration.
func (c Config) WorldTimeout() time.Duration {
	return time.Duration(c.WorldTimeoutSeconds) * time.Second
}

func (c Config) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSec) * time.Second
}

func (c Config) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// AgentCommandFor renders AgentCommand for one world's worktree path,
// substituting the "{worktree}" placeholder in every argv element.
func (c Config) AgentCommandFor(worktreePath string) []string {
	out := make([]string, len(c.AgentCommand))
	for i, arg := range c.AgentCommand {
		out[i] = strings.ReplaceAll(arg, "{worktree}", worktreePath)
	}
	return out
}

func (c Config) Machines() []domain.Machine {
	out := make([]domain.Machine, 0, len(c.Fleet))
	for _, m := range c.Fleet {
		out = append(out, domain.Machine{
			Hostname: m.Hostname,
			Address:  m.Address,
			Capacity: m.Capacity,
			Status:   domain.Available,
		})
	}
	return out
}
