// Package config loads and validates the YAML configuration document that
// drives a run, following the platform's cobra + yaml.v3 pattern
// (cmd/aleutian/main.go) rather than viper: a single typed tree, unmarshaled
// once at startup, with CLI flags overlaid afterward.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/comet-forge/comet/pkg/errkind"
)

// LLMConfig is the "llm.*" section of spec.md §6.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// KnowledgeConfig is the "knowledge.*" section, including the retrieval
// tuning knobs of §6 and the two SPEC_FULL supplemental fields grounding
// the LLM-assisted extraction path.
type KnowledgeConfig struct {
	Enabled bool `yaml:"enabled"`

	EmbeddingModel string  `yaml:"embedding.model"`
	TopKContracts  int     `yaml:"top_k_contracts"`
	TopKBugs       int     `yaml:"top_k_bugs"`
	Alpha          float64 `yaml:"alpha"`

	ContractExtractionEnabled  bool    `yaml:"contract_extraction_enabled"`
	PatternConfidenceThreshold float64 `yaml:"pattern_confidence_threshold"`

	WeaviateURL string `yaml:"weaviate_url"`
}

// PreprocessingConfig is the "preprocessing.*" section.
type PreprocessingConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxWorkers int  `yaml:"max_workers"`
}

// FormattingConfig is the "formatting.*" section.
type FormattingConfig struct {
	Style string `yaml:"style"` // "GOOGLE" | "AOSP"
}

// ExcellenceThresholds is "agent.excellence_thresholds.*".
type ExcellenceThresholds struct {
	MutationScore  float64 `yaml:"mutation_score"`
	LineCoverage   float64 `yaml:"line_coverage"`
	BranchCoverage float64 `yaml:"branch_coverage"`
}

// AgentConfig is the "agent.*" section, plus SPEC_FULL's target-strategy
// and blacklisting additions.
type AgentConfig struct {
	MaxIterations              int     `yaml:"max_iterations"`
	BudgetLLMCalls             int     `yaml:"budget_llm_calls"`
	StopOnNoImprovementRounds  int     `yaml:"stop_on_no_improvement_rounds"`
	ParallelTargets            int     `yaml:"parallel_targets"`
	ExcellenceThresholds       ExcellenceThresholds `yaml:"excellence_thresholds"`

	// TargetStrategy selects the target-selection policy: the spec's
	// default "expected_improvement" (a.k.a. priority) plus the original
	// implementation's "coverage", "mutations", and "random" strategies.
	TargetStrategy string `yaml:"target_strategy"`

	// Weights for the expected-improvement score, default (0.5, 0.2, 0.2, 0.3).
	WeightMutationScore  float64 `yaml:"weight_mutation_score"`
	WeightLineCoverage   float64 `yaml:"weight_line_coverage"`
	WeightBranchCoverage float64 `yaml:"weight_branch_coverage"`
	WeightNoopPenalty    float64 `yaml:"weight_noop_penalty"`

	MinImprovementThreshold  float64 `yaml:"min_improvement_threshold"`
	BlacklistAfterNoopRounds int     `yaml:"blacklist_after_noop_rounds"`

	HighMutationScoreThreshold float64 `yaml:"high_mutation_score_threshold"`
}

// ExecutionConfig covers the Build Driver Bridge's location and
// parallelism knobs, generalizing the original's maven_home/parallel_jobs.
type ExecutionConfig struct {
	BuildTool     string `yaml:"build_tool"`      // e.g. "mvn", "gradle"
	BuildToolHome string `yaml:"build_tool_home"` // generalizes maven_home
	ParallelJobs  int    `yaml:"parallel_jobs"`
	TestTimeout   time.Duration `yaml:"test_timeout"`
	BuildTimeout  time.Duration `yaml:"build_timeout"`
}

// PathsConfig names the on-disk layout §6 "Persisted state layout" requires.
type PathsConfig struct {
	Workspace  string `yaml:"workspace"`
	SandboxDir string `yaml:"sandbox_dir"`
	DataDir    string `yaml:"data_dir"` // holds SQLite file + Badger checkpoint dir
	CacheDir   string `yaml:"cache_dir"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogDir  string `yaml:"log_dir"`
	JSON    bool   `yaml:"json"`
}

// TelemetryConfig configures OTel export.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	PrometheusPort int   `yaml:"prometheus_port"`
}

// Config is the full run configuration tree.
type Config struct {
	ProjectPath string `yaml:"project_path"`

	LLM            LLMConfig            `yaml:"llm"`
	Knowledge      KnowledgeConfig      `yaml:"knowledge"`
	Preprocessing  PreprocessingConfig  `yaml:"preprocessing"`
	Formatting     FormattingConfig     `yaml:"formatting"`
	Agent          AgentConfig          `yaml:"agent"`
	Execution      ExecutionConfig      `yaml:"execution"`
	Paths          PathsConfig          `yaml:"paths"`
	Logging        LoggingConfig        `yaml:"logging"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`

	BugReportsDir string `yaml:"bug_reports_dir"`
}

// Default returns a Config reproducing spec.md's stated defaults exactly.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Temperature: 0.2,
			Timeout:     60 * time.Second,
		},
		Knowledge: KnowledgeConfig{
			Enabled:                    true,
			TopKContracts:              5,
			TopKBugs:                   3,
			Alpha:                      0.7,
			PatternConfidenceThreshold: 0.6,
		},
		Preprocessing: PreprocessingConfig{
			Enabled:    true,
			MaxWorkers: 4,
		},
		Formatting: FormattingConfig{
			Style: "GOOGLE",
		},
		Agent: AgentConfig{
			MaxIterations:             50,
			BudgetLLMCalls:            500,
			StopOnNoImprovementRounds: 3,
			ParallelTargets:           2,
			ExcellenceThresholds: ExcellenceThresholds{
				MutationScore:  0.95,
				LineCoverage:   0.90,
				BranchCoverage: 0.85,
			},
			TargetStrategy:             "expected_improvement",
			WeightMutationScore:        0.5,
			WeightLineCoverage:         0.2,
			WeightBranchCoverage:       0.2,
			WeightNoopPenalty:          0.3,
			MinImprovementThreshold:    0.01,
			BlacklistAfterNoopRounds:   3,
			HighMutationScoreThreshold: 0.8,
		},
		Execution: ExecutionConfig{
			BuildTool:    "mvn",
			ParallelJobs: 2,
			TestTimeout:  2 * time.Minute,
			BuildTimeout: 5 * time.Minute,
		},
		Paths: PathsConfig{
			SandboxDir: ".comet/sandboxes",
			DataDir:    ".comet/data",
			CacheDir:   ".comet/cache",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and parses the YAML document at path over a Default(), so
// that any key the file omits keeps its spec-mandated default.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap("config.Load", errkind.ConfigInvalid, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errkind.Wrap("config.Load", errkind.ConfigInvalid, err)
	}
	return cfg, nil
}

// Validate checks the fields the rest of the system trusts unconditionally.
// Raises config_invalid (spec.md §7) rather than letting a later component
// discover the problem mid-run.
func (c *Config) Validate() error {
	if c.ProjectPath == "" {
		return errkind.New("config.Validate", errkind.ConfigInvalid)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("%w: agent.max_iterations must be positive", errkind.New("config.Validate", errkind.ConfigInvalid))
	}
	if c.Agent.BudgetLLMCalls <= 0 {
		return fmt.Errorf("%w: agent.budget_llm_calls must be positive", errkind.New("config.Validate", errkind.ConfigInvalid))
	}
	if c.Knowledge.Alpha < 0 || c.Knowledge.Alpha > 1 {
		return fmt.Errorf("%w: knowledge.alpha must be in [0,1]", errkind.New("config.Validate", errkind.ConfigInvalid))
	}
	if c.Preprocessing.MaxWorkers <= 0 {
		c.Preprocessing.MaxWorkers = 1
	}
	if c.Agent.ParallelTargets <= 0 {
		c.Agent.ParallelTargets = 1
	}
	if c.Formatting.Style != "GOOGLE" && c.Formatting.Style != "AOSP" {
		return fmt.Errorf("%w: formatting.style must be GOOGLE or AOSP", errkind.New("config.Validate", errkind.ConfigInvalid))
	}
	switch c.Agent.TargetStrategy {
	case "", "expected_improvement", "coverage", "mutations", "priority", "random":
	default:
		return fmt.Errorf("%w: unknown agent.target_strategy %q", errkind.New("config.Validate", errkind.ConfigInvalid), c.Agent.TargetStrategy)
	}
	if c.Agent.TargetStrategy == "" {
		c.Agent.TargetStrategy = "expected_improvement"
	}
	return nil
}
