// Package engine implements spec §4.11 (ControllerLoop): the phase
// state machine that owns cross-phase state and orchestrates every
// other component. Grounded on
// original_source/rfsn_controller/controller.py.
package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ControllerConfig is the full set of CLI-configurable knobs (spec §6).
// Field names mirror the CLI flag surface; LoadControllerConfig merges
// an optional config file with flag overrides the same way the
// teacher's internal/attractor/engine/config.go layers file defaults
// under explicit flags.
type ControllerConfig struct {
	GithubURL string `yaml:"github_url" json:"github_url"`
	TestCmd   string `yaml:"test_cmd" json:"test_cmd"`
	Ref       string `yaml:"ref" json:"ref"`

	MaxSteps                int     `yaml:"max_steps" json:"max_steps"`
	FixAll                  bool    `yaml:"fix_all" json:"fix_all"`
	MaxStepsWithoutProgress int     `yaml:"max_steps_without_progress" json:"max_steps_without_progress"`
	Temps                   []float64 `yaml:"temps" json:"temps"`
	CollectFinetuningData   bool    `yaml:"collect_finetuning_data" json:"collect_finetuning_data"`
	Model                   string  `yaml:"model" json:"model"`
	MaxMinutes              float64 `yaml:"max_minutes" json:"max_minutes"`

	InstallTimeout int `yaml:"install_timeout" json:"install_timeout"`
	FocusTimeout   int `yaml:"focus_timeout" json:"focus_timeout"`
	FullTimeout    int `yaml:"full_timeout" json:"full_timeout"`
	MaxToolCalls   int `yaml:"max_tool_calls" json:"max_tool_calls"`

	DockerImage    string  `yaml:"docker_image" json:"docker_image"`
	UnsafeHostExec bool    `yaml:"unsafe_host_exec" json:"unsafe_host_exec"`
	CPU            float64 `yaml:"cpu" json:"cpu"`
	MemMB          int     `yaml:"mem_mb" json:"mem_mb"`
	Pids           int     `yaml:"pids" json:"pids"`
	DockerReadonly bool    `yaml:"docker_readonly" json:"docker_readonly"`

	LintCmd      string `yaml:"lint_cmd" json:"lint_cmd"`
	TypecheckCmd string `yaml:"typecheck_cmd" json:"typecheck_cmd"`
	ReproCmd     string `yaml:"repro_cmd" json:"repro_cmd"`

	DryRun             bool   `yaml:"dry_run" json:"dry_run"`
	ProjectType        string `yaml:"project_type" json:"project_type"`
	Buildpack          string `yaml:"buildpack" json:"buildpack"`
	EnableSysdeps      bool   `yaml:"enable_sysdeps" json:"enable_sysdeps"`
	SysdepsTier        int    `yaml:"sysdeps_tier" json:"sysdeps_tier"`
	SysdepsMaxPackages int    `yaml:"sysdeps_max_packages" json:"sysdeps_max_packages"`
	BuildCmd           string `yaml:"build_cmd" json:"build_cmd"`

	LearningDBPath       string  `yaml:"learning_db_path" json:"learning_db_path"`
	LearningHalfLifeDays float64 `yaml:"learning_half_life_days" json:"learning_half_life_days"`
	LearningMaxAgeDays   float64 `yaml:"learning_max_age_days" json:"learning_max_age_days"`
	LearningMaxRows      int     `yaml:"learning_max_rows" json:"learning_max_rows"`

	TimeMode      string  `yaml:"time_mode" json:"time_mode"`
	RunStartedAtUTC string `yaml:"run_started_at_utc" json:"run_started_at_utc"`
	TimeSeed      int64   `yaml:"time_seed" json:"time_seed"`
	RNGSeed       int64   `yaml:"rng_seed" json:"rng_seed"`

	FeatureMode        bool     `yaml:"feature_mode" json:"feature_mode"`
	FeatureDescription string   `yaml:"feature_description" json:"feature_description"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria" json:"acceptance_criteria"`

	VerifyPolicy       string   `yaml:"verify_policy" json:"verify_policy"`
	VerifyCmdExtra     []string `yaml:"verify_cmd_extra" json:"verify_cmd_extra"`
	FocusedVerifyCmd   []string `yaml:"focused_verify_cmd" json:"focused_verify_cmd"`
	MaxLinesChanged    int      `yaml:"max_lines_changed" json:"max_lines_changed"`
	MaxFilesChanged    int      `yaml:"max_files_changed" json:"max_files_changed"`
	AllowLockfileChanges bool   `yaml:"allow_lockfile_changes" json:"allow_lockfile_changes"`
}

// applyConfigDefaults fills in the spec §6 documented defaults for any
// zero-valued field. Separated from validation so a loaded file can be
// partial.
func applyConfigDefaults(c *ControllerConfig) {
	if c.TestCmd == "" {
		c.TestCmd = "pytest -q"
	}
	if c.MaxSteps == 0 && !c.FixAll {
		c.MaxSteps = 12
	}
	if c.MaxStepsWithoutProgress == 0 {
		c.MaxStepsWithoutProgress = 10
	}
	if len(c.Temps) == 0 {
		c.Temps = []float64{0.0, 0.2, 0.4}
	}
	if c.MaxToolCalls == 0 {
		c.MaxToolCalls = 40
	}
	if c.InstallTimeout == 0 {
		c.InstallTimeout = 300
	}
	if c.FocusTimeout == 0 {
		c.FocusTimeout = 90
	}
	if c.FullTimeout == 0 {
		c.FullTimeout = 180
	}
	if c.DockerImage == "" {
		c.DockerImage = "python:3.11-slim"
	}
	if c.TimeMode == "" {
		c.TimeMode = "frozen"
	}
	if c.SysdepsTier == 0 && c.EnableSysdeps {
		c.SysdepsTier = 4
	}
	if c.SysdepsMaxPackages == 0 {
		c.SysdepsMaxPackages = 10
	}
	if c.LearningHalfLifeDays == 0 {
		c.LearningHalfLifeDays = 30
	}
	if c.LearningMaxAgeDays == 0 {
		c.LearningMaxAgeDays = 180
	}
	if c.LearningMaxRows == 0 {
		c.LearningMaxRows = 50_000
	}
	if c.VerifyPolicy == "" {
		c.VerifyPolicy = "tests_only"
	}
	if c.MaxLinesChanged == 0 {
		c.MaxLinesChanged = 200
	}
	if c.MaxFilesChanged == 0 {
		c.MaxFilesChanged = 5
	}
}

// validateConfig enforces the invariants the CLI flag surface implies:
// a repo URL is mandatory, feature mode requires a description, and
// verify-policy is one of the three named values.
func validateConfig(c *ControllerConfig) error {
	if strings.TrimSpace(c.GithubURL) == "" {
		return fmt.Errorf("engine: --repo is required")
	}
	if c.FeatureMode && strings.TrimSpace(c.FeatureDescription) == "" {
		return fmt.Errorf("engine: --feature-mode requires --feature-description")
	}
	switch c.VerifyPolicy {
	case "tests_only", "cmds_then_tests", "cmds_only":
	default:
		return fmt.Errorf("engine: invalid --verify-policy %q", c.VerifyPolicy)
	}
	switch c.TimeMode {
	case "frozen", "live":
	default:
		return fmt.Errorf("engine: invalid --time-mode %q", c.TimeMode)
	}
	return nil
}

// LoadControllerConfig reads an optional YAML or JSON config file
// (unknown fields rejected, as the teacher's decodeJSONStrict/
// decodeYAMLStrict do) and applies defaults. A missing path is not an
// error: the caller is expected to have already populated flag-derived
// fields directly on the returned zero-value config's override.
func LoadControllerConfig(path string) (ControllerConfig, error) {
	var cfg ControllerConfig
	if path == "" {
		applyConfigDefaults(&cfg)
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("engine: read config %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".json") {
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("engine: decode JSON config: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("engine: decode YAML config: %w", err)
		}
	}

	applyConfigDefaults(&cfg)
	return cfg, nil
}

// MergeFlags overlays non-zero flag-derived fields onto a loaded config,
// flags always winning (spec: CLI flags are the final override layer).
func MergeFlags(base ControllerConfig, flags ControllerConfig) ControllerConfig {
	merged := base
	v := func(cond bool, assign func()) {
		if cond {
			assign()
		}
	}
	v(flags.GithubURL != "", func() { merged.GithubURL = flags.GithubURL })
	v(flags.TestCmd != "", func() { merged.TestCmd = flags.TestCmd })
	v(flags.Ref != "", func() { merged.Ref = flags.Ref })
	v(flags.MaxSteps != 0, func() { merged.MaxSteps = flags.MaxSteps })
	v(flags.FixAll, func() { merged.FixAll = true; merged.MaxSteps = 0 })
	v(flags.MaxStepsWithoutProgress != 0, func() { merged.MaxStepsWithoutProgress = flags.MaxStepsWithoutProgress })
	v(len(flags.Temps) > 0, func() { merged.Temps = flags.Temps })
	v(flags.CollectFinetuningData, func() { merged.CollectFinetuningData = true })
	v(flags.Model != "", func() { merged.Model = flags.Model })
	v(flags.MaxMinutes != 0, func() { merged.MaxMinutes = flags.MaxMinutes })
	v(flags.InstallTimeout != 0, func() { merged.InstallTimeout = flags.InstallTimeout })
	v(flags.FocusTimeout != 0, func() { merged.FocusTimeout = flags.FocusTimeout })
	v(flags.FullTimeout != 0, func() { merged.FullTimeout = flags.FullTimeout })
	v(flags.MaxToolCalls != 0, func() { merged.MaxToolCalls = flags.MaxToolCalls })
	v(flags.DockerImage != "", func() { merged.DockerImage = flags.DockerImage })
	v(flags.UnsafeHostExec, func() { merged.UnsafeHostExec = true })
	v(flags.CPU != 0, func() { merged.CPU = flags.CPU })
	v(flags.MemMB != 0, func() { merged.MemMB = flags.MemMB })
	v(flags.Pids != 0, func() { merged.Pids = flags.Pids })
	v(flags.DockerReadonly, func() { merged.DockerReadonly = true })
	v(flags.LintCmd != "", func() { merged.LintCmd = flags.LintCmd })
	v(flags.TypecheckCmd != "", func() { merged.TypecheckCmd = flags.TypecheckCmd })
	v(flags.ReproCmd != "", func() { merged.ReproCmd = flags.ReproCmd })
	v(flags.DryRun, func() { merged.DryRun = true })
	v(flags.ProjectType != "", func() { merged.ProjectType = flags.ProjectType })
	v(flags.Buildpack != "", func() { merged.Buildpack = flags.Buildpack })
	v(flags.EnableSysdeps, func() { merged.EnableSysdeps = true })
	v(flags.SysdepsTier != 0, func() { merged.SysdepsTier = flags.SysdepsTier })
	v(flags.SysdepsMaxPackages != 0, func() { merged.SysdepsMaxPackages = flags.SysdepsMaxPackages })
	v(flags.BuildCmd != "", func() { merged.BuildCmd = flags.BuildCmd })
	v(flags.LearningDBPath != "", func() { merged.LearningDBPath = flags.LearningDBPath })
	v(flags.LearningHalfLifeDays != 0, func() { merged.LearningHalfLifeDays = flags.LearningHalfLifeDays })
	v(flags.LearningMaxAgeDays != 0, func() { merged.LearningMaxAgeDays = flags.LearningMaxAgeDays })
	v(flags.LearningMaxRows != 0, func() { merged.LearningMaxRows = flags.LearningMaxRows })
	v(flags.TimeMode != "", func() { merged.TimeMode = flags.TimeMode })
	v(flags.RunStartedAtUTC != "", func() { merged.RunStartedAtUTC = flags.RunStartedAtUTC })
	v(flags.TimeSeed != 0, func() { merged.TimeSeed = flags.TimeSeed })
	v(flags.RNGSeed != 0, func() { merged.RNGSeed = flags.RNGSeed })
	v(flags.FeatureMode, func() { merged.FeatureMode = true })
	v(flags.FeatureDescription != "", func() { merged.FeatureDescription = flags.FeatureDescription })
	v(len(flags.AcceptanceCriteria) > 0, func() { merged.AcceptanceCriteria = flags.AcceptanceCriteria })
	v(flags.VerifyPolicy != "", func() { merged.VerifyPolicy = flags.VerifyPolicy })
	v(len(flags.VerifyCmdExtra) > 0, func() { merged.VerifyCmdExtra = flags.VerifyCmdExtra })
	v(len(flags.FocusedVerifyCmd) > 0, func() { merged.FocusedVerifyCmd = flags.FocusedVerifyCmd })
	v(flags.MaxLinesChanged != 0, func() { merged.MaxLinesChanged = flags.MaxLinesChanged })
	v(flags.MaxFilesChanged != 0, func() { merged.MaxFilesChanged = flags.MaxFilesChanged })
	v(flags.AllowLockfileChanges, func() { merged.AllowLockfileChanges = true })
	return merged
}

// ResolveAndValidate applies defaults (for any field still zero after
// merging) and validates the result.
func ResolveAndValidate(c ControllerConfig) (ControllerConfig, error) {
	applyConfigDefaults(&c)
	if err := validateConfig(&c); err != nil {
		return c, err
	}
	return c, nil
}
