package eval

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const defaultPlatformURL = "https://platform.qym.dev"

// configSchemaJSON constrains the subset of AsRunConfigMap's fields whose
// shape matters beyond what Go's type system already enforces (enums,
// bounds). It runs in addition to, not instead of, the hand-rolled checks
// in Validate: those exist for errors that need a specific Kind/message
// (e.g. KindResumeMismatch); this catches anything a caller assembling a
// Config from untyped YAML/JSON could still get wrong.
const configSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"$id": "https://qym.dev/schema/eval-config.json",
	"type": "object",
	"properties": {
		"max_concurrency": {"type": "integer", "minimum": 1},
		"timeout": {"type": "number", "exclusiveMinimum": 0},
		"checkpoint_format": {"type": "string", "enum": ["csv"]},
		"interrupt_grace_seconds": {"type": "integer", "minimum": 1},
		"output_dir": {"type": "string", "minLength": 1}
	}
}`

var (
	configSchemaOnce sync.Once
	configSchema     *jsonschema.Schema
	configSchemaErr  error
)

func compiledConfigSchema() (*jsonschema.Schema, error) {
	configSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(configSchemaJSON), &doc); err != nil {
			configSchemaErr = fmt.Errorf("eval: parse config schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(configSchemaID, doc); err != nil {
			configSchemaErr = fmt.Errorf("eval: add config schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile(configSchemaID)
		if err != nil {
			configSchemaErr = fmt.Errorf("eval: compile config schema: %w", err)
			return
		}
		configSchema = schema
	})
	return configSchema, configSchemaErr
}

const configSchemaID = "https://qym.dev/schema/eval-config.json"

// Config holds every option controlling a single evaluation run (spec.md
// §6.6), grounded on the original's EvaluatorConfig pydantic model plus the
// checkpoint/platform/resume fields read from it via getattr elsewhere in
// Evaluator.run.
type Config struct {
	RunName     string         `yaml:"run_name"`
	Model       string         `yaml:"model"`
	Models      []string       `yaml:"models"`
	RunMetadata map[string]any `yaml:"run_metadata"`

	MaxConcurrency int           `yaml:"max_concurrency"`
	Timeout        time.Duration `yaml:"timeout"`

	ResumeFrom        string `yaml:"resume_from"`
	ResumeRerunErrors bool   `yaml:"resume_rerun_errors"`

	CheckpointEnabled        bool   `yaml:"checkpoint_enabled"`
	CheckpointFormat         string `yaml:"checkpoint_format"`
	CheckpointFlushEachItem  bool   `yaml:"checkpoint_flush_each_item"`
	CheckpointFsync          bool   `yaml:"checkpoint_fsync"`
	OutputDir                string `yaml:"output_dir"`
	InterruptGraceSeconds    int    `yaml:"interrupt_grace_seconds"`

	PlatformURL    string `yaml:"platform_url"`
	PlatformAPIKey string `yaml:"platform_api_key"`

	CLIInvocation string `yaml:"cli_invocation"`
}

// DefaultConfig returns a Config populated with every spec.md §6.6 default.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:          10,
		Timeout:                 30 * time.Second,
		CheckpointEnabled:       true,
		CheckpointFormat:        "csv",
		CheckpointFlushEachItem: true,
		CheckpointFsync:         false,
		OutputDir:               "qym_results",
		InterruptGraceSeconds:   30,
	}
}

// LoadConfigYAML reads a Config from YAML at path, starting from
// DefaultConfig and overlaying whatever fields are present in the file.
func LoadConfigYAML(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("eval: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("eval: parse config %s: %w", path, err)
	}
	cfg.normalizeModels()
	return cfg, nil
}

// normalizeModels mirrors the original's normalize_models validator: a
// comma-separated Model string expands into Models.
func (c *Config) normalizeModels() {
	if len(c.Models) == 0 && strings.Contains(c.Model, ",") {
		var models []string
		for _, m := range strings.Split(c.Model, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		c.Models = models
	}
}

// Validate enforces the invariants spec.md §6.6 calls out explicitly, and
// fills in any zero-valued fields that DefaultConfig would have set (so a
// caller building Config by hand, not via LoadConfigYAML, still gets sane
// defaults).
func (c *Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.OutputDir == "" {
		c.OutputDir = "qym_results"
	}
	if c.CheckpointFormat == "" {
		c.CheckpointFormat = "csv"
	}
	if strings.ToLower(c.CheckpointFormat) != "csv" {
		return NewError(KindCredentialsMissing, fmt.Errorf("checkpoint_format must be \"csv\", got %q", c.CheckpointFormat))
	}
	c.CheckpointFormat = strings.ToLower(c.CheckpointFormat)
	if c.InterruptGraceSeconds <= 0 {
		c.InterruptGraceSeconds = 30
	}
	if c.PlatformURL == "" {
		c.PlatformURL = defaultPlatformURL
	}
	if c.ResumeFrom != "" && c.ResumeRerunErrors {
		return NewError(KindResumeMismatch, fmt.Errorf("resume_rerun_errors is not supported when appending to the same run file"))
	}
	c.normalizeModels()
	if err := c.validateSchema(); err != nil {
		return err
	}
	return nil
}

// validateSchema checks the flattened config against configSchemaJSON,
// catching shape errors (wrong type, out-of-range bound, unrecognized
// enum value) that could only otherwise surface as a confusing failure
// deep inside the scheduler.
func (c *Config) validateSchema() error {
	schema, err := compiledConfigSchema()
	if err != nil {
		return NewError(KindCredentialsMissing, err)
	}
	raw, err := json.Marshal(c.AsRunConfigMap())
	if err != nil {
		return NewError(KindCredentialsMissing, fmt.Errorf("eval: marshal config for schema validation: %w", err))
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return NewError(KindCredentialsMissing, fmt.Errorf("eval: decode config for schema validation: %w", err))
	}
	if err := schema.Validate(doc); err != nil {
		return NewError(KindCredentialsMissing, fmt.Errorf("eval: config failed schema validation: %w", err))
	}
	return nil
}

// InterruptGrace returns InterruptGraceSeconds as a time.Duration.
func (c Config) InterruptGrace() time.Duration {
	return time.Duration(c.InterruptGraceSeconds) * time.Second
}

// OutputPath builds the checkpoint/export file path for one run, following
// spec.md §6.7's convention:
//
//	{output_dir}/{task}/{model}/{YYYY-MM-DD}/{task}-{dataset}-{model}-{YYMMDD-HHMM}[-{counter}].csv
func (c Config) OutputPath(task, dataset, model, runID string, now time.Time) string {
	strippedModel := StripModelProvider(model)
	if strippedModel == "" {
		strippedModel = "unknown-model"
	}
	day := now.Format("2006-01-02")
	suffix := runID
	if loc := timestampPattern.FindStringIndex(runID); loc != nil {
		suffix = runID[loc[0]+1:]
	}
	filename := fmt.Sprintf("%s-%s-%s-%s.csv", task, dataset, strippedModel, suffix)
	return fmt.Sprintf("%s/%s/%s/%s/%s", c.OutputDir, task, strippedModel, day, filename)
}

// AsRunConfigMap flattens Config into the map shape ComputeRunConfigID
// expects, so platform grouping hashes over the same fields regardless of
// how the config was constructed.
func (c Config) AsRunConfigMap() map[string]any {
	return map[string]any{
		"max_concurrency":            c.MaxConcurrency,
		"timeout":                    c.Timeout.Seconds(),
		"model":                      c.Model,
		"models":                     c.Models,
		"checkpoint_enabled":         c.CheckpointEnabled,
		"checkpoint_format":          c.CheckpointFormat,
		"checkpoint_flush_each_item": c.CheckpointFlushEachItem,
		"checkpoint_fsync":           c.CheckpointFsync,
		"output_dir":                 c.OutputDir,
		"interrupt_grace_seconds":    c.InterruptGraceSeconds,
		"run_name":                   c.RunName,
		"resume_from":                c.ResumeFrom,
		"cli_invocation":             c.CLIInvocation,
		"run_metadata":               c.RunMetadata,
	}
}
