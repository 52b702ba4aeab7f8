// Package config loads the citynav configuration from YAML, applies
// environment overrides and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// #region types
// Config is the full run configuration.
type Config struct {
	Database    string `yaml:"database" json:"database" validate:"required"`
	GroundTruth string `yaml:"ground_truth" json:"ground_truth"`
	EpisodeLog  string `yaml:"episode_log" json:"episode_log"`

	Run        RunConfig        `yaml:"run" json:"run"`
	Backtrack  BacktrackConfig  `yaml:"backtrack" json:"backtrack"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	History    HistoryConfig    `yaml:"history" json:"history"`
	Oracle     OracleConfig     `yaml:"oracle" json:"oracle"`
	Evaluation EvaluationConfig `yaml:"evaluation" json:"evaluation"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing" json:"tracing"`
}

// RunConfig bounds the batch.
type RunConfig struct {
	MaxSteps int  `yaml:"max_steps" json:"max_steps" validate:"gte=1"`
	Repeat   int  `yaml:"repeat" json:"repeat" validate:"gte=1"`
	Workers  int  `yaml:"workers" json:"workers" validate:"gte=1"`
	Offset   int  `yaml:"offset" json:"offset" validate:"gte=0"`
	Limit    int  `yaml:"limit" json:"limit" validate:"gte=0"` // 0 = all
	ResetLog bool `yaml:"reset_log" json:"reset_log"`
}

// BacktrackConfig selects the lostness policy.
type BacktrackConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Steps     int     `yaml:"steps" json:"steps" validate:"gte=1"`
	Policy    string  `yaml:"policy" json:"policy" validate:"oneof=confidence topo_distance"`
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gte=0,lte=1"`
	Mode      string  `yaml:"mode" json:"mode" validate:"oneof=replay truncate"`
}

// RetrievalConfig controls neighborhood context from earlier rounds.
type RetrievalConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Epoch   int     `yaml:"epoch" json:"epoch" validate:"gte=1"`
	Mode    string  `yaml:"mode" json:"mode" validate:"oneof=topology spatial"`
	Radius  float64 `yaml:"radius" json:"radius" validate:"gt=0"`
}

// HistoryConfig controls recent-position context.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Steps   int  `yaml:"steps" json:"steps" validate:"gte=1"`
}

// OracleConfig selects and tunes the decision-maker.
type OracleConfig struct {
	Kind            string        `yaml:"kind" json:"kind" validate:"oneof=model remote straight random replay"`
	RetryBudget     int           `yaml:"retry_budget" json:"retry_budget" validate:"gte=1"`
	FallbackScore   float64       `yaml:"fallback_score" json:"fallback_score" validate:"gte=0,lte=1"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	BacktrackPrompt bool          `yaml:"backtrack_prompt" json:"backtrack_prompt"`

	Model  ModelConfig  `yaml:"model" json:"model"`
	Remote RemoteConfig `yaml:"remote" json:"remote"`
	Random RandomConfig `yaml:"random" json:"random"`
	Replay ReplayConfig `yaml:"replay" json:"replay"`
}

// ModelConfig points at an OpenAI-compatible chat endpoint.
type ModelConfig struct {
	BaseURL           string  `yaml:"base_url" json:"base_url"`
	APIKey            string  `yaml:"api_key" json:"-"`
	Name              string  `yaml:"name" json:"name"`
	Temperature       float32 `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" json:"burst" validate:"gte=0"`
	ImageBaseURL      string  `yaml:"image_base_url" json:"image_base_url"`
}

// RemoteConfig points at a gRPC oracle service.
type RemoteConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// RandomConfig seeds the random baseline.
type RandomConfig struct {
	Seed uint64 `yaml:"seed" json:"seed"`
}

// ReplayConfig names the episode log to replay.
type ReplayConfig struct {
	Path string `yaml:"path" json:"path"`
}

// EvaluationConfig holds the round-success expression.
type EvaluationConfig struct {
	SuccessExpr string `yaml:"success_expr" json:"success_expr"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	File  string `yaml:"file" json:"file"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// TracingConfig enables span export to File when set.
type TracingConfig struct {
	File string `yaml:"file" json:"file"`
}

// #endregion types

// #region defaults
// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database:   "citynav.db",
		EpisodeLog: "episodes.json",
		Run: RunConfig{
			MaxSteps: 35,
			Repeat:   1,
			Workers:  1,
		},
		Backtrack: BacktrackConfig{
			Steps:     3,
			Policy:    "confidence",
			Threshold: 0.75,
			Mode:      "replay",
		},
		Retrieval: RetrievalConfig{
			Epoch:  3,
			Mode:   "topology",
			Radius: 1,
		},
		History: HistoryConfig{
			Steps: 3,
		},
		Oracle: OracleConfig{
			Kind:        "straight",
			RetryBudget: 5,
			Timeout:     60 * time.Second,
			Model: ModelConfig{
				Name:  "gpt-4o",
				Burst: 1,
			},
			Remote: RemoteConfig{Addr: "localhost:50051"},
		},
		Evaluation: EvaluationConfig{SuccessExpr: "at_goal"},
		Logging:    LoggingConfig{Level: "info"},
	}
}

// #endregion defaults

// #region load
// Load reads path over the defaults (path may be empty), applies
// environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database = envOr("CITYNAV_DB", c.Database)
	c.Oracle.Model.APIKey = envOr("OPENAI_API_KEY", c.Oracle.Model.APIKey)
	c.Oracle.Model.BaseURL = envOr("OPENAI_API_BASE", c.Oracle.Model.BaseURL)
	c.Oracle.Model.Name = envOr("MODEL_NAME", c.Oracle.Model.Name)
	c.Oracle.Remote.Addr = envOr("ORACLE_ADDR", c.Oracle.Remote.Addr)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region validate
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(oracleLevel, OracleConfig{})
	return v
}

// oracleLevel checks the sub-section the selected oracle kind needs.
func oracleLevel(sl validator.StructLevel) {
	o := sl.Current().Interface().(OracleConfig)
	switch o.Kind {
	case "model":
		if o.Model.APIKey == "" {
			sl.ReportError(o.Model.APIKey, "Model.APIKey", "APIKey", "required_for_model", "")
		}
		if o.Model.Name == "" {
			sl.ReportError(o.Model.Name, "Model.Name", "Name", "required_for_model", "")
		}
	case "remote":
		if o.Remote.Addr == "" {
			sl.ReportError(o.Remote.Addr, "Remote.Addr", "Addr", "required_for_remote", "")
		}
	case "replay":
		if o.Replay.Path == "" {
			sl.ReportError(o.Replay.Path, "Replay.Path", "Path", "required_for_replay", "")
		}
	}
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q (value %v)", verrs[0].Namespace(), verrs[0].Tag(), verrs[0].Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// #endregion validate
