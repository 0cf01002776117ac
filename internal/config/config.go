// Package config loads analyzer settings from a JSON/YAML file, GQLCOST_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/calibrate"
	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/detect"
	"github.com/couchcryptid/gql-cost-analyzer/internal/report"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "GQLCOST"

// ConfigError reports invalid configuration. It is fatal before any document is read.
type ConfigError struct {
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return "config error: " + e.Err.Error()
	}
	return "config error: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Config holds the analysis settings.
type Config struct {
	MaxScore            int64    `mapstructure:"max_score"`
	Budget              string   `mapstructure:"budget"`
	FailOnWarning       bool     `mapstructure:"fail_on_warning"`
	DepthSoftLimit      int      `mapstructure:"depth_soft_limit"`
	DepthHardLimit      int      `mapstructure:"depth_hard_limit"`
	FanOutThreshold     int64    `mapstructure:"fan_out_threshold"`
	SearchRowThreshold  int      `mapstructure:"search_row_threshold"`
	SearchArguments     []string `mapstructure:"search_arguments"`
	NestedFilterMaxHops int      `mapstructure:"nested_filter_max_hops"`

	Cardinality   CardinalityConfig `mapstructure:"cardinality"`
	BudgetClasses map[string]int64  `mapstructure:"budget_classes"`
	LocalFilters  []LocalFilter     `mapstructure:"local_filters"`
	Calibration   CalibrationConfig `mapstructure:"calibration"`

	SchemaFile      string `mapstructure:"schema_file"`
	CalibrationFile string `mapstructure:"calibration_file"`
	Output          string `mapstructure:"output"`
	Concurrency     int    `mapstructure:"concurrency"`
}

// CardinalityConfig configures the cardinality model.
type CardinalityConfig struct {
	ToMany int           `mapstructure:"to_many"`
	ToOne  int           `mapstructure:"to_one"`
	MaxAge time.Duration `mapstructure:"max_age"`
	Edges  []EdgeDefault `mapstructure:"edges"`
}

// EdgeDefault overrides the default cardinality of one edge, e.g. "Site.devices".
// Edges are a list rather than a map because viper lower-cases map keys.
type EdgeDefault struct {
	Edge    string `mapstructure:"edge"`
	Default int    `mapstructure:"default"`
}

// LocalFilter registers a local filter field on a type for a relation.
type LocalFilter struct {
	Type     string `mapstructure:"type"`
	Relation string `mapstructure:"relation"`
	Filter   string `mapstructure:"filter"`
}

// CalibrationConfig configures live calibration probes.
type CalibrationConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	Token        string        `mapstructure:"token"`
	SampleSize   int           `mapstructure:"sample_size"`
	RootLimit    int           `mapstructure:"root_limit"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	TotalTimeout time.Duration `mapstructure:"total_timeout"`
	Concurrency  int           `mapstructure:"concurrency"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"max-score":        "max_score",
	"budget":           "budget",
	"fail-on-warning":  "fail_on_warning",
	"schema":           "schema_file",
	"calibration-file": "calibration_file",
	"output":           "output",
	"concurrency":      "concurrency",
	"calibrate":        "calibration.enabled",
	"url":              "calibration.url",
	"token":            "calibration.token",
	"sample-size":      "calibration.sample_size",
	"root-limit":       "calibration.root_limit",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_score", 0)
	v.SetDefault("budget", "")
	v.SetDefault("fail_on_warning", false)
	v.SetDefault("depth_soft_limit", detect.DefaultDepthSoftLimit)
	v.SetDefault("depth_hard_limit", detect.DefaultDepthHardLimit)
	v.SetDefault("fan_out_threshold", detect.DefaultFanOutThreshold)
	v.SetDefault("search_row_threshold", detect.DefaultSearchRowThreshold)
	v.SetDefault("search_arguments", detect.DefaultSearchArguments)
	v.SetDefault("nested_filter_max_hops", detect.DefaultNestedFilterMaxHops)

	v.SetDefault("cardinality.to_many", cardinality.DefaultToMany)
	v.SetDefault("cardinality.to_one", cardinality.DefaultToOne)
	v.SetDefault("cardinality.max_age", time.Duration(0))

	v.SetDefault("calibration.enabled", false)
	v.SetDefault("calibration.url", "")
	v.SetDefault("calibration.token", "")
	v.SetDefault("calibration.sample_size", calibrate.DefaultSampleSize)
	v.SetDefault("calibration.root_limit", calibrate.DefaultRootLimit)
	v.SetDefault("calibration.probe_timeout", calibrate.DefaultProbeTimeout)
	v.SetDefault("calibration.total_timeout", calibrate.DefaultTotalTimeout)
	v.SetDefault("calibration.concurrency", calibrate.DefaultConcurrency)

	v.SetDefault("schema_file", "")
	v.SetDefault("calibration_file", "")
	v.SetDefault("output", string(report.FormatText))
	v.SetDefault("concurrency", 4)
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads path (JSON or YAML, by extension; empty for none), applies
// GQLCOST_* environment overrides and the changed flags in fs, and validates
// the result. Every failure is a *ConfigError.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, &ConfigError{Err: fmt.Errorf("bind flag %s: %w", name, err)}
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if c.MaxScore < 0 {
		add("max_score must not be negative")
	}
	if c.MaxScore > 0 && c.Budget != "" {
		add("set either max_score or budget, not both")
	}
	for name, v := range c.BudgetClasses {
		if v < 0 {
			add("budget_classes.%s must not be negative", name)
		}
	}
	if _, err := c.Classes().Ceiling(c.Budget); err != nil {
		add("budget: %v", err)
	}

	if c.DepthSoftLimit < 1 {
		add("depth_soft_limit must be at least 1")
	}
	if c.DepthHardLimit < c.DepthSoftLimit {
		add("depth_hard_limit (%d) must not be below depth_soft_limit (%d)", c.DepthHardLimit, c.DepthSoftLimit)
	}
	if c.FanOutThreshold < 1 {
		add("fan_out_threshold must be positive")
	}
	if c.SearchRowThreshold < 0 {
		add("search_row_threshold must not be negative")
	}
	if c.NestedFilterMaxHops < 1 {
		add("nested_filter_max_hops must be at least 1")
	}

	if c.Cardinality.ToMany < 0 || c.Cardinality.ToOne < 0 {
		add("cardinality defaults must not be negative")
	}
	if c.Cardinality.MaxAge < 0 {
		add("cardinality.max_age must not be negative")
	}
	for _, e := range c.Cardinality.Edges {
		if _, err := cardinality.ParseKey(e.Edge); err != nil {
			add("cardinality.edges: %v", err)
		}
		if e.Default < 0 {
			add("cardinality.edges: %s default must not be negative", e.Edge)
		}
	}
	for _, lf := range c.LocalFilters {
		if lf.Type == "" || lf.Relation == "" || lf.Filter == "" {
			add("local_filters entries need type, relation and filter")
		}
	}

	cal := c.Calibration
	if cal.Enabled && cal.URL == "" {
		add("calibration.url is required when calibration is enabled")
	}
	if cal.URL != "" {
		if u, err := url.Parse(cal.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("calibration.url %q must be an absolute http(s) URL", cal.URL)
		}
	}
	if cal.SampleSize < 1 {
		add("calibration.sample_size must be at least 1")
	}
	if cal.RootLimit < 1 {
		add("calibration.root_limit must be at least 1")
	}
	if cal.Concurrency < 1 {
		add("calibration.concurrency must be at least 1")
	}
	if cal.ProbeTimeout <= 0 || cal.TotalTimeout <= 0 {
		add("calibration timeouts must be positive")
	}

	if _, err := report.ParseFormat(c.Output); err != nil {
		add("output: %v", err)
	}
	if c.Concurrency < 1 {
		add("concurrency must be at least 1")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// Classes returns the built-in budget classes extended by budget_classes.
func (c *Config) Classes() budget.Classes { return budget.NewClasses(c.BudgetClasses) }

// Ceiling resolves max_score or budget to a score ceiling. Zero means none.
func (c *Config) Ceiling() int64 {
	if c.MaxScore > 0 {
		return c.MaxScore
	}
	n, _ := c.Classes().Ceiling(c.Budget)
	return n
}

// Gate returns the budget gate for this configuration.
func (c *Config) Gate() budget.Gate {
	return budget.Gate{Ceiling: c.Ceiling(), FailOnWarning: c.FailOnWarning}
}

// Thresholds returns the detector thresholds.
func (c *Config) Thresholds() detect.Thresholds {
	return detect.Thresholds{
		DepthSoftLimit:      c.DepthSoftLimit,
		DepthHardLimit:      c.DepthHardLimit,
		FanOutThreshold:     c.FanOutThreshold,
		SearchRowThreshold:  c.SearchRowThreshold,
		SearchArguments:     c.SearchArguments,
		NestedFilterMaxHops: c.NestedFilterMaxHops,
	}
}

// LocalFilterTable returns the built-in NetBox local filters extended by local_filters.
func (c *Config) LocalFilterTable() detect.LocalFilters {
	extra := make(detect.LocalFilters)
	for _, lf := range c.LocalFilters {
		if extra[lf.Type] == nil {
			extra[lf.Type] = make(map[string]string)
		}
		extra[lf.Type][lf.Relation] = lf.Filter
	}
	return detect.NetBoxLocalFilters().Merge(extra)
}

// Model returns an uncalibrated cardinality model.
func (c *Config) Model() *cardinality.Model {
	table := make(map[cardinality.Key]int, len(c.Cardinality.Edges))
	for _, e := range c.Cardinality.Edges {
		if k, err := cardinality.ParseKey(e.Edge); err == nil {
			table[k] = e.Default
		}
	}
	return cardinality.NewModel(
		cardinality.WithToMany(c.Cardinality.ToMany),
		cardinality.WithToOne(c.Cardinality.ToOne),
		cardinality.WithMaxAge(c.Cardinality.MaxAge),
		cardinality.WithDefaults(table),
	)
}

// CalibratorConfig returns the calibrator settings.
func (c *Config) CalibratorConfig() calibrate.Config {
	return calibrate.Config{
		URL:          c.Calibration.URL,
		Token:        c.Calibration.Token,
		SampleSize:   c.Calibration.SampleSize,
		RootLimit:    c.Calibration.RootLimit,
		Concurrency:  c.Calibration.Concurrency,
		ProbeTimeout: c.Calibration.ProbeTimeout,
		TotalTimeout: c.Calibration.TotalTimeout,
	}
}
