package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/reportoor/pkg/collector"
	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/merge"
)

const (
	// EnvPrefix prefixes every environment variable override, e.g.
	// REPORTOOR_REPORT_FLAKY_POLICY.
	EnvPrefix = "REPORTOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultReportOutput is the default merged report path.
	DefaultReportOutput = "reports/final_report.json"

	// DefaultMetadataFile is the metadata file written next to the report.
	DefaultMetadataFile = "plus_metadata.json"

	// DefaultFlakeReportFile is the history analysis file written next to
	// the report.
	DefaultFlakeReportFile = "flake_report.json"

	// DefaultReportTitle is the default report title.
	DefaultReportTitle = "Test Report"

	// DefaultEnvironment is used when no environment name is configured.
	DefaultEnvironment = "NA"

	// DefaultHistoryWindow is the number of recent runs analysed for
	// flakiness.
	DefaultHistoryWindow = 10
)

// Config is the root configuration for reportoor.
type Config struct {
	Global  GlobalConfig  `yaml:"global" mapstructure:"global"`
	Report  ReportConfig  `yaml:"report" mapstructure:"report"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Upload  UploadConfig  `yaml:"upload" mapstructure:"upload"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// ReportConfig controls where worker files are read from and where the
// merged report is written.
type ReportConfig struct {
	// Output is the merged report path. Worker files live in WorkerDir
	// next to it.
	Output         string `yaml:"output" mapstructure:"output"`
	WorkerDir      string `yaml:"worker_dir" mapstructure:"worker_dir"`
	MetadataOutput string `yaml:"metadata_output" mapstructure:"metadata_output"`
	FlakyPolicy    string `yaml:"flaky_policy" mapstructure:"flaky_policy"`
	Screenshots    string `yaml:"screenshots" mapstructure:"screenshots"`
	Title          string `yaml:"title" mapstructure:"title"`
	Environment    string `yaml:"environment" mapstructure:"environment"`
	// Owner is an optional "uid:gid" applied to written files.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// HistoryConfig configures the run history database used for flakiness
// detection across builds.
type HistoryConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Window   int            `yaml:"window" mapstructure:"window"`
	Output   string         `yaml:"output" mapstructure:"output"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// Load reads the configuration file at path, applies REPORTOOR_*
// environment overrides and fills defaults. An empty path loads defaults
// and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	if err := bindEnv(v, "", reflect.TypeOf(Config{})); err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// bindEnv registers every leaf key of t with viper's environment lookup.
func bindEnv(v *viper.Viper, prefix string, t reflect.Type) error {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			continue
		}

		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := field.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}

		if ft.Kind() == reflect.Struct {
			if err := bindEnv(v, key, ft); err != nil {
				return err
			}

			continue
		}

		if err := v.BindEnv(key); err != nil {
			return err
		}
	}

	return nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Report.Output == "" {
		c.Report.Output = DefaultReportOutput
	}

	if c.Report.WorkerDir == "" {
		c.Report.WorkerDir = collector.DefaultWorkerDir
	}

	if c.Report.MetadataOutput == "" {
		c.Report.MetadataOutput = DefaultMetadataFile
	}

	if c.Report.FlakyPolicy == "" {
		c.Report.FlakyPolicy = string(merge.DefaultPolicy)
	}

	if c.Report.Screenshots == "" {
		c.Report.Screenshots = string(collector.CaptureFailed)
	}

	if c.Report.Title == "" {
		c.Report.Title = DefaultReportTitle
	}

	if c.Report.Environment == "" {
		c.Report.Environment = DefaultEnvironment
	}

	if c.History.Window <= 0 {
		c.History.Window = DefaultHistoryWindow
	}

	if c.History.Output == "" {
		c.History.Output = DefaultFlakeReportFile
	}

	c.History.Database.applyDefaults()
	c.Upload.applyDefaults()
	c.API.applyDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := merge.ParsePolicy(c.Report.FlakyPolicy); err != nil {
		return fmt.Errorf("report.flaky_policy: %w", err)
	}

	switch collector.CaptureMode(c.Report.Screenshots) {
	case collector.CaptureFailed, collector.CaptureAll, collector.CaptureNone:
	default:
		return fmt.Errorf("report.screenshots: unknown mode %q", c.Report.Screenshots)
	}

	if c.Report.Owner != "" {
		if _, err := fsutil.ParseOwner(c.Report.Owner); err != nil {
			return fmt.Errorf("report.owner: %w", err)
		}
	}

	if c.History.Enabled {
		if err := c.History.Database.Validate(); err != nil {
			return fmt.Errorf("history.database: %w", err)
		}
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}

// ReportOwner parses the configured file owner. It returns nil when no
// owner is configured.
func (c *Config) ReportOwner() (*fsutil.OwnerConfig, error) {
	if c.Report.Owner == "" {
		return nil, nil
	}

	return fsutil.ParseOwner(c.Report.Owner)
}

// Policy returns the configured flaky policy.
func (c *Config) Policy() (merge.Policy, error) {
	return merge.ParsePolicy(c.Report.FlakyPolicy)
}

// Redacted returns a copy of the configuration with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c

	if out.History.Database.Postgres.Password != "" {
		out.History.Database.Postgres.Password = redacted
	}

	if out.Upload.S3 != nil {
		s3 := *out.Upload.S3
		if s3.SecretAccessKey != "" {
			s3.SecretAccessKey = redacted
		}

		out.Upload.S3 = &s3
	}

	return &out
}

const redacted = "<redacted>"

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	return data, nil
}

// ErrDatabaseDriver is returned for an unsupported database driver.
var ErrDatabaseDriver = errors.New("unsupported database driver")
