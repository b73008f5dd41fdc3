// Package config holds the settings of the capgraph host and loads them from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Trace sink names accepted in Config.TraceSinks.
const (
	TraceSinkLog       = "log"
	TraceSinkOTel      = "otel"
	TraceSinkKafka     = "kafka"
	TraceSinkGoChannel = "gochannel"
)

var traceSinks = []string{TraceSinkLog, TraceSinkOTel, TraceSinkKafka, TraceSinkGoChannel}

// Cache configures the capability instance cache. Zero values keep it unbounded and without
// idle expiry.
type Cache struct {
	MaxEntries      int           `yaml:"max_entries"      validate:"gte=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     validate:"gte=0"`
	JanitorSchedule string        `yaml:"janitor_schedule"`
}

type Config struct {
	LogLevel       string   `yaml:"log_level"       validate:"omitempty,oneof=debug info warn error"`
	LogFormat      string   `yaml:"log_format"      validate:"omitempty,oneof=text json"`
	PluginsPath    string   `yaml:"plugins_path"`
	WorkflowsPath  string   `yaml:"workflows_path"`
	CredentialsURL string   `yaml:"credentials_url"`
	TraceSinks     []string `yaml:"trace_sinks"`
	TraceTopic     string   `yaml:"trace_topic"`
	TraceSample    float64  `yaml:"trace_sample"    validate:"gte=0,lte=1"`
	ServiceName    string   `yaml:"service_name"    validate:"required"`
	KafkaBrokers   []string `yaml:"kafka_brokers"`
	Port           int      `yaml:"port"            validate:"gte=0,lte=65535"`
	Cache          Cache    `yaml:"cache"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LogLevel:      "info",
		LogFormat:     "text",
		PluginsPath:   "./plugins",
		WorkflowsPath: "./data",
		ServiceName:   "capgraph",
		TraceSample:   1,
		Port:          9091,
		Cache: Cache{
			JanitorSchedule: "@every 1m",
		},
	}
}

// LoadFile reads a YAML configuration file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, nil
}

// ParseList splits a comma separated setting, dropping blanks.
func ParseList(value string) []string {
	var out []string

	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration, reporting every problem at once.
func (c Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		errs = append(errs, err)
	}

	for _, sink := range c.TraceSinks {
		if !slices.Contains(traceSinks, sink) {
			errs = append(errs, fmt.Errorf("unknown trace sink %q (supported: %s)", sink, strings.Join(traceSinks, ", ")))
		}
	}

	if slices.Contains(c.TraceSinks, TraceSinkKafka) && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("the kafka trace sink requires kafka brokers"))
	}

	if c.Cache.IdleTimeout > 0 && c.Cache.JanitorSchedule == "" {
		errs = append(errs, errors.New("cache idle timeout requires a janitor schedule"))
	}

	return errors.Join(errs...)
}
