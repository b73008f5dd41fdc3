package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
trace_sinks: [log, kafka]
kafka_brokers: ["localhost:9092"]
cache:
  max_entries: 100
  idle_timeout: 10m
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, []string{"log", "kafka"}, cfg.TraceSinks)
	assert.Equal(t, 100, cfg.Cache.MaxEntries)
	assert.Equal(t, 10*time.Minute, cfg.Cache.IdleTimeout)
	assert.Equal(t, "@every 1m", cfg.Cache.JanitorSchedule)
	assert.InDelta(t, 1.0, cfg.TraceSample, 0)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "capgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_levle: debug\n"), 0o600))

	_, err = LoadFile(path)
	require.ErrorContains(t, err, "failed to parse YAML config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "bad log level", modify: func(c *Config) { c.LogLevel = "trace" }, wantErr: "LogLevel"},
		{name: "unknown sink", modify: func(c *Config) { c.TraceSinks = []string{"stdout"} }, wantErr: `unknown trace sink "stdout"`},
		{name: "kafka without brokers", modify: func(c *Config) { c.TraceSinks = []string{TraceSinkKafka} }, wantErr: "requires kafka brokers"},
		{name: "sample ratio above one", modify: func(c *Config) { c.TraceSample = 1.5 }, wantErr: "TraceSample"},
		{name: "negative cache bound", modify: func(c *Config) { c.Cache.MaxEntries = -1 }, wantErr: "MaxEntries"},
		{
			name:    "idle timeout without janitor",
			modify:  func(c *Config) { c.Cache.IdleTimeout = time.Minute; c.Cache.JanitorSchedule = "" },
			wantErr: "janitor schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"log", "otel"}, ParseList(" log, ,otel "))
	assert.Nil(t, ParseList(""))
}
