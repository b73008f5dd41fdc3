// Command capgraph inspects node types and validates and runs capability graph workflows.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/capgraph/pkg/config"
	"github.com/dukex/capgraph/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	defaults := config.Default()

	return &cli.Command{
		Name:                  "capgraph",
		Usage:                 "Resolve and run capability graph workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file; flags override its values",
				Sources: cli.EnvVars("CAPGRAPH_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   defaults.LogLevel,
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   defaults.LogFormat,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing node plugins",
				Value:   defaults.PluginsPath,
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringFlag{
				Name:    "workflows-path",
				Usage:   "Directory of stored workflow definitions",
				Value:   defaults.WorkflowsPath,
				Sources: cli.EnvVars("WORKFLOWS_PATH"),
			},
			&cli.StringFlag{
				Name:    "credentials-url",
				Usage:   "Credential store (file://, redis://, postgres://); empty for none",
				Sources: cli.EnvVars("CREDENTIALS_URL"),
			},
			&cli.StringFlag{
				Name:    "trace-sink",
				Usage:   "Comma separated trace sinks (log, otel, kafka, gochannel)",
				Sources: cli.EnvVars("TRACE_SINK"),
			},
			&cli.StringFlag{
				Name:    "trace-topic",
				Usage:   "Topic trace events are published to",
				Sources: cli.EnvVars("TRACE_TOPIC"),
			},
			&cli.StringFlag{
				Name:    "otel-service-name",
				Usage:   "Service name reported to OpenTelemetry",
				Value:   defaults.ServiceName,
				Sources: cli.EnvVars("OTEL_SERVICE_NAME"),
			},
			&cli.FloatFlag{
				Name:    "trace-sample",
				Usage:   "Fraction of root spans sampled by the otel trace sink",
				Value:   defaults.TraceSample,
				Sources: cli.EnvVars("TRACE_SAMPLE"),
			},
			&cli.IntFlag{
				Name:    "cache-max-entries",
				Usage:   "Maximum number of cached capability instances (0 for unbounded)",
				Sources: cli.EnvVars("CACHE_MAX_ENTRIES"),
			},
			&cli.DurationFlag{
				Name:    "cache-idle-timeout",
				Usage:   "Evict cached capability instances unused for this long (0 to keep them)",
				Sources: cli.EnvVars("CACHE_IDLE_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers for the kafka trace sink",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			nodeTypesCommand(),
			validateCommand(),
			runCommand(),
			serveCommand(),
			tracesCommand(),
		},
	}
}

// loadConfig reads the configuration file, if any, and applies the flags that were set.
func loadConfig(command *cli.Command) (config.Config, error) {
	cfg := config.Default()

	if path := command.String("config"); path != "" {
		var err error

		cfg, err = config.LoadFile(path)
		if err != nil {
			return cfg, err
		}
	}

	setString := func(flag string, target *string) {
		if command.IsSet(flag) || *target == "" {
			*target = command.String(flag)
		}
	}

	setString("log-level", &cfg.LogLevel)
	setString("log-format", &cfg.LogFormat)
	setString("plugins-path", &cfg.PluginsPath)
	setString("workflows-path", &cfg.WorkflowsPath)
	setString("credentials-url", &cfg.CredentialsURL)
	setString("trace-topic", &cfg.TraceTopic)
	setString("otel-service-name", &cfg.ServiceName)

	if command.IsSet("trace-sink") {
		cfg.TraceSinks = config.ParseList(command.String("trace-sink"))
	}

	if command.IsSet("trace-sample") {
		cfg.TraceSample = command.Float("trace-sample")
	}

	if command.IsSet("kafka-brokers") {
		cfg.KafkaBrokers = config.ParseList(command.String("kafka-brokers"))
	}

	if command.IsSet("cache-max-entries") {
		cfg.Cache.MaxEntries = command.Int("cache-max-entries")
	}

	if command.IsSet("cache-idle-timeout") {
		cfg.Cache.IdleTimeout = command.Duration("cache-idle-timeout")
	}

	if command.IsSet("port") {
		cfg.Port = command.Int("port")
	}

	return cfg, nil
}
