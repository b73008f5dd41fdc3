package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/capgraph/pkg/channels/kafka"
	"github.com/dukex/capgraph/pkg/cmd"
	"github.com/dukex/capgraph/pkg/log"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/persistence/file"
	"github.com/dukex/capgraph/pkg/resolver"
	"github.com/dukex/capgraph/pkg/tracing"
	"github.com/dukex/capgraph/pkg/web"
	"github.com/dukex/capgraph/pkg/workflow"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

func writer(command *cli.Command) io.Writer {
	if w := command.Root().Writer; w != nil {
		return w
	}

	return os.Stdout
}

func printJSON(command *cli.Command, v any) error {
	encoder := json.NewEncoder(writer(command))
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

// withHost builds the host for the duration of fn.
func withHost(ctx context.Context, command *cli.Command, fn func(*cmd.Host) error) error {
	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}

	host, err := cmd.NewHost(ctx, cfg, log.WithModule("capgraph"))
	if err != nil {
		return err
	}

	defer func() {
		if err := host.Close(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "Failed to close host", "error", err)
		}
	}()

	return fn(host)
}

func nodeTypesCommand() *cli.Command {
	return &cli.Command{
		Name:    "node-types",
		Aliases: []string{"nt"},
		Usage:   "List registered node types, or describe one",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Node type to describe"},
			&cli.IntFlag{Name: "version", Usage: "Version to describe (default version when unset)"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withHost(ctx, command, func(host *cmd.Host) error {
				name := command.String("name")
				if name == "" {
					return printJSON(command, host.Registry.NodeTypes())
				}

				var pinned *int

				if command.IsSet("version") {
					v := command.Int("version")
					pinned = &v
				}

				impl, err := host.Registry.ResolveImplementation(name, pinned)
				if err != nil {
					return err
				}

				versions, err := host.Registry.Versions(name)
				if err != nil {
					return err
				}

				def, err := host.Registry.ResolveImplementation(name, nil)
				if err != nil {
					return err
				}

				return printJSON(command, web.TransformNodeType(impl, versions, def.Version))
			})
		},
	}
}

var workflowFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Usage:   "Workflow definition file (JSON or YAML)",
	},
	&cli.StringFlag{
		Name:  "id",
		Usage: "ID of a workflow stored under the workflows path",
	},
}

// loadWorkflow reads the workflow named by --file or --id.
func loadWorkflow(ctx context.Context, command *cli.Command, workflowsPath string) (*models.Workflow, error) {
	if path := command.String("file"); path != "" {
		return file.LoadWorkflow(path)
	}

	id := command.String("id")
	if id == "" {
		return nil, errors.New("either --file or --id is required")
	}

	persistence, err := cmd.NewPersistence(workflowsPath)
	if err != nil {
		return nil, err
	}

	return workflow.NewRepository(persistence).FetchByID(ctx, id)
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check a workflow's nodes, versions, ports and connections without running it",
		Flags: workflowFlags,
		Action: func(ctx context.Context, command *cli.Command) error {
			return withHost(ctx, command, func(host *cmd.Host) error {
				wf, err := loadWorkflow(ctx, command, host.Config.WorkflowsPath)
				if err != nil {
					return err
				}

				_, err = host.Executor.Validate(wf)

				var validationErr *resolver.ValidationError
				if errors.As(err, &validationErr) {
					resp := web.ValidationResponse{}
					for _, p := range validationErr.Problems {
						resp.Problems = append(resp.Problems, p.Error())
					}

					if err := printJSON(command, resp); err != nil {
						return err
					}

					return fmt.Errorf("workflow %s is invalid", wf.ID)
				}

				if err != nil {
					return err
				}

				return printJSON(command, web.ValidationResponse{Valid: true})
			})
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Execute a node of a workflow over input items",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "node",
				Aliases:  []string{"n"},
				Usage:    "ID of the node to execute",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "items",
				Usage: "JSON or YAML file with the input items",
			},
		}, workflowFlags...),
		Action: func(ctx context.Context, command *cli.Command) error {
			return withHost(ctx, command, func(host *cmd.Host) error {
				wf, err := loadWorkflow(ctx, command, host.Config.WorkflowsPath)
				if err != nil {
					return err
				}

				var items []models.Item

				if path := command.String("items"); path != "" {
					items, err = file.LoadItems(path)
					if err != nil {
						return err
					}
				}

				result, err := host.Executor.Execute(ctx, wf, command.String("node"), items)
				if err != nil {
					return err
				}

				return printJSON(command, result)
			})
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Sources: cli.EnvVars("PORT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withHost(ctx, command, func(host *cmd.Host) error {
				logger := log.WithModule("api")

				persistence, err := cmd.NewPersistence(host.Config.WorkflowsPath)
				if err != nil {
					return err
				}

				defer func() {
					if err := persistence.Close(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
					}
				}()

				handlers := web.NewAPIHandlers(host.Registry, host.Executor, workflow.NewRepository(persistence), validator.New(validator.WithRequiredStructEnabled()), logger)
				app := web.NewApp(handlers, host.Prometheus)

				go func() {
					<-ctx.Done()

					if err := app.ShutdownWithContext(context.WithoutCancel(ctx)); err != nil {
						logger.ErrorContext(ctx, "Failed to stop API server", "error", err)
					}
				}()

				logger.InfoContext(ctx, "Starting API server", "port", host.Config.Port)

				return app.Listen(fmt.Sprintf(":%d", host.Config.Port))
			})
		},
	}
}

func tracesCommand() *cli.Command {
	return &cli.Command{
		Name:  "traces",
		Usage: "Follow the trace events published to Kafka and log them",
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			logger := log.WithModule("traces")

			subscriber, err := kafka.CreateSubscriber(watermill.NewSlogLogger(logger), cfg.KafkaBrokers, cfg.ServiceName+"-traces")
			if err != nil {
				return err
			}

			defer func() {
				if err := subscriber.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close subscriber", "error", err)
				}
			}()

			topic := cfg.TraceTopic
			if topic == "" {
				topic = tracing.DefaultTopic
			}

			messages, err := subscriber.Subscribe(ctx, topic)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Following trace events", "topic", topic)

			tracing.Consume(ctx, messages, tracing.NewLogSink(logger, slog.LevelInfo), logger)

			return nil
		},
	}
}
