// Package main provides the vodo API server: the webhook boundary and
// the flow management endpoints.
package main

import (
	"context"
	"os"
	"strconv"

	cli "github.com/urfave/cli/v3"

	"github.com/go-playground/validator/v10"

	"github.com/qbizns/Vodo.com-sub019/pkg/cmd"
	"github.com/qbizns/Vodo.com-sub019/pkg/execution"
	"github.com/qbizns/Vodo.com-sub019/pkg/log"
	"github.com/qbizns/Vodo.com-sub019/pkg/trigger"
	"github.com/qbizns/Vodo.com-sub019/pkg/web"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "vodo-api",
		Usage:                 "Manage flows and receive webhook deliveries",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-provider",
				Usage:   "Job queue provider (gochannel, kafka, redis)",
				Value:   "gochannel",
				Sources: cli.EnvVars("QUEUE_PROVIDER"),
			},
			&cli.StringFlag{
				Name:     "webhook-base-url",
				Usage:    "Public base URL used when registering webhooks",
				Required: true,
				Sources:  cli.EnvVars("WEBHOOK_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing vodo API")

			registry := cmd.NewRegistry(logger)
			credentialVault := cmd.NewVault(logger)

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			jobQueue, err := cmd.NewQueue(ctx, logger, command.String("queue-provider"), "vodo-api")
			if err != nil {
				return err
			}

			defer func() {
				if err := jobQueue.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close queue", "error", err)
				}
			}()

			triggers := trigger.NewEngine(logger, persistence, registry, credentialVault,
				jobQueue, command.String("webhook-base-url"))
			executions := execution.NewEngine(logger, persistence, registry, credentialVault, jobQueue)

			handlers := web.NewHandlers(logger, persistence, triggers, executions,
				validator.New(validator.WithRequiredStructEnabled()), registry)

			app := web.NewRouter(handlers)

			return app.Listen(":" + strconv.Itoa(int(command.Int("port"))))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("vodo-api exited with error", "error", err)
		os.Exit(1)
	}
}
