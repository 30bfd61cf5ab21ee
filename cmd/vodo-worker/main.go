// Package main provides the vodo worker: it consumes execute, resume and
// poll jobs from the queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/qbizns/Vodo.com-sub019/pkg/cmd"
	"github.com/qbizns/Vodo.com-sub019/pkg/execution"
	"github.com/qbizns/Vodo.com-sub019/pkg/log"
	"github.com/qbizns/Vodo.com-sub019/pkg/tracing"
	"github.com/qbizns/Vodo.com-sub019/pkg/trigger"
	"github.com/qbizns/Vodo.com-sub019/pkg/worker"
)

func main() {
	command := &cli.Command{
		Name:                  "vodo-worker",
		Usage:                 "Run flow executions and trigger polls from the job queue",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "queue-provider",
				Usage:    "Job queue provider (gochannel, kafka, redis)",
				Required: true,
				Sources:  cli.EnvVars("QUEUE_PROVIDER"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("vodo-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing vodo worker")

			if _, err := tracing.NewTracer(ctx, "vodo-worker"); err != nil {
				return err
			}

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

			jobQueue, err := cmd.NewQueue(ctx, logger, command.String("queue-provider"), workerID)
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

			w := worker.New(logger, jobQueue, executions, triggers)
			if err := w.Start(ctx); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			<-ctx.Done()

			logger.Info("Shutting down vodo worker")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("vodo-worker").Error("vodo-worker exited with error", "error", err)
		os.Exit(1)
	}
}
