// Package main provides the vodo scheduler: the periodic sweeper for due
// polls, due resumes and stuck pending events.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/qbizns/Vodo.com-sub019/pkg/cmd"
	"github.com/qbizns/Vodo.com-sub019/pkg/log"
	"github.com/qbizns/Vodo.com-sub019/pkg/scheduler"
	"github.com/qbizns/Vodo.com-sub019/pkg/trigger"
)

func main() {
	logger := log.WithModule("vodo-scheduler")

	command := &cli.Command{
		Name:                  "vodo-scheduler",
		Usage:                 "Sweep due polls, due resumes and stuck events into the job queue",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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

			logger.InfoContext(ctx, "Initializing vodo scheduler")

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

			jobQueue, err := cmd.NewQueue(ctx, logger, command.String("queue-provider"), "vodo-scheduler")
			if err != nil {
				return err
			}

			defer func() {
				if err := jobQueue.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close queue", "error", err)
				}
			}()

			// The dispatcher re-runs events whose executions never started.
			triggers := trigger.NewEngine(logger, persistence, registry, credentialVault,
				jobQueue, command.String("webhook-base-url"))

			sched := scheduler.New(logger, persistence, jobQueue, triggers)
			sched.Start(ctx)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			<-ctx.Done()

			logger.Info("Shutting down vodo scheduler")
			sched.Stop()

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("vodo-scheduler exited with error", "error", err)
		os.Exit(1)
	}
}
