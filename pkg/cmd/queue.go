package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/qbizns/Vodo.com-sub019/pkg/queue"
	"github.com/qbizns/Vodo.com-sub019/pkg/queue/channels/gochannel"
	"github.com/qbizns/Vodo.com-sub019/pkg/queue/channels/kafka"
)

// NewQueue creates the job queue for the given provider. kafka reads
// KAFKA_BROKERS, redis reads REDIS_ADDR / REDIS_PASSWORD / REDIS_DB.
func NewQueue(ctx context.Context, logger *slog.Logger, provider, serviceName string) (queue.Queue, error) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName)
		if err != nil {
			return nil, fmt.Errorf("create kafka channel: %w", err)
		}

		return queue.NewWatermillQueue(logger, pub, sub), nil
	case "redis":
		db := 0
		if raw := os.Getenv("REDIS_DB"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid REDIS_DB %q: %w", raw, err)
			}

			db = parsed
		}

		return queue.NewRedisQueue(ctx, logger, os.Getenv("REDIS_ADDR"), os.Getenv("REDIS_PASSWORD"), db)
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create gochannel: %w", err)
		}

		return queue.NewWatermillQueue(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported queue provider %q", provider)
	}
}
