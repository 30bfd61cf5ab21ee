package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	readyKey   = "vodo:jobs:ready"
	delayedKey = "vodo:jobs:delayed"

	popTimeout    = 1 * time.Second
	moverInterval = 1 * time.Second
)

// RedisQueue delivers jobs through a Redis list, with a sorted set
// holding delayed jobs until they are due. Unlike the watermill queue,
// delayed jobs survive a process restart.
type RedisQueue struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[JobType]Handler

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRedisQueue(ctx context.Context, logger *slog.Logger, addr, password string, db int) (*RedisQueue, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return &RedisQueue{
		client:   client,
		logger:   logger.With("module", "queue", "provider", "redis"),
		handlers: make(map[JobType]Handler),
		stopCh:   make(chan struct{}),
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return q.client.LPush(ctx, readyKey, payload).Err()
}

func (q *RedisQueue) EnqueueIn(ctx context.Context, job *Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	readyAt := time.Now().Add(delay).Unix()

	return q.client.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(readyAt),
		Member: payload,
	}).Err()
}

func (q *RedisQueue) Handle(jobType JobType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[jobType] = handler
}

func (q *RedisQueue) Consume(ctx context.Context) error {
	q.wg.Add(2)

	go q.consume(ctx)
	go q.moveDueJobs(ctx)

	return nil
}

func (q *RedisQueue) consume(ctx context.Context) {
	defer q.wg.Done()

	q.logger.InfoContext(ctx, "Starting queue consumer", "queue", readyKey)

	for {
		select {
		case <-q.stopCh:
			q.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			q.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := q.processMessage(ctx)
			if err != nil {
				q.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (q *RedisQueue) processMessage(ctx context.Context) error {
	result, err := q.client.BLPop(ctx, popTimeout, readyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop job from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.ErrorContext(ctx, "Failed to decode job", "error", err)

		return nil
	}

	q.mu.RLock()
	handler, exists := q.handlers[job.Type]
	q.mu.RUnlock()

	if !exists {
		q.logger.WarnContext(ctx, "No handler for job type", "job_type", job.Type)

		return nil
	}

	if err := handler(ctx, &job); err != nil {
		q.logger.ErrorContext(ctx, "Job handler failed",
			"job_id", job.ID, "job_type", job.Type, "attempt", job.Attempt, "error", err)
	}

	return nil
}

// moveDueJobs promotes delayed jobs whose time has come onto the ready
// list. The ZRem guard keeps two movers from delivering the same member
// twice; a crash between LPush and ZRem re-delivers, which handlers
// already tolerate.
func (q *RedisQueue) moveDueJobs(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(moverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil {
				q.logger.ErrorContext(ctx, "Error promoting delayed jobs", "error", err)
			}
		}
	}
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)

	members, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return err
		}

		if removed == 0 {
			continue
		}

		if err := q.client.LPush(ctx, readyKey, member).Err(); err != nil {
			return err
		}
	}

	return nil
}

func (q *RedisQueue) Close() error {
	close(q.stopCh)
	q.wg.Wait()

	return q.client.Close()
}
