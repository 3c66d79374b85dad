package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// tasksKey is the sorted set holding pending tasks, scored by due time.
const tasksKey = "mv:tasks"

// Task is one unit of deferred work. Tasks live in Redis so a queued
// remediation check or ticket push survives a process restart.
type Task struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
	DueAt   int64           `json:"due_at"`
}

// Handler processes one claimed task. A returned error triggers a retry up
// to the handler's attempt budget.
type Handler func(ctx context.Context, task Task) error

// Fallback runs once a task has exhausted its attempts.
type Fallback func(ctx context.Context, task Task, err error)

type handlerSpec struct {
	fn          Handler
	maxAttempts int
	fallback    Fallback
}

// Queue is a delayed task queue on a Redis sorted set. Claiming is a ZREM
// race: whoever removes the member owns the task, so concurrent workers
// never run the same task twice.
type Queue struct {
	redisClient  *redis.Client
	logger       *zap.Logger
	pollInterval time.Duration
	retryDelay   time.Duration
	batchSize    int64

	mu       sync.RWMutex
	handlers map[string]handlerSpec

	wg sync.WaitGroup
}

// NewQueue creates a queue worker.
func NewQueue(redisClient *redis.Client, logger *zap.Logger) *Queue {
	return &Queue{
		redisClient:  redisClient,
		logger:       logger,
		pollInterval: time.Second,
		retryDelay:   30 * time.Second,
		batchSize:    16,
		handlers:     make(map[string]handlerSpec),
	}
}

// RegisterHandler binds a task type to its handler. maxAttempts <= 1 means
// no retries. fallback may be nil.
func (q *Queue) RegisterHandler(taskType string, maxAttempts int, fn Handler, fallback Fallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	q.handlers[taskType] = handlerSpec{fn: fn, maxAttempts: maxAttempts, fallback: fallback}
}

// Enqueue schedules a task to run after delay.
func (q *Queue) Enqueue(ctx context.Context, taskType string, payload any, delay time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}
	task := Task{
		ID:      uuid.New().String(),
		Type:    taskType,
		Payload: data,
		DueAt:   time.Now().Add(delay).Unix(),
	}
	return q.push(ctx, task)
}

func (q *Queue) push(ctx context.Context, task Task) error {
	member, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	err = q.redisClient.ZAdd(ctx, tasksKey, &redis.Z{
		Score:  float64(task.DueAt),
		Member: string(member),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	q.logger.Debug("Task enqueued",
		zap.String("task_id", task.ID),
		zap.String("task_type", task.Type),
		zap.Int64("due_at", task.DueAt),
	)
	return nil
}

// Run polls for due tasks until the context is cancelled. Poll failures back
// off exponentially so a Redis outage does not spin the loop.
func (q *Queue) Run(ctx context.Context) {
	backoff := q.pollInterval
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			return
		case <-time.After(backoff):
		}

		if err := q.dispatchDue(ctx); err != nil {
			q.logger.Error("Failed to poll task queue",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = q.pollInterval
		}
	}
}

// dispatchDue claims and runs every task whose due time has passed.
func (q *Queue) dispatchDue(ctx context.Context) error {
	now := time.Now().Unix()
	members, err := q.redisClient.ZRangeByScore(ctx, tasksKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: q.batchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read due tasks: %w", err)
	}

	for _, member := range members {
		removed, err := q.redisClient.ZRem(ctx, tasksKey, member).Result()
		if err != nil {
			return fmt.Errorf("failed to claim task: %w", err)
		}
		if removed == 0 {
			// Another worker claimed it first.
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			q.logger.Error("Dropping malformed task", zap.Error(err))
			continue
		}

		q.wg.Add(1)
		go func(task Task) {
			defer q.wg.Done()
			q.runTask(ctx, task)
		}(task)
	}
	return nil
}

func (q *Queue) runTask(ctx context.Context, task Task) {
	q.mu.RLock()
	spec, ok := q.handlers[task.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("No handler registered for task",
			zap.String("task_id", task.ID),
			zap.String("task_type", task.Type),
		)
		return
	}

	err := spec.fn(ctx, task)
	if err == nil {
		return
	}

	task.Attempt++
	if task.Attempt < spec.maxAttempts {
		task.DueAt = time.Now().Add(q.retryDelay * time.Duration(task.Attempt)).Unix()
		q.logger.Warn("Task failed, retrying",
			zap.String("task_id", task.ID),
			zap.String("task_type", task.Type),
			zap.Int("attempt", task.Attempt),
			zap.Error(err),
		)
		if pushErr := q.push(ctx, task); pushErr != nil {
			q.logger.Error("Failed to requeue task",
				zap.String("task_id", task.ID),
				zap.Error(pushErr),
			)
		}
		return
	}

	q.logger.Error("Task exhausted its attempts",
		zap.String("task_id", task.ID),
		zap.String("task_type", task.Type),
		zap.Int("attempt", task.Attempt),
		zap.Error(err),
	)
	if spec.fallback != nil {
		spec.fallback(ctx, task, err)
	}
}

// Pending returns the number of queued tasks, due or not.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.redisClient.ZCard(ctx, tasksKey).Result()
}
