// Package notify delivers workflow notifications. Tasks live in a redis
// sorted set scored by their due time, so retries with backoff and
// immediate dispatch share one mechanism.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Task is one pending notification
type Task struct {
	RequestID int64  `json:"request_id"`
	Kind      string `json:"kind"`
	Attempts  int    `json:"attempts"`
}

// Queue is a durable redis-backed task queue. Members are JSON tasks,
// scores are unix due times.
type Queue struct {
	client *redis.Client
	key    string
}

// NewQueue creates a queue on the given redis client
func NewQueue(client *redis.Client, key string) *Queue {
	if key == "" {
		key = "notifications:pending"
	}
	return &Queue{client: client, key: key}
}

// Enqueue schedules a task for immediate dispatch. Satisfies
// workflow.Enqueuer.
func (q *Queue) Enqueue(ctx context.Context, requestID int64, kind string) error {
	return q.schedule(ctx, Task{RequestID: requestID, Kind: kind}, time.Now())
}

// Reschedule re-adds a task for a later attempt
func (q *Queue) Reschedule(ctx context.Context, task Task, due time.Time) error {
	return q.schedule(ctx, task, due)
}

func (q *Queue) schedule(ctx context.Context, task Task, due time.Time) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	err = q.client.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(due.Unix()),
		Member: string(payload),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Due pops up to limit tasks whose due time has passed. Popped tasks are
// removed; a crashed worker loses at most one poll's worth, which the
// reconciler recovers.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due tasks: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	removable := make([]interface{}, len(members))
	for i, m := range members {
		removable[i] = m
	}
	if err := q.client.ZRem(ctx, q.key, removable...).Err(); err != nil {
		return nil, fmt.Errorf("failed to claim due tasks: %w", err)
	}

	tasks := make([]Task, 0, len(members))
	for _, member := range members {
		var task Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			// Corrupt member already removed; skip it
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Len returns the number of pending tasks
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
