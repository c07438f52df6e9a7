// Package queue carries validation jobs from the API server to the
// worker over a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrEmpty is returned by Dequeue when no job arrived within the wait
// window.
var ErrEmpty = errors.New("queue empty")

// Job is a validation request for one agent version.
type Job struct {
	RunID      string    `json:"run_id"`
	AgentID    string    `json:"agent_id"`
	VersionID  string    `json:"version_id"`
	StorageKey string    `json:"storage_key"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a FIFO job queue.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks up to wait for a job and returns ErrEmpty on timeout.
	Dequeue(ctx context.Context, wait time.Duration) (Job, error)
	Length(ctx context.Context) (int64, error)
}

// RedisQueue is the production queue, a Redis list with blocking pops.
type RedisQueue struct {
	client *redis.Client
	name   string
}

var _ Queue = (*RedisQueue)(nil)

// NewRedis wraps an existing Redis client.
func NewRedis(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{client: client, name: name}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (Job, error) {
	res, err := q.client.BRPop(ctx, wait, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, ErrEmpty
		}
		return Job{}, fmt.Errorf("dequeue job: %w", err)
	}
	// BRPop returns [key, value].
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// MemoryQueue is an in-process queue for tests.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []Job
	ch   chan struct{}
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemory creates an empty in-process queue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{ch: make(chan struct{}, 1024)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	select {
	case q.ch <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (Job, error) {
	deadline := time.After(wait)
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-deadline:
			return Job{}, ErrEmpty
		case <-q.ch:
		}
	}
}

func (q *MemoryQueue) Length(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}
