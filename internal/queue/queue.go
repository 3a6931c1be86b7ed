package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScanJob is an asynchronous face verification request: an already-hosted
// image to run through the extractor and the biometric path.
type ScanJob struct {
	ImageURL string `json:"image_url"`
	Subject  string `json:"subject"`
	// SessionID optionally ties the resulting event to a session.
	SessionID string `json:"session_id,omitempty"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, job ScanJob) error
	Consume(ctx context.Context) (<-chan ScanJob, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan ScanJob
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan ScanJob, size)}
}

// Publish enqueues a job.
func (q *InMemory) Publish(ctx context.Context, job ScanJob) error {
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan ScanJob, error) {
	out := make(chan ScanJob)
	go func() {
		defer close(out)
		for {
			select {
			case job := <-q.ch:
				out <- job
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue with JSON-encoded jobs.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "rollcall:scans"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a job.
func (q *RedisQueue) Publish(ctx context.Context, job ScanJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Consume streams jobs using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan ScanJob, error) {
	out := make(chan ScanJob)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				var job ScanJob
				if err := json.Unmarshal([]byte(res[1]), &job); err == nil {
					out <- job
				}
			}
		}
	}()
	return out, nil
}
