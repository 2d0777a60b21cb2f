// Package queue implements the two durable dispatch queues (chat, push)
// on top of Redis: a sorted set keyed by ready-time for scheduling plus
// a string key per job payload, workers polling and claiming by ZREM.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// ChatQueue and PushQueue are the two named durable queues (§4.8).
	ChatQueue = "chat"
	PushQueue = "push"

	maxAttempts       = 3
	backoffBase       = 2 * time.Second
	seenTTL           = 24 * time.Hour
	retainCompleted   = 100
	retainFailed      = 500
)

// Job is one unit of dispatch work.
type Job struct {
	ID              string    `json:"id"`
	Queue           string    `json:"queue"`
	AlertID         int64     `json:"alert_id"`
	RecipientHandle string    `json:"recipient_handle"`
	Payload         string    `json:"payload"`
	Attempt         int       `json:"attempt"`
	CreatedAt       time.Time `json:"created_at"`
}

// Queue wraps a redis client with the job-queue operations the
// scheduler (producer) and workers (consumer) need.
type Queue struct {
	rdb *redis.Client
}

// New wraps an already-configured redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func jobsKey(queue string) string   { return "jobs:" + queue }
func jobKey(jobID string) string    { return "job:" + jobID }
func seenKey(jobID string) string   { return "job-seen:" + jobID }

// Enqueue schedules a job to become ready after delay (0 for
// immediately). jobID collapsing: a caller that wants idempotent
// enqueue should pass a stable id; a duplicate id within seenTTL is a
// silent no-op, per the idempotent-enqueue design.
func (q *Queue) Enqueue(ctx context.Context, queue string, jobID string, alertID int64, recipientHandle, payload string, delay time.Duration) error {
	if jobID == "" {
		jobID = uuid.NewString()
	}

	ok, err := q.rdb.SetNX(ctx, seenKey(jobID), 1, seenTTL).Result()
	if err != nil {
		return fmt.Errorf("queue: seen check failed: %w", err)
	}
	if !ok {
		return nil // already enqueued; silent no-op
	}

	job := Job{
		ID: jobID, Queue: queue, AlertID: alertID, RecipientHandle: recipientHandle,
		Payload: payload, Attempt: 0, CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	runAt := time.Now().Add(delay)
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(jobID), raw, 0)
	pipe.ZAdd(ctx, jobsKey(queue), redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: enqueue pipeline failed: %w", err)
	}
	return nil
}

// Claim pops up to limit ready jobs (ready-time <= now) from queue.
// Claim races between workers resolve via ZREM: a failed removal means
// another worker already took that job, which Claim silently skips.
func (q *Queue) Claim(ctx context.Context, queue string, limit int64) ([]Job, error) {
	nowMillis := time.Now().UnixMilli()
	ids, err := q.rdb.ZRangeByScore(ctx, jobsKey(queue), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", nowMillis), Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: claim scan failed: %w", err)
	}

	var claimed []Job
	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, jobsKey(queue), id).Result()
		if err != nil || removed == 0 {
			continue // lost the race to another worker
		}
		raw, err := q.rdb.Get(ctx, jobKey(id)).Result()
		if err != nil {
			continue // payload expired or missing; drop silently
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// Retry re-enqueues a failed job with exponential backoff, unless it
// has exhausted maxAttempts, in which case it returns false.
func (q *Queue) Retry(ctx context.Context, job Job) (bool, error) {
	job.Attempt++
	if job.Attempt >= maxAttempts {
		if err := q.recordTerminal(ctx, job.Queue, "failed", job); err != nil {
			return false, err
		}
		return false, nil
	}

	delay := backoffBase << uint(job.Attempt-1)
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("queue: marshal retry job: %w", err)
	}
	runAt := time.Now().Add(delay)
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), raw, 0)
	pipe.ZAdd(ctx, jobsKey(job.Queue), redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("queue: retry pipeline failed: %w", err)
	}
	return true, nil
}

// Complete records a job as done and retires its payload.
func (q *Queue) Complete(ctx context.Context, job Job) error {
	if err := q.recordTerminal(ctx, job.Queue, "completed", job); err != nil {
		return err
	}
	return q.rdb.Del(ctx, jobKey(job.ID)).Err()
}

// recordTerminal appends the job to a bounded observability list
// (100 completed / 500 failed per queue, per §4.8's retention rule).
func (q *Queue) recordTerminal(ctx context.Context, queue, outcome string, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal terminal record: %w", err)
	}
	key := queue + ":" + outcome
	retain := int64(retainCompleted)
	if outcome == "failed" {
		retain = retainFailed
	}
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, retain-1)
	_, err = pipe.Exec(ctx)
	return err
}

// InQuietHours reports whether localHour falls within [start, end)
// treating end < start as a window that wraps past midnight.
func InQuietHours(localHour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return localHour >= start && localHour < end
	}
	return localHour >= start || localHour < end
}

// MsUntilEnd returns the milliseconds from now until the quiet-hours
// window ends, given the current local time-of-day expressed as
// hour/minute/second-of-day in milliseconds.
func MsUntilEnd(nowMsOfDay int64, endHour int) time.Duration {
	endMs := int64(endHour) * 3600 * 1000
	if endMs <= nowMsOfDay {
		endMs += 24 * 3600 * 1000
	}
	return time.Duration(endMs-nowMsOfDay) * time.Millisecond
}
