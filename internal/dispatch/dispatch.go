// Package dispatch wires a notification-worthy alert into the durable
// job queue, then drains that queue on the chat and push channels.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"brickwatch/internal/db"
	"brickwatch/internal/notify"
	"brickwatch/internal/queue"
)

// chatPayload and pushPayload are what a queued job's Payload field
// unmarshals into for each channel.
type chatPayload struct {
	Text string `json:"text"`
}

type pushPayload struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url"`
}

// Dispatcher enqueues an alert onto the chat and/or push queues,
// deferring delivery to the end of the recipient's quiet hours when one
// applies. It implements scheduler.Dispatcher.
type Dispatcher struct {
	q *queue.Queue
}

// New builds a Dispatcher over the given durable queue.
func New(q *queue.Queue) *Dispatcher {
	return &Dispatcher{q: q}
}

// Enqueue schedules delivery of alert a to user on every channel the
// user has configured (chat handle and/or push subscriptions).
func (d *Dispatcher) Enqueue(ctx context.Context, a db.Alert, user db.User) error {
	delay := quietHoursDelay(user, time.Now().UTC())
	text := renderAlertText(a)

	if user.ChatHandle != "" {
		payload, err := json.Marshal(chatPayload{Text: text})
		if err != nil {
			return fmt.Errorf("dispatch: marshal chat payload: %w", err)
		}
		jobID := fmt.Sprintf("alert-%d-chat", a.ID)
		if err := d.q.Enqueue(ctx, queue.ChatQueue, jobID, a.ID, user.ChatHandle, string(payload), delay); err != nil {
			return fmt.Errorf("dispatch: enqueue chat job: %w", err)
		}
	}

	for i, sub := range user.PushSubscriptions {
		var parsed struct {
			Endpoint string `json:"endpoint"`
			P256dh   string `json:"p256dh"`
			Auth     string `json:"auth"`
		}
		if err := json.Unmarshal([]byte(sub), &parsed); err != nil {
			continue // malformed subscription row; skip rather than fail the whole dispatch
		}
		payload, err := json.Marshal(pushPayload{
			Endpoint: parsed.Endpoint, P256dh: parsed.P256dh, Auth: parsed.Auth,
			Title: "Price drop", Body: text, URL: a.ListingID,
		})
		if err != nil {
			return fmt.Errorf("dispatch: marshal push payload: %w", err)
		}
		jobID := fmt.Sprintf("alert-%d-push-%d", a.ID, i)
		if err := d.q.Enqueue(ctx, queue.PushQueue, jobID, a.ID, parsed.Endpoint, string(payload), delay); err != nil {
			return fmt.Errorf("dispatch: enqueue push job: %w", err)
		}
	}

	return nil
}

func renderAlertText(a db.Alert) string {
	switch a.NotificationType {
	case "price_drop":
		return fmt.Sprintf("Price drop: %s %s is now %.2f (was above %.2f)", a.ItemKind, a.ItemID, a.Total, a.Target)
	case "better_deal":
		return fmt.Sprintf("Better deal found for %s %s: %.2f landed", a.ItemKind, a.ItemID, a.Total)
	default:
		return fmt.Sprintf("%s %s matched your watch at %.2f landed", a.ItemKind, a.ItemID, a.Total)
	}
}

// quietHoursDelay returns how long to defer delivery so it lands after
// the user's quiet-hours window ends, or zero if no window applies or
// the recipient isn't currently inside one.
func quietHoursDelay(user db.User, now time.Time) time.Duration {
	if user.QuietHoursStart == nil || user.QuietHoursEnd == nil {
		return 0
	}
	hour := now.Hour()
	if !queue.InQuietHours(hour, *user.QuietHoursStart, *user.QuietHoursEnd) {
		return 0
	}
	nowMsOfDay := int64(now.Hour())*3600000 + int64(now.Minute())*60000 + int64(now.Second())*1000
	return queue.MsUntilEnd(nowMsOfDay, *user.QuietHoursEnd)
}

// workerConcurrency bounds how many jobs a single RunOnce drains in
// parallel, per worker pool.
const workerConcurrency = 10

// chatRatePerSec and pushRatePerSec are the per-worker-pool throughput
// caps: a worker never attempts deliveries faster than this across its
// whole claimed batch, regardless of how many goroutines are in flight.
const (
	chatRatePerSec = 30
	pushRatePerSec = 50
)

// Worker repeatedly claims and delivers jobs from one queue.
type Worker struct {
	q       *queue.Queue
	queue   string
	store   *db.DB
	chat    *notify.ChatSender
	push    *notify.PushSender
	limiter *rate.Limiter
}

// NewChatWorker builds a worker that drains the chat queue, paced at
// chatRatePerSec. store is used both to stamp a delivered alert sent
// and to act on a blocked-recipient response: detaching the user's
// chat handle so later alerts skip the channel entirely.
func NewChatWorker(q *queue.Queue, store *db.DB, chat *notify.ChatSender) *Worker {
	return &Worker{q: q, queue: queue.ChatQueue, store: store, chat: chat, limiter: rate.NewLimiter(rate.Limit(chatRatePerSec), chatRatePerSec)}
}

// NewPushWorker builds a worker that drains the push queue, paced at
// pushRatePerSec. store is used to stamp a delivered alert sent.
func NewPushWorker(q *queue.Queue, store *db.DB, push *notify.PushSender) *Worker {
	return &Worker{q: q, queue: queue.PushQueue, store: store, push: push, limiter: rate.NewLimiter(rate.Limit(pushRatePerSec), pushRatePerSec)}
}

// RunOnce claims up to limit ready jobs and attempts delivery for each,
// up to workerConcurrency at a time and throttled to the worker pool's
// rate limit, retrying with backoff or recording completion per the
// queue's policy. A recipient-blocked response is terminal: the alert
// is marked failed immediately, with no retry, and the chat handle is
// detached.
func (w *Worker) RunOnce(ctx context.Context, limit int64) (int, error) {
	jobs, err := w.q.Claim(ctx, w.queue, limit)
	if err != nil {
		return 0, fmt.Errorf("dispatch: claim %s jobs: %w", w.queue, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerConcurrency)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := w.limiter.Wait(gctx); err != nil {
				return fmt.Errorf("dispatch: rate limiter wait: %w", err)
			}
			return w.process(ctx, job)
		})
	}
	if err := g.Wait(); err != nil {
		return len(jobs), err
	}
	return len(jobs), nil
}

// process delivers a single job and resolves it against the queue: on
// success the alert is transitioned to sent; a blocked recipient is
// terminal; any other failure is retried per the queue's backoff policy.
func (w *Worker) process(ctx context.Context, job queue.Job) error {
	err := w.deliver(job)
	if err == nil {
		if w.store != nil {
			if err := w.store.UpdateAlertStatus(job.AlertID, "sent"); err != nil {
				return fmt.Errorf("dispatch: mark alert %d sent: %w", job.AlertID, err)
			}
		}
		if err := w.q.Complete(ctx, job); err != nil {
			return fmt.Errorf("dispatch: complete job %s: %w", job.ID, err)
		}
		return nil
	}

	if errors.Is(err, notify.ErrRecipientBlocked) {
		return w.handleRecipientBlocked(ctx, job)
	}

	if _, retryErr := w.q.Retry(ctx, job); retryErr != nil {
		return fmt.Errorf("dispatch: retry job %s: %w", job.ID, retryErr)
	}
	return nil
}

// handleRecipientBlocked marks the alert failed without retry and
// detaches the recipient's chat handle so future dispatches skip it.
func (w *Worker) handleRecipientBlocked(ctx context.Context, job queue.Job) error {
	if w.store == nil {
		return nil
	}
	if err := w.store.UpdateAlertStatus(job.AlertID, "failed"); err != nil {
		return fmt.Errorf("dispatch: mark alert %d failed: %w", job.AlertID, err)
	}
	alert, err := w.store.GetAlert(job.AlertID)
	if err != nil {
		return fmt.Errorf("dispatch: load alert %d: %w", job.AlertID, err)
	}
	if err := w.store.SetChatHandle(alert.UserID, ""); err != nil {
		return fmt.Errorf("dispatch: detach chat handle for user %s: %w", alert.UserID, err)
	}
	return w.q.Complete(ctx, job)
}

func (w *Worker) deliver(job queue.Job) error {
	switch w.queue {
	case queue.ChatQueue:
		var p chatPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("dispatch: unmarshal chat payload: %w", err)
		}
		return w.chat.Send(job.RecipientHandle, p.Text)
	case queue.PushQueue:
		var p pushPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("dispatch: unmarshal push payload: %w", err)
		}
		sub := notify.Subscription{Endpoint: p.Endpoint, P256dh: p.P256dh, Auth: p.Auth}
		body, err := json.Marshal(map[string]string{"title": p.Title, "body": p.Body, "url": p.URL})
		if err != nil {
			return fmt.Errorf("dispatch: marshal push body: %w", err)
		}
		return w.push.Send(sub, body)
	default:
		return fmt.Errorf("dispatch: unknown queue %q", w.queue)
	}
}
