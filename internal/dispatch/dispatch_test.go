package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"brickwatch/internal/db"
	"brickwatch/internal/notify"
	"brickwatch/internal/queue"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(srv.Close)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return queue.New(rdb)
}

func TestDispatcher_Enqueue_ChatOnly(t *testing.T) {
	q := newTestQueue(t)
	d := New(q)

	user := db.User{ID: "U1", ChatHandle: "12345"}
	alert := db.Alert{ID: 1, ItemKind: "set", ItemID: "75192", Total: 350, Target: 400, NotificationType: "first"}

	if err := d.Enqueue(context.Background(), alert, user); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	jobs, err := q.Claim(context.Background(), queue.ChatQueue, 10)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 chat job, got %d", len(jobs))
	}
	if jobs[0].RecipientHandle != "12345" {
		t.Errorf("RecipientHandle = %q, want 12345", jobs[0].RecipientHandle)
	}
}

func TestDispatcher_Enqueue_PushSubscriptions(t *testing.T) {
	q := newTestQueue(t)
	d := New(q)

	sub, _ := json.Marshal(map[string]string{"endpoint": "https://push.example/ep1", "p256dh": "abc", "auth": "def"})
	user := db.User{ID: "U1", PushSubscriptions: []string{string(sub)}}
	alert := db.Alert{ID: 2, ItemKind: "minifig", ItemID: "sw0010", Total: 20, Target: 25, NotificationType: "price_drop"}

	if err := d.Enqueue(context.Background(), alert, user); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	jobs, err := q.Claim(context.Background(), queue.PushQueue, 10)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 push job, got %d", len(jobs))
	}
}

func TestDispatcher_Enqueue_MalformedPushSubscriptionSkipped(t *testing.T) {
	q := newTestQueue(t)
	d := New(q)

	user := db.User{ID: "U1", PushSubscriptions: []string{"not json"}}
	alert := db.Alert{ID: 3, ItemKind: "set", ItemID: "1", Total: 1, Target: 2}

	if err := d.Enqueue(context.Background(), alert, user); err != nil {
		t.Fatalf("Enqueue should not fail on a malformed subscription: %v", err)
	}
	jobs, err := q.Claim(context.Background(), queue.PushQueue, 10)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no push jobs for a malformed subscription, got %d", len(jobs))
	}
}

func TestQuietHoursDelay_DefersInsideWindow(t *testing.T) {
	start, end := 22, 7
	user := db.User{QuietHoursStart: &start, QuietHoursEnd: &end}
	now := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)

	delay := quietHoursDelay(user, now)
	if delay <= 0 {
		t.Error("expected a positive delay while inside the quiet-hours window")
	}
}

func TestQuietHoursDelay_ZeroOutsideWindow(t *testing.T) {
	start, end := 22, 7
	user := db.User{QuietHoursStart: &start, QuietHoursEnd: &end}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if delay := quietHoursDelay(user, now); delay != 0 {
		t.Errorf("expected zero delay outside the quiet-hours window, got %v", delay)
	}
}

func TestWorker_RunOnce_DeliversChatJob(t *testing.T) {
	q := newTestQueue(t)
	d := New(q)
	user := db.User{ID: "U1", ChatHandle: "12345"}
	alert := db.Alert{ID: 1, ItemKind: "set", ItemID: "75192", Total: 350, Target: 400}
	if err := d.Enqueue(context.Background(), alert, user); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var gotChatID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChatID string `json:"chat_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotChatID = body.ChatID
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	chat := notify.NewChatSenderWithBaseURL("tok", srv.URL, srv.Client())
	w := NewChatWorker(q, openTestDB(t), chat)

	n, err := w.RunOnce(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 job processed, got %d", n)
	}
	if gotChatID != "12345" {
		t.Errorf("chat_id delivered = %q, want 12345", gotChatID)
	}
}

func TestWorker_RunOnce_DeliverySuccessMarksAlertSent(t *testing.T) {
	store := openTestDB(t)
	q := newTestQueue(t)
	d := New(q)

	if _, err := store.GetUser("U1"); err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if err := store.SetChatHandle("U1", "12345"); err != nil {
		t.Fatalf("SetChatHandle failed: %v", err)
	}
	watchID, err := store.CreateWatch("U1", db.Watch{ItemKind: "set", ItemID: "75192", ShipToCountry: "DE", TargetLandedPrice: 400})
	if err != nil {
		t.Fatalf("CreateWatch failed: %v", err)
	}
	alertID, err := store.InsertAlert(db.Alert{
		UserID: "U1", WatchID: watchID, Source: "a", ListingID: "L1", ScannedForCountry: "DE",
		ItemKind: "set", ItemID: "75192", Price: 350, Total: 350, Target: 400,
		NotificationType: "first", IdempotencyKey: "k-sent",
	})
	if err != nil {
		t.Fatalf("InsertAlert failed: %v", err)
	}

	user, err := store.GetUser("U1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	alert := db.Alert{ID: alertID, UserID: "U1"}
	if err := d.Enqueue(context.Background(), alert, user); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	chat := notify.NewChatSenderWithBaseURL("tok", srv.URL, srv.Client())
	w := NewChatWorker(q, store, chat)

	if _, err := w.RunOnce(context.Background(), 10); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	updated, err := store.GetAlert(alertID)
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if updated.Status != "sent" {
		t.Errorf("alert status = %q, want sent", updated.Status)
	}
	if updated.SentAt == nil {
		t.Error("expected sent_at to be stamped")
	}
}

func TestWorker_RunOnce_RetriesOnDeliveryFailure(t *testing.T) {
	q := newTestQueue(t)
	d := New(q)
	user := db.User{ID: "U1", ChatHandle: "12345"}
	alert := db.Alert{ID: 1, ItemKind: "set", ItemID: "75192", Total: 350, Target: 400}
	if err := d.Enqueue(context.Background(), alert, user); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	chat := notify.NewChatSenderWithBaseURL("tok", srv.URL, srv.Client())
	w := NewChatWorker(q, openTestDB(t), chat)

	if _, err := w.RunOnce(context.Background(), 10); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	// The job should have been rescheduled with backoff, not completed.
	jobs, err := q.Claim(context.Background(), queue.ChatQueue, 10)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Error("a backed-off job should not be immediately claimable")
	}
}

func TestWorker_RunOnce_RecipientBlockedDetachesChatHandle(t *testing.T) {
	store := openTestDB(t)
	q := newTestQueue(t)
	d := New(q)

	if _, err := store.GetUser("U3"); err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if err := store.SetChatHandle("U3", "98765"); err != nil {
		t.Fatalf("SetChatHandle failed: %v", err)
	}
	watchID, err := store.CreateWatch("U3", db.Watch{ItemKind: "set", ItemID: "75192", ShipToCountry: "DE", TargetLandedPrice: 400})
	if err != nil {
		t.Fatalf("CreateWatch failed: %v", err)
	}
	alertID, err := store.InsertAlert(db.Alert{
		UserID: "U3", WatchID: watchID, Source: "a", ListingID: "L1", ScannedForCountry: "DE",
		ItemKind: "set", ItemID: "75192", Price: 350, Total: 350, Target: 400,
		NotificationType: "first", IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatalf("InsertAlert failed: %v", err)
	}

	user, err := store.GetUser("U3")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	alert := db.Alert{ID: alertID, UserID: "U3"}
	if err := d.Enqueue(context.Background(), alert, user); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	chat := notify.NewChatSenderWithBaseURL("tok", srv.URL, srv.Client())
	w := NewChatWorker(q, store, chat)

	if _, err := w.RunOnce(context.Background(), 10); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	updated, err := store.GetAlert(alertID)
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if updated.Status != "failed" {
		t.Errorf("alert status = %q, want failed", updated.Status)
	}

	reloaded, err := store.GetUser("U3")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if reloaded.ChatHandle != "" {
		t.Errorf("chat handle = %q, want cleared", reloaded.ChatHandle)
	}

	// Not retried: the job should not reappear in the queue.
	jobs, err := q.Claim(context.Background(), queue.ChatQueue, 10)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Error("a recipient-blocked job should not be retried")
	}
}
