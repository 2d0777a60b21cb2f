package steps

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/alicebob/miniredis/v2"
	"github.com/cucumber/godog"
	"github.com/redis/go-redis/v9"

	"brickwatch/internal/db"
	"brickwatch/internal/dispatch"
	"brickwatch/internal/notify"
	"brickwatch/internal/queue"
)

type recipientBlockedContext struct {
	store    *db.DB
	q        *queue.Queue
	miniredi *miniredis.Miniredis
	disp     *dispatch.Dispatcher
	alertID  int64
	watchID  int64
	user     db.User
	srv      *httptest.Server
	runErr   error
}

func (c *recipientBlockedContext) reset() {
	if c.srv != nil {
		c.srv.Close()
	}
	if c.miniredi != nil {
		c.miniredi.Close()
	}
	*c = recipientBlockedContext{}
}

func (c *recipientBlockedContext) aUserWithChatHandle(userID, handle string) error {
	c.store = openScenarioDB()
	mr, err := miniredis.Run()
	if err != nil {
		return err
	}
	c.miniredi = mr
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c.q = queue.New(rdb)
	c.disp = dispatch.New(c.q)

	if _, err := c.store.GetUser(userID); err != nil {
		return err
	}
	if err := c.store.SetChatHandle(userID, handle); err != nil {
		return err
	}
	watchID, err := c.store.CreateWatch(userID, db.Watch{ItemKind: "set", ItemID: "75192", ShipToCountry: "DE", TargetLandedPrice: 400})
	if err != nil {
		return err
	}
	c.watchID = watchID
	user, err := c.store.GetUser(userID)
	if err != nil {
		return err
	}
	c.user = user
	return nil
}

func (c *recipientBlockedContext) aPendingAlertFor(userID string) error {
	id, err := c.store.InsertAlert(db.Alert{
		UserID: userID, WatchID: c.watchID, Source: "a", ListingID: "L1", ScannedForCountry: "DE",
		ItemKind: "set", ItemID: "75192", Price: 350, Total: 350, Target: 400,
		NotificationType: "first", IdempotencyKey: "rb-" + userID,
	})
	if err != nil {
		return err
	}
	c.alertID = id
	user, err := c.store.GetUser(userID)
	if err != nil {
		return err
	}
	c.user = user
	return c.disp.Enqueue(context.Background(), db.Alert{ID: id, UserID: userID}, user)
}

func (c *recipientBlockedContext) theChatWorkerAttemptsDeliveryAndReceivesAResponse(status int) error {
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	chat := notify.NewChatSenderWithBaseURL("tok", c.srv.URL, c.srv.Client())
	worker := dispatch.NewChatWorker(c.q, c.store, chat)
	_, c.runErr = worker.RunOnce(context.Background(), 10)
	return c.runErr
}

func (c *recipientBlockedContext) theAlertIsMarkedAndNotRetried(status string) error {
	alert, err := c.store.GetAlert(c.alertID)
	if err != nil {
		return err
	}
	if alert.Status != status {
		return fmt.Errorf("alert status = %q, want %q", alert.Status, status)
	}
	jobs, err := c.q.Claim(context.Background(), queue.ChatQueue, 10)
	if err != nil {
		return err
	}
	if len(jobs) != 0 {
		return fmt.Errorf("expected the job not to be retried, but %d are claimable", len(jobs))
	}
	return nil
}

func (c *recipientBlockedContext) theUsersChatHandleIsCleared() error {
	user, err := c.store.GetUser(c.user.ID)
	if err != nil {
		return err
	}
	if user.ChatHandle != "" {
		return fmt.Errorf("chat handle = %q, want cleared", user.ChatHandle)
	}
	return nil
}

func (c *recipientBlockedContext) theUsersChatHandleHasSinceBeenDetached() error {
	if err := c.store.SetChatHandle(c.user.ID, ""); err != nil {
		return err
	}
	user, err := c.store.GetUser(c.user.ID)
	if err != nil {
		return err
	}
	c.user = user
	return nil
}

func (c *recipientBlockedContext) aNewAlertIsDispatchedFor(userID string) error {
	user, err := c.store.GetUser(userID)
	if err != nil {
		return err
	}
	c.user = user
	id, err := c.store.InsertAlert(db.Alert{
		UserID: userID, WatchID: c.watchID, Source: "a", ListingID: "L2", ScannedForCountry: "DE",
		ItemKind: "set", ItemID: "75192", Price: 300, Total: 300, Target: 400,
		NotificationType: "first", IdempotencyKey: "rb2-" + userID,
	})
	if err != nil {
		return err
	}
	return c.disp.Enqueue(context.Background(), db.Alert{ID: id, UserID: userID}, user)
}

func (c *recipientBlockedContext) noChatJobIsEnqueuedFor(userID string) error {
	jobs, err := c.q.Claim(context.Background(), queue.ChatQueue, 10)
	if err != nil {
		return err
	}
	if len(jobs) != 0 {
		return fmt.Errorf("expected no chat job for %s, got %d", userID, len(jobs))
	}
	return nil
}

// InitializeRecipientBlockedScenario registers the recipient-blocked steps.
func InitializeRecipientBlockedScenario(ctx *godog.ScenarioContext) {
	c := &recipientBlockedContext{}
	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return goCtx, nil
	})

	ctx.Step(`^a user "([^"]*)" with chat handle "([^"]*)"$`, c.aUserWithChatHandle)
	ctx.Step(`^a pending alert for "([^"]*)"$`, c.aPendingAlertFor)
	ctx.Step(`^the chat worker attempts delivery and receives a (\d+) response$`, c.theChatWorkerAttemptsDeliveryAndReceivesAResponse)
	ctx.Step(`^the alert is marked "([^"]*)" and not retried$`, c.theAlertIsMarkedAndNotRetried)
	ctx.Step(`^the user's chat handle is cleared$`, c.theUsersChatHandleIsCleared)
	ctx.Step(`^the user's chat handle has since been detached$`, c.theUsersChatHandleHasSinceBeenDetached)
	ctx.Step(`^a new alert is dispatched for "([^"]*)"$`, c.aNewAlertIsDispatchedFor)
	ctx.Step(`^no chat job is enqueued for "([^"]*)"$`, c.noChatJobIsEnqueuedFor)
}
