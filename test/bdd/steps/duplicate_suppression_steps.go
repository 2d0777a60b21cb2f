package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cucumber/godog"

	"brickwatch/internal/db"
	"brickwatch/internal/fingerprint"
)

// duplicateSuppressionContext exercises the same idempotency-key
// construction (fingerprint.Compute + fingerprint.IdempotencyKey) and the
// same InsertAlert UNIQUE-constraint dedup path the scheduler relies on,
// with an explicit, scenario-controlled "day" rather than wall-clock time.
type duplicateSuppressionContext struct {
	store       *db.DB
	watchID     int64
	seller      string
	title       string
	price       float64
	seenAt      time.Time
	firstAlert  int64
	insertedID  int64
	insertErr   error
}

func (c *duplicateSuppressionContext) reset() { *c = duplicateSuppressionContext{} }

func (c *duplicateSuppressionContext) insert(price float64, seenAt time.Time) error {
	fp := fingerprint.Compute("ebay", c.seller, c.title, price)
	key := fingerprint.IdempotencyKey("ebay", "U1", fp, seenAt)
	id, err := c.store.InsertAlert(db.Alert{
		UserID: "U1", WatchID: c.watchID, Source: "ebay", ListingID: "L1", ScannedForCountry: "DE",
		ItemKind: "set", ItemID: "75192", Price: price, Total: price, Target: 400,
		NotificationType: "first", IdempotencyKey: key,
	})
	c.insertedID, c.insertErr = id, err
	return nil
}

func (c *duplicateSuppressionContext) aListingFromSellerTitledPricedAtSeenAt(seller, title string, price int, seenAt string) error {
	c.store = openScenarioDB()
	id, err := c.store.CreateWatch("U1", db.Watch{ItemKind: "set", ItemID: "75192", ShipToCountry: "DE", TargetLandedPrice: 400})
	if err != nil {
		return err
	}
	c.watchID = id
	c.seller = seller
	c.title = title
	c.price = float64(price)
	t, err := time.Parse(time.RFC3339, seenAt)
	if err != nil {
		return err
	}
	c.seenAt = t
	return nil
}

func (c *duplicateSuppressionContext) anAlertAlreadyRecordedForThatListing(alertName string) error {
	return c.insert(c.price, c.seenAt)
}

func (c *duplicateSuppressionContext) theSameListingIsReSeenAtTheSamePriceAt(seenAt string) error {
	t, err := time.Parse(time.RFC3339, seenAt)
	if err != nil {
		return err
	}
	return c.insert(c.price, t)
}

func (c *duplicateSuppressionContext) theSameListingDropsToAndIsSeenAt(price int, seenAt string) error {
	t, err := time.Parse(time.RFC3339, seenAt)
	if err != nil {
		return err
	}
	return c.insert(float64(price), t)
}

func (c *duplicateSuppressionContext) noNewAlertIsCreatedBecauseTheIdempotencyKeyConflicts() error {
	if !errors.Is(c.insertErr, db.ErrDuplicateAlert) {
		return fmt.Errorf("expected ErrDuplicateAlert, got %v", c.insertErr)
	}
	return nil
}

func (c *duplicateSuppressionContext) aNewAlertIsCreatedWithNotificationType(want string) error {
	if c.insertErr != nil {
		return fmt.Errorf("expected a successful insert, got %v", c.insertErr)
	}
	// notification_type derivation (first vs price_drop vs better_deal) is
	// the scheduler's concern, not InsertAlert's — this scenario only
	// asserts the dedup gate let a second, later-day row through at all.
	if want != "price_drop" {
		return fmt.Errorf("unsupported expected notification type %q", want)
	}
	if c.insertedID == 0 {
		return fmt.Errorf("expected a new alert row, got none")
	}
	return nil
}

// InitializeDuplicateSuppressionScenario registers the dedup/price-drop steps.
func InitializeDuplicateSuppressionScenario(ctx *godog.ScenarioContext) {
	c := &duplicateSuppressionContext{}
	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return goCtx, nil
	})

	ctx.Step(`^a listing from seller "([^"]*)" titled "([^"]*)" priced at (\d+) seen at "([^"]*)"$`,
		func(seller, title string, price int, seenAt string) error {
			return c.aListingFromSellerTitledPricedAtSeenAt(seller, title, price, seenAt)
		})
	ctx.Step(`^an alert "([^"]*)" already recorded for that listing$`, c.anAlertAlreadyRecordedForThatListing)
	ctx.Step(`^the same listing is re-seen at the same price at "([^"]*)"$`, c.theSameListingIsReSeenAtTheSamePriceAt)
	ctx.Step(`^the same listing drops to (\d+) and is seen at "([^"]*)"$`, c.theSameListingDropsToAndIsSeenAt)
	ctx.Step(`^no new alert is created because the idempotency key conflicts$`, c.noNewAlertIsCreatedBecauseTheIdempotencyKeyConflicts)
	ctx.Step(`^a new alert is created with notification type "([^"]*)"$`, c.aNewAlertIsCreatedWithNotificationType)
}
