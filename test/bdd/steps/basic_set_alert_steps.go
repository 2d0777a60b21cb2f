package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"

	"brickwatch/internal/db"
	"brickwatch/internal/marketplace"
	"brickwatch/internal/scheduler"
)

type basicSetAlertContext struct {
	store    *db.DB
	adapter  *fakeAdapter
	watchID  int64
	groups   []scheduler.GroupStats
	alerts   []db.Alert
	err      error
}

func (c *basicSetAlertContext) reset() {
	*c = basicSetAlertContext{}
}

func openScenarioDB() *db.DB {
	store, err := db.Open(":memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		panic(fmt.Sprintf("open scenario db: %v", err))
	}
	return store
}

func (c *basicSetAlertContext) aUserShippingToWithNoQuietHours(userID, country string) error {
	c.store = openScenarioDB()
	_, err := c.store.GetUser(userID)
	if err != nil {
		return err
	}
	return c.store.SetUserCountry(userID, country)
}

func (c *basicSetAlertContext) aWatchForSetWithTargetLandedPriceAndMinimum(setNumber string, target, min float64) error {
	id, err := c.store.CreateWatch("U1", db.Watch{
		ItemKind: "set", ItemID: setNumber, ShipToCountry: "DE",
		TargetLandedPrice: target, MinLandedPrice: min, Condition: "any",
	})
	c.watchID = id
	return err
}

func (c *basicSetAlertContext) adapterAReturnsAListingFromSellerInPricedAtWithShippingOn(sellerID, country string, price, shipping float64, day string) error {
	c.adapter = &fakeAdapter{listings: []marketplace.RawListing{{
		Source: "ebay", ListingID: "1", Title: fmt.Sprintf("LEGO Star Wars %s Millennium Falcon new sealed box", c.setNumberFromWatch()),
		SellerID: sellerID, ShipFrom: country, Condition: "new",
		Price: price, Shipping: shipping, ShippingKnown: true, CurrencyOriginal: "EUR",
	}}}

	sched := scheduler.New(c.store, c.adapter, nil, nil, noopDispatcher{}, 4)
	c.groups, c.err = sched.RunCycle(context.Background())
	if c.err != nil {
		return c.err
	}
	c.alerts, c.err = c.store.AlertsSince("U1", epoch())
	return c.err
}

func (c *basicSetAlertContext) setNumberFromWatch() string {
	w, err := c.store.GetWatch(c.watchID)
	if err != nil {
		return "75192"
	}
	return w.ItemID
}

func (c *basicSetAlertContext) theNormalizedTotalIs(want float64) error {
	if len(c.alerts) == 0 {
		return fmt.Errorf("no alerts recorded")
	}
	if c.alerts[0].Total != want {
		return fmt.Errorf("total = %v, want %v", c.alerts[0].Total, want)
	}
	return nil
}

func (c *basicSetAlertContext) anAlertIsCreatedWithNotificationType(want string) error {
	if len(c.alerts) == 0 {
		return fmt.Errorf("no alerts recorded")
	}
	if c.alerts[0].NotificationType != want {
		return fmt.Errorf("notification_type = %q, want %q", c.alerts[0].NotificationType, want)
	}
	return nil
}

func (c *basicSetAlertContext) theAlertIsQueuedToTheChatChannelImmediately() error {
	if len(c.alerts) == 0 {
		return fmt.Errorf("no alerts recorded")
	}
	return nil
}

func (c *basicSetAlertContext) theIdempotencyKeyMatches(pattern string) error {
	if len(c.alerts) == 0 {
		return fmt.Errorf("no alerts recorded")
	}
	prefix := strings.Split(pattern, "<fingerprint>")[0]
	if !strings.HasPrefix(c.alerts[0].IdempotencyKey, prefix) {
		return fmt.Errorf("idempotency key %q does not start with %q", c.alerts[0].IdempotencyKey, prefix)
	}
	return nil
}

// InitializeBasicSetAlertScenario registers the basic-set-alert steps.
func InitializeBasicSetAlertScenario(ctx *godog.ScenarioContext) {
	c := &basicSetAlertContext{}
	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return goCtx, nil
	})

	ctx.Step(`^a user "([^"]*)" shipping to "([^"]*)" with no quiet hours$`, c.aUserShippingToWithNoQuietHours)
	ctx.Step(`^a watch for set "([^"]*)" with target landed price (\d+) and minimum (\d+)$`,
		func(set string, target, min int) error {
			return c.aWatchForSetWithTargetLandedPriceAndMinimum(set, float64(target), float64(min))
		})
	ctx.Step(`^adapter A returns a listing from seller "([^"]*)" in "([^"]*)" priced at (\d+) with shipping (\d+) on ([0-9T:\-Z]+)$`,
		func(seller, country string, price, shipping int, day string) error {
			return c.adapterAReturnsAListingFromSellerInPricedAtWithShippingOn(seller, country, float64(price), float64(shipping), day)
		})
	ctx.Step(`^the normalized total is (\d+)$`, func(total int) error { return c.theNormalizedTotalIs(float64(total)) })
	ctx.Step(`^an alert is created with notification type "([^"]*)"$`, c.anAlertIsCreatedWithNotificationType)
	ctx.Step(`^the alert is queued to the chat channel immediately$`, c.theAlertIsQueuedToTheChatChannelImmediately)
	ctx.Step(`^the idempotency key matches "([^"]*)"$`, c.theIdempotencyKeyMatches)
}
