package steps

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"

	"brickwatch/internal/db"
	"brickwatch/internal/marketplace"
	"brickwatch/internal/scheduler"
)

type crossBorderContext struct {
	store   *db.DB
	watchID int64
	target  float64
	alerts  []db.Alert
}

func (c *crossBorderContext) reset() { *c = crossBorderContext{} }

func (c *crossBorderContext) aUserShippingTo(userID, country string) error {
	c.store = openScenarioDB()
	_, err := c.store.GetUser(userID)
	if err != nil {
		return err
	}
	return c.store.SetUserCountry(userID, country)
}

func (c *crossBorderContext) aWatchForSetWithTargetLandedPrice(setNumber string, target int) error {
	c.target = float64(target)
	id, err := c.store.CreateWatch("U2", db.Watch{
		ItemKind: "set", ItemID: setNumber, ShipToCountry: "GB",
		TargetLandedPrice: c.target, Condition: "any",
	})
	c.watchID = id
	return err
}

func (c *crossBorderContext) adapterAReturnsAListingFromASellerPricedAtWithShipping(country string, price, shipping int) error {
	adapter := &fakeAdapter{listings: []marketplace.RawListing{{
		Source: "ebay", ListingID: "1", Title: "LEGO Star Wars 75192 Millennium Falcon UCS new sealed box",
		SellerID: "seller-de-1", ShipFrom: country, Condition: "new",
		Price: float64(price), Shipping: float64(shipping), ShippingKnown: true, CurrencyOriginal: "EUR",
	}}}

	sched := scheduler.New(c.store, adapter, nil, nil, noopDispatcher{}, 4)
	if _, err := sched.RunCycle(context.Background()); err != nil {
		return err
	}
	var err error
	c.alerts, err = c.store.AlertsSince("U2", epoch())
	return err
}

func (c *crossBorderContext) theLandedCostIncludesAnEstimatedImportCharge() error {
	listings, err := c.store.ActiveListingsAscending("set", "75192", "GB")
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		return fmt.Errorf("no normalized listing found")
	}
	if !listings[0].ImportEstimated || listings[0].ImportCharges <= 0 {
		return fmt.Errorf("expected a positive, estimated import charge, got %v (estimated=%v)", listings[0].ImportCharges, listings[0].ImportEstimated)
	}
	return nil
}

func (c *crossBorderContext) theNormalizedTotalExceedsTarget() error {
	listings, err := c.store.ActiveListingsAscending("set", "75192", "GB")
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		return fmt.Errorf("no normalized listing found")
	}
	if listings[0].Total <= c.target {
		return fmt.Errorf("total %v does not exceed target %v", listings[0].Total, c.target)
	}
	return nil
}

func (c *crossBorderContext) noAlertIsCreated() error {
	if len(c.alerts) != 0 {
		return fmt.Errorf("expected no alerts, got %d", len(c.alerts))
	}
	return nil
}

// InitializeCrossBorderScenario registers the cross-border-import steps.
func InitializeCrossBorderScenario(ctx *godog.ScenarioContext) {
	c := &crossBorderContext{}
	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return goCtx, nil
	})

	ctx.Step(`^a user "([^"]*)" shipping to "([^"]*)"$`, c.aUserShippingTo)
	ctx.Step(`^a watch for set "([^"]*)" with target landed price (\d+)$`, c.aWatchForSetWithTargetLandedPrice)
	ctx.Step(`^adapter A returns a listing from a "([^"]*)" seller priced at (\d+) with shipping (\d+)$`, c.adapterAReturnsAListingFromASellerPricedAtWithShipping)
	ctx.Step(`^the landed cost includes an estimated import charge$`, c.theLandedCostIncludesAnEstimatedImportCharge)
	ctx.Step(`^the normalized total exceeds the watch's target landed price$`, c.theNormalizedTotalExceedsTarget)
	ctx.Step(`^no alert is created$`, c.noAlertIsCreated)
}
