package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"

	"brickwatch/internal/filter"
)

// minifigFilterContext is shared by the collector-code and body-part-word
// minifig filter scenarios: both are a one-shot filter.Evaluate call
// against a watch's collector code, no db or scheduler involved.
type minifigFilterContext struct {
	code     string
	decision filter.Decision
}

func (c *minifigFilterContext) reset() { *c = minifigFilterContext{} }

func (c *minifigFilterContext) aWatchForMinifig(code string) error {
	c.code = code
	return nil
}

func (c *minifigFilterContext) aListingTitledIsPricedAt(title string, price float64) error {
	c.decision = filter.Evaluate(title, price, "new", filter.Constraints{
		ItemKind: "minifig", CollectorCode: c.code,
	}, filter.Batch{})
	return nil
}

func (c *minifigFilterContext) theFilterRejectsItWithReasonContaining(want string) error {
	if c.decision.Accept {
		return fmt.Errorf("expected rejection, got accept")
	}
	if !strings.Contains(c.decision.Reason, want) {
		return fmt.Errorf("reason %q does not contain %q", c.decision.Reason, want)
	}
	return nil
}

func (c *minifigFilterContext) theFilterAcceptsIt() error {
	if !c.decision.Accept {
		return fmt.Errorf("expected accept, got rejected: %s", c.decision.Reason)
	}
	return nil
}

// InitializeMinifigFilterScenarios registers the steps shared by the
// collector-code-required and body-part-word feature files: both are a
// single filter.Evaluate call keyed on a watch's collector code.
func InitializeMinifigFilterScenarios(ctx *godog.ScenarioContext) {
	c := &minifigFilterContext{}
	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return goCtx, nil
	})

	ctx.Step(`^a watch for minifig "([^"]*)"$`, c.aWatchForMinifig)
	ctx.Step(`^a listing titled "([^"]*)" is priced at (\d+)$`, func(title string, price int) error {
		return c.aListingTitledIsPricedAt(title, float64(price))
	})
	ctx.Step(`^the filter rejects it with reason containing "([^"]*)"$`, c.theFilterRejectsItWithReasonContaining)
	ctx.Step(`^the filter accepts it$`, c.theFilterAcceptsIt)
}
