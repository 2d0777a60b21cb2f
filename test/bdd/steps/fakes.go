// Package steps holds the godog step definitions for the scenarios
// under features/, one file per feature.
package steps

import (
	"context"
	"time"

	"brickwatch/internal/db"
	"brickwatch/internal/marketplace"
)

// fakeAdapter is a scripted marketplace.Adapter: it always returns the
// same listings regardless of the query, which is all a scenario step
// needs to stand in for a live marketplace.
type fakeAdapter struct {
	listings []marketplace.RawListing
}

func (f *fakeAdapter) Search(ctx context.Context, itemRef, shipToCountry string, limit, offset int) ([]marketplace.RawListing, error) {
	return f.listings, nil
}

func (f *fakeAdapter) Resolve(ctx context.Context, codeOrQuery, kind string) (string, bool, error) {
	return "", false, nil
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }

// noopDispatcher discards the alert instead of enqueueing it onto a
// durable queue — scenarios that only assert on the alert_history row
// don't need a live Redis instance.
type noopDispatcher struct{}

func (noopDispatcher) Enqueue(ctx context.Context, alert db.Alert, user db.User) error {
	return nil
}

// epoch is a time far enough in the past that AlertsSince(..., epoch())
// returns every alert a scenario has created.
func epoch() time.Time {
	return time.Unix(0, 0).UTC()
}
