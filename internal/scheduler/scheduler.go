// Package scheduler drives one scan cycle: it reads the active scan
// groups, fans out across marketplaces with a bounded concurrency cap,
// normalizes and filters candidates per watcher, and hands qualifying
// matches to a dispatcher.
package scheduler

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"brickwatch/internal/costmodel"
	"brickwatch/internal/db"
	"brickwatch/internal/filter"
	"brickwatch/internal/fingerprint"
	"brickwatch/internal/identity"
	"brickwatch/internal/logger"
	"brickwatch/internal/marketplace"
)

// AdapterB is the narrower contract adapter B satisfies: Resolve (via
// identity.Service) plus a pre-resolved-id availability lookup.
type AdapterB interface {
	marketplace.Adapter
	marketplace.AvailabilityAdapter
}

// Dispatcher hands a freshly-inserted alert off to the durable job queue.
type Dispatcher interface {
	Enqueue(ctx context.Context, alert db.Alert, user db.User) error
}

// Scheduler owns one scan cycle's dependencies.
type Scheduler struct {
	store       *db.DB
	adapterA    marketplace.Adapter
	adapterB    AdapterB
	identity    *identity.Service
	dispatcher  Dispatcher
	globalLimit int
}

// New builds a Scheduler. globalLimit bounds how many scan groups run
// concurrently across the whole cycle.
func New(store *db.DB, adapterA marketplace.Adapter, adapterB AdapterB, idSvc *identity.Service, dispatcher Dispatcher, globalLimit int) *Scheduler {
	if globalLimit <= 0 {
		globalLimit = 8
	}
	return &Scheduler{store: store, adapterA: adapterA, adapterB: adapterB, identity: idSvc, dispatcher: dispatcher, globalLimit: globalLimit}
}

// GroupStats summarizes one group's scan outcome, for per-cycle reporting.
type GroupStats struct {
	ItemKind      string
	ItemID        string
	ShipToCountry string
	ListingsSeen  int
	AlertsEmitted int
	Err           error
}

// RunCycle scans every active group. A group's failure is caught and
// recorded in its GroupStats; it never aborts the other groups.
func (s *Scheduler) RunCycle(ctx context.Context) ([]GroupStats, error) {
	groups, err := s.store.ActiveScanGroups()
	if err != nil {
		return nil, err
	}

	results := make([]GroupStats, len(groups))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.globalLimit)

	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			stats := s.scanGroup(ctx, group)
			results[i] = stats
			return nil // per-group errors are isolated, never propagated
		})
	}
	_ = g.Wait() // inner goroutines never return an error; nothing to surface here

	return results, nil
}

func (s *Scheduler) scanGroup(ctx context.Context, group db.ScanGroup) GroupStats {
	stats := GroupStats{ItemKind: group.ItemKind, ItemID: group.ItemID, ShipToCountry: group.ShipToCountry}

	raw, err := s.fetchRaw(ctx, group)
	if err != nil {
		stats.Err = err
		logger.Error("scheduler", "group "+group.ItemKind+"/"+group.ItemID+" fetch failed: "+err.Error())
		return stats
	}

	pieceCount := 0
	catalogName := ""
	if group.ItemKind == "set" {
		catalogName, pieceCount = s.store.SetMeta(group.ItemID)
	}

	seen := map[string]bool{}
	normalized := make([]db.NormalizedListing, 0, len(raw))
	for _, rl := range raw {
		fp := fingerprint.Compute(rl.Source, rl.SellerID, rl.Title, rl.Price)
		landed := costmodel.Compute(costmodel.Listing{
			Price: rl.Price, Shipping: rl.Shipping, ShippingKnown: rl.ShippingKnown,
			CurrencyOriginal: rl.CurrencyOriginal, ShipFrom: rl.ShipFrom, SellerIsB2B: isB2BSeller(rl.SellerUsername),
		}, group.ShipToCountry, pieceCount)

		nl := db.NormalizedListing{
			Source: rl.Source, ListingID: rl.ListingID, ScannedForCountry: group.ShipToCountry,
			ItemKind: group.ItemKind, ItemID: group.ItemID, Title: rl.Title, URL: rl.URL, ImageURL: rl.ImageURL,
			SellerID: rl.SellerID, SellerUsername: rl.SellerUsername, SellerRating: rl.SellerRating,
			SellerFeedback: rl.SellerFeedback, ShipFrom: rl.ShipFrom, Condition: normalizeCondition(rl.Condition),
			Price: landed.ItemPrice, Shipping: landed.Shipping, ShippingEstimated: !rl.ShippingKnown,
			ImportCharges: landed.ImportCharge, ImportEstimated: landed.IsEstimate, Total: landed.Total,
			CurrencyOriginal: rl.CurrencyOriginal, PriceOriginal: rl.Price, ShippingOriginal: rl.Shipping,
			Fingerprint: fp, FetchedAt: time.Now().UTC(), IsActive: true,
		}
		if err := s.store.UpsertListing(nl); err != nil {
			logger.Warn("scheduler", "upsert listing failed: "+err.Error())
			continue
		}
		seen[rl.ListingID] = true
		normalized = append(normalized, nl)
	}
	stats.ListingsSeen = len(normalized)

	if err := s.store.MarkListingsInactive(group.ItemKind, group.ItemID, group.ShipToCountry, seen); err != nil {
		logger.Warn("scheduler", "mark inactive failed: "+err.Error())
	}

	ordered, err := s.store.ActiveListingsAscending(group.ItemKind, group.ItemID, group.ShipToCountry)
	if err != nil {
		stats.Err = err
		return stats
	}

	batch := filter.Batch{}
	if len(ordered) >= 2 && group.ItemKind == "set" {
		batch.SecondCheapestTotal = ordered[1].Total
	}

	watchers, err := s.store.WatchesInGroup(group.ItemKind, group.ItemID, group.ShipToCountry)
	if err != nil {
		stats.Err = err
		return stats
	}

	for _, w := range watchers {
		if s.processWatcher(ctx, w, ordered, catalogName, batch) {
			stats.AlertsEmitted++
		}
	}

	return stats
}

func (s *Scheduler) fetchRaw(ctx context.Context, group db.ScanGroup) ([]marketplace.RawListing, error) {
	listingsA, err := s.adapterA.Search(ctx, group.ItemID, group.ShipToCountry, 50, 0)
	if err != nil {
		return nil, err
	}
	out := append([]marketplace.RawListing{}, listingsA...)

	if !group.EnableSourceB || s.adapterB == nil {
		return out, nil
	}

	opaqueID, err := s.identity.Resolve(ctx, group.ItemID, group.ItemKind)
	if errors.Is(err, identity.ErrNotFound) {
		return out, nil // adapter B simply has no coverage for this item
	}
	if err != nil {
		logger.Warn("scheduler", "identity resolve failed for "+group.ItemID+": "+err.Error())
		return out, nil
	}

	listingsB, err := s.adapterB.Availability(ctx, opaqueID, group.ShipToCountry)
	if err != nil {
		logger.Warn("scheduler", "adapter B availability failed for "+group.ItemID+": "+err.Error())
		return out, nil
	}
	return append(out, listingsB...), nil
}

// processWatcher iterates listings in ascending total and emits at most
// one alert for the first qualifying listing. Returns true if an alert
// was written.
func (s *Scheduler) processWatcher(ctx context.Context, w db.Watch, ordered []db.NormalizedListing, catalogName string, batch filter.Batch) bool {
	prev, prevErr := s.store.LastNotificationForWatch(w.ID)
	hasPrev := prevErr == nil

	constraints := filter.Constraints{
		ItemKind: w.ItemKind, MinTotal: w.MinLandedPrice, ConditionPref: w.Condition, ExcludeWords: w.ExcludeWords,
	}
	if w.ItemKind == "minifig" {
		constraints.CollectorCode = w.ItemID
	} else {
		constraints.CatalogNumber = w.ItemID
		constraints.CatalogName = catalogName
	}

	for _, l := range ordered {
		if !allowedSeller(w, l) {
			continue
		}
		if !shipFromAllowed(w.ShipFromAllowlist, l.ShipFrom) {
			continue
		}
		if l.Total > w.TargetLandedPrice || l.Total < w.MinLandedPrice {
			continue
		}

		decision := filter.Evaluate(l.Title, l.Price, l.Condition, constraints, batch)
		if !decision.Accept {
			continue
		}

		notifType := "first"
		if hasPrev {
			switch {
			case prev.ListingID == l.ListingID && l.Total < prev.NotifiedPrice:
				notifType = "price_drop"
			case prev.ListingID != l.ListingID && l.Total < prev.NotifiedPrice:
				notifType = "better_deal"
			default:
				continue // no genuine improvement over the prior winning listing
			}
		}

		delta := 0.0
		if w.TargetLandedPrice > 0 {
			delta = (w.TargetLandedPrice - l.Total) / w.TargetLandedPrice * 100
		}
		day := time.Now().UTC()
		idKey := fingerprint.IdempotencyKey(l.Source, w.UserID, l.Fingerprint, day)

		alert := db.Alert{
			UserID: w.UserID, WatchID: w.ID, Source: l.Source, ListingID: l.ListingID,
			ScannedForCountry: l.ScannedForCountry, ItemKind: l.ItemKind, ItemID: l.ItemID,
			Price: l.Price, Shipping: l.Shipping, Total: l.Total, Target: w.TargetLandedPrice,
			DeltaPercent: delta, NotificationType: notifType, IdempotencyKey: idKey,
		}

		id, err := s.store.InsertAlert(alert)
		if errors.Is(err, db.ErrDuplicateAlert) {
			return false // already alerted today for this exact fingerprint
		}
		if err != nil {
			logger.Warn("scheduler", "insert alert failed: "+err.Error())
			return false
		}
		alert.ID = id

		if err := s.store.UpsertNotificationState(w.ID, l.ListingID, l.Total); err != nil {
			logger.Warn("scheduler", "notification state update failed: "+err.Error())
		}
		if err := s.store.IncrementWatchCounters(w.ID, l.Total); err != nil {
			logger.Warn("scheduler", "counter increment failed: "+err.Error())
		}

		user, err := s.store.GetUser(w.UserID)
		if err != nil {
			logger.Warn("scheduler", "load user failed: "+err.Error())
			return true
		}
		if s.dispatcher != nil {
			if err := s.dispatcher.Enqueue(ctx, alert, user); err != nil {
				logger.Warn("scheduler", "enqueue dispatch failed: "+err.Error())
			}
		}
		return true
	}
	return false
}

func allowedSeller(w db.Watch, l db.NormalizedListing) bool {
	if w.MinSellerRating > 0 && (l.SellerRating == nil || *l.SellerRating < w.MinSellerRating) {
		return false
	}
	if w.MinSellerFeedback > 0 && (l.SellerFeedback == nil || *l.SellerFeedback < w.MinSellerFeedback) {
		return false
	}
	return true
}

func shipFromAllowed(allowlist []string, shipFrom string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, c := range allowlist {
		if c == shipFrom {
			return true
		}
	}
	return false
}

func normalizeCondition(c string) string {
	switch c {
	case "new", "used":
		return c
	default:
		return "unknown"
	}
}

// b2bSellerAllowlist matches common ex-VAT business-seller display-name
// patterns; a real deployment would load this from configuration.
var b2bSellerAllowlist = []string{"brickstock-b2b", "wholesale-bricks-gmbh"}

func isB2BSeller(username string) bool {
	for _, name := range b2bSellerAllowlist {
		if username == name {
			return true
		}
	}
	return false
}
