// Package jobs implements the four scheduled background jobs: weekly
// digest, still-available reminder, daily price snapshot, and
// expired-deal cleanup.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"brickwatch/internal/db"
	"brickwatch/internal/logger"
	"brickwatch/internal/marketplace"
	"brickwatch/internal/notify"
)

const (
	digestJobName     = "weekly_digest"
	reminderJobName   = "still_available_reminder"
	snapshotJobName   = "daily_price_snapshot"
	cleanupJobName    = "expired_deal_cleanup"
	listingRetention  = 14 * 24 * time.Hour
	reminderDiscount  = 0.8
	digestInterMsg    = 50 * time.Millisecond
)

// Runner owns the dependencies every scheduled job needs.
type Runner struct {
	store   *db.DB
	adapter marketplace.Adapter
	chat    *notify.ChatSender
}

// New builds a job Runner.
func New(store *db.DB, adapter marketplace.Adapter, chat *notify.ChatSender) *Runner {
	return &Runner{store: store, adapter: adapter, chat: chat}
}

// RunWeeklyDigest sends each digest-enabled, chat-bound user a summary
// of their watches and best alerts from the last 7 days.
func (r *Runner) RunWeeklyDigest(ctx context.Context) error {
	users, err := r.store.UsersWithDigestEnabled()
	if err != nil {
		return fmt.Errorf("jobs: load digest users: %w", err)
	}

	since := time.Now().UTC().AddDate(0, 0, -7)
	for _, u := range users {
		watches, err := r.store.WatchesForUser(u.ID)
		if err != nil {
			logger.Warn("jobs", "digest: load watches for "+u.ID+" failed: "+err.Error())
			continue
		}
		alerts, err := r.store.AlertsSince(u.ID, since)
		if err != nil {
			logger.Warn("jobs", "digest: load alerts for "+u.ID+" failed: "+err.Error())
			continue
		}

		message := renderDigest(watches, alerts)
		if err := r.chat.Send(u.ChatHandle, message); err != nil {
			logger.Warn("jobs", "digest: send to "+u.ID+" failed: "+err.Error())
		}
		time.Sleep(digestInterMsg)
	}

	return r.store.RecordJobRun(digestJobName)
}

func renderDigest(watches []db.Watch, alerts []db.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Weekly digest — %d watches, %d alerts this week\n", len(watches), len(alerts))
	for _, a := range alerts {
		fmt.Fprintf(&b, "- %s %s: %s landed, %s\n",
			a.ItemKind, a.ItemID, humanize.FormatFloat("#,###.##", a.Total), humanize.Time(a.CreatedAt))
	}
	return b.String()
}

// RunStillAvailableReminder re-checks notification states with fewer
// than two reminders, bumping the reminder counter by one whether or not
// the listing still appears in adapter A's results. The listing's
// current price is not compared against the target, and a state whose
// listing is gone is re-checked on later runs until its counter reaches
// 2. No reminder alert is inserted or enqueued.
func (r *Runner) RunStillAvailableReminder(ctx context.Context) error {
	candidates, err := r.store.ReminderCandidates()
	if err != nil {
		return fmt.Errorf("jobs: load reminder candidates: %w", err)
	}

	for _, c := range candidates {
		w, err := r.store.GetWatch(c.WatchID)
		if err != nil {
			logger.Warn("jobs", "reminder: load watch failed: "+err.Error())
			continue
		}
		if w.TargetLandedPrice <= 0 || c.NotifiedPrice >= reminderDiscount*w.TargetLandedPrice {
			continue // only a meaningfully discounted prior alert earns a reminder
		}

		stillListed, err := r.listingStillUnderTarget(ctx, w, c.ListingID)
		if err != nil {
			logger.Warn("jobs", "reminder: recheck failed for watch "+fmt.Sprint(c.WatchID)+": "+err.Error())
			continue
		}
		if err := r.store.BumpReminder(c.WatchID, c.ListingID); err != nil {
			logger.Warn("jobs", "reminder: bump failed: "+err.Error())
		}
		if !stillListed {
			continue // counter bumped; re-checked on later runs while reminder_count < 2
		}
		// A real deployment would enqueue a "reminder" notification_type
		// alert here via the Dispatcher; left to the caller wiring jobs
		// together with the scheduler's alert-insert path.
	}

	return r.store.RecordJobRun(reminderJobName)
}

// listingStillUnderTarget reports whether listingID appears in adapter A's
// first page of results for the watch; the listing's price is not checked.
func (r *Runner) listingStillUnderTarget(ctx context.Context, w db.Watch, listingID string) (bool, error) {
	listings, err := r.adapter.Search(ctx, w.ItemID, w.ShipToCountry, 50, 0)
	if err != nil {
		return false, err
	}
	for _, l := range listings {
		if l.ListingID == listingID {
			return true, nil
		}
	}
	return false, nil
}

// RunDailyPriceSnapshot aggregates today's active listings per item
// kind. A failure snapshotting one kind never blocks the other.
func (r *Runner) RunDailyPriceSnapshot(ctx context.Context) error {
	var errs []string
	for _, kind := range []string{"set", "minifig"} {
		if err := r.store.SnapshotActiveListings(kind); err != nil {
			logger.Warn("jobs", "snapshot: "+kind+" failed: "+err.Error())
			errs = append(errs, kind+": "+err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("jobs: snapshot had failures: %s", strings.Join(errs, "; "))
	}
	return r.store.RecordJobRun(snapshotJobName)
}

// RunExpiredDealCleanup deletes listings that have been inactive for
// longer than the retention window.
func (r *Runner) RunExpiredDealCleanup(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-listingRetention)
	n, err := r.store.DeleteExpiredListings(cutoff)
	if err != nil {
		return fmt.Errorf("jobs: expired-deal cleanup: %w", err)
	}
	logger.Stats("expired_listings_deleted", int(n))
	return r.store.RecordJobRun(cleanupJobName)
}

// DueSince reports whether a job last ran more than interval ago (or
// never), driving cadence from persisted state rather than wall clock.
func (r *Runner) DueSince(jobName string, interval time.Duration) bool {
	last, err := r.store.LastJobRun(jobName)
	if err != nil {
		return true
	}
	return last.IsZero() || time.Since(last) >= interval
}
