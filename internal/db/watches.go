package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// naCountries gets the North-America ship_from_allowlist default;
// everyone else defaults to the EU+UK cross-block.
var naCountries = []string{"US", "CA"}
var euUKCountries = []string{"DE", "FR", "NL", "BE", "ES", "IT", "PL", "GB"}

func defaultShipFromAllowlist(userCountry string) []string {
	switch userCountry {
	case "US", "CA":
		return append([]string{}, naCountries...)
	default:
		return append([]string{}, euUKCountries...)
	}
}

func marshalList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func unmarshalList(s string) []string {
	var out []string
	if s == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	return out
}

// CreateWatch inserts a new watch inside a transaction that also upserts
// the item catalog row and, when the caller omits a ship-from allowlist,
// defaults it from the user's home country. Returns the inserted ID, or
// an error wrapping the driver's UNIQUE-constraint error when one is
// already active for (user, item).
func (d *DB) CreateWatch(userID string, w Watch) (int64, error) {
	userID = normalizeUserID(userID)

	tx, err := d.sql.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var userCountry string
	if err := tx.QueryRow(`SELECT country FROM users WHERE id = ?`, userID).Scan(&userCountry); err != nil {
		userCountry = "DE"
	}

	if w.ItemKind == "set" {
		_, err = tx.Exec(`
			INSERT INTO items_set (set_number, updated_at) VALUES (?, ?)
			ON CONFLICT(set_number) DO NOTHING`, w.ItemID, time.Now().UTC().Format(time.RFC3339))
	} else {
		_, err = tx.Exec(`
			INSERT INTO items_minifig (collector_code, updated_at) VALUES (?, ?)
			ON CONFLICT(collector_code) DO NOTHING`, w.ItemID, time.Now().UTC().Format(time.RFC3339))
	}
	if err != nil {
		return 0, fmt.Errorf("upsert item: %w", err)
	}

	allowlist := w.ShipFromAllowlist
	if len(allowlist) == 0 {
		allowlist = defaultShipFromAllowlist(userCountry)
	}
	sources := w.EnabledSources
	if len(sources) == 0 {
		sources = []string{"a", "b"}
	}
	condition := w.Condition
	if condition == "" {
		condition = "any"
	}
	status := w.Status
	if status == "" {
		status = "active"
	}

	res, err := tx.Exec(`
		INSERT INTO watches (
			user_id, item_kind, item_id, ship_to_country, target_landed_price,
			min_landed_price, condition, ship_from_allowlist, min_seller_rating,
			min_seller_feedback, exclude_words, enabled_sources, status,
			scan_priority, counters_reset_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, w.ItemKind, w.ItemID, w.ShipToCountry, w.TargetLandedPrice,
		w.MinLandedPrice, condition, marshalList(allowlist), w.MinSellerRating,
		w.MinSellerFeedback, marshalList(w.ExcludeWords), marshalList(sources), status,
		w.ScanPriority, time.Now().UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert watch (likely duplicate active watch): %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func scanWatch(row interface {
	Scan(dest ...any) error
}) (Watch, error) {
	var w Watch
	var shipFrom, excludeWords, sources string
	var snoozedUntil sql.NullString
	var bestPrice sql.NullFloat64
	var createdAt string
	err := row.Scan(
		&w.ID, &w.UserID, &w.ItemKind, &w.ItemID, &w.ShipToCountry, &w.TargetLandedPrice,
		&w.MinLandedPrice, &w.Condition, &shipFrom, &w.MinSellerRating, &w.MinSellerFeedback,
		&excludeWords, &sources, &w.Status, &snoozedUntil, &w.ScanPriority,
		&w.AlertsToday, &w.AlertsThisHour, &bestPrice, &w.CountersResetAt, &createdAt,
	)
	if err != nil {
		return Watch{}, err
	}
	w.ShipFromAllowlist = unmarshalList(shipFrom)
	w.ExcludeWords = unmarshalList(excludeWords)
	w.EnabledSources = unmarshalList(sources)
	if snoozedUntil.Valid {
		if t, err := time.Parse(time.RFC3339, snoozedUntil.String); err == nil {
			w.SnoozedUntil = &t
		}
	}
	if bestPrice.Valid {
		v := bestPrice.Float64
		w.BestPriceToday = &v
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return w, nil
}

const watchColumns = `
	id, user_id, item_kind, item_id, ship_to_country, target_landed_price,
	min_landed_price, condition, ship_from_allowlist, min_seller_rating, min_seller_feedback,
	exclude_words, enabled_sources, status, snoozed_until, scan_priority,
	alerts_today, alerts_this_hour, best_price_today, counters_reset_at, created_at
`

// WatchesInGroup returns the active, non-snoozed watches for a scan group.
func (d *DB) WatchesInGroup(itemKind, itemID, shipToCountry string) ([]Watch, error) {
	rows, err := d.sql.Query(`
		SELECT `+watchColumns+`
		  FROM watches
		 WHERE item_kind = ? AND item_id = ? AND ship_to_country = ? AND status = 'active'
		   AND (snoozed_until IS NULL OR snoozed_until < ?)
	`, itemKind, itemID, shipToCountry, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWatch returns a single watch by id, regardless of owner — used by
// jobs that operate from a watch_id alone (reminders, notification state).
func (d *DB) GetWatch(watchID int64) (Watch, error) {
	row := d.sql.QueryRow(`SELECT `+watchColumns+` FROM watches WHERE id = ?`, watchID)
	return scanWatch(row)
}

// WatchesForUser returns every watch a user owns, active or stopped —
// the weekly digest's per-user summary needs the full list.
func (d *DB) WatchesForUser(userID string) ([]Watch, error) {
	userID = normalizeUserID(userID)
	rows, err := d.sql.Query(`SELECT `+watchColumns+` FROM watches WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ActiveScanGroups groups active watches by (kind, item, ship-to country),
// ordered by priority desc then watcher count desc, per the scheduler spec.
func (d *DB) ActiveScanGroups() ([]ScanGroup, error) {
	rows, err := d.sql.Query(`
		SELECT item_kind, item_id, ship_to_country,
		       COUNT(*) AS watcher_count,
		       MAX(scan_priority) AS max_priority,
		       MAX(CASE WHEN enabled_sources LIKE '%"b"%' THEN 1 ELSE 0 END) AS enable_b
		  FROM watches
		 WHERE status = 'active' AND (snoozed_until IS NULL OR snoozed_until < ?)
		 GROUP BY item_kind, item_id, ship_to_country
		 ORDER BY max_priority DESC, watcher_count DESC
	`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanGroup
	for rows.Next() {
		var g ScanGroup
		var enableB int
		if err := rows.Scan(&g.ItemKind, &g.ItemID, &g.ShipToCountry, &g.WatcherCount, &g.MaxPriority, &enableB); err != nil {
			return nil, err
		}
		g.EnableSourceB = enableB == 1
		out = append(out, g)
	}
	return out, rows.Err()
}

// StopWatch marks a watch stopped; watches are never hard-deleted.
func (d *DB) StopWatch(userID string, watchID int64) error {
	userID = normalizeUserID(userID)
	_, err := d.sql.Exec(`UPDATE watches SET status = 'stopped' WHERE id = ? AND user_id = ?`, watchID, userID)
	return err
}

// ResumeWatch reactivates a previously stopped watch.
func (d *DB) ResumeWatch(userID string, watchID int64) error {
	userID = normalizeUserID(userID)
	_, err := d.sql.Exec(`UPDATE watches SET status = 'active', snoozed_until = NULL WHERE id = ? AND user_id = ?`, watchID, userID)
	return err
}

// SetUserCountry updates a user's country and rewrites every one of
// their watches' ship_from_allowlist defaults in one statement, per the
// Watch Store's country-change invariant.
func (d *DB) SetUserCountry(userID, country string) error {
	userID = normalizeUserID(userID)
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO users (id, country, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET country = excluded.country`,
		userID, country, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	allowlist := marshalList(defaultShipFromAllowlist(country))
	if _, err := tx.Exec(`UPDATE watches SET ship_from_allowlist = ? WHERE user_id = ?`, allowlist, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// IncrementWatchCounters bumps per-watch today/hour/best-price counters
// after an alert is emitted for it.
func (d *DB) IncrementWatchCounters(watchID int64, price float64) error {
	_, err := d.sql.Exec(`
		UPDATE watches
		   SET alerts_today = alerts_today + 1,
		       alerts_this_hour = alerts_this_hour + 1,
		       best_price_today = CASE
		           WHEN best_price_today IS NULL OR ? < best_price_today THEN ?
		           ELSE best_price_today
		       END
		 WHERE id = ?`, price, price, watchID)
	return err
}

// ResetDailyCounters zeroes alerts_today/best_price_today for all watches;
// intended to run once per UTC day.
func (d *DB) ResetDailyCounters() error {
	_, err := d.sql.Exec(`UPDATE watches SET alerts_today = 0, best_price_today = NULL, counters_reset_at = ?`,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// ResetHourlyCounters zeroes alerts_this_hour for all watches.
func (d *DB) ResetHourlyCounters() error {
	_, err := d.sql.Exec(`UPDATE watches SET alerts_this_hour = 0`)
	return err
}

// CountUserAlertsToday returns how many alerts a user has received today (UTC).
func (d *DB) CountUserAlertsToday(userID string) (int, error) {
	userID = normalizeUserID(userID)
	var n int
	err := d.sql.QueryRow(`
		SELECT COUNT(*) FROM alert_history
		 WHERE user_id = ? AND date(created_at) = date('now')`, userID).Scan(&n)
	return n, err
}
