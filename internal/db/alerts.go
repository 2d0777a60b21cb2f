package db

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ErrDuplicateAlert is returned by InsertAlert when the idempotency_key
// already exists — the caller should treat this as a silent no-op, per
// the dedup invariant (§4.5/§8).
var ErrDuplicateAlert = errors.New("alert: duplicate idempotency key")

// InsertAlert writes a new Alert row, relying on the idempotency_key
// UNIQUE constraint (not a read-modify-write) to make insertion atomic
// with dedup, per the concurrency model's atomicity requirement.
func (d *DB) InsertAlert(a Alert) (int64, error) {
	res, err := d.sql.Exec(`
		INSERT INTO alert_history (
			user_id, watch_id, source, listing_id, scanned_for_country, item_kind, item_id,
			price, shipping, total, target, delta_percent, notification_type, status,
			created_at, idempotency_key, channel_job_refs
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.WatchID, a.Source, a.ListingID, a.ScannedForCountry, a.ItemKind, a.ItemID,
		a.Price, a.Shipping, a.Total, a.Target, a.DeltaPercent, a.NotificationType, "pending",
		time.Now().UTC().Format(time.RFC3339), a.IdempotencyKey, marshalList(a.ChannelJobRefs),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ErrDuplicateAlert
		}
		return 0, err
	}
	return res.LastInsertId()
}

// isUniqueConstraintError recognizes a UNIQUE-constraint violation.
// modernc.org/sqlite surfaces these as a plain error whose message
// contains "UNIQUE constraint failed"; it exposes no typed sentinel,
// so string-matching is the only option.
func isUniqueConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpdateAlertStatus transitions an alert's status, stamping sent_at when
// moving to "sent".
func (d *DB) UpdateAlertStatus(alertID int64, status string) error {
	if status == "sent" {
		_, err := d.sql.Exec(`UPDATE alert_history SET status = ?, sent_at = ? WHERE id = ?`,
			status, time.Now().UTC().Format(time.RFC3339), alertID)
		return err
	}
	_, err := d.sql.Exec(`UPDATE alert_history SET status = ? WHERE id = ?`, status, alertID)
	return err
}

// AppendChannelJobRef records a dispatch job id against the alert.
func (d *DB) AppendChannelJobRef(alertID int64, jobRef string) error {
	var raw string
	if err := d.sql.QueryRow(`SELECT channel_job_refs FROM alert_history WHERE id = ?`, alertID).Scan(&raw); err != nil {
		return err
	}
	refs := unmarshalList(raw)
	refs = append(refs, jobRef)
	_, err := d.sql.Exec(`UPDATE alert_history SET channel_job_refs = ? WHERE id = ?`, marshalList(refs), alertID)
	return err
}

// FingerprintAlertedWithinDays reports whether the given fingerprint has
// produced any alert_history row for the user within the last n days —
// used by the reminder job to avoid re-alerting churny listings.
func (d *DB) FingerprintAlertedWithinDays(userID, fingerprint string, days int) (bool, error) {
	userID = normalizeUserID(userID)
	var count int
	err := d.sql.QueryRow(`
		SELECT COUNT(*) FROM alert_history ah
		  JOIN listings l ON l.source = ah.source AND l.listing_id = ah.listing_id
		                  AND l.scanned_for_country = ah.scanned_for_country
		 WHERE ah.user_id = ? AND l.fingerprint = ?
		   AND ah.created_at >= ?`,
		userID, fingerprint, time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339),
	).Scan(&count)
	return count > 0, err
}

// GetAlert loads a single alert by id.
func (d *DB) GetAlert(alertID int64) (Alert, error) {
	row := d.sql.QueryRow(`
		SELECT id, user_id, watch_id, source, listing_id, scanned_for_country, item_kind, item_id,
		       price, shipping, total, target, delta_percent, notification_type, status,
		       created_at, sent_at, idempotency_key
		  FROM alert_history WHERE id = ?`, alertID)

	var a Alert
	var createdAt string
	var sentAt sql.NullString
	if err := row.Scan(
		&a.ID, &a.UserID, &a.WatchID, &a.Source, &a.ListingID, &a.ScannedForCountry, &a.ItemKind, &a.ItemID,
		&a.Price, &a.Shipping, &a.Total, &a.Target, &a.DeltaPercent, &a.NotificationType, &a.Status,
		&createdAt, &sentAt, &a.IdempotencyKey,
	); err != nil {
		return Alert{}, err
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if sentAt.Valid {
		t, _ := time.Parse(time.RFC3339, sentAt.String)
		a.SentAt = &t
	}
	return a, nil
}

// AlertsSince returns the alerts for a user created since the given time,
// ascending, for the weekly digest job.
func (d *DB) AlertsSince(userID string, since time.Time) ([]Alert, error) {
	userID = normalizeUserID(userID)
	rows, err := d.sql.Query(`
		SELECT id, user_id, watch_id, source, listing_id, scanned_for_country, item_kind, item_id,
		       price, shipping, total, target, delta_percent, notification_type, status,
		       created_at, sent_at, idempotency_key
		  FROM alert_history
		 WHERE user_id = ? AND created_at >= ?
		 ORDER BY created_at ASC`, userID, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var createdAt string
		var sentAt sql.NullString
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.WatchID, &a.Source, &a.ListingID, &a.ScannedForCountry, &a.ItemKind, &a.ItemID,
			&a.Price, &a.Shipping, &a.Total, &a.Target, &a.DeltaPercent, &a.NotificationType, &a.Status,
			&createdAt, &sentAt, &a.IdempotencyKey,
		); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if sentAt.Valid {
			t, _ := time.Parse(time.RFC3339, sentAt.String)
			a.SentAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
