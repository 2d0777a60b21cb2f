package db

import "time"

// UpsertNotificationState records the listing a watch just alerted on.
func (d *DB) UpsertNotificationState(watchID int64, listingID string, price float64) error {
	_, err := d.sql.Exec(`
		INSERT INTO watch_notification_state (watch_id, listing_id, notified_at, notified_price)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (watch_id, listing_id) DO UPDATE SET
			notified_at = excluded.notified_at, notified_price = excluded.notified_price`,
		watchID, listingID, time.Now().UTC().Format(time.RFC3339), price)
	return err
}

// LastNotificationForWatch returns the most recent notification state for
// a watch, used to derive the notification type (first/price_drop/better_deal/previous_sold).
func (d *DB) LastNotificationForWatch(watchID int64) (*WatchNotificationState, error) {
	row := d.sql.QueryRow(`
		SELECT watch_id, listing_id, notified_at, notified_price, reminder_count, last_reminder_at
		  FROM watch_notification_state WHERE watch_id = ?
		 ORDER BY notified_at DESC LIMIT 1`, watchID)

	var s WatchNotificationState
	var notifiedAt string
	var lastReminderAt *string
	if err := row.Scan(&s.WatchID, &s.ListingID, &notifiedAt, &s.NotifiedPrice, &s.ReminderCount, &lastReminderAt); err != nil {
		return nil, err
	}
	s.NotifiedAt, _ = time.Parse(time.RFC3339, notifiedAt)
	if lastReminderAt != nil {
		t, _ := time.Parse(time.RFC3339, *lastReminderAt)
		s.LastReminderAt = &t
	}
	return &s, nil
}

// ReminderCandidates returns notification states eligible for a
// still-available re-check: notified at least 3 days ago, reminded
// fewer than 2 times, per the Scheduled Jobs spec.
func (d *DB) ReminderCandidates() ([]WatchNotificationState, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -3).Format(time.RFC3339)
	rows, err := d.sql.Query(`
		SELECT watch_id, listing_id, notified_at, notified_price, reminder_count, last_reminder_at
		  FROM watch_notification_state
		 WHERE notified_at <= ? AND reminder_count < 2`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WatchNotificationState
	for rows.Next() {
		var s WatchNotificationState
		var notifiedAt string
		var lastReminderAt *string
		if err := rows.Scan(&s.WatchID, &s.ListingID, &notifiedAt, &s.NotifiedPrice, &s.ReminderCount, &lastReminderAt); err != nil {
			return nil, err
		}
		s.NotifiedAt, _ = time.Parse(time.RFC3339, notifiedAt)
		if lastReminderAt != nil {
			t, _ := time.Parse(time.RFC3339, *lastReminderAt)
			s.LastReminderAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// BumpReminder increments a notification state's reminder count.
func (d *DB) BumpReminder(watchID int64, listingID string) error {
	_, err := d.sql.Exec(`
		UPDATE watch_notification_state
		   SET reminder_count = reminder_count + 1, last_reminder_at = ?
		 WHERE watch_id = ? AND listing_id = ?`,
		time.Now().UTC().Format(time.RFC3339), watchID, listingID)
	return err
}
