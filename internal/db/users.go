package db

import (
	"database/sql"
	"time"
)

// GetUser returns the stored preferences for a user, creating a default
// row (DE, digest enabled) if none exists yet.
func (d *DB) GetUser(userID string) (User, error) {
	userID = normalizeUserID(userID)
	row := d.sql.QueryRow(`
		SELECT id, country, COALESCE(chat_handle, ''), push_subscriptions,
		       quiet_hours_start, quiet_hours_end, digest_enabled, created_at
		  FROM users WHERE id = ?`, userID)

	var u User
	var pushJSON string
	var qStart, qEnd sql.NullInt64
	var digest int
	var createdAt string
	err := row.Scan(&u.ID, &u.Country, &u.ChatHandle, &pushJSON, &qStart, &qEnd, &digest, &createdAt)
	if err == sql.ErrNoRows {
		if _, err := d.sql.Exec(`INSERT INTO users (id, created_at) VALUES (?, ?)`,
			userID, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return User{}, err
		}
		return d.GetUser(userID)
	}
	if err != nil {
		return User{}, err
	}
	u.PushSubscriptions = unmarshalList(pushJSON)
	if qStart.Valid {
		v := int(qStart.Int64)
		u.QuietHoursStart = &v
	}
	if qEnd.Valid {
		v := int(qEnd.Int64)
		u.QuietHoursEnd = &v
	}
	u.DigestEnabled = digest == 1
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return u, nil
}

// SetChatHandle binds (or, with an empty handle, detaches) a user's chat
// recipient. Detaching is how a "recipient blocked" delivery failure
// permanently stops further sends until the user reconnects.
func (d *DB) SetChatHandle(userID, handle string) error {
	userID = normalizeUserID(userID)
	_, err := d.sql.Exec(`
		INSERT INTO users (id, chat_handle, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET chat_handle = excluded.chat_handle`,
		userID, handle, time.Now().UTC().Format(time.RFC3339))
	return err
}

// SetQuietHours sets a user's local quiet-hours window (inclusive start
// hour, exclusive end hour, 0-23); either bound nil disables the window.
func (d *DB) SetQuietHours(userID string, start, end *int) error {
	userID = normalizeUserID(userID)
	_, err := d.sql.Exec(`
		INSERT INTO users (id, quiet_hours_start, quiet_hours_end, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET quiet_hours_start = excluded.quiet_hours_start, quiet_hours_end = excluded.quiet_hours_end`,
		userID, start, end, time.Now().UTC().Format(time.RFC3339))
	return err
}

// UsersWithDigestEnabled returns every user with digest_enabled=1 and a
// bound chat handle — the weekly digest job's candidate set.
func (d *DB) UsersWithDigestEnabled() ([]User, error) {
	rows, err := d.sql.Query(`
		SELECT id FROM users WHERE digest_enabled = 1 AND chat_handle IS NOT NULL AND chat_handle != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []User
	for _, id := range ids {
		u, err := d.GetUser(id)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
