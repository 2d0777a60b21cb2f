package db

import "time"

const identifierCacheTTL = 30 * 24 * time.Hour

// IdentifierCacheEntry is a resolved (source, kind, input) → opaque id.
type IdentifierCacheEntry struct {
	InputKind   string
	InputValue  string
	OpaqueID    string
	DisplayName string
	UpdatedAt   time.Time
}

// LookupIdentifier returns a cached resolution if it's still within TTL.
func (d *DB) LookupIdentifier(inputKind, inputValue string) (*IdentifierCacheEntry, error) {
	row := d.sql.QueryRow(`
		SELECT input_kind, input_value, opaque_id, display_name, updated_at
		  FROM adapter_b_id_cache WHERE input_kind = ? AND input_value = ?`,
		inputKind, inputValue)

	var e IdentifierCacheEntry
	var updatedAt string
	if err := row.Scan(&e.InputKind, &e.InputValue, &e.OpaqueID, &e.DisplayName, &updatedAt); err != nil {
		return nil, err
	}
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if time.Since(e.UpdatedAt) > identifierCacheTTL {
		return nil, nil
	}
	return &e, nil
}

// UpsertIdentifier writes (or refreshes) a resolved identifier. Writes are
// idempotent: concurrent resolutions of the same input converge on the
// same row regardless of which one wins the race.
func (d *DB) UpsertIdentifier(inputKind, inputValue, opaqueID, displayName string) error {
	_, err := d.sql.Exec(`
		INSERT INTO adapter_b_id_cache (input_kind, input_value, opaque_id, display_name, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (input_kind, input_value) DO UPDATE SET
			opaque_id = excluded.opaque_id, display_name = excluded.display_name, updated_at = excluded.updated_at`,
		inputKind, inputValue, opaqueID, displayName, time.Now().UTC().Format(time.RFC3339))
	return err
}
