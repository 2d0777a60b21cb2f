package db

import "time"

// UpsertSetMeta writes catalog enrichment for a set, as delivered by the
// (external, best-effort) encyclopedia hydration service.
func (d *DB) UpsertSetMeta(setNumber, name, imageURL string, pieceCount int) error {
	_, err := d.sql.Exec(`
		INSERT INTO items_set (set_number, name, image_url, piece_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (set_number) DO UPDATE SET
			name = excluded.name, image_url = excluded.image_url,
			piece_count = excluded.piece_count, updated_at = excluded.updated_at`,
		setNumber, name, imageURL, pieceCount, time.Now().UTC().Format(time.RFC3339))
	return err
}

// SetPieceCount returns the known piece count for a set, or 0 if unknown
// (the Cost Model's size multiplier falls back to the smallest bracket).
func (d *DB) SetPieceCount(setNumber string) int {
	var n int
	d.sql.QueryRow(`SELECT piece_count FROM items_set WHERE set_number = ?`, setNumber).Scan(&n)
	return n
}

// SetMeta returns the catalog name and piece count for a set, both the
// filter's catalog-name fallback and the cost model's size multiplier need.
func (d *DB) SetMeta(setNumber string) (name string, pieceCount int) {
	d.sql.QueryRow(`SELECT name, piece_count FROM items_set WHERE set_number = ?`, setNumber).Scan(&name, &pieceCount)
	return name, pieceCount
}

// UpsertMinifigMeta links a collector code to its resolved cross-scheme
// ids and display metadata.
func (d *DB) UpsertMinifigMeta(collectorCode, opaqueBID, encyclopediaID, name, imageURL string) error {
	_, err := d.sql.Exec(`
		INSERT INTO items_minifig (collector_code, opaque_b_id, encyclopedia_id, name, image_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collector_code) DO UPDATE SET
			opaque_b_id = CASE WHEN excluded.opaque_b_id != '' THEN excluded.opaque_b_id ELSE items_minifig.opaque_b_id END,
			encyclopedia_id = CASE WHEN excluded.encyclopedia_id != '' THEN excluded.encyclopedia_id ELSE items_minifig.encyclopedia_id END,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE items_minifig.name END,
			image_url = CASE WHEN excluded.image_url != '' THEN excluded.image_url ELSE items_minifig.image_url END,
			updated_at = excluded.updated_at`,
		collectorCode, opaqueBID, encyclopediaID, name, imageURL, time.Now().UTC().Format(time.RFC3339))
	return err
}

// MinifigByAnyID looks up a minifig row by its collector code, opaque
// marketplace-B id, or encyclopedia id — all three must resolve to the
// same row, per the Item invariant.
func (d *DB) MinifigByAnyID(id string) (collectorCode string, found bool) {
	err := d.sql.QueryRow(`
		SELECT collector_code FROM items_minifig
		 WHERE collector_code = ? OR opaque_b_id = ? OR encyclopedia_id = ?`, id, id, id).Scan(&collectorCode)
	return collectorCode, err == nil
}
