package db

import (
	"time"
)

// UpsertListing writes a normalized listing, keyed by its natural key.
// Re-scanning the same (source, listing_id, scanned_for_country) updates
// the row in place and marks it active.
func (d *DB) UpsertListing(l NormalizedListing) error {
	_, err := d.sql.Exec(`
		INSERT INTO listings (
			source, listing_id, scanned_for_country, item_kind, item_id, title, url,
			image_url, seller_id, seller_username, seller_rating, seller_feedback,
			ship_from, condition, price, shipping, shipping_estimated, import_charges,
			import_estimated, total, currency_original, price_original, shipping_original,
			fingerprint, fetched_at, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (source, listing_id, scanned_for_country) DO UPDATE SET
			title = excluded.title, url = excluded.url, image_url = excluded.image_url,
			seller_rating = excluded.seller_rating, seller_feedback = excluded.seller_feedback,
			price = excluded.price, shipping = excluded.shipping,
			shipping_estimated = excluded.shipping_estimated, import_charges = excluded.import_charges,
			import_estimated = excluded.import_estimated, total = excluded.total,
			price_original = excluded.price_original, shipping_original = excluded.shipping_original,
			fingerprint = excluded.fingerprint, fetched_at = excluded.fetched_at, is_active = 1
	`,
		l.Source, l.ListingID, l.ScannedForCountry, l.ItemKind, l.ItemID, l.Title, l.URL,
		nullableString(l.ImageURL), l.SellerID, l.SellerUsername, l.SellerRating, l.SellerFeedback,
		l.ShipFrom, l.Condition, l.Price, l.Shipping, l.ShippingEstimated, l.ImportCharges,
		l.ImportEstimated, l.Total, l.CurrencyOriginal, l.PriceOriginal, l.ShippingOriginal,
		l.Fingerprint, l.FetchedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// MarkListingsInactive flags every currently-active listing for a group
// whose listing_id is absent from seenIDs — they're no longer offered.
func (d *DB) MarkListingsInactive(itemKind, itemID, scannedForCountry string, seenIDs map[string]bool) error {
	rows, err := d.sql.Query(`
		SELECT listing_id FROM listings
		 WHERE item_kind = ? AND item_id = ? AND scanned_for_country = ? AND is_active = 1`,
		itemKind, itemID, scannedForCountry)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if !seenIDs[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		if _, err := d.sql.Exec(`
			UPDATE listings SET is_active = 0
			 WHERE item_kind = ? AND item_id = ? AND scanned_for_country = ? AND listing_id = ?`,
			itemKind, itemID, scannedForCountry, id); err != nil {
			return err
		}
	}
	return nil
}

// ActiveListingsAscending returns active listings for a group ordered by
// ascending total, the order the scheduler runs the filter pipeline in.
func (d *DB) ActiveListingsAscending(itemKind, itemID, scannedForCountry string) ([]NormalizedListing, error) {
	rows, err := d.sql.Query(`
		SELECT source, listing_id, scanned_for_country, item_kind, item_id, title, url,
		       COALESCE(image_url, ''), seller_id, seller_username, seller_rating, seller_feedback,
		       ship_from, condition, price, shipping, shipping_estimated, import_charges,
		       import_estimated, total, currency_original, price_original, shipping_original,
		       fingerprint, fetched_at, is_active
		  FROM listings
		 WHERE item_kind = ? AND item_id = ? AND scanned_for_country = ? AND is_active = 1
		 ORDER BY total ASC
	`, itemKind, itemID, scannedForCountry)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NormalizedListing
	for rows.Next() {
		var l NormalizedListing
		var fetchedAt string
		var active int
		if err := rows.Scan(
			&l.Source, &l.ListingID, &l.ScannedForCountry, &l.ItemKind, &l.ItemID, &l.Title, &l.URL,
			&l.ImageURL, &l.SellerID, &l.SellerUsername, &l.SellerRating, &l.SellerFeedback,
			&l.ShipFrom, &l.Condition, &l.Price, &l.Shipping, &l.ShippingEstimated, &l.ImportCharges,
			&l.ImportEstimated, &l.Total, &l.CurrencyOriginal, &l.PriceOriginal, &l.ShippingOriginal,
			&l.Fingerprint, &fetchedAt, &active,
		); err != nil {
			return nil, err
		}
		l.FetchedAt, _ = time.Parse(time.RFC3339, fetchedAt)
		l.IsActive = active == 1
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteExpiredListings removes inactive listings last seen before the
// cutoff — the expired-deal cleanup job's target: once a listing has
// been gone (is_active = 0) long enough that no reminder or "previous
// sold" check will ever reference it again, it no longer earns its
// keep in the table.
func (d *DB) DeleteExpiredListings(cutoff time.Time) (int64, error) {
	res, err := d.sql.Exec(`
		DELETE FROM listings WHERE is_active = 0 AND fetched_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
