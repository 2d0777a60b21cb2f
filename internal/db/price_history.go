package db

import "time"

// PriceHistoryRow is one UTC day's aggregate for (item, condition, source, region).
type PriceHistoryRow struct {
	ItemKind  string
	ItemID    string
	Condition string
	Source    string
	Region    string
	Day       string
	MinTotal  float64
	AvgTotal  float64
	MaxTotal  float64
	Count     int
}

// UpsertPriceHistoryDay writes today's snapshot aggregate, replacing any
// row already written for the same key (a re-run within the day is safe).
func (d *DB) UpsertPriceHistoryDay(r PriceHistoryRow) error {
	_, err := d.sql.Exec(`
		INSERT INTO price_history_daily (
			item_kind, item_id, condition, source, region, day, min_total, avg_total, max_total, count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (item_kind, item_id, condition, source, region, day) DO UPDATE SET
			min_total = excluded.min_total, avg_total = excluded.avg_total,
			max_total = excluded.max_total, count = excluded.count`,
		r.ItemKind, r.ItemID, r.Condition, r.Source, r.Region, r.Day,
		r.MinTotal, r.AvgTotal, r.MaxTotal, r.Count)
	return err
}

// SnapshotActiveListings aggregates today's active listings per
// (item, condition, source, region) into price_history_daily, one row per
// key. Sets and minifigs are aggregated independently by the caller
// passing the appropriate itemKind; a failure aggregating one kind must
// not block the other (the Scheduled Jobs partial-failure rule).
func (d *DB) SnapshotActiveListings(itemKind string) error {
	day := time.Now().UTC().Format("2006-01-02")
	rows, err := d.sql.Query(`
		SELECT item_id, condition, source, ship_from, MIN(total), AVG(total), MAX(total), COUNT(*)
		  FROM listings
		 WHERE item_kind = ? AND is_active = 1
		 GROUP BY item_id, condition, source, ship_from`, itemKind)
	if err != nil {
		return err
	}
	defer rows.Close()

	var collected []PriceHistoryRow
	for rows.Next() {
		var r PriceHistoryRow
		r.ItemKind = itemKind
		r.Day = day
		if err := rows.Scan(&r.ItemID, &r.Condition, &r.Source, &r.Region, &r.MinTotal, &r.AvgTotal, &r.MaxTotal, &r.Count); err != nil {
			return err
		}
		collected = append(collected, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range collected {
		if err := d.UpsertPriceHistoryDay(r); err != nil {
			return err
		}
	}
	return nil
}

// RecordJobRun stamps the last-run time for a scheduled job, used to
// derive the next run from persisted state instead of wall-clock cron,
// so a restart mid-window doesn't double-fire.
func (d *DB) RecordJobRun(jobName string) error {
	_, err := d.sql.Exec(`
		INSERT INTO job_runs (job_name, last_run_at) VALUES (?, ?)
		ON CONFLICT (job_name) DO UPDATE SET last_run_at = excluded.last_run_at`,
		jobName, time.Now().UTC().Format(time.RFC3339))
	return err
}

// LastJobRun returns when a scheduled job last completed, or the zero
// time if it has never run.
func (d *DB) LastJobRun(jobName string) (time.Time, error) {
	var raw string
	err := d.sql.QueryRow(`SELECT last_run_at FROM job_runs WHERE job_name = ?`, jobName).Scan(&raw)
	if err != nil {
		return time.Time{}, nil
	}
	t, _ := time.Parse(time.RFC3339, raw)
	return t, nil
}
