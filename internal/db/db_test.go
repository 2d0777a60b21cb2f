package db

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB opens an in-memory SQLite DB and runs migrations (for testing only).
func openTestDB(t *testing.T) *DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func TestDB_MigrateIsIdempotent(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	if err := d.migrate(); err != nil {
		t.Fatalf("second migrate() call failed: %v", err)
	}
	var version int
	if err := d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("schema_version = %d, want 1", version)
	}
}

func TestCreateWatch_DefaultsAllowlistByCountry(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	if err := d.SetUserCountry("alice", "US"); err != nil {
		t.Fatalf("SetUserCountry: %v", err)
	}

	id, err := d.CreateWatch("alice", Watch{
		ItemKind:          "set",
		ItemID:            "75192",
		ShipToCountry:     "US",
		TargetLandedPrice: 700,
	})
	if err != nil {
		t.Fatalf("CreateWatch: %v", err)
	}
	if id <= 0 {
		t.Fatal("CreateWatch returned non-positive id")
	}

	watches, err := d.WatchesInGroup("set", "75192", "US")
	if err != nil {
		t.Fatalf("WatchesInGroup: %v", err)
	}
	if len(watches) != 1 {
		t.Fatalf("WatchesInGroup len = %d, want 1", len(watches))
	}
	got := watches[0].ShipFromAllowlist
	if len(got) != 2 || got[0] != "US" || got[1] != "CA" {
		t.Errorf("ShipFromAllowlist = %v, want [US CA]", got)
	}
}

func TestCreateWatch_DuplicateActiveRejected(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	w := Watch{ItemKind: "set", ItemID: "10276", ShipToCountry: "DE", TargetLandedPrice: 150}
	if _, err := d.CreateWatch("bob", w); err != nil {
		t.Fatalf("first CreateWatch: %v", err)
	}
	if _, err := d.CreateWatch("bob", w); err == nil {
		t.Error("second CreateWatch for the same (user, item, status) should fail")
	}
}

func TestActiveScanGroups_OrdersByPriorityThenCount(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	d.CreateWatch("a", Watch{ItemKind: "set", ItemID: "1", ShipToCountry: "DE", TargetLandedPrice: 10, ScanPriority: 0})
	d.CreateWatch("b", Watch{ItemKind: "set", ItemID: "2", ShipToCountry: "DE", TargetLandedPrice: 10, ScanPriority: 5})
	d.CreateWatch("c", Watch{ItemKind: "set", ItemID: "1", ShipToCountry: "DE", TargetLandedPrice: 20, ScanPriority: 0})

	groups, err := d.ActiveScanGroups()
	if err != nil {
		t.Fatalf("ActiveScanGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if groups[0].ItemID != "2" {
		t.Errorf("highest priority group should be first, got item %s", groups[0].ItemID)
	}
}

func TestUpsertListing_RoundTrip(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	l := NormalizedListing{
		Source: "a", ListingID: "123", ScannedForCountry: "DE", ItemKind: "set", ItemID: "75192",
		Title: "LEGO 75192 Millennium Falcon", URL: "https://example.test/123", SellerID: "s1",
		ShipFrom: "DE", Condition: "new", Price: 650, Shipping: 10, Total: 660,
		CurrencyOriginal: "EUR", PriceOriginal: 650, Fingerprint: "abc123", FetchedAt: time.Now(), IsActive: true,
	}
	if err := d.UpsertListing(l); err != nil {
		t.Fatalf("UpsertListing: %v", err)
	}

	got, err := d.ActiveListingsAscending("set", "75192", "DE")
	if err != nil {
		t.Fatalf("ActiveListingsAscending: %v", err)
	}
	if len(got) != 1 || got[0].Total != 660 {
		t.Fatalf("got %+v, want one listing with total 660", got)
	}

	if err := d.MarkListingsInactive("set", "75192", "DE", map[string]bool{}); err != nil {
		t.Fatalf("MarkListingsInactive: %v", err)
	}
	got, _ = d.ActiveListingsAscending("set", "75192", "DE")
	if len(got) != 0 {
		t.Errorf("listing should be inactive after MarkListingsInactive with empty seen set")
	}
}

func TestInsertAlert_DuplicateIdempotencyKeyIsNoOp(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	watchID, _ := d.CreateWatch("eve", Watch{ItemKind: "set", ItemID: "75192", ShipToCountry: "DE", TargetLandedPrice: 700})

	a := Alert{
		UserID: "eve", WatchID: watchID, Source: "a", ListingID: "1", ScannedForCountry: "DE",
		ItemKind: "set", ItemID: "75192", Price: 650, Total: 660, Target: 700,
		NotificationType: "first", IdempotencyKey: "a:eve:fp1:2026-07-31",
	}
	if _, err := d.InsertAlert(a); err != nil {
		t.Fatalf("first InsertAlert: %v", err)
	}
	if _, err := d.InsertAlert(a); err != ErrDuplicateAlert {
		t.Errorf("second InsertAlert error = %v, want ErrDuplicateAlert", err)
	}
}
