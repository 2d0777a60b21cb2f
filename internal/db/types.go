package db

import "time"

// Watch is a user's standing request to be alerted when an item's
// landed price in their country drops to or below target.
type Watch struct {
	ID                int64
	UserID            string
	ItemKind          string // "set" | "minifig"
	ItemID            string
	ShipToCountry     string
	TargetLandedPrice float64
	MinLandedPrice    float64
	Condition         string // "new" | "used" | "any"
	ShipFromAllowlist []string
	MinSellerRating   float64
	MinSellerFeedback int
	ExcludeWords      []string
	EnabledSources    []string // "a", "b"
	Status            string   // "active" | "stopped"
	SnoozedUntil      *time.Time
	ScanPriority      int
	AlertsToday       int
	AlertsThisHour    int
	BestPriceToday    *float64
	CountersResetAt   string
	CreatedAt         time.Time
}

// ScanGroup aggregates the active watches for one (item, ship-to country) pair.
type ScanGroup struct {
	ItemKind       string
	ItemID         string
	ShipToCountry  string
	WatcherCount   int
	MaxPriority    int
	EnableSourceB  bool
}

// NormalizedListing is a candidate offer, already converted to the
// canonical landed-cost representation.
type NormalizedListing struct {
	Source             string
	ListingID          string
	ScannedForCountry  string
	ItemKind           string
	ItemID             string
	Title              string
	URL                string
	ImageURL           string
	SellerID           string
	SellerUsername     string
	SellerRating       *float64
	SellerFeedback     *int
	ShipFrom           string
	Condition          string // "new" | "used" | "unknown"
	Price              float64
	Shipping           float64
	ShippingEstimated  bool
	ImportCharges      float64
	ImportEstimated    bool
	Total              float64
	CurrencyOriginal   string
	PriceOriginal      float64
	ShippingOriginal   float64
	Fingerprint        string
	FetchedAt          time.Time
	IsActive           bool
}

// Alert is a durable record of a notification-worthy match.
type Alert struct {
	ID                 int64
	UserID             string
	WatchID            int64
	Source             string
	ListingID          string
	ScannedForCountry  string
	ItemKind           string
	ItemID             string
	Price              float64
	Shipping           float64
	Total              float64
	Target             float64
	DeltaPercent       float64
	NotificationType   string // first | better_deal | previous_sold | price_drop | reminder
	Status             string // pending | queued | sent | delivered | failed
	ScheduledFor       *time.Time
	CreatedAt          time.Time
	SentAt             *time.Time
	IdempotencyKey     string
	ChannelJobRefs     []string
}

// WatchNotificationState tracks the last listing a watch alerted on, for
// still-available re-checks and notification-type derivation.
type WatchNotificationState struct {
	WatchID        int64
	ListingID      string
	NotifiedAt     time.Time
	NotifiedPrice  float64
	ReminderCount  int
	LastReminderAt *time.Time
}

// User is the minimal identity/preference row the engine needs; account
// creation, billing, and auth all live in an external collaborator.
type User struct {
	ID                string
	Country            string
	ChatHandle         string
	PushSubscriptions  []string
	QuietHoursStart    *int // local hour, 0-23
	QuietHoursEnd      *int
	DigestEnabled      bool
	CreatedAt          time.Time
}
