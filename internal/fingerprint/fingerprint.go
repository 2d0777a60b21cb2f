// Package fingerprint computes the stable listing fingerprint and
// per-user idempotency key the dedup step keys alerts on.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

const titlePrefixLen = 50

// Compute derives the listing fingerprint: a hash of the source, seller,
// a truncated lowercase title, and a price bucket wide enough to absorb
// micro-adjustments (floor to the nearest 10 units).
func Compute(source, sellerID, title string, price float64) string {
	t := strings.TrimSpace(strings.ToLower(title))
	if len(t) > titlePrefixLen {
		t = t[:titlePrefixLen]
	}
	bucket := math.Floor(price/10) * 10

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%g", source, sellerID, t, bucket)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

// IdempotencyKey formats the per-user, per-day dedup key: at most one
// alert per (user, fingerprint, UTC day).
func IdempotencyKey(source, userID, fp string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", source, userID, fp, day.UTC().Format("2006-01-02"))
}
