// Package identity resolves a user-supplied catalog reference (a
// collector code, a native catalog ID, or a free-text name) into the
// marketplace-B opaque identifier that adapter availability lookups
// require, caching resolutions in the identifier cache.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"regexp"

	"brickwatch/internal/db"
	"brickwatch/internal/marketplace"
)

// InputKind classifies what shape a catalog reference has.
type InputKind string

const (
	KindMinifigCode InputKind = "minifig_code" // e.g. "fig-002345"
	KindNumeric     InputKind = "numeric"      // e.g. "75192" (set number)
	KindSetCode     InputKind = "set_code"     // e.g. "sw0010" (minifig collector code)
	KindName        InputKind = "name"         // free-text fallback
)

var (
	minifigCodePattern = regexp.MustCompile(`^fig-\d{6}$`)
	numericPattern     = regexp.MustCompile(`^\d+$`)
	setCodePattern     = regexp.MustCompile(`^[a-z]{2,4}\d+[a-z]?$`)
)

// DetectKind classifies a raw catalog reference string.
func DetectKind(ref string) InputKind {
	switch {
	case minifigCodePattern.MatchString(ref):
		return KindMinifigCode
	case numericPattern.MatchString(ref):
		return KindNumeric
	case setCodePattern.MatchString(ref):
		return KindSetCode
	default:
		return KindName
	}
}

// Resolver is the identifier-cache-backed interface identity wraps over;
// *db.DB satisfies it directly.
type Resolver interface {
	LookupIdentifier(inputKind, inputValue string) (*db.IdentifierCacheEntry, error)
	UpsertIdentifier(inputKind, inputValue, opaqueID, displayName string) error
}

// Service resolves catalog references to adapter-B opaque ids, consulting
// the cache before falling back to a live resolve call.
type Service struct {
	store   Resolver
	adapter marketplace.Adapter
}

// New builds an identity resolver over the given cache store and adapter.
func New(store Resolver, adapter marketplace.Adapter) *Service {
	return &Service{store: store, adapter: adapter}
}

// ErrNotFound is returned when neither the cache nor a live resolve call
// could map the reference to an opaque id.
var ErrNotFound = errors.New("identity: reference did not resolve")

// Resolve maps a catalog reference + item kind ("set"|"minifig") to an
// adapter-B opaque id, using the cache first and writing through on a
// live resolve. success=false (via ErrNotFound) lets callers fall back to
// adapter-A free-text search without the pre-resolved id.
func (s *Service) Resolve(ctx context.Context, ref, kind string) (string, error) {
	inputKind := string(DetectKind(ref))

	if entry, err := s.store.LookupIdentifier(inputKind, ref); err == nil && entry != nil {
		return entry.OpaqueID, nil
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	opaqueID, ok, err := s.adapter.Resolve(ctx, ref, kind)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}

	if err := s.store.UpsertIdentifier(inputKind, ref, opaqueID, ref); err != nil {
		return "", err
	}
	return opaqueID, nil
}
