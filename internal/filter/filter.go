// Package filter implements the Title & Quality Filter: a deterministic,
// short-circuiting pipeline that decides whether a candidate listing
// genuinely matches a watch before it reaches the dedup/alert stage.
package filter

import (
	"regexp"
	"sort"
	"strings"
)

// Constraints is the subset of a watch the filter evaluates against.
type Constraints struct {
	ItemKind      string // "set" | "minifig"
	CollectorCode string // minifig: required token, e.g. "sw0010"
	CatalogNumber string // set: catalog number, e.g. "75192"
	CatalogName   string // set: fallback token-wise name match
	MinTotal      float64
	ConditionPref string // "new" | "used" | "any"
	ExcludeWords  []string
}

// Batch carries cross-listing context the suspicious-cheapness rule
// needs; computed once per scan batch by the caller.
type Batch struct {
	SecondCheapestTotal float64 // 0 means unknown/not enough listings
}

// Decision is the filter's verdict: always populated with a Reason, even
// on Accept, so a debug endpoint can replay and explain any outcome.
type Decision struct {
	Accept bool
	Reason string
	Score  int
}

const (
	minifigMinPrice = 0.50
	minifigMaxPrice = 2000.0
	qualityThreshold = 40
)

var elementNumberPattern = regexp.MustCompile(`\d{4,6}[a-z]?(pb|pr|px)\d+`)

// setNumberPattern matches a plausible set catalog number: 4-6 digits,
// optionally followed by a hyphenated variant suffix ("-1").
var setNumberPattern = regexp.MustCompile(`\b\d{4,6}(-\d+)?\b`)

// Evaluate runs the full ten-step pipeline against one candidate title,
// short-circuiting on the first rejection. Given the same inputs it
// always returns the same Decision.
func Evaluate(title string, price float64, condition string, c Constraints, batch Batch) Decision {
	lower := strings.ToLower(title)

	// 1. Brand token present.
	if !containsAny(lower, brandTokens) {
		return Decision{Accept: false, Reason: "brand token missing"}
	}

	// 2. Item identity.
	if c.ItemKind == "minifig" {
		if !containsCode(lower, c.CollectorCode) {
			return Decision{Accept: false, Reason: "code not in title"}
		}
	} else {
		numOK := c.CatalogNumber != "" && containsCode(lower, c.CatalogNumber)
		nameOK := c.CatalogName != "" && containsAllTokens(lower, c.CatalogName)
		if !numOK && !nameOK {
			return Decision{Accept: false, Reason: "catalog number/name not in title"}
		}
	}

	if c.ItemKind == "minifig" {
		// 3. Part-number rejection.
		if elementNumberPattern.MatchString(lower) || containsAny(lower, commonElementNumbers) {
			return Decision{Accept: false, Reason: "canonical element number present (part listing)"}
		}

		// 4. Body-part-word rejection.
		if reason, reject := bodyPartRejected(lower); reject {
			return Decision{Accept: false, Reason: reason}
		}
	}

	// 5. Negative-keyword lexicon, categories checked in sorted order.
	categories := make([]string, 0, len(negativeKeywords))
	for category := range negativeKeywords {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		if containsAny(lower, negativeKeywords[category]) {
			return Decision{Accept: false, Reason: "negative keyword: " + category}
		}
	}
	for _, w := range c.ExcludeWords {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return Decision{Accept: false, Reason: "user exclude word: " + w}
		}
	}

	// 6. Set-posing-as-minifig.
	if c.ItemKind == "minifig" && price > minifigMaxPrice/4 && setNumberPattern.MatchString(lower) && containsAny(lower, setWords) {
		return Decision{Accept: false, Reason: "set number + set word on a minifig watch"}
	}

	// 7. Price sanity.
	if c.ItemKind == "minifig" {
		if price < minifigMinPrice || price > minifigMaxPrice {
			return Decision{Accept: false, Reason: "price outside minifig sanity band"}
		}
	} else if price < c.MinTotal {
		return Decision{Accept: false, Reason: "price below watch min_total"}
	}

	// 8. Condition match.
	if !conditionMatches(lower, condition, c.ConditionPref, c.ItemKind) {
		return Decision{Accept: false, Reason: "condition does not match preference"}
	}

	// 9. Suspicious cheapness (set only).
	if c.ItemKind == "set" && batch.SecondCheapestTotal > 0 {
		if price < batch.SecondCheapestTotal*0.65 {
			return Decision{Accept: false, Reason: "suspiciously cheap vs. batch reference"}
		}
	}

	// 10. Quality score.
	score := qualityScore(lower, c, price)
	if score < qualityThreshold {
		return Decision{Accept: false, Reason: "quality score below threshold", Score: score}
	}

	return Decision{Accept: true, Reason: "passed all checks", Score: score}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func containsAllTokens(haystack, name string) bool {
	for _, tok := range strings.Fields(strings.ToLower(name)) {
		if len(tok) < 3 {
			continue // skip short stopword-ish tokens
		}
		if !strings.Contains(haystack, tok) {
			return false
		}
	}
	return true
}

// containsCode checks for a code allowing optional separators (space,
// hyphen, hash) between the code and surrounding text, per the spec's
// "optional hyphen/suffix tolerances" / "optional space/hyphen/hash"
// rule — achieved by normalizing both sides to remove those separators.
func containsCode(haystack, code string) bool {
	if code == "" {
		return false
	}
	normalize := func(s string) string {
		s = strings.ToLower(s)
		for _, sep := range []string{" ", "-", "#"} {
			s = strings.ReplaceAll(s, sep, "")
		}
		return s
	}
	return strings.Contains(normalize(haystack), normalize(code))
}

// bodyPartRejected applies the positional rule: a body-part word before
// any minifigure-indicator word rejects; an indicator preceding it (or no
// body-part word at all) accepts.
func bodyPartRejected(lower string) (string, bool) {
	partIdx := -1
	var partWord string
	for word, part := range bodyPartWords {
		if idx := wordIndex(lower, word); idx >= 0 && (partIdx == -1 || idx < partIdx) {
			partIdx = idx
			partWord = part
		}
	}
	if partIdx == -1 {
		return "", false
	}

	indicatorIdx := -1
	for _, word := range minifigureIndicators {
		if idx := wordIndex(lower, word); idx >= 0 && (indicatorIdx == -1 || idx < indicatorIdx) {
			indicatorIdx = idx
		}
	}

	if indicatorIdx == -1 || partIdx < indicatorIdx {
		return "body part word (" + partWord + ") precedes or lacks a minifigure indicator", true
	}
	return "", false
}

func wordIndex(haystack, word string) int {
	return strings.Index(haystack, word)
}

func conditionMatches(lower, normalizedCondition, pref, itemKind string) bool {
	if pref == "" || pref == "any" {
		return true
	}

	effective := normalizedCondition
	if effective == "" || effective == "unknown" {
		effective = detectConditionFromTitle(lower)
	}
	// "new: other" (seller-marked new but not sealed) counts as used for
	// minifigs, which are routinely resold loose.
	if itemKind == "minifig" && effective == "new_other" {
		effective = "used"
	}
	if effective == "" {
		return true // no signal either way; don't reject on absence
	}
	return effective == pref
}

func detectConditionFromTitle(lower string) string {
	if containsAny(lower, conditionKeywords["new"]) {
		return "new"
	}
	if containsAny(lower, conditionKeywords["used"]) {
		return "used"
	}
	return ""
}

// qualityScore computes the 0-100 score: base 70 for a title that passed
// the identity check at step 2 (a code/number match, or for sets a
// catalog-name match), plus bonuses for a minifigure-indicator word, a
// catalog-name token match, and a typical price band (a crude proxy:
// between 10 and 500 in whatever currency the candidate's price was
// normalized to before reaching the filter).
func qualityScore(lower string, c Constraints, price float64) int {
	score := 70
	if containsAny(lower, minifigureIndicators) {
		score += 10
	}
	if c.CatalogName != "" && containsAllTokens(lower, c.CatalogName) {
		score += 10
	}
	if price >= 10 && price <= 500 {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}
