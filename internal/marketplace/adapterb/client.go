// Package adapterb implements the specialist catalog marketplace
// adapter: a pre-resolve-then-availability workflow, gated by a
// process-wide 500ms pacing limiter per the Marketplace Adapters spec.
package adapterb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"brickwatch/internal/marketplace"
)

const baseURL = "https://api.marketplace-b.example/v1"

// Client is the adapter B HTTP client.
type Client struct {
	http    *http.Client
	apiKey  string
	limiter *rate.Limiter
}

// New creates an adapter B client paced at one request per 500ms,
// process-wide, per the spec's rate-limit requirement.
func New(apiKey string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

type searchResult struct {
	Results []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Permalink string `json:"permalink"`
		Kind      string `json:"kind"`
	} `json:"results"`
}

// Resolve queries the catalog search endpoint for codeOrQuery and picks
// the best match: an exact collector code appearing in the name or
// permalink beats a type+first-result match.
func (c *Client) Resolve(ctx context.Context, codeOrQuery, kind string) (string, bool, error) {
	var resp searchResult
	url := fmt.Sprintf("%s/search?q=%s&kind=%s", baseURL, codeOrQuery, kind)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return "", false, err
	}
	if len(resp.Results) == 0 {
		return "", false, nil
	}

	for _, r := range resp.Results {
		if r.Kind == kind && containsFold(r.Name, codeOrQuery) || containsFold(r.Permalink, codeOrQuery) {
			return r.ID, true, nil
		}
	}
	for _, r := range resp.Results {
		if r.Kind == kind {
			return r.ID, true, nil
		}
	}
	return resp.Results[0].ID, true, nil
}

func containsFold(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	lower := func(rs []rune) []rune {
		out := make([]rune, len(rs))
		for i, r := range rs {
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			out[i] = r
		}
		return out
	}
	h, n = lower(h), lower(n)
	if len(n) == 0 || len(n) > len(h) {
		return false
	}
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			if h[i+j] != n[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

type availabilityResponse struct {
	Lots map[string]struct {
		ID             string  `json:"id"`
		Title          string  `json:"title"`
		URL            string  `json:"url"`
		ImageURL       string  `json:"image_url"`
		SellerID       string  `json:"seller_id"`
		SellerUsername string  `json:"seller_username"`
		SellerRating   *float64 `json:"seller_rating"`
		SellerFeedback *int    `json:"seller_feedback"`
		ShipFrom       string  `json:"ship_from"`
		Condition      string  `json:"condition"`
		Price          float64 `json:"price"`
		Currency       string  `json:"currency"`
		Open           bool    `json:"open"`
	} `json:"lots"`
}

// Availability returns open lots for a pre-resolved opaque id. Adapter B
// never supplies shipping — the Cost Model estimates it. Only open=true
// lots are emitted.
func (c *Client) Availability(ctx context.Context, opaqueID, shipToCountry string) ([]marketplace.RawListing, error) {
	var resp availabilityResponse
	url := fmt.Sprintf("%s/items/%s/availability?ship_to=%s", baseURL, opaqueID, shipToCountry)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	out := make([]marketplace.RawListing, 0, len(resp.Lots))
	for lotID, lot := range resp.Lots {
		if !lot.Open {
			continue
		}
		out = append(out, marketplace.RawListing{
			Source: "b", ListingID: lotID, Title: lot.Title, URL: lot.URL, ImageURL: lot.ImageURL,
			SellerID: lot.SellerID, SellerUsername: lot.SellerUsername, SellerRating: lot.SellerRating,
			SellerFeedback: lot.SellerFeedback, ShipFrom: lot.ShipFrom, Condition: lot.Condition,
			Price: lot.Price, CurrencyOriginal: lot.Currency, ShippingKnown: false,
		})
	}
	return out, nil
}

// Search is unused by adapter B's workflow (it requires Resolve first)
// but is implemented to satisfy marketplace.Adapter; it delegates to
// Resolve + Availability for callers that only hold the interface.
func (c *Client) Search(ctx context.Context, itemRef, shipToCountry string, limit, offset int) ([]marketplace.RawListing, error) {
	id, ok, err := c.Resolve(ctx, itemRef, "")
	if err != nil || !ok {
		return nil, err
	}
	return c.Availability(ctx, id, shipToCountry)
}

func (c *Client) getJSON(ctx context.Context, url string, dst interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &marketplace.Error{Kind: marketplace.KindNetwork, Retryable: true, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == 429 {
		// Obey Retry-After style backoff by waiting once, then surface a
		// retryable rate_limit error for the caller's own retry policy.
		time.Sleep(time.Second)
		body, _ := io.ReadAll(resp.Body)
		return marketplace.Classify(429, string(body))
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return marketplace.Classify(resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
