// Package adaptera implements the large general-marketplace adapter:
// OAuth2 client-credentials auth, a per-country endpoint mapping table,
// and the EU/UK/NA query-shape variants described by the Marketplace
// Adapters component.
package adaptera

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"brickwatch/internal/marketplace"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond
	tokenSafetyMargin = 5 * time.Minute
)

// endpointByCountry is the closed ship_to_country → marketplace endpoint
// mapping. Countries absent from this table fall back to the largest
// regional endpoint (defaultEndpoint).
var endpointByCountry = map[string]string{
	"DE": "https://api.marketplace-a.example/de",
	"FR": "https://api.marketplace-a.example/fr",
	"NL": "https://api.marketplace-a.example/nl",
	"BE": "https://api.marketplace-a.example/be",
	"ES": "https://api.marketplace-a.example/es",
	"IT": "https://api.marketplace-a.example/it",
	"PL": "https://api.marketplace-a.example/pl",
	"GB": "https://api.marketplace-a.example/uk",
	"US": "https://api.marketplace-a.example/us",
	"CA": "https://api.marketplace-a.example/ca",
}

// countriesWithOwnEndpoint is the subset that get a server-side
// itemLocationRegion filter; everyone else is a client-side post-filter.
var countriesWithOwnEndpoint = map[string]bool{
	"DE": true, "FR": true, "NL": true, "BE": true, "ES": true, "IT": true, "PL": true,
}

func endpointFor(country, defaultMarketplace string) (endpoint string, serverFiltered bool) {
	if e, ok := endpointByCountry[country]; ok {
		return e, countriesWithOwnEndpoint[country]
	}
	if e, ok := endpointByCountry[strings.ToUpper(defaultMarketplace)]; ok {
		return e, false
	}
	return endpointByCountry["US"], false
}

type token struct {
	accessToken string
	expiresAt   time.Time
}

// Client is the adapter A HTTP client.
type Client struct {
	http         *http.Client
	clientID     string
	clientSecret string
	defaultMkt   string
	sem          chan struct{}
	scanSem      chan struct{}

	mu    sync.Mutex
	tok   *token
	group singleflight.Group
}

// New creates an adapter A client. clientID/clientSecret are the OAuth2
// client-credentials grant; defaultMarketplace is the fallback endpoint
// code for ship-to countries with no direct mapping.
func New(clientID, clientSecret, defaultMarketplace string) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     120 * time.Second,
	}
	return &Client{
		http:       &http.Client{Timeout: 30 * time.Second, Transport: transport},
		clientID:   clientID,
		clientSecret: clientSecret,
		defaultMkt: defaultMarketplace,
		sem:        make(chan struct{}, 20),
		scanSem:    make(chan struct{}, 20),
	}
}

// acquireToken returns a valid access token, refreshing it with a
// single-flight call when absent or within the safety margin of expiry.
func (c *Client) acquireToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.tok
	c.mu.Unlock()
	if tok != nil && time.Until(tok.expiresAt) > tokenSafetyMargin {
		return tok.accessToken, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		return c.refreshToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", "https://auth.marketplace-a.example/oauth/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &marketplace.Error{Kind: marketplace.KindNetwork, Retryable: true, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		return "", marketplace.Classify(resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.mu.Lock()
	c.tok = &token{accessToken: payload.AccessToken, expiresAt: time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)}
	c.mu.Unlock()

	return payload.AccessToken, nil
}

// invalidateToken drops the cached token; used after an auth failure so
// the next acquireToken performs a fresh refresh rather than retrying
// with a token already known to be bad.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.tok = nil
	c.mu.Unlock()
}

type searchResponse struct {
	Results []struct {
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
		Shipping       *float64 `json:"shipping"`
		Currency       string  `json:"currency"`
		LocationRegion string  `json:"item_location_region"`
	} `json:"results"`
}

// Search queries adapter A for listings of itemRef shipped to shipToCountry.
// No price sort is requested — sorting by price biases results toward
// spare-parts listings. For ship-to countries without a direct endpoint,
// results are post-filtered client-side by ship_from rather than relying
// on a server-side region filter (which returns wrong results for those).
func (c *Client) Search(ctx context.Context, itemRef, shipToCountry string, limit, offset int) ([]marketplace.RawListing, error) {
	endpoint, serverFiltered := endpointFor(shipToCountry, c.defaultMkt)

	q := url.Values{}
	q.Set("q", "lego "+itemRef)
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("offset", fmt.Sprintf("%d", offset))
	if serverFiltered {
		q.Set("item_location_region", shipToCountry)
	}

	var resp searchResponse
	if err := c.getJSON(ctx, c.scanSem, endpoint+"/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]marketplace.RawListing, 0, len(resp.Results))
	for _, r := range resp.Results {
		if !serverFiltered && !allowedShipFrom(shipToCountry, r.ShipFrom) {
			continue
		}
		rl := marketplace.RawListing{
			Source: "a", ListingID: r.ID, Title: r.Title, URL: r.URL, ImageURL: r.ImageURL,
			SellerID: r.SellerID, SellerUsername: r.SellerUsername, SellerRating: r.SellerRating,
			SellerFeedback: r.SellerFeedback, ShipFrom: r.ShipFrom, Condition: r.Condition,
			Price: r.Price, CurrencyOriginal: r.Currency,
		}
		if r.Shipping != nil {
			rl.Shipping = *r.Shipping
			rl.ShippingKnown = true
		}
		out = append(out, rl)
	}
	return out, nil
}

// allowedShipFrom applies the client-side cross-block gate for the UK
// (includes EU imports) and North America variants, where there is no
// server-side region filter to rely on.
func allowedShipFrom(shipToCountry, shipFrom string) bool {
	switch shipToCountry {
	case "GB":
		return shipFrom == "GB" || isEU(shipFrom)
	case "US", "CA":
		return shipFrom == "US" || shipFrom == "CA"
	default:
		return true
	}
}

func isEU(country string) bool {
	switch country {
	case "DE", "FR", "NL", "BE", "ES", "IT", "PL":
		return true
	}
	return false
}

// Resolve is a no-op for adapter A: it never needs a pre-resolved opaque
// id, it searches by free-text query directly.
func (c *Client) Resolve(ctx context.Context, codeOrQuery, kind string) (string, bool, error) {
	return "", false, nil
}

func (c *Client) getJSON(ctx context.Context, sem chan struct{}, reqURL string, dst interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseWait * time.Duration(1<<(attempt-1)))
		}

		tok, err := c.acquireToken(ctx)
		if err != nil {
			return err
		}

		sem <- struct{}{}
		req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
		if err != nil {
			<-sem
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			<-sem
			lastErr = &marketplace.Error{Kind: marketplace.KindNetwork, Retryable: true, Body: err.Error()}
			continue
		}

		if resp.StatusCode == 200 {
			decErr := json.NewDecoder(resp.Body).Decode(dst)
			resp.Body.Close()
			<-sem
			return decErr
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		<-sem

		classified := marketplace.Classify(resp.StatusCode, string(body))
		if classified != nil && classified.Kind == marketplace.KindAuth {
			c.invalidateToken()
			if attempt == 0 {
				lastErr = classified
				continue // retry once with a fresh token
			}
			return classified
		}
		if classified == nil || !classified.Retryable {
			return classified
		}
		lastErr = classified
	}
	return lastErr
}
