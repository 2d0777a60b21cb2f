package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brickwatch/internal/db"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

type filterReplayResponse struct {
	Accept bool   `json:"Accept"`
	Reason string `json:"Reason"`
}

func TestHandleFilterReplay_AcceptsMatchingTitle(t *testing.T) {
	store := openTestDB(t)
	watchID, err := store.CreateWatch("U1", db.Watch{
		ItemKind: "minifig", ItemID: "sw0010", ShipToCountry: "DE",
		TargetLandedPrice: 50, Condition: "any",
	})
	require.NoError(t, err)

	srv := New(store)
	body, _ := json.Marshal(filterReplayRequest{
		Title: "LEGO Star Wars sw0010 Darth Vader complete minifig", WatchID: watchID, Price: 45, Condition: "used",
	})
	req := httptest.NewRequest(http.MethodPost, "/debug/filter-replay", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var decision filterReplayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Accept, "reason: %s", decision.Reason)
}

func TestHandleFilterReplay_RejectsMissingCode(t *testing.T) {
	store := openTestDB(t)
	watchID, err := store.CreateWatch("U1", db.Watch{
		ItemKind: "minifig", ItemID: "sw0010", ShipToCountry: "DE",
		TargetLandedPrice: 50, Condition: "any",
	})
	require.NoError(t, err)

	srv := New(store)
	body, _ := json.Marshal(filterReplayRequest{
		Title: "LEGO Darth Vader Minifigure helmet only", WatchID: watchID, Price: 15, Condition: "used",
	})
	req := httptest.NewRequest(http.MethodPost, "/debug/filter-replay", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var decision filterReplayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.False(t, decision.Accept, "expected rejection for a title missing the collector code")
}

func TestHandleFilterReplay_UnknownWatchReturns404(t *testing.T) {
	store := openTestDB(t)
	srv := New(store)
	body, _ := json.Marshal(filterReplayRequest{Title: "LEGO something", WatchID: 999})
	req := httptest.NewRequest(http.MethodPost, "/debug/filter-replay", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFilterReplay_MissingFieldsReturns400(t *testing.T) {
	store := openTestDB(t)
	srv := New(store)
	body, _ := json.Marshal(filterReplayRequest{Title: "", WatchID: 0})
	req := httptest.NewRequest(http.MethodPost, "/debug/filter-replay", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
