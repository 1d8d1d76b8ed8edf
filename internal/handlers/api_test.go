package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Otheruser325/Protodice-sub001/internal/stats"
	"github.com/Otheruser325/Protodice-sub001/internal/store"
)

func testDeps(t *testing.T) (*store.Bridge, *stats.Aggregator) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	bridge := store.NewBridge(nil, nil, log)
	return bridge, stats.NewAggregator(bridge, log)
}

func TestHealthReportsDegradedTiers(t *testing.T) {
	bridge, _ := testDeps(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	HealthHandler(bridge, nil).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, "degraded storage never fails the probe")
	var status map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["server"])
	assert.Equal(t, "not configured", status["postgres"])
	assert.NotEqual(t, "ok", status["redis"])
}

func TestLeaderboardSortsAndLimits(t *testing.T) {
	_, agg := testDeps(t)
	ctx := context.Background()
	require.NoError(t, agg.UpdatePlayerStats(ctx, "low", 50, false, nil))
	require.NoError(t, agg.UpdatePlayerStats(ctx, "high", 300, true, nil))
	require.NoError(t, agg.UpdatePlayerStats(ctx, "mid", 100, false, nil))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	req := httptest.NewRequest("GET", "/leaderboard?sortBy=total&limit=2", nil)
	w := httptest.NewRecorder()
	LeaderboardHandler(agg, log).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		SortBy  string        `json:"sortBy"`
		Entries []stats.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "total", resp.SortBy)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "high", resp.Entries[0].ID)
	assert.Equal(t, "mid", resp.Entries[1].ID)
}

func TestLeaderboardRejectsBadParams(t *testing.T) {
	_, agg := testDeps(t)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	h := LeaderboardHandler(agg, log)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/leaderboard?sortBy=cheaters", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/leaderboard?limit=9000", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/leaderboard", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
