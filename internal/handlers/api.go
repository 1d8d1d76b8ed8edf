package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/cache"
	"github.com/Otheruser325/Protodice-sub001/internal/stats"
	"github.com/Otheruser325/Protodice-sub001/internal/store"
)

const defaultLeaderboardLimit = 20

// HealthHandler reports per-dependency status. The process is healthy as long
// as it is serving; degraded tiers are reported, not fatal.
func HealthHandler(bridge *store.Bridge, history *cache.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := map[string]string{
			"server":   "ok",
			"postgres": "ok",
			"redis":    "ok",
		}
		if err := bridge.Ping(ctx); err != nil {
			if errors.Is(err, store.ErrNoRemote) {
				status["postgres"] = "not configured"
			} else {
				status["postgres"] = err.Error()
			}
		}
		if err := history.Ping(ctx); err != nil {
			status["redis"] = err.Error()
		}

		writeJSON(w, http.StatusOK, status)
	}
}

// LeaderboardHandler serves GET /leaderboard?sortBy=&limit=.
func LeaderboardHandler(agg *stats.Aggregator, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sortKey := r.URL.Query().Get("sortBy")
		switch sortKey {
		case "", stats.SortTotal:
			sortKey = stats.SortTotal
		case stats.SortHighest, stats.SortCombos, stats.SortWins, stats.SortBest:
		default:
			http.Error(w, "unknown sortBy value", http.StatusBadRequest)
			return
		}

		limit := defaultLeaderboardLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 100 {
				http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
				return
			}
			limit = n
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		entries, err := agg.TopPlayers(ctx, limit, sortKey)
		if err != nil {
			logger.WithError(err).Warn("leaderboard load failed")
			http.Error(w, "failed to load leaderboard", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"sortBy":  sortKey,
			"entries": entries,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
