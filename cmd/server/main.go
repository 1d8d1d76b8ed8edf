// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/auth"
	"github.com/Otheruser325/Protodice-sub001/internal/cache"
	"github.com/Otheruser325/Protodice-sub001/internal/handlers"
	"github.com/Otheruser325/Protodice-sub001/internal/lobby"
	"github.com/Otheruser325/Protodice-sub001/internal/middleware"
	"github.com/Otheruser325/Protodice-sub001/internal/registry"
	"github.com/Otheruser325/Protodice-sub001/internal/stats"
	"github.com/Otheruser325/Protodice-sub001/internal/store"
)

func main() {
	// Keys loaded from disk keep session tokens valid across restarts;
	// otherwise a fresh ephemeral pair is generated.
	privPath, pubPath := os.Getenv("SESSION_PRIVATE_KEY_PATH"), os.Getenv("SESSION_PUBLIC_KEY_PATH")
	if privPath != "" && pubPath != "" {
		if err := auth.InitFromPath(privPath, pubPath); err != nil {
			log.Fatalf("failed to load session keys: %v", err)
		}
	} else {
		auth.Init()
	}

	logger := logrus.New()
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()

	// Storage tiers. Postgres and the file store are both optional; gameplay
	// runs from memory alone if neither is reachable.
	var remote store.Backend
	if pg, err := store.ConnectPostgres(ctx); err != nil {
		logger.WithError(err).Warn("postgres unavailable, continuing without it")
	} else {
		remote = pg
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	file := store.NewFileStore(dataDir, logger)
	defer file.Close()

	bridge := store.NewBridge(remote, file, logger)
	bridge.StartSweeper(ctx, 30*time.Minute)

	history, err := cache.Connect(ctx)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, turn history disabled")
		history = nil
	}

	lobbies := lobby.NewService(bridge, logger)
	gate := auth.NewGate(bridge, logger)
	agg := stats.NewAggregator(bridge, logger)
	reg := registry.NewRegistry(lobbies, gate, bridge, agg, history, logger)

	mux := http.NewServeMux()

	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.GameWSHandler(logger, reg),
	)))
	mux.Handle("/healthz", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.HealthHandler(bridge, history),
	)))
	mux.Handle("/leaderboard", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.LeaderboardHandler(agg, logger),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
