package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list turn records are pushed onto for
// out-of-process history consumers.
var DefaultQueueName = "protodice_turns"

// TurnRecord is the minimal per-turn audit entry.
type TurnRecord struct {
	LobbyCode   string `json:"lobby_code"`
	Round       int    `json:"round"`
	PlayerIndex int    `json:"player_index"`
	UserID      string `json:"user_id"`
	Dice        []int  `json:"dice"`
	Combo       string `json:"combo,omitempty"`
	Scored      int    `json:"scored"`
	TimedOut    bool   `json:"timed_out,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Client wraps the Redis connection used for the turn-history queue. A nil
// Client is valid and drops every record.
type Client struct {
	rdb *redis.Client
}

// Connect initializes the client from REDIS_ADDR (default "localhost:6379")
// and REDIS_DB (default 0).
func Connect(ctx context.Context) (*Client, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping probes connectivity for the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("redis not configured")
	}
	return c.rdb.Ping(ctx).Err()
}

// PublishTurn serializes the record and pushes it onto the history queue.
// Best-effort: a failure is the caller's to log, never to act on.
func (c *Client) PublishTurn(ctx context.Context, rec TurnRecord) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal TurnRecord: %w", err)
	}
	queueName := getEnv("HISTORY_QUEUE_NAME", DefaultQueueName)
	if err := c.rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
