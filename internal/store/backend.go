// Package store implements the tiered persistence bridge: an always-available
// memory cache in front of a remote Postgres store, with a local file store as
// the structural-failure fallback. Reads walk down the chain and write
// successes back up; writes go memory-first so gameplay is never blocked by a
// storage outage.
package store

import (
	"context"
	"errors"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
)

// ErrNotFound is returned by LoadUser/LoadLobby when the key has no record.
var ErrNotFound = errors.New("store: record not found")

// Backend is the uniform contract every storage tier implements. Both
// backends mirror the same logical schema; each maps rows to the domain
// structs at its own boundary.
type Backend interface {
	Name() string

	LoadUsers(ctx context.Context) ([]*models.User, error)
	LoadUser(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	SaveUsers(ctx context.Context, users []*models.User) error

	LoadLobbies(ctx context.Context) ([]*models.Lobby, error)
	LoadLobby(ctx context.Context, code string) (*models.Lobby, error)
	SaveLobby(ctx context.Context, l *models.Lobby) error
	DeleteLobby(ctx context.Context, code string) error
}

// Pinger is implemented by tiers with a meaningful connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}
