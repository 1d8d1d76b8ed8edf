package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
)

// LobbyTTL is how long an untouched lobby record may linger before the sweep
// removes it from every tier.
const LobbyTTL = 3 * time.Hour

// ErrNoRemote is reported by Ping when no remote tier is configured.
var ErrNoRemote = errors.New("store: remote tier not configured")

// Bridge chains the tiers: memory cache, then the remote store, then the
// local file store. Reads walk down and write successes back up; writes land
// in memory first and degrade through the durable tiers silently, so a
// storage outage never blocks gameplay.
type Bridge struct {
	mem    *Memory
	remote Backend
	file   Backend
	log    *logrus.Logger
}

func NewBridge(remote, file Backend, log *logrus.Logger) *Bridge {
	return &Bridge{
		mem:    NewMemory(),
		remote: remote,
		file:   file,
		log:    log,
	}
}

// durables returns the durable tiers in write order.
func (b *Bridge) durables() []Backend {
	var out []Backend
	if b.remote != nil {
		out = append(out, b.remote)
	}
	if b.file != nil {
		out = append(out, b.file)
	}
	return out
}

// Ping probes the remote tier for the health endpoint. A nil remote reports
// an error so the endpoint surfaces the degraded mode.
func (b *Bridge) Ping(ctx context.Context) error {
	if b.remote == nil {
		return ErrNoRemote
	}
	if p, ok := b.remote.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (b *Bridge) LoadUser(ctx context.Context, id string) (*models.User, error) {
	if u, err := b.mem.LoadUser(ctx, id); err == nil {
		return u, nil
	}
	for _, tier := range b.durables() {
		u, err := tier.LoadUser(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			b.log.WithError(err).Debugf("load user %s from %s failed", id, tier.Name())
			continue
		}
		// Write the hit back up the chain.
		_ = b.mem.SaveUser(ctx, u)
		return u, nil
	}
	return nil, ErrNotFound
}

// LoadAllUsers merges the deepest successful durable tier with whatever the
// memory cache holds; cached entries win since they are the freshest copies
// this process has written.
func (b *Bridge) LoadAllUsers(ctx context.Context) ([]*models.User, error) {
	merged := make(map[string]*models.User)
	for _, tier := range b.durables() {
		users, err := tier.LoadUsers(ctx)
		if err != nil {
			b.log.WithError(err).Debugf("load users from %s failed", tier.Name())
			continue
		}
		for _, u := range users {
			merged[u.ID] = u
		}
		break
	}
	cached, _ := b.mem.LoadUsers(ctx)
	for _, u := range cached {
		merged[u.ID] = u
	}

	out := make([]*models.User, 0, len(merged))
	for _, u := range merged {
		out = append(out, u)
	}
	return out, nil
}

func (b *Bridge) SaveUser(ctx context.Context, u *models.User) error {
	_ = b.mem.SaveUser(ctx, u)
	b.saveDurable(ctx, "user "+u.ID, func(tier Backend) error {
		return tier.SaveUser(ctx, u)
	})
	return nil
}

func (b *Bridge) SaveAllUsers(ctx context.Context, users []*models.User) error {
	_ = b.mem.SaveUsers(ctx, users)
	b.saveDurable(ctx, "users batch", func(tier Backend) error {
		return tier.SaveUsers(ctx, users)
	})
	return nil
}

func (b *Bridge) LoadLobby(ctx context.Context, code string) (*models.Lobby, error) {
	if l, err := b.mem.LoadLobby(ctx, code); err == nil {
		return l, nil
	}
	for _, tier := range b.durables() {
		l, err := tier.LoadLobby(ctx, code)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			b.log.WithError(err).Debugf("load lobby %s from %s failed", code, tier.Name())
			continue
		}
		_ = b.mem.SaveLobby(ctx, l)
		return l, nil
	}
	return nil, ErrNotFound
}

func (b *Bridge) SaveLobby(ctx context.Context, l *models.Lobby) error {
	_ = b.mem.SaveLobby(ctx, l)
	b.saveDurable(ctx, "lobby "+l.Code, func(tier Backend) error {
		return tier.SaveLobby(ctx, l)
	})
	return nil
}

func (b *Bridge) DeleteLobby(ctx context.Context, code string) error {
	_ = b.mem.DeleteLobby(ctx, code)
	for _, tier := range b.durables() {
		if err := tier.DeleteLobby(ctx, code); err != nil {
			b.log.WithError(err).Warnf("delete lobby %s from %s failed", code, tier.Name())
		}
	}
	return nil
}

// saveDurable tries the remote tier first and falls through to the file tier
// only when the write structurally failed. Both failing leaves the record in
// memory alone: an accepted data-loss-on-restart tradeoff.
func (b *Bridge) saveDurable(ctx context.Context, what string, save func(Backend) error) {
	for _, tier := range b.durables() {
		if err := save(tier); err != nil {
			b.log.WithError(err).Warnf("save %s to %s failed", what, tier.Name())
			continue
		}
		return
	}
	b.log.Debugf("save %s: no durable tier accepted the write", what)
}

// StartSweeper periodically removes lobby records that have no active
// participants or have outlived LobbyTTL, across memory and the backing
// store. Stops when ctx is done.
func (b *Bridge) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.SweepOnce(ctx, time.Now())
			}
		}
	}()
}

// SweepOnce runs a single sweep pass.
func (b *Bridge) SweepOnce(ctx context.Context, now time.Time) {
	seen := make(map[string]*models.Lobby)
	if lobbies, err := b.mem.LoadLobbies(ctx); err == nil {
		for _, l := range lobbies {
			seen[l.Code] = l
		}
	}
	for _, tier := range b.durables() {
		lobbies, err := tier.LoadLobbies(ctx)
		if err != nil {
			continue
		}
		for _, l := range lobbies {
			if _, ok := seen[l.Code]; !ok {
				seen[l.Code] = l
			}
		}
	}

	for code, l := range seen {
		if l.ActiveCount() == 0 || now.Sub(l.UpdatedAt) > LobbyTTL {
			b.log.WithField("code", code).Info("sweeping expired lobby record")
			_ = b.DeleteLobby(ctx, code)
		}
	}
}
