package models

import (
	"fmt"
	"time"
)

// ParticipantState models a participant's presence in a lobby. A participant
// leaves this set only when the owning lobby is deleted; Left and Disconnected
// entries are tombstones that preserve identity and score continuity across
// reconnects.
type ParticipantState int

const (
	ParticipantActive ParticipantState = iota
	ParticipantDisconnected
	ParticipantLeft
)

func (s ParticipantState) String() string {
	switch s {
	case ParticipantActive:
		return "active"
	case ParticipantDisconnected:
		return "disconnected"
	case ParticipantLeft:
		return "left"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Participant is a durable identity's membership record within a lobby.
type Participant struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Ready bool             `json:"ready"`
	State ParticipantState `json:"state"`
}

// Active reports whether the participant counts toward capacity, readiness
// and host eligibility.
func (p *Participant) Active() bool { return p.State == ParticipantActive }

// Gone reports whether the participant is tombstoned (left or disconnected).
func (p *Participant) Gone() bool { return p.State != ParticipantActive }

// LobbyConfig is the host-chosen rule set, snapshotted into the game session
// at start.
type LobbyConfig struct {
	MaxPlayers       int    `json:"maxPlayers"`
	TotalRounds      int    `json:"totalRounds"`
	ComboScoring     bool   `json:"comboScoring"`
	TurnTimeLimitSec int    `json:"turnTimeLimitSec"`
	DiceCount        int    `json:"diceCount"`
	BoardShape       string `json:"boardShape"`
}

// DefaultLobbyConfig returns the rule set used when the creator sends no
// overrides.
func DefaultLobbyConfig() LobbyConfig {
	return LobbyConfig{
		MaxPlayers:       2,
		TotalRounds:      5,
		ComboScoring:     true,
		TurnTimeLimitSec: 30,
		DiceCount:        5,
		BoardShape:       "classic",
	}
}

// Normalize clamps nonsense values back to defaults so a malformed create
// payload cannot produce an unplayable lobby.
func (c *LobbyConfig) Normalize() {
	def := DefaultLobbyConfig()
	if c.MaxPlayers < 2 {
		c.MaxPlayers = def.MaxPlayers
	}
	if c.MaxPlayers > 4 {
		c.MaxPlayers = 4
	}
	if c.TotalRounds < 1 {
		c.TotalRounds = def.TotalRounds
	}
	if c.TurnTimeLimitSec < 5 {
		c.TurnTimeLimitSec = def.TurnTimeLimitSec
	}
	if c.DiceCount < 1 || c.DiceCount > 8 {
		c.DiceCount = def.DiceCount
	}
	if c.BoardShape == "" {
		c.BoardShape = def.BoardShape
	}
}

// Lobby is the pre-game grouping of participants under a join code. The live
// copy is owned by the session registry; persisted copies are keyed by Code.
type Lobby struct {
	Code             string         `json:"code"`
	HostUserID       string         `json:"hostUserId"`
	HostConnectionID string         `json:"hostConnectionId,omitempty"`
	Participants     []*Participant `json:"participants"`
	Config           LobbyConfig    `json:"config"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy, participants included. Storage tiers hand clones
// across goroutine boundaries so the live lobby is only ever mutated under the
// lobby service's lock.
func (l *Lobby) Clone() *Lobby {
	cp := *l
	cp.Participants = make([]*Participant, len(l.Participants))
	for i, p := range l.Participants {
		pc := *p
		cp.Participants[i] = &pc
	}
	return &cp
}

// FindParticipant returns the participant with the given user id, tombstoned
// or not.
func (l *Lobby) FindParticipant(userID string) *Participant {
	for _, p := range l.Participants {
		if p.ID == userID {
			return p
		}
	}
	return nil
}

// ActiveParticipants returns participants in join order, tombstones excluded.
func (l *Lobby) ActiveParticipants() []*Participant {
	out := make([]*Participant, 0, len(l.Participants))
	for _, p := range l.Participants {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out
}

// ActiveCount counts non-tombstoned participants.
func (l *Lobby) ActiveCount() int {
	n := 0
	for _, p := range l.Participants {
		if p.Active() {
			n++
		}
	}
	return n
}

// AllActiveReady reports whether every active participant has readied up.
func (l *Lobby) AllActiveReady() bool {
	for _, p := range l.Participants {
		if p.Active() && !p.Ready {
			return false
		}
	}
	return true
}
