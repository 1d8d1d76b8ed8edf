// Package lobby implements the pre-game lifecycle: create/join/ready/start/
// leave, join-code allocation, capacity, tombstoned rejoin and host
// migration. The live lobby map is owned here; every mutation persists
// through the storage bridge.
package lobby

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/game"
	"github.com/Otheruser325/Protodice-sub001/internal/models"
	"github.com/Otheruser325/Protodice-sub001/internal/protocol"
	"github.com/Otheruser325/Protodice-sub001/internal/store"
)

// Service owns the live lobbies, keyed by join code. All operations are
// serialized by a single mutex; lobbies hold 2-4 participants so contention
// is not a concern.
type Service struct {
	mu      sync.Mutex
	lobbies map[string]*models.Lobby
	bridge  *store.Bridge
	rng     *rand.Rand
	log     *logrus.Logger
}

func NewService(bridge *store.Bridge, log *logrus.Logger) *Service {
	return &Service{
		lobbies: make(map[string]*models.Lobby),
		bridge:  bridge,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     log,
	}
}

// Get returns the live lobby for code, if any.
func (s *Service) Get(code string) (*models.Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[strings.ToUpper(code)]
	return l, ok
}

// Create allocates a unique code, stores a lobby with the requester as its
// single (host) participant and persists it.
func (s *Service) Create(ctx context.Context, cfg models.LobbyConfig, hostID, hostName, hostConnID string) (*models.Lobby, error) {
	cfg.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	code := ""
	for i := 0; i < maxCodeAttempts; i++ {
		candidate := randomCode(s.rng)
		if _, taken := s.lobbies[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		code = fallbackCode(time.Now())
	}

	now := time.Now()
	l := &models.Lobby{
		Code:             code,
		HostUserID:       hostID,
		HostConnectionID: hostConnID,
		Config:           cfg,
		CreatedAt:        now,
		UpdatedAt:        now,
		Participants: []*models.Participant{
			{ID: hostID, Name: hostName, State: models.ParticipantActive},
		},
	}
	s.lobbies[code] = l
	s.persist(ctx, l)

	s.log.WithFields(logrus.Fields{"code": code, "host": hostID}).Info("lobby created")
	return l, nil
}

// Join adds the requester to the lobby, or resurrects their tombstoned slot
// on rejoin. The returned identity is the resolved {id, name, type} so a
// connection that joined via a raw user id can self-bind without a separate
// identify round-trip. Display name priority: connection-provided name,
// persisted user, generated guest label.
func (s *Service) Join(ctx context.Context, code, userID, connName string) (*models.Lobby, *models.User, error) {
	code = strings.ToUpper(code)
	if !ValidCode(code) {
		return nil, nil, protocol.NewValidationError(protocol.CodeInvalidCode, "malformed lobby code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lobbies[code]
	if !ok {
		return nil, nil, protocol.NewValidationError(protocol.CodeNotFound, "no such lobby")
	}
	if l.ActiveCount() >= l.Config.MaxPlayers {
		return nil, nil, protocol.NewValidationError(protocol.CodeFull, "lobby is full")
	}

	identity := s.resolveIdentity(ctx, userID, connName)

	if p := l.FindParticipant(userID); p != nil {
		// Idempotent rejoin: same slot, ready state reset.
		p.State = models.ParticipantActive
		p.Ready = false
		if connName != "" {
			p.Name = identity.Name
		}
	} else {
		l.Participants = append(l.Participants, &models.Participant{
			ID:    userID,
			Name:  identity.Name,
			State: models.ParticipantActive,
		})
	}
	s.persist(ctx, l)

	return l, identity, nil
}

func (s *Service) resolveIdentity(ctx context.Context, userID, connName string) *models.User {
	identity := &models.User{ID: userID, Type: models.UserTypeGuest}
	loadCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	persisted, err := s.bridge.LoadUser(loadCtx, userID)
	cancel()
	if err == nil && persisted != nil {
		identity.Type = persisted.Type
		identity.Name = persisted.Name
	}
	if connName != "" {
		identity.Name = connName
	}
	if identity.Name == "" {
		identity.Name = guestLabel(userID)
	}
	return identity
}

func guestLabel(userID string) string {
	prefix := userID
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return "Guest" + prefix
}

// ToggleReady flips the requester's ready flag. Unknown requesters are a
// no-op.
func (s *Service) ToggleReady(ctx context.Context, code, userID string) (*models.Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lobbies[strings.ToUpper(code)]
	if !ok {
		return nil, false
	}
	p := l.FindParticipant(userID)
	if p == nil || !p.Active() {
		return l, false
	}
	p.Ready = !p.Ready
	s.persist(ctx, l)
	return l, true
}

// LeaveResult describes the lobby after a departure.
type LeaveResult struct {
	Lobby       *models.Lobby
	Deleted     bool
	HostChanged bool
}

// Leave tombstones the participant. The host role migrates to the first
// remaining active participant in join order; its live connection id is
// re-resolved by scanning current connections for that user id, which is fine
// at 2-4 participants per lobby but would not scale past that. The lobby is
// deleted outright, cascading to storage, once no active participants remain.
func (s *Service) Leave(ctx context.Context, code, userID string, state models.ParticipantState, connIDForUser func(string) string) LeaveResult {
	if state == models.ParticipantActive {
		state = models.ParticipantLeft
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lobbies[strings.ToUpper(code)]
	if !ok {
		return LeaveResult{}
	}
	p := l.FindParticipant(userID)
	if p == nil || p.Gone() {
		return LeaveResult{Lobby: l}
	}

	p.State = state
	p.Ready = false

	res := LeaveResult{Lobby: l}

	if l.ActiveCount() == 0 {
		delete(s.lobbies, l.Code)
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		_ = s.bridge.DeleteLobby(delCtx, l.Code)
		cancel()
		res.Deleted = true
		s.log.WithField("code", l.Code).Info("lobby deleted, no active participants remain")
		return res
	}

	if l.HostUserID == userID {
		next := l.ActiveParticipants()[0]
		l.HostUserID = next.ID
		l.HostConnectionID = ""
		if connIDForUser != nil {
			l.HostConnectionID = connIDForUser(next.ID)
		}
		res.HostChanged = true
		s.log.WithFields(logrus.Fields{"code": l.Code, "host": next.ID}).Info("host migrated")
	}

	s.persist(ctx, l)
	return res
}

// Snapshot validates a start request and builds the game seats from the
// active roster, resolving each player's display avatar by identity type.
func (s *Service) Snapshot(ctx context.Context, code, requesterID string) ([]*game.Player, models.LobbyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lobbies[strings.ToUpper(code)]
	if !ok {
		return nil, models.LobbyConfig{}, protocol.NewValidationError(protocol.CodeNotFound, "no such lobby")
	}
	if l.HostUserID != requesterID {
		return nil, models.LobbyConfig{}, protocol.NewValidationError(protocol.CodeNotHost, "only the host can start the game")
	}
	active := l.ActiveParticipants()
	if len(active) < 2 {
		return nil, models.LobbyConfig{}, protocol.NewValidationError(protocol.CodeTooFewPlayers, "need at least two players")
	}
	if !l.AllActiveReady() {
		return nil, models.LobbyConfig{}, protocol.NewValidationError(protocol.CodeNotReady, "all players must be ready")
	}

	players := make([]*game.Player, 0, len(active))
	for _, p := range active {
		players = append(players, &game.Player{
			UserID:     p.ID,
			Name:       p.Name,
			Avatar:     s.resolveAvatar(ctx, p.ID),
			ComboStats: make(map[game.Combo]int),
		})
	}
	return players, l.Config, nil
}

func (s *Service) resolveAvatar(ctx context.Context, userID string) string {
	loadCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	u, err := s.bridge.LoadUser(loadCtx, userID)
	if err != nil || u == nil {
		return "icon_default"
	}
	return u.DisplayAvatar()
}

// Delete removes the lobby from the live map and every storage tier.
func (s *Service) Delete(ctx context.Context, code string) bool {
	code = strings.ToUpper(code)
	s.mu.Lock()
	_, ok := s.lobbies[code]
	delete(s.lobbies, code)
	s.mu.Unlock()
	if ok {
		_ = s.bridge.DeleteLobby(ctx, code)
	}
	return ok
}

// Data projects the active-only roster for broadcast; tombstones stay
// internal for audit and score continuity.
func (s *Service) Data(code string) (protocol.LobbyData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[strings.ToUpper(code)]
	if !ok {
		return protocol.LobbyData{}, false
	}
	return lobbyData(l), true
}

func lobbyData(l *models.Lobby) protocol.LobbyData {
	data := protocol.LobbyData{
		Code:   l.Code,
		HostID: l.HostUserID,
		Config: l.Config,
	}
	for _, p := range l.ActiveParticipants() {
		data.Roster = append(data.Roster, protocol.ParticipantView{
			ID:    p.ID,
			Name:  p.Name,
			Ready: p.Ready,
		})
	}
	return data
}

func (s *Service) persist(ctx context.Context, l *models.Lobby) {
	l.UpdatedAt = time.Now()
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = s.bridge.SaveLobby(saveCtx, l)
}
