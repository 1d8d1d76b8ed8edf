// Package registry owns the live connection set and the in-flight game
// sessions, and routes every decoded client event to the service that handles
// it. It is the only package that knows both the transport side (clients) and
// the domain side (lobbies, sessions, stats).
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/auth"
	"github.com/Otheruser325/Protodice-sub001/internal/cache"
	"github.com/Otheruser325/Protodice-sub001/internal/game"
	"github.com/Otheruser325/Protodice-sub001/internal/lobby"
	"github.com/Otheruser325/Protodice-sub001/internal/models"
	"github.com/Otheruser325/Protodice-sub001/internal/protocol"
	"github.com/Otheruser325/Protodice-sub001/internal/stats"
	"github.com/Otheruser325/Protodice-sub001/internal/store"
)

// lobbyLingerAfterFinish is how long a finished game's lobby survives before
// the registry deletes it, giving clients time to show results and rematch.
const lobbyLingerAfterFinish = 15 * time.Second

// Registry routes client events into the lobby and game layers and fans
// broadcasts back out to connections.
type Registry struct {
	mu       sync.Mutex
	clients  map[uuid.UUID]*Client
	sessions map[string]*game.Session

	lobbies *lobby.Service
	gate    *auth.Gate
	bridge  *store.Bridge
	stats   *stats.Aggregator
	history *cache.Client
	log     *logrus.Logger

	// LobbyLinger overrides the post-game lobby deletion delay; tests shorten it.
	LobbyLinger time.Duration
}

func NewRegistry(lobbies *lobby.Service, gate *auth.Gate, bridge *store.Bridge, agg *stats.Aggregator, history *cache.Client, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		clients:     make(map[uuid.UUID]*Client),
		sessions:    make(map[string]*game.Session),
		lobbies:     lobbies,
		gate:        gate,
		bridge:      bridge,
		stats:       agg,
		history:     history,
		log:         log,
		LobbyLinger: lobbyLingerAfterFinish,
	}
}

// Register adds a live connection.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
}

// Session returns the running game for a lobby code, if any.
func (r *Registry) Session(code string) (*game.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[code]
	return s, ok
}

// connIDForUser resolves the connection currently bound to a user id. Linear
// scan; the connection set is small.
func (r *Registry) connIDForUser(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.UserID() == userID {
			return c.ID.String()
		}
	}
	return ""
}

// broadcastToLobby sends msg to every connection attached to the lobby code.
func (r *Registry) broadcastToLobby(code string, msg protocol.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.LobbyCode() == code {
			c.Send(msg)
		}
	}
}

// sendToUser sends msg to the connection bound to userID within the lobby.
func (r *Registry) sendToUser(code, userID string, msg protocol.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.LobbyCode() == code && c.UserID() == userID {
			c.Send(msg)
		}
	}
}

// Dispatch routes one decoded client message. Domain errors surface as the
// error event for their kind; the connection stays open.
func (r *Registry) Dispatch(ctx context.Context, c *Client, msg *protocol.ClientMessage) {
	var err error
	switch msg.Type {
	case protocol.MsgIdentify:
		err = r.handleIdentify(c, msg)
	case protocol.MsgCreateLobby:
		err = r.handleCreateLobby(ctx, c, msg)
	case protocol.MsgJoinLobby:
		err = r.handleJoinLobby(ctx, c, msg)
	case protocol.MsgToggleReady:
		err = r.handleToggleReady(ctx, c, msg)
	case protocol.MsgLeaveLobby:
		err = r.handleLeaveLobby(ctx, c, msg)
	case protocol.MsgStartGame:
		err = r.handleStartGame(ctx, c, msg)
	case protocol.MsgRoll:
		err = r.handleRoll(c, msg)
	case protocol.MsgEndTurn:
		err = r.handleEndTurn(c, msg)
	case protocol.MsgGameFinished:
		err = r.handleGameFinished(c, msg)
	default:
		err = protocol.NewValidationError(protocol.CodeBadPayload, "unknown message type: "+msg.Type)
	}
	if err != nil {
		r.log.WithFields(logrus.Fields{"conn": c.ID, "type": msg.Type}).WithError(err).Debug("event rejected")
		c.Send(protocol.ErrorEvent(err))
	}
}

func (r *Registry) handleIdentify(c *Client, msg *protocol.ClientMessage) error {
	p, err := msg.Identify()
	if err != nil {
		return err
	}
	return r.gate.Identify(c, p)
}

func (r *Registry) handleCreateLobby(ctx context.Context, c *Client, msg *protocol.ClientMessage) error {
	if !r.gate.EnsureAuthenticated(ctx, c) {
		return nil
	}
	p, err := msg.CreateLobby()
	if err != nil {
		return err
	}
	id := c.Identity()
	l, err := r.lobbies.Create(ctx, p.Config, id.ID, id.Name, c.ID.String())
	if err != nil {
		return err
	}
	c.SetLobbyCode(l.Code)

	data, _ := r.lobbies.Data(l.Code)
	c.Send(protocol.Event(protocol.MsgLobbyCreated, data))
	c.Send(protocol.Event(protocol.MsgLobbyData, data))
	return nil
}

// handleJoinLobby admits the connection into the lobby. A connection that has
// not identified yet may ride on the payload's userId; the resolved identity
// then self-binds so later events need no identify round-trip. If a game is
// already running for the code, the seat is reclaimed and a personalized
// snapshot sent instead of the lobby roster.
func (r *Registry) handleJoinLobby(ctx context.Context, c *Client, msg *protocol.ClientMessage) error {
	p, err := msg.LobbyAction()
	if err != nil {
		return err
	}

	userID := c.UserID()
	if userID == "" && p.UserID != "" {
		userID = p.UserID
	}
	if userID == "" {
		if !r.gate.EnsureAuthenticated(ctx, c) {
			return nil
		}
		userID = c.UserID()
	}

	l, identity, err := r.lobbies.Join(ctx, p.Code, userID, p.Name)
	if err != nil {
		return err
	}
	if c.Identity() == nil {
		c.BindIdentity(identity)
	}
	c.SetLobbyCode(l.Code)

	data, _ := r.lobbies.Data(l.Code)
	c.Send(protocol.Event(protocol.MsgJoinSuccess, protocol.JoinSuccessData{
		LobbyData: data,
		You: protocol.IdentityData{
			ID:   identity.ID,
			Name: identity.Name,
			Type: string(identity.Type),
		},
	}))
	r.broadcastToOthers(c, l.Code, protocol.Event(protocol.MsgLobbyUpdated, data))

	if sess, ok := r.Session(l.Code); ok && sess.MarkReturned(userID) {
		c.Send(protocol.Event(protocol.MsgGameState, sess.StateFor(userID)))
	}
	return nil
}

func (r *Registry) broadcastToOthers(except *Client, code string, msg protocol.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.ID != except.ID && c.LobbyCode() == code {
			c.Send(msg)
		}
	}
}

func (r *Registry) handleToggleReady(ctx context.Context, c *Client, msg *protocol.ClientMessage) error {
	p, err := msg.LobbyAction()
	if err != nil {
		return err
	}
	userID := c.UserID()
	if userID == "" {
		userID = p.UserID
	}
	if userID == "" {
		return protocol.NewAuthError(protocol.CodeAuthRequired, "identify before toggling ready")
	}
	if _, changed := r.lobbies.ToggleReady(ctx, p.Code, userID); changed {
		data, _ := r.lobbies.Data(p.Code)
		r.broadcastToLobby(p.Code, protocol.Event(protocol.MsgLobbyUpdated, data))
	}
	return nil
}

func (r *Registry) handleLeaveLobby(ctx context.Context, c *Client, msg *protocol.ClientMessage) error {
	p, err := msg.LobbyAction()
	if err != nil {
		return err
	}
	userID := c.UserID()
	if userID == "" {
		userID = p.UserID
	}
	if userID == "" {
		return protocol.NewAuthError(protocol.CodeAuthRequired, "identify before leaving")
	}
	r.departLobby(ctx, c, p.Code, userID, false)
	return nil
}

// departLobby applies a voluntary leave or a disconnect to both the lobby and
// any running session for its code.
func (r *Registry) departLobby(ctx context.Context, c *Client, code, userID string, disconnect bool) {
	if sess, ok := r.Session(code); ok {
		sess.MarkLeft(userID)
	}

	state := models.ParticipantLeft
	if disconnect {
		state = models.ParticipantDisconnected
	}
	res := r.lobbies.Leave(ctx, code, userID, state, r.connIDForUser)
	c.SetLobbyCode("")

	if res.Lobby == nil {
		return
	}
	if res.Deleted {
		r.broadcastToLobby(code, protocol.Event(protocol.MsgLobbyDeleted, map[string]string{"code": code}))
		return
	}
	data, _ := r.lobbies.Data(code)
	r.broadcastToLobby(code, protocol.Event(protocol.MsgLobbyUpdated, data))
	r.broadcastToLobby(code, protocol.Event(protocol.MsgPlayerLeft, map[string]string{"id": userID}))
}

func (r *Registry) handleStartGame(ctx context.Context, c *Client, msg *protocol.ClientMessage) error {
	if !r.gate.EnsureAuthenticated(ctx, c) {
		return nil
	}
	p, err := msg.LobbyAction()
	if err != nil {
		return err
	}

	players, cfg, err := r.lobbies.Snapshot(ctx, p.Code, c.UserID())
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, running := r.sessions[p.Code]; running {
		r.mu.Unlock()
		return protocol.NewStateError(protocol.CodeAlreadyRolled, "game already running for this lobby")
	}
	sess := game.NewSession(p.Code, cfg, players, r.log)
	r.sessions[p.Code] = sess
	r.mu.Unlock()

	r.wireSession(sess)

	views := sess.PlayerViews()
	r.broadcastToLobby(p.Code, protocol.Event(protocol.MsgGameStarting, protocol.GameStartingData{
		Code:    p.Code,
		Config:  cfg,
		Players: views,
	}))
	r.sendGameStates(p.Code, sess)

	sess.Begin()
	return nil
}

// sendGameStates delivers the personalized snapshot to each member connection.
func (r *Registry) sendGameStates(code string, sess *game.Session) {
	r.mu.Lock()
	members := make([]*Client, 0, 4)
	for _, c := range r.clients {
		if c.LobbyCode() == code {
			members = append(members, c)
		}
	}
	r.mu.Unlock()
	for _, c := range members {
		c.Send(protocol.Event(protocol.MsgGameState, sess.StateFor(c.UserID())))
	}
}

// wireSession attaches broadcast, history and finish plumbing to a new
// session. Stats writes and lobby teardown run off the session lock.
func (r *Registry) wireSession(sess *game.Session) {
	code := sess.Code

	sess.BroadcastFn = func(msg protocol.ServerMessage) {
		r.broadcastToLobby(code, msg)
	}
	sess.BroadcastToPlayerFn = func(userID string, msg protocol.ServerMessage) {
		r.sendToUser(code, userID, msg)
	}

	sess.OnTurnResolved = func(playerIndex int, userID string, dice []int, combo game.Combo, scored int, timedOut bool) {
		rec := cache.TurnRecord{
			LobbyCode:   code,
			Round:       sess.Round,
			PlayerIndex: playerIndex,
			UserID:      userID,
			Dice:        dice,
			Combo:       string(combo),
			Scored:      scored,
			TimedOut:    timedOut,
			Timestamp:   time.Now().Unix(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.history.PublishTurn(ctx, rec); err != nil {
				r.log.WithError(err).Warn("turn history publish failed")
			}
		}()
	}

	sess.OnFinish = func(sum game.FinishSummary) {
		go r.finalizeGame(sum)
	}
}

// finalizeGame persists stats for every seat, drops the session and schedules
// lobby teardown after a linger window for rematch UX.
func (r *Registry) finalizeGame(sum game.FinishSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	winners := make(map[string]bool, len(sum.Winners))
	for _, id := range sum.Winners {
		winners[id] = true
	}
	for userID, score := range sum.Scores {
		tally := stats.TallyFromEvents(sum.ComboEvents[userID])
		if err := r.stats.UpdatePlayerStats(ctx, userID, score, winners[userID], tally); err != nil {
			r.log.WithError(err).WithField("user_id", userID).Warn("stats update failed")
		}
	}

	r.mu.Lock()
	delete(r.sessions, sum.Code)
	r.mu.Unlock()

	linger := r.LobbyLinger
	time.AfterFunc(linger, func() {
		// A rematch started during the linger window keeps the lobby alive.
		if _, running := r.Session(sum.Code); running {
			return
		}
		delCtx, delCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer delCancel()
		if r.lobbies.Delete(delCtx, sum.Code) {
			r.broadcastToLobby(sum.Code, protocol.Event(protocol.MsgLobbyDeleted, map[string]string{"code": sum.Code}))
			r.detachLobby(sum.Code)
		}
	})
}

// detachLobby clears the lobby code from every connection still pointing at it.
func (r *Registry) detachLobby(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.LobbyCode() == code {
			c.SetLobbyCode("")
		}
	}
}

func (r *Registry) handleRoll(c *Client, msg *protocol.ClientMessage) error {
	p, err := msg.LobbyAction()
	if err != nil {
		return err
	}
	userID := c.UserID()
	if userID == "" {
		return protocol.NewAuthError(protocol.CodeAuthRequired, "identify before rolling")
	}
	sess, ok := r.Session(p.Code)
	if !ok {
		return protocol.NewStateError(protocol.CodeNoSession, "no running game for this lobby")
	}
	return sess.HandleRoll(userID)
}

func (r *Registry) handleEndTurn(c *Client, msg *protocol.ClientMessage) error {
	p, err := msg.EndTurn()
	if err != nil {
		return err
	}
	userID := c.UserID()
	if userID == "" {
		return protocol.NewAuthError(protocol.CodeAuthRequired, "identify before ending a turn")
	}
	sess, ok := r.Session(p.Code)
	if !ok {
		return protocol.NewStateError(protocol.CodeNoSession, "no running game for this lobby")
	}
	return sess.HandleEndTurn(userID, p.PlayerIndex)
}

// handleGameFinished is the client-side acknowledgement that it has seen the
// game_over screen. If the lobby still exists the fresh roster is sent so the
// client can offer a rematch; otherwise it is a no-op.
func (r *Registry) handleGameFinished(c *Client, msg *protocol.ClientMessage) error {
	p, err := msg.LobbyAction()
	if err != nil {
		return err
	}
	if data, ok := r.lobbies.Data(p.Code); ok {
		c.Send(protocol.Event(protocol.MsgLobbyData, data))
	}
	return nil
}

// Disconnect tears down a dropped connection: the participant is tombstoned
// as disconnected (not left) so a reconnect reclaims the same seat, then the
// connection is removed from the registry.
func (r *Registry) Disconnect(ctx context.Context, c *Client) {
	if code := c.LobbyCode(); code != "" {
		userID := c.UserID()
		if userID != "" {
			r.departLobby(ctx, c, code, userID, true)
		}
	}
	r.mu.Lock()
	delete(r.clients, c.ID)
	r.mu.Unlock()
	r.log.WithField("conn", c.ID).Debug("connection unregistered")
}
