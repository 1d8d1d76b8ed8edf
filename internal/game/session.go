package game

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
	"github.com/Otheruser325/Protodice-sub001/internal/protocol"
)

// TurnState is the engine's position within a single turn.
type TurnState int

const (
	StateWaitingForRoll TurnState = iota
	StateRolling
	StateResolved
	StateFinished
)

// Player is a seat in a started session, snapshotted from a lobby
// participant. Left players are tombstones: they keep their identity and
// accrued score so a reconnect stitches back into the same seat.
type Player struct {
	UserID    string
	Name      string
	Avatar    string
	Score     int
	HasRolled bool
	Left      bool
	// ComboStats counts per category for the finish broadcast; ComboEvents is
	// the same information as the ordered event list the stats layer tallies.
	ComboStats  map[Combo]int
	ComboEvents []string
}

// FinishSummary is handed to OnFinish with everything the registry needs to
// persist stats and announce results without re-locking the session.
type FinishSummary struct {
	Code        string
	Scores      map[string]int
	Names       map[string]string
	Winners     []string
	ComboStats  map[string]map[string]int
	ComboEvents map[string][]string
}

// Session is the server-authoritative instance of a started lobby's game.
// Every timer is owned by the session and cancelled on any transition that
// supersedes it; a stale fire is a no-op thanks to the turn id guard.
type Session struct {
	Code        string
	Config      models.LobbyConfig
	Players     []*Player
	CurrentIndex int
	Round        int
	TotalRounds  int
	State        TurnState
	TurnExpiresAt time.Time

	// Tunable delays; tests shorten them.
	RollDelay    time.Duration
	RollGrace    time.Duration
	TimeoutGrace time.Duration

	// BroadcastFn sends an event to every connected player. BroadcastToPlayerFn
	// targets one seat. Either may be nil.
	BroadcastFn         func(protocol.ServerMessage)
	BroadcastToPlayerFn func(userID string, msg protocol.ServerMessage)

	// OnTurnResolved receives every resolved roll for out-of-process history.
	OnTurnResolved func(playerIndex int, userID string, dice []int, combo Combo, scored int, timedOut bool)
	// OnFinish runs exactly once when the session becomes terminal.
	OnFinish func(FinishSummary)

	Mu sync.Mutex

	turnID       int
	turnTimer    *time.Timer
	resolveTimer *time.Timer
	graceTimer   *time.Timer
	rng          *rand.Rand
	log          *logrus.Logger
}

// NewSession builds a session from a lobby snapshot.
func NewSession(code string, cfg models.LobbyConfig, players []*Player, log *logrus.Logger) *Session {
	if log == nil {
		log = logrus.New()
	}
	return &Session{
		Code:         code,
		Config:       cfg,
		Players:      players,
		TotalRounds:  cfg.TotalRounds,
		RollDelay:    1200 * time.Millisecond,
		RollGrace:    10 * time.Second,
		TimeoutGrace: 4 * time.Second,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		log:          log,
	}
}

// SeedRNG replaces the dice source; tests use it for deterministic rolls.
func (s *Session) SeedRNG(seed int64) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.rng = rand.New(rand.NewSource(seed))
}

// Begin starts round one with the first seat.
func (s *Session) Begin() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.State == StateFinished || s.Round != 0 {
		return
	}
	s.Round = 1
	s.CurrentIndex = 0
	s.startTurnLocked()
}

// Finished reports whether the session is terminal.
func (s *Session) Finished() bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.State == StateFinished
}

func (s *Session) activeCountLocked() int {
	n := 0
	for _, p := range s.Players {
		if !p.Left {
			n++
		}
	}
	return n
}

func (s *Session) cancelTimersLocked() {
	for _, t := range []*time.Timer{s.turnTimer, s.resolveTimer, s.graceTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.turnTimer, s.resolveTimer, s.graceTimer = nil, nil, nil
}

func (s *Session) broadcast(msg protocol.ServerMessage) {
	if s.BroadcastFn != nil {
		s.BroadcastFn(msg)
	}
}

// startTurnLocked opens a turn for the player at CurrentIndex: clears their
// roll flag, arms the turn countdown and announces the turn.
func (s *Session) startTurnLocked() {
	s.turnID++
	s.cancelTimersLocked()

	p := s.Players[s.CurrentIndex]
	p.HasRolled = false
	s.State = StateWaitingForRoll

	limit := time.Duration(s.Config.TurnTimeLimitSec) * time.Second
	s.TurnExpiresAt = time.Now().Add(limit)

	id := s.turnID
	s.turnTimer = time.AfterFunc(limit, func() { s.turnTimedOut(id) })

	s.broadcast(protocol.Event(protocol.MsgTurnStart, protocol.TurnStartData{
		PlayerIndex:  s.CurrentIndex,
		Round:        s.Round,
		TimeLimitSec: s.Config.TurnTimeLimitSec,
		ExpiresAt:    s.TurnExpiresAt,
	}))
}

// HandleRoll processes a roll request from userID. Only the current non-left
// player may roll, and only once per turn.
func (s *Session) HandleRoll(userID string) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.State == StateFinished {
		return protocol.NewStateError(protocol.CodeNoSession, "game already finished")
	}
	current := s.Players[s.CurrentIndex]
	if current.Left || current.UserID != userID {
		return protocol.NewStateError(protocol.CodeWrongTurn, "not your turn")
	}
	if s.State != StateWaitingForRoll {
		return protocol.NewStateError(protocol.CodeAlreadyRolled, "roll already in progress")
	}

	s.State = StateRolling
	if s.turnTimer != nil {
		s.turnTimer.Stop()
		s.turnTimer = nil
	}

	if s.RollDelay <= 0 {
		s.resolveRollLocked(false)
		return nil
	}
	id := s.turnID
	s.resolveTimer = time.AfterFunc(s.RollDelay, func() { s.rollResolves(id) })
	return nil
}

func (s *Session) rollResolves(id int) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.State != StateRolling || id != s.turnID {
		return
	}
	s.resolveRollLocked(false)
}

// turnTimedOut fires when the current player neither rolled nor ended their
// turn in time. The engine rolls on their behalf with a shorter grace window
// so an unresponsive client never stalls the session.
func (s *Session) turnTimedOut(id int) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.State != StateWaitingForRoll || id != s.turnID {
		return
	}
	p := s.Players[s.CurrentIndex]
	s.log.WithFields(logrus.Fields{"code": s.Code, "seat": s.CurrentIndex}).Info("turn timed out, rolling on player's behalf")
	s.broadcast(protocol.Event(protocol.MsgPlayerTimeout, protocol.PlayerTimeoutData{
		PlayerIndex: s.CurrentIndex,
		UserID:      p.UserID,
	}))
	s.State = StateRolling
	s.resolveRollLocked(true)
}

// resolveRollLocked draws the dice, applies combo scoring, and arms the grace
// window before auto-advance.
func (s *Session) resolveRollLocked(timedOut bool) {
	p := s.Players[s.CurrentIndex]

	dice := RollDice(s.rng, s.Config.DiceCount)
	scored, sum, combo := ScoreRoll(dice, s.Config.ComboScoring)

	p.Score += scored
	p.HasRolled = true
	if combo != ComboNone {
		if p.ComboStats == nil {
			p.ComboStats = make(map[Combo]int)
		}
		p.ComboStats[combo]++
		p.ComboEvents = append(p.ComboEvents, string(combo))
	}
	s.State = StateResolved

	grace := s.RollGrace
	if timedOut {
		grace = s.TimeoutGrace
	}
	s.TurnExpiresAt = time.Now().Add(grace)

	id := s.turnID
	if grace > 0 {
		s.graceTimer = time.AfterFunc(grace, func() { s.graceExpired(id) })
	}

	scores := make([]int, len(s.Players))
	for i, pl := range s.Players {
		scores[i] = pl.Score
	}
	s.broadcast(protocol.Event(protocol.MsgTurnResult, protocol.TurnResultData{
		PlayerIndex: s.CurrentIndex,
		Dice:        dice,
		Sum:         sum,
		Combo:       string(combo),
		Scored:      scored,
		Scores:      scores,
		TimedOut:    timedOut,
		ExpiresAt:   s.TurnExpiresAt,
	}))

	if s.OnTurnResolved != nil {
		s.OnTurnResolved(s.CurrentIndex, p.UserID, dice, combo, scored, timedOut)
	}

	if grace <= 0 {
		s.advanceLocked()
	}
}

func (s *Session) graceExpired(id int) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.State != StateResolved || id != s.turnID {
		return
	}
	s.advanceLocked()
}

// HandleEndTurn ends the current turn early, inside the grace window.
func (s *Session) HandleEndTurn(userID string, playerIndex int) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.State == StateFinished {
		return protocol.NewStateError(protocol.CodeNoSession, "game already finished")
	}
	current := s.Players[s.CurrentIndex]
	if current.Left || current.UserID != userID {
		return protocol.NewStateError(protocol.CodeWrongTurn, "not your turn")
	}
	if playerIndex >= 0 && playerIndex != s.CurrentIndex {
		return protocol.NewStateError(protocol.CodeWrongTurn, "player index does not match the current turn")
	}
	if !current.HasRolled {
		return protocol.NewValidationError(protocol.CodeNotRolled, "cannot end turn before rolling")
	}

	s.advanceLocked()
	return nil
}

// MarkLeft tombstones a player. The skip logic in advance routes around them;
// if it was their turn the session moves on immediately.
func (s *Session) MarkLeft(userID string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	var idx = -1
	for i, p := range s.Players {
		if p.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 || s.Players[idx].Left {
		return
	}
	s.Players[idx].Left = true
	s.broadcast(protocol.Event(protocol.MsgPlayerLeft, map[string]string{"id": userID}))

	if s.State == StateFinished {
		return
	}
	if s.activeCountLocked() <= 1 {
		s.finishLocked()
		return
	}
	if idx == s.CurrentIndex {
		s.advanceLocked()
	}
}

// MarkReturned reconnects a tombstoned player into their existing seat.
// Identity continuity is keyed by durable user id, not connection id.
func (s *Session) MarkReturned(userID string) bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	for _, p := range s.Players {
		if p.UserID == userID {
			p.Left = false
			return true
		}
	}
	return false
}

// advanceLocked scans forward circularly from CurrentIndex, skipping
// tombstones. A wrap past the end of the order increments the round; the
// session finishes once the round budget is spent or one player remains.
func (s *Session) advanceLocked() {
	s.cancelTimersLocked()

	if s.activeCountLocked() <= 1 {
		s.finishLocked()
		return
	}

	n := len(s.Players)
	next := -1
	for i := 1; i <= n; i++ {
		idx := (s.CurrentIndex + i) % n
		if !s.Players[idx].Left {
			next = idx
			break
		}
	}
	if next < 0 {
		s.finishLocked()
		return
	}

	if next <= s.CurrentIndex {
		s.Round++
		if s.Round > s.TotalRounds {
			s.finishLocked()
			return
		}
	}

	s.CurrentIndex = next
	s.startTurnLocked()
}

// finishLocked makes the session terminal, exactly once. Every player whose
// score equals the maximum is credited a win; ties therefore grant a win to
// each player sharing the top score.
func (s *Session) finishLocked() {
	if s.State == StateFinished {
		return
	}
	s.State = StateFinished
	s.turnID++
	s.cancelTimersLocked()

	maxScore := 0
	for _, p := range s.Players {
		if p.Score > maxScore {
			maxScore = p.Score
		}
	}

	summary := FinishSummary{
		Code:        s.Code,
		Scores:      make(map[string]int, len(s.Players)),
		Names:       make(map[string]string, len(s.Players)),
		ComboStats:  make(map[string]map[string]int, len(s.Players)),
		ComboEvents: make(map[string][]string, len(s.Players)),
	}
	for _, p := range s.Players {
		summary.Scores[p.UserID] = p.Score
		summary.Names[p.UserID] = p.Name
		tally := make(map[string]int, len(p.ComboStats))
		for c, n := range p.ComboStats {
			tally[string(c)] = n
		}
		summary.ComboStats[p.UserID] = tally
		summary.ComboEvents[p.UserID] = append([]string(nil), p.ComboEvents...)
		if p.Score == maxScore {
			summary.Winners = append(summary.Winners, p.UserID)
		}
	}

	s.broadcast(protocol.Event(protocol.MsgGameOver, protocol.GameOverData{
		Code:       summary.Code,
		Scores:     summary.Scores,
		Names:      summary.Names,
		ComboStats: summary.ComboStats,
		Winners:    summary.Winners,
	}))

	if s.OnFinish != nil {
		s.OnFinish(summary)
	}
}

// StateFor builds the personalized snapshot sent to one player, including
// their own seat index.
func (s *Session) StateFor(userID string) protocol.GameStateData {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	data := protocol.GameStateData{
		Code:         s.Code,
		Players:      s.playerViewsLocked(),
		CurrentIndex: s.CurrentIndex,
		Round:        s.Round,
		TotalRounds:  s.TotalRounds,
		LocalIndex:   -1,
		ExpiresAt:    s.TurnExpiresAt,
	}
	for i, p := range s.Players {
		if p.UserID == userID {
			data.LocalIndex = i
			break
		}
	}
	return data
}

// PlayerViews returns the current roster for broadcast payloads.
func (s *Session) PlayerViews() []protocol.PlayerView {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.playerViewsLocked()
}

func (s *Session) playerViewsLocked() []protocol.PlayerView {
	views := make([]protocol.PlayerView, len(s.Players))
	for i, p := range s.Players {
		views[i] = protocol.PlayerView{
			ID:     p.UserID,
			Name:   p.Name,
			Avatar: p.Avatar,
			Score:  p.Score,
			Left:   p.Left,
		}
	}
	return views
}
