package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Otheruser325/Protodice-sub001/internal/auth"
	"github.com/Otheruser325/Protodice-sub001/internal/lobby"
	"github.com/Otheruser325/Protodice-sub001/internal/models"
	"github.com/Otheruser325/Protodice-sub001/internal/protocol"
	"github.com/Otheruser325/Protodice-sub001/internal/stats"
	"github.com/Otheruser325/Protodice-sub001/internal/store"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	auth.Init()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	bridge := store.NewBridge(nil, nil, log)
	reg := NewRegistry(
		lobby.NewService(bridge, log),
		auth.NewGate(bridge, log),
		bridge,
		stats.NewAggregator(bridge, log),
		nil, // no redis in tests
		log,
	)
	reg.LobbyLinger = 50 * time.Millisecond
	return reg
}

func connect(t *testing.T, reg *Registry) *Client {
	t.Helper()
	c := NewClient("", func() {})
	reg.Register(c)
	return c
}

// send dispatches a raw client message built from a type and payload struct.
func send(t *testing.T, reg *Registry, c *Client, typ string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = data
	}
	reg.Dispatch(context.Background(), c, &protocol.ClientMessage{Type: typ, Payload: raw})
}

// drain empties the client's out channel.
func drain(c *Client) []protocol.ServerMessage {
	var out []protocol.ServerMessage
	for {
		select {
		case msg := <-c.Out:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func findEvent(msgs []protocol.ServerMessage, typ string) (protocol.ServerMessage, bool) {
	for _, m := range msgs {
		if m.Type == typ {
			return m, true
		}
	}
	return protocol.ServerMessage{}, false
}

func identify(t *testing.T, reg *Registry, c *Client, id, name string) {
	t.Helper()
	send(t, reg, c, protocol.MsgIdentify, protocol.IdentifyPayload{ID: id, Name: name})
	msgs := drain(c)
	_, ok := findEvent(msgs, protocol.MsgAuthSuccess)
	require.True(t, ok, "identify must ack with auth_success")
}

// createLobby runs identify + create_lobby and returns the join code.
func createLobby(t *testing.T, reg *Registry, c *Client) string {
	t.Helper()
	send(t, reg, c, protocol.MsgCreateLobby, nil)
	msgs := drain(c)
	created, ok := findEvent(msgs, protocol.MsgLobbyCreated)
	require.True(t, ok, "create_lobby must emit lobby_created")
	data := created.Data.(protocol.LobbyData)
	require.NotEmpty(t, data.Code)
	return data.Code
}

func TestCreateRequiresIdentity(t *testing.T) {
	reg := testRegistry(t)
	c := connect(t, reg)

	send(t, reg, c, protocol.MsgCreateLobby, nil)
	msgs := drain(c)
	_, ok := findEvent(msgs, protocol.MsgAuthRequired)
	assert.True(t, ok)
	_, ok = findEvent(msgs, protocol.MsgLobbyCreated)
	assert.False(t, ok)
}

func TestLobbyFlowThroughGameStart(t *testing.T) {
	reg := testRegistry(t)
	host := connect(t, reg)
	guest := connect(t, reg)

	identify(t, reg, host, "host-1", "Ann")
	identify(t, reg, guest, "guest-1", "Beth")
	code := createLobby(t, reg, host)

	send(t, reg, guest, protocol.MsgJoinLobby, protocol.LobbyActionPayload{Code: code})
	guestMsgs := drain(guest)
	joined, ok := findEvent(guestMsgs, protocol.MsgJoinSuccess)
	require.True(t, ok)
	joinData := joined.Data.(protocol.JoinSuccessData)
	assert.Equal(t, "guest-1", joinData.You.ID)
	assert.Len(t, joinData.Roster, 2)

	// The host hears about the arrival.
	_, ok = findEvent(drain(host), protocol.MsgLobbyUpdated)
	assert.True(t, ok)

	send(t, reg, host, protocol.MsgToggleReady, protocol.LobbyActionPayload{Code: code})
	send(t, reg, guest, protocol.MsgToggleReady, protocol.LobbyActionPayload{Code: code})
	drain(host)
	drain(guest)

	send(t, reg, host, protocol.MsgStartGame, protocol.LobbyActionPayload{Code: code})

	_, running := reg.Session(code)
	require.True(t, running, "start_game must register a session")

	hostMsgs := drain(host)
	starting, ok := findEvent(hostMsgs, protocol.MsgGameStarting)
	require.True(t, ok)
	assert.Len(t, starting.Data.(protocol.GameStartingData).Players, 2)

	state, ok := findEvent(hostMsgs, protocol.MsgGameState)
	require.True(t, ok)
	assert.Equal(t, 0, state.Data.(protocol.GameStateData).LocalIndex)

	guestState, ok := findEvent(drain(guest), protocol.MsgGameState)
	require.True(t, ok)
	assert.Equal(t, 1, guestState.Data.(protocol.GameStateData).LocalIndex)

	_, ok = findEvent(hostMsgs, protocol.MsgTurnStart)
	assert.True(t, ok, "the first turn opens immediately")
}

func TestStartRejectedWhenNotReady(t *testing.T) {
	reg := testRegistry(t)
	host := connect(t, reg)
	guest := connect(t, reg)

	identify(t, reg, host, "host-1", "Ann")
	identify(t, reg, guest, "guest-1", "Beth")
	code := createLobby(t, reg, host)
	send(t, reg, guest, protocol.MsgJoinLobby, protocol.LobbyActionPayload{Code: code})
	drain(guest)
	drain(host)

	send(t, reg, host, protocol.MsgStartGame, protocol.LobbyActionPayload{Code: code})
	msgs := drain(host)
	ev, ok := findEvent(msgs, protocol.MsgError)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeNotReady, ev.Data.(protocol.ErrorData).Code)

	_, running := reg.Session(code)
	assert.False(t, running)
}

func TestJoinByPayloadUserIDSelfBinds(t *testing.T) {
	reg := testRegistry(t)
	host := connect(t, reg)
	identify(t, reg, host, "host-1", "Ann")
	code := createLobby(t, reg, host)

	// The second connection never identifies; it rides on the payload id.
	guest := connect(t, reg)
	send(t, reg, guest, protocol.MsgJoinLobby, protocol.LobbyActionPayload{Code: code, UserID: "guest-1", Name: "Beth"})

	msgs := drain(guest)
	joined, ok := findEvent(msgs, protocol.MsgJoinSuccess)
	require.True(t, ok)
	assert.Equal(t, "guest-1", joined.Data.(protocol.JoinSuccessData).You.ID)
	assert.Equal(t, "guest-1", guest.UserID(), "join self-binds the resolved identity")
}

func TestRollWithoutSessionRejected(t *testing.T) {
	reg := testRegistry(t)
	c := connect(t, reg)
	identify(t, reg, c, "u1", "Ann")
	code := createLobby(t, reg, c)

	send(t, reg, c, protocol.MsgRoll, protocol.LobbyActionPayload{Code: code})
	ev, ok := findEvent(drain(c), protocol.MsgError)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeNoSession, ev.Data.(protocol.ErrorData).Code)
}

func TestUnknownMessageTypeRejected(t *testing.T) {
	reg := testRegistry(t)
	c := connect(t, reg)

	reg.Dispatch(context.Background(), c, &protocol.ClientMessage{Type: "dance"})
	ev, ok := findEvent(drain(c), protocol.MsgError)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeBadPayload, ev.Data.(protocol.ErrorData).Code)
}

func TestGameFinishPersistsStats(t *testing.T) {
	reg := testRegistry(t)
	host := connect(t, reg)
	guest := connect(t, reg)
	identify(t, reg, host, "host-1", "Ann")
	identify(t, reg, guest, "guest-1", "Beth")
	code := createLobby(t, reg, host)
	send(t, reg, guest, protocol.MsgJoinLobby, protocol.LobbyActionPayload{Code: code})
	send(t, reg, host, protocol.MsgToggleReady, protocol.LobbyActionPayload{Code: code})
	send(t, reg, guest, protocol.MsgToggleReady, protocol.LobbyActionPayload{Code: code})
	drain(host)
	drain(guest)

	send(t, reg, host, protocol.MsgStartGame, protocol.LobbyActionPayload{Code: code})
	sess, ok := reg.Session(code)
	require.True(t, ok)

	// Instant resolution so the game can be driven to completion inline.
	sess.Mu.Lock()
	sess.RollDelay, sess.RollGrace, sess.TimeoutGrace = 0, 0, 0
	sess.Mu.Unlock()

	for !sess.Finished() {
		sess.Mu.Lock()
		actor := sess.Players[sess.CurrentIndex].UserID
		sess.Mu.Unlock()
		require.NoError(t, sess.HandleRoll(actor))
	}

	// Persistence runs off the finish callback on its own goroutine.
	ctx := context.Background()
	require.Eventually(t, func() bool {
		u, err := reg.bridge.LoadUser(ctx, "host-1")
		return err == nil && u.Stats.GamesPlayed == 1
	}, 2*time.Second, 10*time.Millisecond, "finished game must reach the store")

	hostRec, err := reg.bridge.LoadUser(ctx, "host-1")
	require.NoError(t, err)
	guestRec, err := reg.bridge.LoadUser(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, 1, guestRec.Stats.GamesPlayed)
	assert.GreaterOrEqual(t, hostRec.Stats.GamesWon+guestRec.Stats.GamesWon, 1)

	// Per-category counts come from the session's event list; their sum is
	// the total combos credited to the player.
	for _, rec := range []*models.User{hostRec, guestRec} {
		sum := 0
		for _, n := range rec.Stats.ComboCounts {
			sum += n
		}
		assert.Equal(t, rec.Stats.TotalCombosRolled, sum, "user %s", rec.ID)
	}
}

func TestDisconnectTombstonesAndRejoinReclaims(t *testing.T) {
	reg := testRegistry(t)
	host := connect(t, reg)
	guest := connect(t, reg)
	identify(t, reg, host, "host-1", "Ann")
	identify(t, reg, guest, "guest-1", "Beth")
	code := createLobby(t, reg, host)
	send(t, reg, guest, protocol.MsgJoinLobby, protocol.LobbyActionPayload{Code: code})
	drain(host)
	drain(guest)

	reg.Disconnect(context.Background(), guest)

	msgs := drain(host)
	updated, ok := findEvent(msgs, protocol.MsgLobbyUpdated)
	require.True(t, ok)
	assert.Len(t, updated.Data.(protocol.LobbyData).Roster, 1)

	// Same durable id on a fresh connection reclaims the slot.
	back := connect(t, reg)
	identify(t, reg, back, "guest-1", "Beth")
	send(t, reg, back, protocol.MsgJoinLobby, protocol.LobbyActionPayload{Code: code})
	joined, ok := findEvent(drain(back), protocol.MsgJoinSuccess)
	require.True(t, ok)
	assert.Len(t, joined.Data.(protocol.JoinSuccessData).Roster, 2)
}

func TestHostDisconnectMigratesHost(t *testing.T) {
	reg := testRegistry(t)
	host := connect(t, reg)
	guest := connect(t, reg)
	identify(t, reg, host, "host-1", "Ann")
	identify(t, reg, guest, "guest-1", "Beth")
	code := createLobby(t, reg, host)
	send(t, reg, guest, protocol.MsgJoinLobby, protocol.LobbyActionPayload{Code: code})
	drain(host)
	drain(guest)

	reg.Disconnect(context.Background(), host)

	updated, ok := findEvent(drain(guest), protocol.MsgLobbyUpdated)
	require.True(t, ok)
	assert.Equal(t, "guest-1", updated.Data.(protocol.LobbyData).HostID)
}

func TestLeaveLastPlayerDeletesLobby(t *testing.T) {
	reg := testRegistry(t)
	c := connect(t, reg)
	identify(t, reg, c, "u1", "Ann")
	code := createLobby(t, reg, c)

	send(t, reg, c, protocol.MsgLeaveLobby, protocol.LobbyActionPayload{Code: code})

	_, ok := reg.lobbies.Get(code)
	assert.False(t, ok)
	assert.Empty(t, c.LobbyCode())
}
