package lobby

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
	"github.com/Otheruser325/Protodice-sub001/internal/protocol"
	"github.com/Otheruser325/Protodice-sub001/internal/store"
)

func testService(t *testing.T) *Service {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	// Memory-only bridge: no remote, no file tier.
	return NewService(store.NewBridge(nil, nil, log), log)
}

func mustCreate(t *testing.T, s *Service, hostID string, maxPlayers int) *models.Lobby {
	t.Helper()
	cfg := models.DefaultLobbyConfig()
	cfg.MaxPlayers = maxPlayers
	l, err := s.Create(context.Background(), cfg, hostID, "Host", "conn-1")
	require.NoError(t, err)
	return l
}

func TestCreateAssignsValidCode(t *testing.T) {
	s := testService(t)
	l := mustCreate(t, s, "host-1", 2)

	assert.True(t, ValidCode(l.Code), "generated code %q must match the join-code shape", l.Code)
	assert.Equal(t, "host-1", l.HostUserID)
	require.Len(t, l.Participants, 1)
	assert.Equal(t, models.ParticipantActive, l.Participants[0].State)

	got, ok := s.Get(l.Code)
	require.True(t, ok)
	assert.Same(t, l, got)
}

func TestJoinRejectsMalformedAndUnknownCodes(t *testing.T) {
	s := testService(t)

	_, _, err := s.Join(context.Background(), "ab", "u1", "")
	pe, ok := protocol.AsError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeInvalidCode, pe.Code)

	_, _, err = s.Join(context.Background(), "ZZZZZ", "u1", "")
	pe, ok = protocol.AsError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeNotFound, pe.Code)
}

func TestJoinFullLobbyLeavesRosterUntouched(t *testing.T) {
	s := testService(t)
	l := mustCreate(t, s, "host-1", 2)

	_, _, err := s.Join(context.Background(), l.Code, "u2", "Beth")
	require.NoError(t, err)

	_, _, err = s.Join(context.Background(), l.Code, "u3", "Carl")
	pe, ok := protocol.AsError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeFull, pe.Code)
	assert.Len(t, l.Participants, 2, "rejected join must not touch the roster")
}

func TestJoinResolvesGuestName(t *testing.T) {
	s := testService(t)
	l := mustCreate(t, s, "host-1", 2)

	_, identity, err := s.Join(context.Background(), l.Code, "abcdef123", "")
	require.NoError(t, err)
	assert.Equal(t, "Guestabcd", identity.Name)
	assert.Equal(t, models.UserTypeGuest, identity.Type)
}

func TestRejoinReclaimsSameSlot(t *testing.T) {
	s := testService(t)
	l := mustCreate(t, s, "host-1", 4)
	_, _, err := s.Join(context.Background(), l.Code, "u2", "Beth")
	require.NoError(t, err)
	_, changed := s.ToggleReady(context.Background(), l.Code, "u2")
	require.True(t, changed)

	s.Leave(context.Background(), l.Code, "u2", models.ParticipantDisconnected, nil)
	require.Len(t, l.Participants, 2, "departure tombstones, never removes")
	assert.Equal(t, models.ParticipantDisconnected, l.Participants[1].State)

	_, _, err = s.Join(context.Background(), l.Code, "u2", "Beth")
	require.NoError(t, err)
	assert.Len(t, l.Participants, 2, "rejoin reclaims the tombstoned slot")
	assert.Equal(t, models.ParticipantActive, l.Participants[1].State)
	assert.False(t, l.Participants[1].Ready, "ready state resets on rejoin")
}

func TestHostMigratesInJoinOrder(t *testing.T) {
	s := testService(t)
	l := mustCreate(t, s, "host-1", 4)
	_, _, err := s.Join(context.Background(), l.Code, "u2", "Beth")
	require.NoError(t, err)
	_, _, err = s.Join(context.Background(), l.Code, "u3", "Carl")
	require.NoError(t, err)

	res := s.Leave(context.Background(), l.Code, "host-1", models.ParticipantLeft, func(userID string) string {
		return "conn-for-" + userID
	})
	require.False(t, res.Deleted)
	assert.True(t, res.HostChanged)
	assert.Equal(t, "u2", l.HostUserID)
	assert.Equal(t, "conn-for-u2", l.HostConnectionID)
}

func TestLobbyDeletedWhenLastActiveLeaves(t *testing.T) {
	s := testService(t)
	l := mustCreate(t, s, "host-1", 2)

	res := s.Leave(context.Background(), l.Code, "host-1", models.ParticipantLeft, nil)
	assert.True(t, res.Deleted)
	_, ok := s.Get(l.Code)
	assert.False(t, ok)
}

func TestToggleReadyIgnoresStrangers(t *testing.T) {
	s := testService(t)
	l := mustCreate(t, s, "host-1", 2)

	_, changed := s.ToggleReady(context.Background(), l.Code, "stranger")
	assert.False(t, changed)

	_, changed = s.ToggleReady(context.Background(), l.Code, "host-1")
	require.True(t, changed)
	assert.True(t, l.Participants[0].Ready)
}

func TestSnapshotValidatesStartPreconditions(t *testing.T) {
	ctx := context.Background()
	s := testService(t)
	l := mustCreate(t, s, "host-1", 2)

	_, _, err := s.Snapshot(ctx, l.Code, "host-1")
	pe, _ := protocol.AsError(err)
	require.NotNil(t, pe)
	assert.Equal(t, protocol.CodeTooFewPlayers, pe.Code)

	_, _, err = s.Join(ctx, l.Code, "u2", "Beth")
	require.NoError(t, err)

	_, _, err = s.Snapshot(ctx, l.Code, "u2")
	pe, _ = protocol.AsError(err)
	require.NotNil(t, pe)
	assert.Equal(t, protocol.CodeNotHost, pe.Code)

	_, _, err = s.Snapshot(ctx, l.Code, "host-1")
	pe, _ = protocol.AsError(err)
	require.NotNil(t, pe)
	assert.Equal(t, protocol.CodeNotReady, pe.Code)

	s.ToggleReady(ctx, l.Code, "host-1")
	s.ToggleReady(ctx, l.Code, "u2")

	players, cfg, err := s.Snapshot(ctx, l.Code, "host-1")
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, 2, cfg.MaxPlayers)
	assert.Equal(t, "host-1", players[0].UserID)
	assert.Equal(t, "icon_default", players[0].Avatar, "unpersisted users fall back to the default icon")
}

func TestDataProjectsActiveRosterOnly(t *testing.T) {
	ctx := context.Background()
	s := testService(t)
	l := mustCreate(t, s, "host-1", 4)
	_, _, err := s.Join(ctx, l.Code, "u2", "Beth")
	require.NoError(t, err)
	s.Leave(ctx, l.Code, "u2", models.ParticipantDisconnected, nil)

	data, ok := s.Data(l.Code)
	require.True(t, ok)
	require.Len(t, data.Roster, 1, "tombstones stay out of broadcast rosters")
	assert.Equal(t, "host-1", data.Roster[0].ID)
}

// TestSweeperRunsSafelyAlongsideLobbyMutations drives the storage sweeper
// against a lobby being joined and left in a tight loop. The storage tiers
// hand out detached copies, so the race detector must stay quiet.
func TestSweeperRunsSafelyAlongsideLobbyMutations(t *testing.T) {
	ctx := context.Background()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	bridge := store.NewBridge(nil, nil, log)
	s := NewService(bridge, log)

	cfg := models.DefaultLobbyConfig()
	l, err := s.Create(ctx, cfg, "host-1", "Host", "conn-1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			bridge.SweepOnce(ctx, time.Now())
		}
	}()

	for i := 0; i < 200; i++ {
		_, _, err := s.Join(ctx, l.Code, "u2", "Beth")
		require.NoError(t, err)
		s.Leave(ctx, l.Code, "u2", models.ParticipantDisconnected, nil)
	}
	<-done

	got, ok := s.Get(l.Code)
	require.True(t, ok, "the host kept the lobby alive throughout")
	assert.Equal(t, 1, got.ActiveCount())
}

func TestRandomCodeShape(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code := randomCode(rng)
		require.True(t, ValidCode(code), "randomCode produced %q", code)
		for _, ch := range code {
			assert.NotContains(t, "IO01", string(ch), "ambiguous characters are excluded")
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 990, "codes should essentially never collide at this sample size")
}

func TestFallbackCodeShape(t *testing.T) {
	assert.True(t, ValidCode(fallbackCode(time.Now())))
}
