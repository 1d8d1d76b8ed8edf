package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage(t *testing.T) {
	m, err := ParseClientMessage([]byte(`{"type":"roll","payload":{"code":"ABCDE"}}`))
	require.NoError(t, err)
	assert.Equal(t, "roll", m.Type)

	_, err = ParseClientMessage([]byte(`{not json`))
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeBadPayload, pe.Code)

	_, err = ParseClientMessage([]byte(`{"payload":{}}`))
	pe, ok = AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeBadPayload, pe.Code)
}

func TestLobbyActionRequiresCode(t *testing.T) {
	m, err := ParseClientMessage([]byte(`{"type":"join_lobby","payload":{"userId":"u1"}}`))
	require.NoError(t, err)

	_, err = m.LobbyAction()
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidCode, pe.Code)
}

func TestCreateLobbyDefaultsWithoutPayload(t *testing.T) {
	m, err := ParseClientMessage([]byte(`{"type":"create_lobby"}`))
	require.NoError(t, err)

	p, err := m.CreateLobby()
	require.NoError(t, err)
	assert.Equal(t, 2, p.Config.MaxPlayers)
	assert.Equal(t, 5, p.Config.TotalRounds)
	assert.True(t, p.Config.ComboScoring)
}

func TestCreateLobbyNormalizesConfig(t *testing.T) {
	m, err := ParseClientMessage([]byte(`{"type":"create_lobby","payload":{"config":{"maxPlayers":99,"totalRounds":0}}}`))
	require.NoError(t, err)

	p, err := m.CreateLobby()
	require.NoError(t, err)
	assert.LessOrEqual(t, p.Config.MaxPlayers, 4, "player cap is clamped")
	assert.Greater(t, p.Config.TotalRounds, 0, "round count falls back to the default")
}

func TestErrorEventMapsKindsToEventTypes(t *testing.T) {
	ev := ErrorEvent(NewAuthError(CodeMissingID, "no id"))
	assert.Equal(t, MsgAuthFailed, ev.Type)

	ev = ErrorEvent(NewValidationError(CodeFull, "lobby is full"))
	assert.Equal(t, MsgJoinFailed, ev.Type)

	ev = ErrorEvent(NewValidationError(CodeNotFound, "no such lobby"))
	assert.Equal(t, MsgJoinFailed, ev.Type)

	ev = ErrorEvent(NewStateError(CodeWrongTurn, "not your turn"))
	assert.Equal(t, MsgError, ev.Type)
	data := ev.Data.(ErrorData)
	assert.Equal(t, CodeWrongTurn, data.Code)

	// Non-protocol errors never leak detail.
	ev = ErrorEvent(assert.AnError)
	assert.Equal(t, MsgError, ev.Type)
	assert.Equal(t, "internal error", ev.Data.(ErrorData).Message)
}
