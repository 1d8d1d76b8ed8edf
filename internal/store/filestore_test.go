package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Otheruser325/Protodice-sub001/internal/models"
)

func TestFileStoreRoundTripAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs := NewFileStore(dir, quietLogger())
	require.NoError(t, fs.SaveUser(ctx, &models.User{
		ID:   "u1",
		Name: "Ann",
		Type: models.UserTypeGuest,
		Stats: models.LeaderboardStats{
			GamesPlayed: 3,
			ComboCounts: map[string]int{"pair": 2},
		},
	}))
	require.NoError(t, fs.SaveLobby(ctx, &models.Lobby{
		Code: "ABCDE",
		Participants: []*models.Participant{
			{ID: "u1", State: models.ParticipantActive},
		},
	}))
	fs.Close()

	// A fresh instance over the same directory sees the persisted documents.
	reopened := NewFileStore(dir, quietLogger())
	defer reopened.Close()

	u, err := reopened.LoadUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)
	assert.Equal(t, 3, u.Stats.GamesPlayed)
	assert.Equal(t, 2, u.Stats.ComboCounts["pair"])

	l, err := reopened.LoadLobby(ctx, "ABCDE")
	require.NoError(t, err)
	require.Len(t, l.Participants, 1)
	assert.Equal(t, models.ParticipantActive, l.Participants[0].State)
}

func TestFileStoreDeleteLobby(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(t.TempDir(), quietLogger())
	defer fs.Close()

	require.NoError(t, fs.SaveLobby(ctx, &models.Lobby{Code: "ABCDE"}))
	require.NoError(t, fs.DeleteLobby(ctx, "ABCDE"))

	_, err := fs.LoadLobby(ctx, "ABCDE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreMissingKeys(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(t.TempDir(), quietLogger())
	defer fs.Close()

	_, err := fs.LoadUser(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	users, err := fs.LoadUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestFileStoreLoadUserReturnsCopy(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(t.TempDir(), quietLogger())
	defer fs.Close()

	require.NoError(t, fs.SaveUser(ctx, &models.User{ID: "u1", Name: "Ann"}))
	u, err := fs.LoadUser(ctx, "u1")
	require.NoError(t, err)
	u.Name = "Mutated"

	again, err := fs.LoadUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", again.Name, "callers must not be able to mutate the stored record")
}
