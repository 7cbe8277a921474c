package aggregate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atp-ledger/core/internal/ledger/aggregate"
	"github.com/atp-ledger/core/internal/ledger/eventstore"
)

func TestUser_Create_RejectsInvalidUsername(t *testing.T) {
	u := aggregate.NewUser("user-1")
	_, err := u.Create("a!", "a@example.com", "A", false)
	require.Error(t, err)
}

func TestUser_Create_RejectsEmptyEmail(t *testing.T) {
	u := aggregate.NewUser("user-1")
	_, err := u.Create("alice", "", "Alice", false)
	require.Error(t, err)
}

func TestUser_Deactivate_IsTerminal(t *testing.T) {
	u := aggregate.NewUser("user-1")
	createEvt, err := u.Create("alice", "alice@example.com", "Alice", false)
	require.NoError(t, err)
	createEvt.Version = 0
	require.NoError(t, u.Apply(createEvt))

	deactivateEvt, err := u.Deactivate(time.Now().UTC())
	require.NoError(t, err)
	deactivateEvt.Version = 1
	require.NoError(t, u.Apply(deactivateEvt))
	require.False(t, u.IsActive)
	require.NotNil(t, u.DeletedAt)

	_, err = u.Update(map[string]string{"email": "new@example.com"})
	require.Error(t, err)
}

func TestLoadUser_FoldsPersistedEvents(t *testing.T) {
	store := eventstore.NewMemory()
	ctx := context.Background()

	u := aggregate.NewUser("user-1")
	createEvt, err := u.Create("alice", "alice@example.com", "Alice", false)
	require.NoError(t, err)
	_, err = store.AppendAtomic(ctx, []eventstore.AggregateOperation{
		{AggregateType: eventstore.AggregateUser, AggregateID: "user-1", ExpectedVersion: -1, Events: []eventstore.Event{createEvt}},
	}, "")
	require.NoError(t, err)

	loaded, err := aggregate.LoadUser(ctx, store, "user-1")
	require.NoError(t, err)
	require.Equal(t, "alice", loaded.Username)
	require.True(t, loaded.IsActive)
}
