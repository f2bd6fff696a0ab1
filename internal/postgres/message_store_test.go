package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/store"
	"github.com/cwrk-planet/room-bus/internal/store/storetest"
)

// Интеграционные тесты: нужен живой Postgres, DSN из ROOMBUS_TEST_PG_DSN.
func testPool(t *testing.T) *MessageStore {
	t.Helper()
	dsn := os.Getenv("ROOMBUS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ROOMBUS_TEST_PG_DSN is not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, Config{DSN: dsn, ApplicationName: "room-bus-test"})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE rooms, room_sequences, room_messages, room_presence RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return NewMessageStore(pool, store.Options{MaxBodyLength: 10})
}

func TestMessageStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return testPool(t) })
}

func TestPresenceMirror(t *testing.T) {
	s := testPool(t)
	m := NewPresenceMirror(s.db)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, m.Save(ctx, domain.PresenceEntry{RoomID: 1, CharacterID: 7, LastHeartbeatAt: at}))
	require.NoError(t, m.Save(ctx, domain.PresenceEntry{RoomID: 1, CharacterID: 8, LastHeartbeatAt: at}))
	require.NoError(t, m.Remove(ctx, 1, 8))

	got, err := m.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, domain.CharacterID(7), got[0].CharacterID)
	require.True(t, got[0].LastHeartbeatAt.Equal(at))
}
