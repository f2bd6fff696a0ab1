// Package storetest: общий набор проверок для реализаций store.Store.
package storetest

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/store"
)

// Run прогоняет контракт MessageStore/RoomStore. newStore должен возвращать пустое хранилище
// с MaxBodyLength = 10.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("HelloWorld", func(t *testing.T) { testHelloWorld(t, newStore(t)) })
	t.Run("ReadSinceBounds", func(t *testing.T) { testReadSinceBounds(t, newStore(t)) })
	t.Run("Validation", func(t *testing.T) { testValidation(t, newStore(t)) })
	t.Run("UnknownRoom", func(t *testing.T) { testUnknownRoom(t, newStore(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newStore(t)) })
	t.Run("RoomsAreIndependent", func(t *testing.T) { testRoomsIndependent(t, newStore(t)) })
	t.Run("ListRooms", func(t *testing.T) { testListRooms(t, newStore(t)) })
	t.Run("Since", func(t *testing.T) { testSince(t, newStore(t)) })
}

func mustRoom(t *testing.T, s store.Store, name, category string) domain.RoomID {
	t.Helper()
	room := &domain.Room{Name: name, Category: category}
	require.NoError(t, s.CreateRoom(context.Background(), room))
	require.NotZero(t, room.ID)
	return room.ID
}

func testHelloWorld(t *testing.T, s store.Store) {
	ctx := context.Background()
	room := mustRoom(t, s, "tavern", "city")

	_, err := s.Append(ctx, room, 7, "Hello")
	require.NoError(t, err)
	_, err = s.Append(ctx, room, 7, "World")
	require.NoError(t, err)

	got, err := s.ReadSince(ctx, room, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.MessageID(1), got[0].ID)
	assert.Equal(t, "Hello", got[0].Body)
	assert.Equal(t, domain.MessageID(2), got[1].ID)
	assert.Equal(t, "World", got[1].Body)
	assert.Equal(t, domain.CharacterID(7), got[1].AuthorCharacterID)
	assert.Equal(t, room, got[1].RoomID)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func testReadSinceBounds(t *testing.T, s store.Store) {
	ctx := context.Background()
	room := mustRoom(t, s, "library", "")
	for i := 0; i < 7; i++ {
		_, err := s.Append(ctx, room, 1, "m")
		require.NoError(t, err)
	}

	got, err := s.ReadSince(ctx, room, 3, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.MessageID(4), got[0].ID)
	assert.Equal(t, domain.MessageID(5), got[1].ID)

	got, err = s.ReadSince(ctx, room, 5, 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.Greater(t, m.ID, domain.MessageID(5))
	}

	got, err = s.ReadSince(ctx, room, 7, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ReadSince(ctx, room, 100, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	// курсор за пределами int64 не должен переворачиваться в отрицательный
	for _, after := range []domain.MessageID{store.MaxStoredID, store.MaxStoredID + 1, math.MaxUint64} {
		got, err = s.ReadSince(ctx, room, after, 10)
		require.NoError(t, err)
		assert.Empty(t, got, "after=%d", after)
	}
}

func testValidation(t *testing.T, s store.Store) {
	ctx := context.Background()
	room := mustRoom(t, s, "docks", "")

	_, err := s.Append(ctx, room, 1, "   ")
	require.ErrorIs(t, err, domain.ErrEmptyBody)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.Append(ctx, room, 1, strings.Repeat("ж", 11))
	require.ErrorIs(t, err, domain.ErrBodyTooLong)

	// ровно 10 символов проходит, неудачные попытки не расходуют id
	m, err := s.Append(ctx, room, 1, strings.Repeat("ж", 10))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(1), m.ID)

	m, err = s.Append(ctx, room, 1, "  trimmed  ")
	require.NoError(t, err)
	assert.Equal(t, "trimmed", m.Body)
	assert.Equal(t, domain.MessageID(2), m.ID)
}

func testUnknownRoom(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Append(ctx, 999, 1, "hi")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetRoom(ctx, 999)
	require.ErrorIs(t, err, domain.ErrRoomNotFound)

	got, err := s.ReadSince(ctx, 999, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testConcurrentAppend(t *testing.T, s store.Store) {
	ctx := context.Background()
	room := mustRoom(t, s, "arena", "")

	const writers, each = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*each)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(author domain.CharacterID) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if _, err := s.Append(ctx, room, author, "x"); err != nil {
					errs <- err
				}
			}
		}(domain.CharacterID(w + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var ids []domain.MessageID
	for m, err := range store.Since(ctx, s, room, 0, 17) {
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	require.Len(t, ids, writers*each)
	for i, id := range ids {
		require.Equal(t, domain.MessageID(i+1), id, "ids must be gap-free and ascending")
	}
}

func testRoomsIndependent(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustRoom(t, s, "a", "")
	b := mustRoom(t, s, "b", "")

	ma, err := s.Append(ctx, a, 1, "one")
	require.NoError(t, err)
	mb, err := s.Append(ctx, b, 1, "one")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(1), ma.ID)
	assert.Equal(t, domain.MessageID(1), mb.ID)
}

func testListRooms(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := mustRoom(t, s, "square", "city")
	mustRoom(t, s, "forest", "wild")
	third := mustRoom(t, s, "market", "city")

	city, err := s.ListRooms(ctx, "city", 0, 10)
	require.NoError(t, err)
	require.Len(t, city, 2)
	assert.Equal(t, first, city[0].ID)
	assert.Equal(t, third, city[1].ID)

	all, err := s.ListRooms(ctx, "", 0, 2)
	require.NoError(t, err)
	require.Len(t, all, 2)

	rest, err := s.ListRooms(ctx, "", all[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, third, rest[0].ID)

	err = s.CreateRoom(ctx, &domain.Room{Name: "  "})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func testSince(t *testing.T, s store.Store) {
	ctx := context.Background()
	room := mustRoom(t, s, "road", "")
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, room, 2, "step")
		require.NoError(t, err)
	}

	var got []domain.MessageID
	for m, err := range store.Since(ctx, s, room, 1, 2) {
		require.NoError(t, err)
		got = append(got, m.ID)
		if m.ID == 3 {
			break
		}
	}
	assert.Equal(t, []domain.MessageID{2, 3}, got)

	// перезапуск с последнего полученного id
	got = got[:0]
	for m, err := range store.Since(ctx, s, room, 3, 2) {
		require.NoError(t, err)
		got = append(got, m.ID)
	}
	assert.Equal(t, []domain.MessageID{4, 5}, got)
}
