package bus_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cwrk-planet/room-bus/internal/bus"
	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBus(t *testing.T, opts bus.Options) (*bus.Bus, *store.Memory, domain.RoomID) {
	t.Helper()
	st := store.NewMemory(store.Options{})
	room := &domain.Room{Name: "Таверна"}
	require.NoError(t, st.CreateRoom(context.Background(), room))
	if opts.Rooms == nil {
		opts.Rooms = st
	}
	b := bus.New(st, opts)
	t.Cleanup(b.Close)
	return b, st, room.ID
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func nextIDs(t *testing.T, ctx context.Context, sub *bus.Subscription, n int) []domain.MessageID {
	t.Helper()
	ids := make([]domain.MessageID, 0, n)
	for range n {
		m, err := sub.Next(ctx)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	return ids
}

func TestBus_BacklogThenLive(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{})

	_, err := b.Publish(ctx, room, 7, "Hello")
	require.NoError(t, err)
	_, err = b.Publish(ctx, room, 7, "World")
	require.NoError(t, err)

	sub, err := b.Subscribe(ctx, room, "s1", 0)
	require.NoError(t, err)
	defer sub.Close()

	for _, body := range []string{"a", "b", "c"} {
		_, err := b.Publish(ctx, room, 8, body)
		require.NoError(t, err)
	}

	first, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello", first.Body)
	assert.Equal(t, domain.CharacterID(7), first.AuthorCharacterID)

	assert.Equal(t, []domain.MessageID{2, 3, 4, 5}, nextIDs(t, ctx, sub, 4))

	cur, err := b.Cursor(room, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(5), cur.LastSeenMessageID)
}

func TestBus_SinceSkipsOlder(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{})
	for range 4 {
		_, err := b.Publish(ctx, room, 1, "x")
		require.NoError(t, err)
	}

	sub, err := b.Subscribe(ctx, room, "", 2)
	require.NoError(t, err)
	defer sub.Close()
	assert.Len(t, sub.ID(), 26, "generated subscriber id is a ULID")

	assert.Equal(t, []domain.MessageID{3, 4}, nextIDs(t, ctx, sub, 2))
}

func TestBus_BacklogAcrossPages(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{PageSize: 3, BufferSize: 4})
	for range 10 {
		_, err := b.Publish(ctx, room, 1, "x")
		require.NoError(t, err)
	}

	sub, err := b.Subscribe(ctx, room, "pager", 0)
	require.NoError(t, err)
	defer sub.Close()

	got := nextIDs(t, ctx, sub, 10)
	for i, id := range got {
		assert.Equal(t, domain.MessageID(i+1), id)
	}
}

// Буфер на 2, подписчик догнал историю, три публикации без чтения.
func TestBus_OverflowThenResubscribe(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{BufferSize: 2})

	sub, err := b.Subscribe(ctx, room, "slow", 0)
	require.NoError(t, err)

	_, err = b.Publish(ctx, room, 7, "m1")
	require.NoError(t, err)
	assert.Equal(t, []domain.MessageID{1}, nextIDs(t, ctx, sub, 1))

	for _, body := range []string{"m2", "m3", "m4"} {
		_, err := b.Publish(ctx, room, 7, body)
		require.NoError(t, err, "publish must not fail because of a slow subscriber")
	}
	assert.Equal(t, 0, b.Subscribers(room))

	assert.Equal(t, []domain.MessageID{2, 3}, nextIDs(t, ctx, sub, 2))

	_, err = sub.Next(ctx)
	var overflow *domain.OverflowError
	require.ErrorAs(t, err, &overflow)
	assert.ErrorIs(t, err, domain.ErrOverflow)
	assert.Equal(t, domain.MessageID(3), overflow.LastSeen)
	assert.Equal(t, "slow", overflow.SubscriberID)

	again, err := b.Subscribe(ctx, room, "slow", overflow.LastSeen)
	require.NoError(t, err)
	defer again.Close()

	_, err = b.Publish(ctx, room, 7, "m5")
	require.NoError(t, err)
	assert.Equal(t, []domain.MessageID{4, 5}, nextIDs(t, ctx, again, 2))
}

func TestBus_OverflowBeforeFirstRead(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{BufferSize: 2})

	sub, err := b.Subscribe(ctx, room, "idle", 0)
	require.NoError(t, err)
	for range 3 {
		_, err := b.Publish(ctx, room, 7, "x")
		require.NoError(t, err)
	}

	got := []domain.MessageID{}
	var overflow *domain.OverflowError
	for {
		m, err := sub.Next(ctx)
		if err != nil {
			require.ErrorAs(t, err, &overflow)
			break
		}
		got = append(got, m.ID)
	}
	assert.Equal(t, []domain.MessageID{1, 2, 3}, got)
	assert.Equal(t, domain.MessageID(3), overflow.LastSeen)
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	ctx := testCtx(t)
	b, st, room := newBus(t, bus.Options{})

	subCtx, cancel := context.WithCancel(ctx)
	sub, err := b.Subscribe(subCtx, room, "gone", 0)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers(room) == 0 }, time.Second, time.Millisecond)

	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, bus.ErrClosed)

	_, err = b.Publish(ctx, room, 1, "after cancel")
	require.NoError(t, err)

	msgs, err := st.ReadSince(ctx, room, 0, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = b.Cursor(room, "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBus_NextHonoursContext(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{})

	sub, err := b.Subscribe(ctx, room, "waiter", 0)
	require.NoError(t, err)
	defer sub.Close()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = b.Publish(ctx, room, 1, "late")
	require.NoError(t, err)
	assert.Equal(t, []domain.MessageID{1}, nextIDs(t, ctx, sub, 1))
}

func TestBus_ConcurrentPublishersSameOrder(t *testing.T) {
	ctx := testCtx(t)
	const (
		publishers = 4
		perPub     = 25
		total      = publishers * perPub
	)
	b, _, room := newBus(t, bus.Options{BufferSize: total})

	subs := make([]*bus.Subscription, 3)
	for i := range subs {
		sub, err := b.Subscribe(ctx, room, "", 0)
		require.NoError(t, err)
		defer sub.Close()
		subs[i] = sub
	}

	var wg sync.WaitGroup
	for p := range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perPub {
				_, err := b.Publish(ctx, room, domain.CharacterID(p+1), "x")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	var reference []domain.Message
	for i, sub := range subs {
		got := make([]domain.Message, 0, total)
		for range total {
			m, err := sub.Next(ctx)
			require.NoError(t, err)
			got = append(got, m)
		}
		for j, m := range got {
			assert.Equal(t, domain.MessageID(j+1), m.ID)
		}
		if i == 0 {
			reference = got
			continue
		}
		assert.Equal(t, reference, got)
	}
}

func TestBus_DeliverFillsGapFromStore(t *testing.T) {
	ctx := testCtx(t)
	b, st, room := newBus(t, bus.Options{})

	m1, err := st.Append(ctx, room, 1, "one")
	require.NoError(t, err)

	sub, err := b.Subscribe(ctx, room, "remote", 0)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, []domain.MessageID{m1.ID}, nextIDs(t, ctx, sub, 1))

	// сообщения другого узла приходят не по порядку
	m2, err := st.Append(ctx, room, 2, "two")
	require.NoError(t, err)
	m3, err := st.Append(ctx, room, 2, "three")
	require.NoError(t, err)
	b.Deliver(m3)
	b.Deliver(m2)
	b.Deliver(m3)

	assert.Equal(t, []domain.MessageID{2, 3}, nextIDs(t, ctx, sub, 2))

	m4, err := st.Append(ctx, room, 2, "four")
	require.NoError(t, err)
	b.Deliver(m4)
	assert.Equal(t, []domain.MessageID{4}, nextIDs(t, ctx, sub, 1))
}

func TestBus_Errors(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{})

	sub, err := b.Subscribe(ctx, room, "watch", 0)
	require.NoError(t, err)
	defer sub.Close()

	_, err = b.Publish(ctx, room, 1, "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, domain.Retryable(err))

	_, err = b.Publish(ctx, 404, 1, "hi")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = b.Subscribe(ctx, 404, "x", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = b.Cursor(room, "nobody")
	assert.ErrorIs(t, err, domain.ErrSubscriberNotFound)

	_, err = b.JoinPresence(ctx, 404, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	msg, err := b.Publish(ctx, room, 1, "ok")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(1), msg.ID, "failed publishes do not consume ids")
	assert.Equal(t, []domain.MessageID{1}, nextIDs(t, ctx, sub, 1))
}

func TestBus_DuplicateSubscriberReplaces(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{})

	old, err := b.Subscribe(ctx, room, "dup", 0)
	require.NoError(t, err)
	fresh, err := b.Subscribe(ctx, room, "dup", 0)
	require.NoError(t, err)
	defer fresh.Close()

	_, err = b.Publish(ctx, room, 1, "x")
	require.NoError(t, err)

	assert.Equal(t, 1, b.Subscribers(room))
	_, err = old.Next(ctx)
	assert.True(t, errors.Is(err, bus.ErrClosed), "got %v", err)
	assert.Equal(t, []domain.MessageID{1}, nextIDs(t, ctx, fresh, 1))

	old.Close()
	assert.Equal(t, 1, b.Subscribers(room), "closing the replaced subscription keeps the new one")
}

func TestBus_All(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{})
	for _, body := range []string{"a", "b", "c"} {
		_, err := b.Publish(ctx, room, 1, body)
		require.NoError(t, err)
	}

	sub, err := b.Subscribe(ctx, room, "iter", 0)
	require.NoError(t, err)
	defer sub.Close()

	var bodies []string
	for m, err := range sub.All(ctx) {
		require.NoError(t, err)
		bodies = append(bodies, m.Body)
		if len(bodies) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, bodies)
	assert.Equal(t, domain.MessageID(2), sub.LastSeen())
}

func TestBus_Presence(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{})

	assert.False(t, b.Heartbeat(ctx, room, 7), "heartbeat on absent is a no-op")

	_, err := b.JoinPresence(ctx, room, 7)
	require.NoError(t, err)
	present, err := b.ListPresent(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []domain.CharacterID{7}, present)
	assert.True(t, b.Heartbeat(ctx, room, 7))

	assert.True(t, b.LeavePresence(ctx, room, 7))
	present, err = b.ListPresent(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, present)
}

type recordingAnnouncer struct {
	mu   sync.Mutex
	msgs []domain.Message
	err  error
}

func (a *recordingAnnouncer) Announce(_ context.Context, msg domain.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return a.err
}

func (a *recordingAnnouncer) got() []domain.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Message(nil), a.msgs...)
}

func TestBus_Announcer(t *testing.T) {
	ctx := testCtx(t)
	ann := &recordingAnnouncer{err: errors.New("broker down")}
	b, _, room := newBus(t, bus.Options{Announcer: ann})

	first, err := b.Publish(ctx, room, 3, "hi")
	require.NoError(t, err, "announce failure does not fail publish")

	_, err = b.Publish(ctx, room, 3, "")
	require.Error(t, err)

	second, err := b.Publish(ctx, room, 3, "again")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(ann.got()) == 2 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.Message{first, second}, ann.got())
}

// stuckAnnouncer висит, пока не закроют release или не отменят ctx.
type stuckAnnouncer struct {
	release chan struct{}
	calls   atomic.Int32
}

func (a *stuckAnnouncer) Announce(ctx context.Context, _ domain.Message) error {
	a.calls.Add(1)
	select {
	case <-a.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestBus_SlowAnnouncerDoesNotBlockPublish(t *testing.T) {
	ctx := testCtx(t)
	ann := &stuckAnnouncer{release: make(chan struct{})}
	b, _, room := newBus(t, bus.Options{Announcer: ann, AnnounceQueue: 2})

	sub, err := b.Subscribe(ctx, room, "reader", 0)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 10; i++ {
		_, err := b.Publish(ctx, room, 1, "m")
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second, "publish waits for the announcer")
	assert.Equal(t, []domain.MessageID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, nextIDs(t, ctx, sub, 10))

	require.Eventually(t, func() bool { return ann.calls.Load() == 1 }, 3*time.Second, 5*time.Millisecond)

	// Close отменяет зависший Announce и дожидается горутины.
	closed := make(chan struct{})
	go func() { b.Close(); close(closed) }()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked on a stuck announcer")
	}
	close(ann.release)
}

func TestBus_SubscribeRacingClose(t *testing.T) {
	ctx := testCtx(t)

	for round := 0; round < 50; round++ {
		b, _, room := newBus(t, bus.Options{})

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			subs []*bus.Subscription
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sub, err := b.Subscribe(ctx, room, "", 0)
				if err != nil {
					assert.ErrorIs(t, err, bus.ErrClosed)
					return
				}
				mu.Lock()
				subs = append(subs, sub)
				mu.Unlock()
			}()
		}
		b.Close()
		wg.Wait()

		assert.Zero(t, b.Subscribers(room), "round %d", round)
		for _, sub := range subs {
			_, err := sub.Next(ctx)
			assert.ErrorIs(t, err, bus.ErrClosed)
		}
	}
}

func TestBus_CloseDetachesSubscribers(t *testing.T) {
	ctx := testCtx(t)
	b, _, room := newBus(t, bus.Options{})

	sub, err := b.Subscribe(ctx, room, "a", 0)
	require.NoError(t, err)

	b.Close()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, bus.ErrClosed)

	_, err = b.Subscribe(ctx, room, "b", 0)
	assert.ErrorIs(t, err, bus.ErrClosed)
}
