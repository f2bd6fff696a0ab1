package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

// topic это общий «топик» в памяти, всё записанное читает каждый reader.
type topic struct {
	mu   sync.Mutex
	msgs []kafka.Message
	wake chan struct{}
}

func newTopic() *topic { return &topic{wake: make(chan struct{})} }

func (t *topic) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	t.mu.Lock()
	t.msgs = append(t.msgs, msgs...)
	close(t.wake)
	t.wake = make(chan struct{})
	t.mu.Unlock()
	return nil
}

func (t *topic) Close() error { return nil }

type topicReader struct {
	t   *topic
	pos int
	err error
}

func (r *topicReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if r.err != nil {
		err := r.err
		r.err = nil
		return kafka.Message{}, err
	}
	for {
		r.t.mu.Lock()
		if r.pos < len(r.t.msgs) {
			m := r.t.msgs[r.pos]
			r.pos++
			r.t.mu.Unlock()
			return m, nil
		}
		wake := r.t.wake
		r.t.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-wake:
		}
	}
}

func (r *topicReader) Close() error { return nil }

type sink struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (s *sink) Deliver(msg domain.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *sink) ids() []domain.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MessageID, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestDecode(t *testing.T) {
	msg := domain.Message{ID: 3, RoomID: 1, AuthorCharacterID: 7, Body: "Hello", CreatedAt: time.Unix(100, 0).UTC()}
	data, err := Encode("node-a", msg)
	require.NoError(t, err)

	n, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "node-a", n.Origin)
	assert.Equal(t, msg, n.Message)

	_, err = Decode([]byte(`{"origin":"x"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestRelay_SkipsOwnOrigin(t *testing.T) {
	defer goleak.VerifyNone(t)

	shared := newTopic()
	a := newRelay("node-a", shared, &topicReader{t: shared})
	b := newRelay("node-b", shared, &topicReader{t: shared, err: errors.New("broker hiccup")})

	ctx, cancel := context.WithCancel(context.Background())
	var sinkA, sinkB sink
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = a.Run(ctx, &sinkA) }()
	go func() { defer wg.Done(); _ = b.Run(ctx, &sinkB) }()

	require.NoError(t, a.Announce(ctx, domain.Message{ID: 1, RoomID: 5, Body: "from a"}))
	require.NoError(t, b.Announce(ctx, domain.Message{ID: 2, RoomID: 5, Body: "from b"}))
	require.NoError(t, shared.WriteMessages(ctx, kafka.Message{Value: []byte("garbage")}))
	require.NoError(t, a.Announce(ctx, domain.Message{ID: 3, RoomID: 5, Body: "again a"}))

	require.Eventually(t, func() bool {
		return len(sinkA.ids()) == 1 && len(sinkB.ids()) == 2
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()

	assert.Equal(t, []domain.MessageID{2}, sinkA.ids())
	assert.Equal(t, []domain.MessageID{1, 3}, sinkB.ids())

	shared.mu.Lock()
	assert.Equal(t, []byte("5"), shared.msgs[0].Key, "room id is the partition key")
	shared.mu.Unlock()
}
