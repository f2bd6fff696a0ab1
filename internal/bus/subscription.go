package bus

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/metrics"
	"github.com/cwrk-planet/room-bus/internal/sequence"
)

var errOverflow = domain.ErrOverflow

// Subscription это ленивая последовательность сообщений комнаты. Сначала история
// из хранилища после since, затем живые сообщения в порядке id, без повторов.
// Next не предназначен для вызова из нескольких горутин одновременно.
type Subscription struct {
	id       string
	roomID   domain.RoomID
	bus      *Bus
	hub      *hub
	tracker  *sequence.Tracker
	pageSize int

	ch chan domain.Message

	// под hub.mu
	detached bool
	reason   error

	closed atomic.Bool

	stopMu sync.Mutex
	stop   func() bool

	// состояние читателя
	backlog  []domain.Message
	caughtUp bool
	eof      bool
}

func newSubscription(b *Bus, h *hub, id string, since domain.MessageID) *Subscription {
	return &Subscription{
		id:       id,
		roomID:   h.roomID,
		bus:      b,
		hub:      h,
		tracker:  sequence.NewTracker(h.roomID, id, since),
		pageSize: b.pageSize,
		ch:       make(chan domain.Message, b.bufferSize),
	}
}

func (s *Subscription) ID() string                 { return s.id }
func (s *Subscription) RoomID() domain.RoomID      { return s.roomID }
func (s *Subscription) LastSeen() domain.MessageID { return s.tracker.LastSeen() }
func (s *Subscription) Cursor() domain.RoomCursor  { return s.tracker.Cursor() }

// Next блокируется до следующего сообщения, отмены ctx или отключения.
// При переполнении буфера сначала отдаются уже буферизованные сообщения,
// затем *domain.OverflowError с последним доставленным id.
func (s *Subscription) Next(ctx context.Context) (domain.Message, error) {
	for {
		if s.closed.Load() {
			return domain.Message{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return domain.Message{}, err
		}
		// Вытеснена или шина закрыта: история больше не нужна.
		if s.eof && s.reason != errOverflow {
			return domain.Message{}, s.closeErr()
		}

		if len(s.backlog) > 0 {
			m := s.backlog[0]
			s.backlog = s.backlog[1:]
			if s.tracker.Seen(m.ID) {
				continue
			}
			s.tracker.Advance(m.ID)
			return m, nil
		}

		if !s.caughtUp {
			if err := s.fill(ctx); err != nil {
				return domain.Message{}, err
			}
			continue
		}

		m, err := s.nextLive(ctx)
		if err != nil {
			return domain.Message{}, err
		}
		last := s.tracker.LastSeen()
		if m.ID <= last {
			continue
		}
		if m.ID > last+1 {
			// Пропуск: сообщение пришло раньше предыдущих (relay с другого узла).
			// Всё до m.ID уже в хранилище, дочитываем оттуда.
			metrics.GapRefills.Inc()
			s.caughtUp = false
			continue
		}
		s.tracker.Advance(m.ID)
		return m, nil
	}
}

// All: Next в виде iter.Seq2. Последовательность заканчивается первой ошибкой.
func (s *Subscription) All(ctx context.Context) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		for {
			m, err := s.Next(ctx)
			if err != nil {
				yield(domain.Message{}, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

// Close снимает подписку. Данные в хранилище не трогает. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.closed.Store(true)
	s.bus.remove(s.hub, s, ErrClosed)

	s.stopMu.Lock()
	stop := s.stop
	s.stop = nil
	s.stopMu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *Subscription) setStop(stop func() bool) {
	s.stopMu.Lock()
	s.stop = stop
	s.stopMu.Unlock()
}

// fill читает следующую страницу истории. Всё, что лежит в канале к этому
// моменту, уже есть в хранилище и будет прочитано, поэтому канал сбрасывается.
func (s *Subscription) fill(ctx context.Context) error {
	s.discardLive()

	page, err := s.bus.store.ReadSince(ctx, s.roomID, s.tracker.LastSeen(), s.pageSize)
	if err != nil {
		return err
	}
	s.backlog = page
	if len(page) < s.pageSize {
		s.caughtUp = true
	}
	return nil
}

func (s *Subscription) discardLive() {
	if s.eof {
		return
	}
	for range cap(s.ch) {
		select {
		case _, ok := <-s.ch:
			if !ok {
				s.eof = true
				return
			}
		default:
			return
		}
	}
}

func (s *Subscription) nextLive(ctx context.Context) (domain.Message, error) {
	if s.eof {
		return domain.Message{}, s.closeErr()
	}
	select {
	case <-ctx.Done():
		return domain.Message{}, ctx.Err()
	case m, ok := <-s.ch:
		if !ok {
			s.eof = true
			return domain.Message{}, s.closeErr()
		}
		return m, nil
	}
}

// closeErr вызывается только после того, как канал закрыт: reason уже записан.
func (s *Subscription) closeErr() error {
	if s.reason == errOverflow {
		return &domain.OverflowError{
			RoomID:       s.roomID,
			SubscriberID: s.id,
			LastSeen:     s.tracker.LastSeen(),
		}
	}
	if s.reason == nil {
		return ErrClosed
	}
	return s.reason
}

// detach вызывается под hub.mu.
func (s *Subscription) detach(reason error) {
	if s.detached {
		return
	}
	s.detached = true
	s.reason = reason
	close(s.ch)
	metrics.ActiveSubscribers.Dec()
}
