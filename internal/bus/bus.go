// Package bus реализует шину сообщений комнат: publish с fan-out по подписчикам,
// подписки с догрузкой истории из хранилища и проход к реестру присутствия.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/metrics"
	"github.com/cwrk-planet/room-bus/internal/presence"
	"github.com/cwrk-planet/room-bus/internal/store"
)

const (
	DefaultBufferSize    = 64
	DefaultAnnounceQueue = 1024
)

var tracer = otel.Tracer("github.com/cwrk-planet/room-bus/internal/bus")

var ErrClosed = errors.New("subscription closed")

// Announcer получает каждое локально опубликованное сообщение (например, relay в Kafka).
type Announcer interface {
	Announce(ctx context.Context, msg domain.Message) error
}

// RoomLookup проверяет существование комнаты. Если не задан, Subscribe и Join
// принимают любой room id.
type RoomLookup interface {
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
}

type Options struct {
	BufferSize int
	PageSize   int
	Rooms      RoomLookup
	Presence   *presence.Registry
	Announcer  Announcer
	// AnnounceQueue: сколько уведомлений ждут Announcer, лишние отбрасываются.
	AnnounceQueue int
	Logger        *slog.Logger
}

type Bus struct {
	store     store.MessageStore
	rooms     RoomLookup
	presence  *presence.Registry
	announcer Announcer
	log       *slog.Logger

	bufferSize int
	pageSize   int

	// Announcer вызывается из своей горутины, publish его не ждёт.
	announceQ    chan domain.Message
	stopAnnounce context.CancelFunc
	announceDone chan struct{}

	mu     sync.Mutex
	hubs   map[domain.RoomID]*hub
	closed bool
}

// hub: единственный диспетчер комнаты. mu держится на всё время Append и fan-out,
// поэтому порядок уведомлений совпадает с порядком id.
type hub struct {
	roomID domain.RoomID
	mu     sync.Mutex
	subs   map[string]*Subscription
}

func New(s store.MessageStore, opts Options) *Bus {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Presence == nil {
		opts.Presence = presence.NewRegistry(presence.Options{})
	}
	b := &Bus{
		store:      s,
		rooms:      opts.Rooms,
		presence:   opts.Presence,
		announcer:  opts.Announcer,
		log:        opts.Logger.With("component", "bus"),
		bufferSize: opts.BufferSize,
		pageSize:   store.ClampLimit(opts.PageSize),
		hubs:       make(map[domain.RoomID]*hub),
	}
	if b.announcer != nil {
		if opts.AnnounceQueue <= 0 {
			opts.AnnounceQueue = DefaultAnnounceQueue
		}
		ctx, cancel := context.WithCancel(context.Background())
		b.announceQ = make(chan domain.Message, opts.AnnounceQueue)
		b.stopAnnounce = cancel
		b.announceDone = make(chan struct{})
		go b.announceLoop(ctx)
	}
	return b
}

func (b *Bus) hub(roomID domain.RoomID) *hub {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hubs[roomID]
	if !ok {
		h = &hub{roomID: roomID, subs: make(map[string]*Subscription)}
		b.hubs[roomID] = h
	}
	return h
}

func (b *Bus) existingHub(roomID domain.RoomID) (*hub, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hubs[roomID]
	return h, ok
}

// Publish сохраняет сообщение и раздаёт его подписчикам комнаты.
// Медленный подписчик не блокирует публикацию: при полном буфере он отключается.
func (b *Bus) Publish(ctx context.Context, roomID domain.RoomID, author domain.CharacterID, body string) (domain.Message, error) {
	ctx, span := tracer.Start(ctx, "bus.Publish", trace.WithAttributes(
		attribute.Int64("room.id", int64(roomID)),
		attribute.Int64("character.id", int64(author)),
	))
	defer span.End()

	h := b.hub(roomID)

	h.mu.Lock()
	msg, err := b.store.Append(ctx, roomID, author, body)
	if err != nil {
		h.mu.Unlock()
		metrics.PublishErrors.WithLabelValues(errorKind(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind(err))
		return domain.Message{}, err
	}
	fanned := h.fanout(msg)
	b.enqueueAnnounce(ctx, msg)
	h.mu.Unlock()

	metrics.MessagesPublished.Inc()
	span.SetAttributes(
		attribute.Int64("message.id", int64(msg.ID)),
		attribute.Int("subscribers", fanned),
	)
	return msg, nil
}

// enqueueAnnounce вызывается под hub.mu, чтобы уведомления комнаты шли в порядке id.
func (b *Bus) enqueueAnnounce(ctx context.Context, msg domain.Message) {
	if b.announceQ == nil {
		return
	}
	select {
	case b.announceQ <- msg:
	default:
		metrics.RelayNotices.WithLabelValues("dropped").Inc()
		b.log.WarnContext(ctx, "announce queue full, notice dropped", "room", msg.RoomID, "message", msg.ID)
	}
}

// announceLoop отдаёт уведомления Announcer по одному, в порядке публикации.
// Другие экземпляры, пропустившие уведомление, догонят по хранилищу.
func (b *Bus) announceLoop(ctx context.Context) {
	defer close(b.announceDone)
	for {
		select {
		case <-ctx.Done():
			if n := len(b.announceQ); n > 0 {
				b.log.Warn("bus closed with pending notices", "notices", n)
			}
			return
		case msg := <-b.announceQ:
			if err := b.announcer.Announce(ctx, msg); err != nil && ctx.Err() == nil {
				b.log.Warn("announce failed", "room", msg.RoomID, "message", msg.ID, "err", err)
			}
		}
	}
}

// Deliver раздаёт сообщение, уже сохранённое в общем хранилище другим узлом.
// Пропуски и повторы разбирает сама подписка.
func (b *Bus) Deliver(msg domain.Message) {
	h, ok := b.existingHub(msg.RoomID)
	if !ok {
		return
	}
	h.mu.Lock()
	h.fanout(msg)
	h.mu.Unlock()
}

// fanout возвращает число подписчиков, получивших сообщение.
func (h *hub) fanout(msg domain.Message) int {
	n := 0
	for id, sub := range h.subs {
		select {
		case sub.ch <- msg:
			n++
		default:
			delete(h.subs, id)
			sub.detach(errOverflow)
			metrics.SubscriberOverflows.Inc()
		}
	}
	return n
}

// ReadSince: прямое чтение хранилища, для long-poll и восстановления.
func (b *Bus) ReadSince(ctx context.Context, roomID domain.RoomID, afterID domain.MessageID, limit int) ([]domain.Message, error) {
	if err := b.checkRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return b.store.ReadSince(ctx, roomID, afterID, store.ClampLimit(limit))
}

// Subscribe регистрирует подписчика до чтения истории, так что между историей
// и живыми сообщениями нет окна. Пустой subscriberID заменяется на ULID,
// повторный id вытесняет старую подписку. Отмена ctx закрывает подписку.
func (b *Bus) Subscribe(ctx context.Context, roomID domain.RoomID, subscriberID string, since domain.MessageID) (*Subscription, error) {
	if err := b.checkRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if subscriberID == "" {
		subscriberID = ulid.Make().String()
	}

	h := b.hub(roomID)
	sub := newSubscription(b, h, subscriberID, since)

	// closed читается под h.mu: либо Close увидит подписку в хабе, либо мы увидим closed.
	h.mu.Lock()
	if b.isClosed() {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if old, ok := h.subs[subscriberID]; ok {
		old.detach(ErrClosed)
	}
	h.subs[subscriberID] = sub
	h.mu.Unlock()

	metrics.ActiveSubscribers.Inc()
	sub.setStop(context.AfterFunc(ctx, sub.Close))
	b.log.Debug("subscribed", "room", roomID, "subscriber", subscriberID, "since", since)
	return sub, nil
}

// Cursor: текущая закладка активного подписчика.
func (b *Bus) Cursor(roomID domain.RoomID, subscriberID string) (domain.RoomCursor, error) {
	h, ok := b.existingHub(roomID)
	if !ok {
		return domain.RoomCursor{}, domain.ErrSubscriberNotFound
	}
	h.mu.Lock()
	sub, ok := h.subs[subscriberID]
	h.mu.Unlock()
	if !ok {
		return domain.RoomCursor{}, domain.ErrSubscriberNotFound
	}
	return sub.Cursor(), nil
}

// Subscribers: число активных подписок комнаты.
func (b *Bus) Subscribers(roomID domain.RoomID) int {
	h, ok := b.existingHub(roomID)
	if !ok {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (b *Bus) JoinPresence(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) (domain.PresenceEntry, error) {
	if err := b.checkRoom(ctx, roomID); err != nil {
		return domain.PresenceEntry{}, err
	}
	return b.presence.Join(ctx, roomID, characterID), nil
}

// Heartbeat для отсутствующего персонажа: no-op, возвращает false.
func (b *Bus) Heartbeat(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) bool {
	return b.presence.Heartbeat(ctx, roomID, characterID)
}

func (b *Bus) LeavePresence(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) bool {
	return b.presence.Leave(ctx, roomID, characterID)
}

func (b *Bus) ListPresent(ctx context.Context, roomID domain.RoomID) ([]domain.CharacterID, error) {
	if err := b.checkRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return b.presence.ListPresent(roomID), nil
}

// Close отключает все подписки и останавливает отправку уведомлений.
// Новые Subscribe после Close получают ErrClosed.
func (b *Bus) Close() {
	if b.stopAnnounce != nil {
		b.stopAnnounce()
		<-b.announceDone
	}

	b.mu.Lock()
	b.closed = true
	hubs := make([]*hub, 0, len(b.hubs))
	for _, h := range b.hubs {
		hubs = append(hubs, h)
	}
	b.mu.Unlock()

	for _, h := range hubs {
		h.mu.Lock()
		for id, sub := range h.subs {
			delete(h.subs, id)
			sub.detach(ErrClosed)
		}
		h.mu.Unlock()
	}
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) checkRoom(ctx context.Context, roomID domain.RoomID) error {
	if roomID <= 0 {
		return domain.ErrInvalidRoom
	}
	if b.rooms == nil {
		return nil
	}
	_, err := b.rooms.GetRoom(ctx, roomID)
	return err
}

// remove снимает sub с хаба, если он там ещё числится.
func (b *Bus) remove(h *hub, sub *Subscription, reason error) {
	h.mu.Lock()
	if cur, ok := h.subs[sub.id]; ok && cur == sub {
		delete(h.subs, sub.id)
	}
	sub.detach(reason)
	h.mu.Unlock()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrStorage):
		return "storage"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}
