// Package presence: реестр присутствия персонажей в комнатах.
// Состояния на ключ (room, character): ABSENT -> PRESENT -> ABSENT.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/metrics"
)

const DefaultTimeout = 60 * time.Second

// Mirror: необязательное хранилище копии реестра для восстановления после рестарта.
type Mirror interface {
	Save(ctx context.Context, e domain.PresenceEntry) error
	Remove(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) error
	Load(ctx context.Context) ([]domain.PresenceEntry, error)
}

type Options struct {
	Timeout time.Duration
	Now     func() time.Time
	Mirror  Mirror
}

type Registry struct {
	timeout time.Duration
	now     func() time.Time
	mirror  Mirror

	mu    sync.Mutex
	rooms map[domain.RoomID]map[domain.CharacterID]time.Time
}

func NewRegistry(opts Options) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		timeout: opts.Timeout,
		now:     opts.Now,
		mirror:  opts.Mirror,
		rooms:   make(map[domain.RoomID]map[domain.CharacterID]time.Time),
	}
}

// Join переводит персонажа в PRESENT (или обновляет часы, если уже там).
func (r *Registry) Join(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) domain.PresenceEntry {
	now := r.now()

	r.mu.Lock()
	chars, ok := r.rooms[roomID]
	if !ok {
		chars = make(map[domain.CharacterID]time.Time)
		r.rooms[roomID] = chars
	}
	chars[characterID] = now
	r.mu.Unlock()

	metrics.PresenceJoins.Inc()
	e := domain.PresenceEntry{RoomID: roomID, CharacterID: characterID, LastHeartbeatAt: now}
	r.save(ctx, e)
	return e
}

// Heartbeat обновляет часы только для PRESENT. Отсутствующего не воскрешает:
// просроченная, но ещё не вычищенная запись удаляется здесь же.
func (r *Registry) Heartbeat(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) bool {
	now := r.now()

	r.mu.Lock()
	chars := r.rooms[roomID]
	last, ok := chars[characterID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if now.Sub(last) > r.timeout {
		r.removeLocked(roomID, characterID)
		r.mu.Unlock()
		metrics.PresenceEvictions.Inc()
		r.remove(ctx, roomID, characterID)
		return false
	}
	chars[characterID] = now
	r.mu.Unlock()

	r.save(ctx, domain.PresenceEntry{RoomID: roomID, CharacterID: characterID, LastHeartbeatAt: now})
	return true
}

// Leave: PRESENT -> ABSENT сразу. false, если персонажа не было.
func (r *Registry) Leave(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) bool {
	r.mu.Lock()
	_, ok := r.rooms[roomID][characterID]
	if ok {
		r.removeLocked(roomID, characterID)
	}
	r.mu.Unlock()

	if ok {
		r.remove(ctx, roomID, characterID)
	}
	return ok
}

// ListPresent: отсортированные id персонажей в PRESENT.
func (r *Registry) ListPresent(roomID domain.RoomID) []domain.CharacterID {
	entries := r.Entries(roomID)
	out := make([]domain.CharacterID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.CharacterID)
	}
	return out
}

// Entries: записи PRESENT с временем последнего heartbeat, по возрастанию id персонажа.
func (r *Registry) Entries(roomID domain.RoomID) []domain.PresenceEntry {
	now := r.now()

	r.mu.Lock()
	out := make([]domain.PresenceEntry, 0, len(r.rooms[roomID]))
	for id, at := range r.rooms[roomID] {
		if now.Sub(at) > r.timeout {
			continue
		}
		out = append(out, domain.PresenceEntry{RoomID: roomID, CharacterID: id, LastHeartbeatAt: at})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CharacterID < out[j].CharacterID })
	return out
}

// Sweep удаляет записи, у которых heartbeat старше timeout на момент now.
func (r *Registry) Sweep(now time.Time) []domain.PresenceEntry {
	var evicted []domain.PresenceEntry

	r.mu.Lock()
	for roomID, chars := range r.rooms {
		for id, at := range chars {
			if now.Sub(at) > r.timeout {
				evicted = append(evicted, domain.PresenceEntry{RoomID: roomID, CharacterID: id, LastHeartbeatAt: at})
				delete(chars, id)
			}
		}
		if len(chars) == 0 {
			delete(r.rooms, roomID)
		}
	}
	r.mu.Unlock()

	metrics.PresenceEvictions.Add(float64(len(evicted)))
	return evicted
}

// Run: периодический sweep до отмены ctx. Путь публикации не трогает.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = r.timeout / 6
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			evicted := r.Sweep(r.now())
			for _, e := range evicted {
				slog.Debug("presence evicted", "room", e.RoomID, "character", e.CharacterID,
					"last_heartbeat", e.LastHeartbeatAt)
				r.remove(ctx, e.RoomID, e.CharacterID)
			}
		}
	}
}

// Restore загружает из Mirror записи, которые ещё не истекли.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.mirror == nil {
		return 0, nil
	}
	entries, err := r.mirror.Load(ctx)
	if err != nil {
		return 0, err
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range entries {
		if e.Expired(now, r.timeout) {
			continue
		}
		chars, ok := r.rooms[e.RoomID]
		if !ok {
			chars = make(map[domain.CharacterID]time.Time)
			r.rooms[e.RoomID] = chars
		}
		if at, ok := chars[e.CharacterID]; !ok || e.LastHeartbeatAt.After(at) {
			chars[e.CharacterID] = e.LastHeartbeatAt
		}
		n++
	}
	return n, nil
}

func (r *Registry) removeLocked(roomID domain.RoomID, characterID domain.CharacterID) {
	chars := r.rooms[roomID]
	delete(chars, characterID)
	if len(chars) == 0 {
		delete(r.rooms, roomID)
	}
}

// Ошибки Mirror только логируются: присутствие эфемерно.
func (r *Registry) save(ctx context.Context, e domain.PresenceEntry) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := mirrorCtx(ctx)
	defer cancel()
	if err := r.mirror.Save(ctx, e); err != nil {
		slog.Warn("presence mirror save failed", "room", e.RoomID, "character", e.CharacterID, "err", err)
	}
}

func (r *Registry) remove(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := mirrorCtx(ctx)
	defer cancel()
	if err := r.mirror.Remove(ctx, roomID, characterID); err != nil {
		slog.Warn("presence mirror remove failed", "room", roomID, "character", characterID, "err", err)
	}
}

func mirrorCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
}
