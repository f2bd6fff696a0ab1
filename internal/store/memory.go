package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

// Memory: хранилище в памяти процесса. Драйвер по умолчанию и дубль для тестов.
type Memory struct {
	opts Options

	mu       sync.RWMutex
	rooms    map[domain.RoomID]*memRoom
	lastRoom domain.RoomID
}

type memRoom struct {
	info domain.Room

	mu   sync.RWMutex
	msgs []domain.Message // msgs[i].ID == i+1
}

var _ Store = (*Memory)(nil)

func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:  opts.WithDefaults(),
		rooms: make(map[domain.RoomID]*memRoom),
	}
}

func (s *Memory) room(id domain.RoomID) (*memRoom, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

func (s *Memory) Append(ctx context.Context, roomID domain.RoomID, author domain.CharacterID, body string) (domain.Message, error) {
	body, err := ValidateBody(body, s.opts.MaxBodyLength)
	if err != nil {
		return domain.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Message{}, domain.StorageError("memory.Append", err)
	}
	r, ok := s.room(roomID)
	if !ok {
		return domain.Message{}, domain.ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m := domain.Message{
		ID:                domain.MessageID(len(r.msgs) + 1),
		RoomID:            roomID,
		AuthorCharacterID: author,
		Body:              body,
		CreatedAt:         s.opts.Now().UTC(),
	}
	r.msgs = append(r.msgs, m)
	return m, nil
}

func (s *Memory) ReadSince(ctx context.Context, roomID domain.RoomID, afterID domain.MessageID, limit int) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.StorageError("memory.ReadSince", err)
	}
	limit = ClampLimit(limit)
	r, ok := s.room(roomID)
	if !ok {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := uint64(len(r.msgs))
	start := uint64(afterID)
	if start >= n {
		return nil, nil
	}
	end := start + uint64(limit)
	if end > n {
		end = n
	}
	out := make([]domain.Message, end-start)
	copy(out, r.msgs[start:end])
	return out, nil
}

func (s *Memory) CreateRoom(_ context.Context, room *domain.Room) error {
	if err := ValidateRoom(room); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if room.ID == 0 {
		room.ID = s.lastRoom + 1
	}
	if _, exists := s.rooms[room.ID]; exists {
		return domain.ErrInvalidRoom
	}
	if room.ID > s.lastRoom {
		s.lastRoom = room.ID
	}
	room.CreatedAt = s.opts.Now().UTC()
	s.rooms[room.ID] = &memRoom{info: *room}
	return nil
}

func (s *Memory) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	r, ok := s.room(id)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	info := r.info
	return &info, nil
}

func (s *Memory) ListRooms(_ context.Context, category string, afterID domain.RoomID, limit int) ([]domain.Room, error) {
	limit = ClampLimit(limit)

	s.mu.RLock()
	out := make([]domain.Room, 0, len(s.rooms))
	for id, r := range s.rooms {
		if id <= afterID {
			continue
		}
		if category != "" && r.info.Category != category {
			continue
		}
		out = append(out, r.info)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) Ping(context.Context) error { return nil }
func (s *Memory) Close() error               { return nil }
