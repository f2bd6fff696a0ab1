package service

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 50
)

// RoomService: каталог комнат. Комнаты заводит админ, шина только проверяет их наличие.
type RoomService struct {
	rooms store.RoomStore
}

func NewRoomService(rooms store.RoomStore) *RoomService {
	return &RoomService{rooms: rooms}
}

// CreateRoom создаёт комнату в категории.
func (s *RoomService) CreateRoom(ctx context.Context, name, category, description string) (*domain.Room, error) {
	room := &domain.Room{
		Name:        name,
		Category:    category,
		Description: description,
	}
	if err := s.rooms.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("rooms.CreateRoom: %w", err)
	}
	return room, nil
}

// GetRoom возвращает комнату по ID.
func (s *RoomService) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidRoom
	}
	return s.rooms.GetRoom(ctx, id)
}

// ListRooms возвращает страницу комнат и курсор следующей (пустой, если страница последняя).
func (s *RoomService) ListRooms(ctx context.Context, category string, limit int, cursor string) ([]domain.Room, string, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	c, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	var after domain.RoomID
	if c != nil {
		after = c.AfterID
		category = c.Category
	}

	// на одну больше, чтобы понять, есть ли продолжение
	rooms, err := s.rooms.ListRooms(ctx, category, after, limit+1)
	if err != nil {
		return nil, "", err
	}
	if len(rooms) <= limit {
		return rooms, "", nil
	}
	rooms = rooms[:limit]
	next, err := EncodeCursor(Cursor{AfterID: rooms[limit-1].ID, Category: category})
	if err != nil {
		return nil, "", err
	}
	return rooms, next, nil
}
