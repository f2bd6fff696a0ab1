package ws

import (
	"sync"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

// Conn: локальное WS-соединение персонажа в комнате.
type Conn interface {
	Send(msg Message) error
	Close() error
	CharacterID() domain.CharacterID
	RoomID() domain.RoomID
}

// Hub знает локальные соединения по комнатам и рассылает им события присутствия.
// Сообщения комнаты идут не через Hub, а через подписку шины у каждого соединения.
type Hub struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[domain.RoomID]map[Conn]struct{})}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[c.RoomID()]
	if !ok {
		rs = make(map[Conn]struct{})
		h.rooms[c.RoomID()] = rs
	}
	rs[c] = struct{}{}
}

// Remove убирает соединение и сообщает, остались ли у того же персонажа
// другие сокеты в этой комнате.
func (h *Hub) Remove(c Conn) (stillConnected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[c.RoomID()]
	if !ok {
		return false
	}
	delete(rs, c)
	if len(rs) == 0 {
		delete(h.rooms, c.RoomID())
		return false
	}
	for other := range rs {
		if other.CharacterID() == c.CharacterID() {
			return true
		}
	}
	return false
}

// Broadcast работает best-effort, ошибка отправки одному соединению не мешает остальным.
func (h *Hub) Broadcast(roomID domain.RoomID, msg Message) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.Send(msg)
	}
}

func (h *Hub) Count(roomID domain.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
