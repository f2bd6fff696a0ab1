package http

import (
	"time"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

type RoomItem struct {
	ID          domain.RoomID `json:"id"`
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

type RoomsListResponse struct {
	Items      []RoomItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type PublishRequest struct {
	Body string `json:"body"`
}

type MessagesResponse struct {
	Items []domain.Message `json:"items"`
	// LastID: id последнего сообщения в ответе или since, если ответ пуст.
	LastID domain.MessageID `json:"last_id"`
}

type PresenceResponse struct {
	RoomID     domain.RoomID        `json:"room_id"`
	Characters []domain.CharacterID `json:"characters"`
}

type HeartbeatResponse struct {
	Present bool `json:"present"`
}

func toRoomItem(r *domain.Room) RoomItem {
	return RoomItem{
		ID:          r.ID,
		Name:        r.Name,
		Category:    r.Category,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}

func newMessagesResponse(msgs []domain.Message, since domain.MessageID) MessagesResponse {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	last := since
	if n := len(msgs); n > 0 {
		last = msgs[n-1].ID
	}
	return MessagesResponse{Items: msgs, LastID: last}
}
