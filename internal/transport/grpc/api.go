package grpcx

import (
	"github.com/cwrk-planet/room-bus/internal/domain"
)

// Метаданные вызова.
const (
	MDAuthorization = "authorization"
	MDCharacterID   = "x-character-id"
	MDRequestID     = "x-request-id"
	// MDLastSeen: трейлер Subscribe при переполнении.
	MDLastSeen = "x-last-seen"
)

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

type GetRoomRequest struct {
	RoomID domain.RoomID `json:"room_id"`
}

type RoomResponse struct {
	Room domain.Room `json:"room"`
}

type ListRoomsRequest struct {
	Category string `json:"category,omitempty"`
	Limit    int32  `json:"limit,omitempty"`
	Cursor   string `json:"cursor,omitempty"`
}

type ListRoomsResponse struct {
	Items      []domain.Room `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type PublishRequest struct {
	RoomID domain.RoomID `json:"room_id"`
	Body   string        `json:"body"`
}

type PublishResponse struct {
	Message domain.Message `json:"message"`
}

type ReadSinceRequest struct {
	RoomID  domain.RoomID    `json:"room_id"`
	AfterID domain.MessageID `json:"after_id"`
	Limit   int32            `json:"limit,omitempty"`
}

type ReadSinceResponse struct {
	Messages []domain.Message `json:"messages"`
}

// PresenceRequest: Join, Heartbeat, Leave, ListPresent. Персонаж берётся из метаданных.
type PresenceRequest struct {
	RoomID domain.RoomID `json:"room_id"`
}

type JoinResponse struct {
	Entry domain.PresenceEntry `json:"entry"`
}

type HeartbeatResponse struct {
	Present bool `json:"present"`
}

type LeaveResponse struct {
	Left bool `json:"left"`
}

type ListPresentResponse struct {
	Characters []domain.CharacterID `json:"characters"`
}

type SubscribeRequest struct {
	RoomID       domain.RoomID    `json:"room_id"`
	SubscriberID string           `json:"subscriber_id,omitempty"`
	SinceID      domain.MessageID `json:"since_id"`
}

type SubscribeEvent struct {
	Message domain.Message `json:"message"`
}
