package domain

import "time"

type (
	RoomID      int64
	CharacterID int64
	MessageID   uint64
)

// Message: сообщение комнаты. После записи в хранилище не меняется.
type Message struct {
	ID                MessageID   `db:"id" json:"id"`
	RoomID            RoomID      `db:"room_id" json:"room_id"`
	AuthorCharacterID CharacterID `db:"author_character_id" json:"author_character_id"`
	Body              string      `db:"body" json:"body"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
}

// RoomCursor: закладка подписчика в порядке сообщений комнаты.
type RoomCursor struct {
	RoomID            RoomID    `json:"room_id"`
	SubscriberID      string    `json:"subscriber_id"`
	LastSeenMessageID MessageID `json:"last_seen_message_id"`
}
