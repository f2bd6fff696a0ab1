package ws

import (
	"github.com/cwrk-planet/room-bus/internal/domain"
)

// Типы событий WS
const (
	TypeMessage    = "message"     // сообщение комнаты, в порядке id
	TypeState      = "state"       // снапшот присутствующих
	TypePeerJoined = "peer_joined" // персонаж подключился
	TypePeerLeft   = "peer_left"   // персонаж отключился
	TypeChat       = "chat"        // от клиента: опубликовать
	TypeChatAck    = "chat_ack"    // подтверждение публикации отправителю
	TypeHeartbeat  = "heartbeat"   // от клиента: я здесь
	TypeOverflow   = "overflow"    // клиент не успевал, переподключиться с since=last_seen
	TypeError      = "error"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type StatePayload struct {
	RoomID     domain.RoomID        `json:"room_id"`
	Characters []domain.CharacterID `json:"characters"`
}

type PeerEventPayload struct {
	RoomID      domain.RoomID      `json:"room_id"`
	CharacterID domain.CharacterID `json:"character_id"`
}

type ChatPayload struct {
	Body string `json:"body"`
	// ClientMsgID: id на стороне клиента, возвращается в ack для снятия pending.
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type ChatAckPayload struct {
	MsgID       domain.MessageID `json:"msg_id"`
	ClientMsgID string           `json:"client_msg_id,omitempty"`
}

type OverflowPayload struct {
	LastSeen domain.MessageID `json:"last_seen"`
}

type ErrorPayload struct {
	Message     string `json:"message"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}
