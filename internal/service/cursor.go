package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

// ErrInvalidCursor: курсор страницы не разбирается.
var ErrInvalidCursor = fmt.Errorf("%w: invalid cursor", domain.ErrValidation)

// Cursor: непрозрачный для клиента курсор списка комнат.
type Cursor struct {
	AfterID  domain.RoomID `json:"after_id"`
	Category string        `json:"category,omitempty"`
}

func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	return &c, nil
}
