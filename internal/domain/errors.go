package domain

import (
	"errors"
	"fmt"
)

// Классы ошибок ядра. Конкретные ошибки оборачивают один из них, проверка через errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrStorage    = errors.New("storage error")
	ErrNotFound   = errors.New("not found")
	ErrOverflow   = errors.New("subscriber buffer overflow")
)

var (
	ErrEmptyBody          = fmt.Errorf("%w: empty message body", ErrValidation)
	ErrBodyTooLong        = fmt.Errorf("%w: message body too long", ErrValidation)
	ErrInvalidRoom        = fmt.Errorf("%w: invalid room", ErrValidation)
	ErrRoomNotFound       = fmt.Errorf("room %w", ErrNotFound)
	ErrSubscriberNotFound = fmt.Errorf("subscriber %w", ErrNotFound)
)

// StorageError: временный сбой хранилища, вызывающий может повторить запрос.
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// OverflowError: подписчик не успевал читать и был отключён.
// Восстановление: Subscribe заново с LastSeen.
type OverflowError struct {
	RoomID       RoomID
	SubscriberID string
	LastSeen     MessageID
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("subscriber %q in room %d: %v (last seen %d)", e.SubscriberID, e.RoomID, ErrOverflow, e.LastSeen)
}

func (e *OverflowError) Is(target error) bool { return target == ErrOverflow }

// Retryable: стоит ли вызывающему повторять операцию.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorage)
}
