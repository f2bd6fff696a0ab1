package store

import (
	"context"
	"iter"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

const (
	DefaultMaxBodyLength = 4000
	DefaultPageSize      = 100
	MaxPageSize          = 1000
)

// MaxStoredID: наибольший id, который помещается в BIGINT/INTEGER колонку.
// Курсор больше него заведомо за концом журнала.
const MaxStoredID domain.MessageID = math.MaxInt64

// MessageStore: упорядоченный журнал сообщений по комнатам.
// Append обязан сериализовать запись в пределах одной комнаты: id выдаются без пропусков.
type MessageStore interface {
	Append(ctx context.Context, roomID domain.RoomID, author domain.CharacterID, body string) (domain.Message, error)
	ReadSince(ctx context.Context, roomID domain.RoomID, afterID domain.MessageID, limit int) ([]domain.Message, error)
}

// RoomStore: каталог комнат, ведётся админами.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	ListRooms(ctx context.Context, category string, afterID domain.RoomID, limit int) ([]domain.Room, error)
}

type Store interface {
	MessageStore
	RoomStore
	Ping(ctx context.Context) error
	Close() error
}

type Options struct {
	MaxBodyLength int
	Now           func() time.Time
}

func (o Options) WithDefaults() Options {
	if o.MaxBodyLength <= 0 {
		o.MaxBodyLength = DefaultMaxBodyLength
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ValidateBody обрезает пробелы по краям и проверяет длину в символах.
func ValidateBody(body string, maxLen int) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", domain.ErrEmptyBody
	}
	if maxLen > 0 && utf8.RuneCountInString(body) > maxLen {
		return "", domain.ErrBodyTooLong
	}
	return body, nil
}

// ValidateRoom: минимальная проверка перед созданием комнаты.
func ValidateRoom(room *domain.Room) error {
	if room == nil {
		return domain.ErrInvalidRoom
	}
	room.Name = strings.TrimSpace(room.Name)
	room.Category = strings.TrimSpace(room.Category)
	if room.Name == "" || utf8.RuneCountInString(room.Name) > 100 {
		return domain.ErrInvalidRoom
	}
	return nil
}

// ClampLimit приводит limit к [1..MaxPageSize], 0 и меньше: страница по умолчанию.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Since: ленивая конечная последовательность сообщений с id > afterID.
// Читает страницами по pageSize, останавливается на первой пустой или неполной странице.
// Повторный запуск с последним полученным id продолжает с того же места.
func Since(ctx context.Context, r MessageStore, roomID domain.RoomID, afterID domain.MessageID, pageSize int) iter.Seq2[domain.Message, error] {
	pageSize = ClampLimit(pageSize)
	return func(yield func(domain.Message, error) bool) {
		cursor := afterID
		for {
			page, err := r.ReadSince(ctx, roomID, cursor, pageSize)
			if err != nil {
				yield(domain.Message{}, err)
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
				cursor = m.ID
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}
