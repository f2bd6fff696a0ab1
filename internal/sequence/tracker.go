// Package sequence хранит курсор подписчика: последний доставленный id сообщения.
package sequence

import (
	"sync/atomic"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

// Tracker: курсор одной подписки. Только растёт, без I/O.
type Tracker struct {
	roomID       domain.RoomID
	subscriberID string
	last         atomic.Uint64
}

func NewTracker(roomID domain.RoomID, subscriberID string, since domain.MessageID) *Tracker {
	t := &Tracker{roomID: roomID, subscriberID: subscriberID}
	t.last.Store(uint64(since))
	return t
}

// Advance выставляет курсор в max(текущий, ids...) и возвращает новое значение.
func (t *Tracker) Advance(ids ...domain.MessageID) domain.MessageID {
	var top uint64
	for _, id := range ids {
		if uint64(id) > top {
			top = uint64(id)
		}
	}
	for {
		cur := t.last.Load()
		if top <= cur {
			return domain.MessageID(cur)
		}
		if t.last.CompareAndSwap(cur, top) {
			return domain.MessageID(top)
		}
	}
}

func (t *Tracker) LastSeen() domain.MessageID {
	return domain.MessageID(t.last.Load())
}

// Seen: был ли id уже доставлен.
func (t *Tracker) Seen(id domain.MessageID) bool {
	return id <= t.LastSeen()
}

func (t *Tracker) Cursor() domain.RoomCursor {
	return domain.RoomCursor{
		RoomID:            t.roomID,
		SubscriberID:      t.subscriberID,
		LastSeenMessageID: t.LastSeen(),
	}
}
