package sequence

import (
	"sync"
	"testing"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

func TestTracker_AdvanceTakesMax(t *testing.T) {
	tr := NewTracker(1, "sub", 0)

	if got := tr.Advance(3, 1, 2); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := tr.Advance(); got != 3 {
		t.Fatalf("empty advance must keep cursor, got %d", got)
	}
}

func TestTracker_NeverDecreases(t *testing.T) {
	tr := NewTracker(1, "sub", 10)

	if got := tr.Advance(4); got != 10 {
		t.Fatalf("cursor decreased to %d", got)
	}
	if !tr.Seen(10) || tr.Seen(11) {
		t.Fatalf("seen mismatch at cursor %d", tr.LastSeen())
	}
}

func TestTracker_Cursor(t *testing.T) {
	tr := NewTracker(5, "abc", 2)
	tr.Advance(9)

	want := domain.RoomCursor{RoomID: 5, SubscriberID: "abc", LastSeenMessageID: 9}
	if got := tr.Cursor(); got != want {
		t.Fatalf("cursor mismatch: %+v", got)
	}
}

func TestTracker_ConcurrentAdvance(t *testing.T) {
	tr := NewTracker(1, "sub", 0)

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(id domain.MessageID) {
			defer wg.Done()
			tr.Advance(id)
		}(domain.MessageID(i))
	}
	wg.Wait()

	if tr.LastSeen() != 100 {
		t.Fatalf("expected 100, got %d", tr.LastSeen())
	}
}
