package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/room-bus/internal/bus"
	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/store"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newWSServer(t *testing.T) (*httptest.Server, *bus.Bus, *Hub) {
	t.Helper()
	st := store.NewMemory(store.Options{})
	require.NoError(t, st.CreateRoom(context.Background(), &domain.Room{Name: "Таверна"}))
	b := bus.New(st, bus.Options{Rooms: st})
	hub := NewHub()
	s := NewServer(hub, b, nil, time.Minute)

	r := chi.NewRouter()
	r.Get("/ws/rooms/{id}", s.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		b.Close()
	})
	return srv, b, hub
}

func dial(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	return websocket.DefaultDialer.Dial(u, nil)
}

// readUntil пропускает кадры других типов (state, peer_joined).
func readUntil(t *testing.T, c *websocket.Conn, typ string) frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, c.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func TestWS_ChatRoundTrip(t *testing.T) {
	srv, b, hub := newWSServer(t)

	c, _, err := dial(t, srv, "/ws/rooms/1?access_token=t&character_id=7")
	require.NoError(t, err)
	defer c.Close()

	state := readUntil(t, c, TypeState)
	var sp StatePayload
	require.NoError(t, json.Unmarshal(state.Payload, &sp))
	assert.Equal(t, []domain.CharacterID{7}, sp.Characters)
	require.Eventually(t, func() bool { return hub.Count(1) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.WriteJSON(Message{Type: TypeChat, Payload: ChatPayload{Body: "Hello", ClientMsgID: "c1"}}))

	var msg domain.Message
	require.NoError(t, json.Unmarshal(readUntil(t, c, TypeMessage).Payload, &msg))
	assert.Equal(t, "Hello", msg.Body)
	assert.Equal(t, domain.CharacterID(7), msg.AuthorCharacterID)

	var ack ChatAckPayload
	require.NoError(t, json.Unmarshal(readUntil(t, c, TypeChatAck).Payload, &ack))
	assert.Equal(t, domain.MessageID(1), ack.MsgID)
	assert.Equal(t, "c1", ack.ClientMsgID)

	_, err = b.Publish(context.Background(), 1, 9, "from http")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(readUntil(t, c, TypeMessage).Payload, &msg))
	assert.Equal(t, domain.MessageID(2), msg.ID)

	require.NoError(t, c.WriteJSON(Message{Type: TypeChat, Payload: ChatPayload{Body: "   ", ClientMsgID: "c2"}}))
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, c, TypeError).Payload, &ep))
	assert.Equal(t, "c2", ep.ClientMsgID)
}

func TestWS_ResumeFromSince(t *testing.T) {
	srv, b, _ := newWSServer(t)
	for _, body := range []string{"a", "b", "c"} {
		_, err := b.Publish(context.Background(), 1, 1, body)
		require.NoError(t, err)
	}

	c, _, err := dial(t, srv, "/ws/rooms/1?access_token=t&character_id=7&since=1")
	require.NoError(t, err)
	defer c.Close()

	var ids []domain.MessageID
	for range 2 {
		var m domain.Message
		require.NoError(t, json.Unmarshal(readUntil(t, c, TypeMessage).Payload, &m))
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []domain.MessageID{2, 3}, ids)
}

func TestWS_LeaveOnDisconnect(t *testing.T) {
	srv, b, hub := newWSServer(t)

	watcher, _, err := dial(t, srv, "/ws/rooms/1?access_token=t&character_id=3")
	require.NoError(t, err)
	defer watcher.Close()
	readUntil(t, watcher, TypeState)

	c, _, err := dial(t, srv, "/ws/rooms/1?access_token=t&character_id=7")
	require.NoError(t, err)
	readUntil(t, c, TypeState)

	// первым приходит собственный peer_joined наблюдателя
	for {
		var joined PeerEventPayload
		require.NoError(t, json.Unmarshal(readUntil(t, watcher, TypePeerJoined).Payload, &joined))
		if joined.CharacterID == 7 {
			break
		}
	}

	require.NoError(t, c.Close())

	var left PeerEventPayload
	require.NoError(t, json.Unmarshal(readUntil(t, watcher, TypePeerLeft).Payload, &left))
	assert.Equal(t, domain.CharacterID(7), left.CharacterID)

	present, err := b.ListPresent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.CharacterID{3}, present)
	assert.Equal(t, 1, hub.Count(1))
	assert.Equal(t, 1, b.Subscribers(1))
}

func TestWS_RejectsBadRequests(t *testing.T) {
	srv, _, _ := newWSServer(t)

	cases := []struct {
		query  string
		status int
	}{
		{"/ws/rooms/1?character_id=7", http.StatusUnauthorized},
		{"/ws/rooms/1?access_token=t&character_id=x", http.StatusUnauthorized},
		{"/ws/rooms/42?access_token=t&character_id=7", http.StatusNotFound},
		{"/ws/rooms/1?access_token=t&character_id=7&since=-1", http.StatusBadRequest},
	}
	for _, c := range cases {
		_, resp, err := dial(t, srv, c.query)
		require.Error(t, err, c.query)
		require.NotNil(t, resp, c.query)
		assert.Equal(t, c.status, resp.StatusCode, c.query)
		_ = resp.Body.Close()
	}
}

func TestWS_SecondSocketKeepsPresence(t *testing.T) {
	srv, b, hub := newWSServer(t)

	watcher, _, err := dial(t, srv, "/ws/rooms/1?access_token=t&character_id=3")
	require.NoError(t, err)
	defer watcher.Close()
	readUntil(t, watcher, TypeState)

	first, _, err := dial(t, srv, "/ws/rooms/1?access_token=t&character_id=7")
	require.NoError(t, err)
	readUntil(t, first, TypeState)
	second, _, err := dial(t, srv, "/ws/rooms/1?access_token=t&character_id=7")
	require.NoError(t, err)
	defer second.Close()
	readUntil(t, second, TypeState)
	require.Eventually(t, func() bool { return hub.Count(1) == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return hub.Count(1) == 2 }, 3*time.Second, 5*time.Millisecond)

	present, err := b.ListPresent(context.Background(), 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.CharacterID{3, 7}, present)

	require.NoError(t, second.Close())
	var left PeerEventPayload
	require.NoError(t, json.Unmarshal(readUntil(t, watcher, TypePeerLeft).Payload, &left))
	assert.Equal(t, domain.CharacterID(7), left.CharacterID)

	present, err = b.ListPresent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.CharacterID{3}, present)
}

type stubConn struct {
	room domain.RoomID
	char domain.CharacterID
}

func (c *stubConn) Send(Message) error              { return nil }
func (c *stubConn) Close() error                    { return nil }
func (c *stubConn) CharacterID() domain.CharacterID { return c.char }
func (c *stubConn) RoomID() domain.RoomID           { return c.room }

func TestHub_RemoveReportsOtherSockets(t *testing.T) {
	hub := NewHub()
	a1 := &stubConn{room: 1, char: 7}
	a2 := &stubConn{room: 1, char: 7}
	other := &stubConn{room: 1, char: 3}
	elsewhere := &stubConn{room: 2, char: 7}
	for _, c := range []Conn{a1, a2, other, elsewhere} {
		hub.Add(c)
	}

	assert.True(t, hub.Remove(a1), "a2 is still open")
	assert.False(t, hub.Remove(a2), "socket in another room does not count")
	assert.False(t, hub.Remove(other))
	assert.Zero(t, hub.Count(1))
	assert.False(t, hub.Remove(a1), "unknown connection")
}
