package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/room-bus/internal/bus"
	"github.com/cwrk-planet/room-bus/internal/domain"
	httpmw "github.com/cwrk-planet/room-bus/internal/transport/http/middleware"
)

// RoomBus: то, что WS-серверу нужно от bus.Bus.
type RoomBus interface {
	Publish(ctx context.Context, roomID domain.RoomID, author domain.CharacterID, body string) (domain.Message, error)
	Subscribe(ctx context.Context, roomID domain.RoomID, subscriberID string, since domain.MessageID) (*bus.Subscription, error)
	JoinPresence(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) (domain.PresenceEntry, error)
	Heartbeat(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) bool
	LeavePresence(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) bool
	ListPresent(ctx context.Context, roomID domain.RoomID) ([]domain.CharacterID, error)
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	bus      RoomBus
	verifier httpmw.TokenVerifier

	pingEvery time.Duration
}

// NewServer: verifier может быть nil, тогда access_token только обязателен.
func NewServer(hub *Hub, b RoomBus, verifier httpmw.TokenVerifier, pingEvery time.Duration) *Server {
	if pingEvery <= 0 {
		pingEvery = 15 * time.Second
	}
	return &Server{
		hub:      hub,
		bus:      b,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: pingEvery,
	}
}

// WS endpoint: GET /ws/rooms/{id}?access_token=...&character_id=...&since=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accessToken := strings.TrimSpace(q.Get("access_token"))
	if accessToken == "" {
		http.Error(w, "missing access_token", http.StatusUnauthorized)
		return
	}
	if s.verifier != nil {
		if _, err := s.verifier.Verify(accessToken); err != nil {
			http.Error(w, "invalid access_token", http.StatusUnauthorized)
			return
		}
	}
	charID, err := httpmw.ParseCharacterID(q.Get("character_id"))
	if err != nil {
		http.Error(w, "invalid character_id", http.StatusUnauthorized)
		return
	}
	rawRoom, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || rawRoom <= 0 {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	roomID := domain.RoomID(rawRoom)
	var since domain.MessageID
	if raw := q.Get("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = domain.MessageID(n)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Подписка до апгрейда, чтобы неизвестная комната дала обычный 404.
	sub, err := s.bus.Subscribe(ctx, roomID, "", since)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(err, bus.ErrClosed):
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}
	log := slog.Default().With("room", roomID, "character", charID, "subscriber", sub.ID())

	c := newWsConn(conn, roomID, charID)
	if _, err := s.bus.JoinPresence(ctx, roomID, charID); err != nil {
		log.Warn("ws join presence failed", "err", err)
	}
	s.hub.Add(c)

	if err := s.sendState(ctx, c); err != nil {
		log.Warn("ws send initial state failed", "err", err)
	}
	s.hub.Broadcast(roomID, Message{
		Type:    TypePeerJoined,
		Payload: PeerEventPayload{RoomID: roomID, CharacterID: charID},
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pumpLoop(ctx, c, sub, log)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(ctx, c)
	}()
	s.readLoop(ctx, c, log)

	cancel()
	sub.Close()
	wg.Wait()

	// Персонаж с другой открытой вкладкой остаётся в комнате.
	if !s.hub.Remove(c) {
		s.bus.LeavePresence(context.WithoutCancel(ctx), roomID, charID)
		s.hub.Broadcast(roomID, Message{
			Type:    TypePeerLeft,
			Payload: PeerEventPayload{RoomID: roomID, CharacterID: charID},
		})
	}

	if err := c.Close(); err != nil {
		log.Debug("ws close failed", "err", err)
	}
}

func (s *Server) sendState(ctx context.Context, c *wsConn) error {
	chars, err := s.bus.ListPresent(ctx, c.roomID)
	if err != nil {
		return err
	}
	if chars == nil {
		chars = []domain.CharacterID{}
	}
	return c.Send(Message{
		Type:    TypeState,
		Payload: StatePayload{RoomID: c.roomID, Characters: chars},
	})
}

// pumpLoop переносит подписку в сокет. При переполнении сообщает last_seen и
// закрывает соединение: клиент переподключается с since=last_seen.
func (s *Server) pumpLoop(ctx context.Context, c *wsConn, sub *bus.Subscription, log *slog.Logger) {
	for {
		m, err := sub.Next(ctx)
		if err != nil {
			var overflow *domain.OverflowError
			if errors.As(err, &overflow) {
				log.Info("ws subscriber overflow", "last_seen", overflow.LastSeen)
				_ = c.Send(Message{Type: TypeOverflow, Payload: OverflowPayload{LastSeen: overflow.LastSeen}})
				c.closeWith(websocket.CloseTryAgainLater, "overflow")
			}
			_ = c.Close()
			return
		}
		if err := c.Send(Message{Type: TypeMessage, Payload: m}); err != nil {
			_ = c.Close()
			return
		}
	}
}

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) readLoop(ctx context.Context, c *wsConn, log *slog.Logger) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		s.bus.Heartbeat(ctx, c.roomID, c.characterID)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case TypeChat:
			var p ChatPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				continue
			}
			saved, err := s.bus.Publish(ctx, c.roomID, c.characterID, p.Body)
			if err != nil {
				log.Debug("ws chat publish failed", "err", err)
				_ = c.Send(Message{Type: TypeError, Payload: ErrorPayload{Message: err.Error(), ClientMsgID: p.ClientMsgID}})
				continue
			}
			// Само сообщение придёт через подписку, отправителю только ack.
			_ = c.Send(Message{
				Type:    TypeChatAck,
				Payload: ChatAckPayload{MsgID: saved.ID, ClientMsgID: p.ClientMsgID},
			})
		case TypeHeartbeat:
			s.bus.Heartbeat(ctx, c.roomID, c.characterID)
		default:
			// ignore
		}
	}
}

// writeLoop: ping, heartbeat присутствия и периодический снапшот state.
func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.bus.Heartbeat(ctx, c.roomID, c.characterID)
			_ = s.sendState(ctx, c)
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

type wsConn struct {
	conn        *websocket.Conn
	roomID      domain.RoomID
	characterID domain.CharacterID
	sendMu      chan struct{}
	closeOnce   sync.Once
	closed      chan struct{}
}

func newWsConn(c *websocket.Conn, roomID domain.RoomID, characterID domain.CharacterID) *wsConn {
	return &wsConn{
		conn:        c,
		roomID:      roomID,
		characterID: characterID,
		sendMu:      make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) closeWith(code int, reason string) {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) CharacterID() domain.CharacterID { return c.characterID }
func (c *wsConn) RoomID() domain.RoomID           { return c.roomID }
