// Package client: gRPC-клиент шины комнат (используется в cmd tail и в других сервисах).
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cwrk-planet/room-bus/internal/domain"
	grpcx "github.com/cwrk-planet/room-bus/internal/transport/grpc"
	"github.com/cwrk-planet/room-bus/pkg/httputil"
)

type Options struct {
	Target      string
	Timeout     time.Duration
	Token       string // access token без префикса Bearer
	CharacterID domain.CharacterID
}

type Client struct {
	conn    *grpc.ClientConn
	api     grpcx.RoomBusClient
	timeout time.Duration
	token   string
	charID  domain.CharacterID
}

func New(opts Options, extra ...grpc.DialOption) (*Client, error) {
	if opts.Target == "" {
		return nil, fmt.Errorf("room-bus client: empty target")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, extra...)

	conn, err := grpc.NewClient(opts.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("room-bus client: new client failed: %w", err)
	}

	return &Client{
		conn:    conn,
		api:     grpcx.NewRoomBusClient(conn),
		timeout: opts.Timeout,
		token:   opts.Token,
		charID:  opts.CharacterID,
	}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// withOutboundMeta: x-request-id, authorization, x-character-id.
func (c *Client) withOutboundMeta(ctx context.Context) context.Context {
	if rid, ok := httputil.FromContext(ctx); ok && rid != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, grpcx.MDRequestID, rid)
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, grpcx.MDAuthorization, "Bearer "+c.token)
	}
	if c.charID != 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, grpcx.MDCharacterID, strconv.FormatInt(int64(c.charID), 10))
	}
	return ctx
}

func (c *Client) rpcCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	rpcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	return c.withOutboundMeta(rpcCtx), cancel
}

func (c *Client) CreateRoom(ctx context.Context, name, category, description string) (domain.Room, error) {
	rpcCtx, cancel := c.rpcCtx(ctx)
	defer cancel()

	res, err := c.api.CreateRoom(rpcCtx, &grpcx.CreateRoomRequest{
		Name:        name,
		Category:    category,
		Description: description,
	})
	if err != nil {
		return domain.Room{}, fromStatus(err)
	}
	return res.Room, nil
}

func (c *Client) GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	rpcCtx, cancel := c.rpcCtx(ctx)
	defer cancel()

	res, err := c.api.GetRoom(rpcCtx, &grpcx.GetRoomRequest{RoomID: id})
	if err != nil {
		return domain.Room{}, fromStatus(err)
	}
	return res.Room, nil
}

func (c *Client) ListRooms(ctx context.Context, category string, limit int, cursor string) ([]domain.Room, string, error) {
	rpcCtx, cancel := c.rpcCtx(ctx)
	defer cancel()

	res, err := c.api.ListRooms(rpcCtx, &grpcx.ListRoomsRequest{
		Category: category,
		Limit:    int32(limit),
		Cursor:   cursor,
	})
	if err != nil {
		return nil, "", fromStatus(err)
	}
	return res.Items, res.NextCursor, nil
}

func (c *Client) Publish(ctx context.Context, roomID domain.RoomID, body string) (domain.Message, error) {
	rpcCtx, cancel := c.rpcCtx(ctx)
	defer cancel()

	res, err := c.api.Publish(rpcCtx, &grpcx.PublishRequest{RoomID: roomID, Body: body})
	if err != nil {
		return domain.Message{}, fromStatus(err)
	}
	return res.Message, nil
}

func (c *Client) ReadSince(ctx context.Context, roomID domain.RoomID, afterID domain.MessageID, limit int) ([]domain.Message, error) {
	rpcCtx, cancel := c.rpcCtx(ctx)
	defer cancel()

	res, err := c.api.ReadSince(rpcCtx, &grpcx.ReadSinceRequest{
		RoomID:  roomID,
		AfterID: afterID,
		Limit:   int32(limit),
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return res.Messages, nil
}

func (c *Client) Join(ctx context.Context, roomID domain.RoomID) (domain.PresenceEntry, error) {
	rpcCtx, cancel := c.rpcCtx(ctx)
	defer cancel()

	res, err := c.api.Join(rpcCtx, &grpcx.PresenceRequest{RoomID: roomID})
	if err != nil {
		return domain.PresenceEntry{}, fromStatus(err)
	}
	return res.Entry, nil
}

func (c *Client) Heartbeat(ctx context.Context, roomID domain.RoomID) (bool, error) {
	rpcCtx, cancel := c.rpcCtx(ctx)
	defer cancel()

	res, err := c.api.Heartbeat(rpcCtx, &grpcx.PresenceRequest{RoomID: roomID})
	if err != nil {
		return false, fromStatus(err)
	}
	return res.Present, nil
}

func (c *Client) Leave(ctx context.Context, roomID domain.RoomID) (bool, error) {
	rpcCtx, cancel := c.rpcCtx(ctx)
	defer cancel()

	res, err := c.api.Leave(rpcCtx, &grpcx.PresenceRequest{RoomID: roomID})
	if err != nil {
		return false, fromStatus(err)
	}
	return res.Left, nil
}

func (c *Client) ListPresent(ctx context.Context, roomID domain.RoomID) ([]domain.CharacterID, error) {
	rpcCtx, cancel := c.rpcCtx(ctx)
	defer cancel()

	res, err := c.api.ListPresent(rpcCtx, &grpcx.PresenceRequest{RoomID: roomID})
	if err != nil {
		return nil, fromStatus(err)
	}
	return res.Characters, nil
}

// Stream это серверный стрим подписки. Без таймаута, живёт, пока жив ctx.
type Stream struct {
	roomID       domain.RoomID
	subscriberID string
	lastSeen     domain.MessageID
	s            grpc.ServerStreamingClient[grpcx.SubscribeEvent]
}

// Subscribe открывает стрим: история после since, затем живые сообщения.
func (c *Client) Subscribe(ctx context.Context, roomID domain.RoomID, subscriberID string, since domain.MessageID) (*Stream, error) {
	s, err := c.api.Subscribe(c.withOutboundMeta(ctx), &grpcx.SubscribeRequest{
		RoomID:       roomID,
		SubscriberID: subscriberID,
		SinceID:      since,
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return &Stream{roomID: roomID, subscriberID: subscriberID, lastSeen: since, s: s}, nil
}

// LastSeen: id последнего полученного сообщения (since для переподписки).
func (st *Stream) LastSeen() domain.MessageID { return st.lastSeen }

// Recv возвращает следующее сообщение. Переполнение на сервере приходит как
// *domain.OverflowError, LastSeen берётся из трейлера x-last-seen.
func (st *Stream) Recv() (domain.Message, error) {
	ev, err := st.s.Recv()
	if err != nil {
		if status.Code(err) == codes.ResourceExhausted {
			last := st.lastSeen
			if v := first(st.s.Trailer().Get(grpcx.MDLastSeen)); v != "" {
				if n, perr := strconv.ParseUint(v, 10, 64); perr == nil {
					last = domain.MessageID(n)
				}
			}
			return domain.Message{}, &domain.OverflowError{
				RoomID:       st.roomID,
				SubscriberID: st.subscriberID,
				LastSeen:     last,
			}
		}
		return domain.Message{}, fromStatus(err)
	}
	st.lastSeen = ev.Message.ID
	return ev.Message, nil
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// ErrUnauthenticated: сервер отклонил токен или x-character-id.
var ErrUnauthenticated = errors.New("unauthenticated")

// fromStatus переводит gRPC статус обратно в ошибки домена.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := strings.TrimSpace(st.Message())
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
	case codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", domain.ErrStorage, msg)
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", domain.ErrOverflow, msg)
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", ErrUnauthenticated, msg)
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return err
	}
}
