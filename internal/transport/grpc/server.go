package grpcx

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cwrk-planet/room-bus/internal/bus"
	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/service"
)

// TokenVerifier: проверка access token (тот же JWTVerifier, что и в HTTP).
type TokenVerifier interface {
	Verify(token string) (subject string, err error)
}

type Server struct {
	roomSvc  *service.RoomService
	bus      *bus.Bus
	verifier TokenVerifier
}

var _ RoomBusServer = (*Server)(nil)

func NewServer(roomSvc *service.RoomService, b *bus.Bus, verifier TokenVerifier) *Server {
	return &Server{
		roomSvc:  roomSvc,
		bus:      b,
		verifier: verifier,
	}
}

// NewGRPCServer собирает *grpc.Server с интерсепторами и зарегистрированным сервисом.
func NewGRPCServer(s *Server, defaultTimeout time.Duration) *grpc.Server {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(defaultTimeout)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	Register(gs, s)
	return gs
}

// Serve обслуживает ln до отмены ctx, затем GracefulStop.
func Serve(ctx context.Context, gs *grpc.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- gs.Serve(ln) }()

	select {
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(10 * time.Second):
			gs.Stop()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// -------- helpers --------

func (s *Server) characterFromMD(ctx context.Context) (domain.CharacterID, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, status.Error(codes.Unauthenticated, "missing metadata")
	}
	// Authorization: Bearer <access_token>
	auth := first(md.Get(MDAuthorization))
	if auth == "" {
		return 0, status.Error(codes.Unauthenticated, "missing authorization")
	}
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") || len(auth) <= 7 {
		return 0, status.Error(codes.Unauthenticated, "invalid authorization")
	}
	if s.verifier != nil {
		if _, err := s.verifier.Verify(strings.TrimSpace(auth[7:])); err != nil {
			return 0, status.Error(codes.Unauthenticated, "invalid token")
		}
	}

	raw := first(md.Get(MDCharacterID))
	if raw == "" {
		return 0, status.Error(codes.Unauthenticated, "missing x-character-id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, status.Error(codes.Unauthenticated, "invalid x-character-id")
	}
	return domain.CharacterID(id), nil
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}

	return ss[0]
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrStorage), errors.Is(err, bus.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, domain.ErrOverflow):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// -------- methods --------

func (s *Server) CreateRoom(ctx context.Context, in *CreateRoomRequest) (*RoomResponse, error) {
	if _, err := s.characterFromMD(ctx); err != nil {
		return nil, err
	}
	room, err := s.roomSvc.CreateRoom(ctx, in.Name, in.Category, in.Description)
	if err != nil {
		return nil, mapErr(err)
	}
	return &RoomResponse{Room: *room}, nil
}

func (s *Server) GetRoom(ctx context.Context, in *GetRoomRequest) (*RoomResponse, error) {
	if _, err := s.characterFromMD(ctx); err != nil {
		return nil, err
	}
	room, err := s.roomSvc.GetRoom(ctx, in.RoomID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &RoomResponse{Room: *room}, nil
}

func (s *Server) ListRooms(ctx context.Context, in *ListRoomsRequest) (*ListRoomsResponse, error) {
	if _, err := s.characterFromMD(ctx); err != nil {
		return nil, err
	}
	items, next, err := s.roomSvc.ListRooms(ctx, in.Category, int(in.Limit), in.Cursor)
	if err != nil {
		return nil, mapErr(err)
	}
	if items == nil {
		items = []domain.Room{}
	}
	return &ListRoomsResponse{Items: items, NextCursor: next}, nil
}

func (s *Server) Publish(ctx context.Context, in *PublishRequest) (*PublishResponse, error) {
	charID, err := s.characterFromMD(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := s.bus.Publish(ctx, in.RoomID, charID, in.Body)
	if err != nil {
		return nil, mapErr(err)
	}
	return &PublishResponse{Message: msg}, nil
}

func (s *Server) ReadSince(ctx context.Context, in *ReadSinceRequest) (*ReadSinceResponse, error) {
	if _, err := s.characterFromMD(ctx); err != nil {
		return nil, err
	}
	msgs, err := s.bus.ReadSince(ctx, in.RoomID, in.AfterID, int(in.Limit))
	if err != nil {
		return nil, mapErr(err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return &ReadSinceResponse{Messages: msgs}, nil
}

func (s *Server) Join(ctx context.Context, in *PresenceRequest) (*JoinResponse, error) {
	charID, err := s.characterFromMD(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := s.bus.JoinPresence(ctx, in.RoomID, charID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &JoinResponse{Entry: entry}, nil
}

func (s *Server) Heartbeat(ctx context.Context, in *PresenceRequest) (*HeartbeatResponse, error) {
	charID, err := s.characterFromMD(ctx)
	if err != nil {
		return nil, err
	}
	return &HeartbeatResponse{Present: s.bus.Heartbeat(ctx, in.RoomID, charID)}, nil
}

func (s *Server) Leave(ctx context.Context, in *PresenceRequest) (*LeaveResponse, error) {
	charID, err := s.characterFromMD(ctx)
	if err != nil {
		return nil, err
	}
	return &LeaveResponse{Left: s.bus.LeavePresence(ctx, in.RoomID, charID)}, nil
}

func (s *Server) ListPresent(ctx context.Context, in *PresenceRequest) (*ListPresentResponse, error) {
	if _, err := s.characterFromMD(ctx); err != nil {
		return nil, err
	}
	chars, err := s.bus.ListPresent(ctx, in.RoomID)
	if err != nil {
		return nil, mapErr(err)
	}
	if chars == nil {
		chars = []domain.CharacterID{}
	}
	return &ListPresentResponse{Characters: chars}, nil
}

// Subscribe стримит историю после since_id, затем живые сообщения.
// При переполнении: ResourceExhausted и трейлер x-last-seen.
func (s *Server) Subscribe(in *SubscribeRequest, stream grpc.ServerStreamingServer[SubscribeEvent]) error {
	ctx := stream.Context()
	if _, err := s.characterFromMD(ctx); err != nil {
		return err
	}
	sub, err := s.bus.Subscribe(ctx, in.RoomID, in.SubscriberID, in.SinceID)
	if err != nil {
		return mapErr(err)
	}
	defer sub.Close()

	for {
		m, err := sub.Next(ctx)
		if err != nil {
			var overflow *domain.OverflowError
			if errors.As(err, &overflow) {
				stream.SetTrailer(metadata.Pairs(MDLastSeen, strconv.FormatUint(uint64(overflow.LastSeen), 10)))
			}
			return mapErr(err)
		}
		if err := stream.Send(&SubscribeEvent{Message: m}); err != nil {
			return err
		}
	}
}
