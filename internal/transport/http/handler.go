package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/room-bus/internal/bus"
	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/service"
	"github.com/cwrk-planet/room-bus/internal/store"
	httpmw "github.com/cwrk-planet/room-bus/internal/transport/http/middleware"
	"github.com/cwrk-planet/room-bus/pkg/httputil"
)

const (
	DefaultPollWait = 25 * time.Second
	MaxPollWait     = 60 * time.Second
)

var errBadRequest = httputil.ErrInvalidInput

type Handler struct {
	roomSvc  *service.RoomService
	bus      *bus.Bus
	pollWait time.Duration
}

func NewHandler(rooms *service.RoomService, b *bus.Bus, pollWait time.Duration) *Handler {
	if pollWait <= 0 {
		pollWait = DefaultPollWait
	}
	return &Handler{roomSvc: rooms, bus: b, pollWait: pollWait}
}

// statusFor сопоставляет классы ошибок ядра HTTP-статусам.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStorage), errors.Is(err, bus.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrOverflow):
		return http.StatusConflict
	}
	return 0
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	httputil.WriteError(ctx, w, err, statusFor)
}

func roomIDParam(r *http.Request) (domain.RoomID, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidRoom
	}
	return domain.RoomID(id), nil
}

func uintQuery(r *http.Request, key string) (uint64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, key)
	}
	return n, nil
}

// POST /rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpmw.L(r.Context()).Debug("handler.CreateRoom.Decode", "err", err)
		httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	room, err := h.roomSvc.CreateRoom(r.Context(), req.Name, req.Category, req.Description)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	httpmw.L(r.Context()).Info("room created", "room", room.ID, "category", room.Category)
	httputil.JSON(w, http.StatusCreated, toRoomItem(room))
}

// GET /rooms?category=&limit=&cursor=
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	rooms, next, err := h.roomSvc.ListRooms(r.Context(), q.Get("category"), limit, q.Get("cursor"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	resp := RoomsListResponse{Items: make([]RoomItem, 0, len(rooms)), NextCursor: next}
	for i := range rooms {
		resp.Items = append(resp.Items, toRoomItem(&rooms[i]))
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// GET /rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDParam(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	room, err := h.roomSvc.GetRoom(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toRoomItem(room))
}

// POST /rooms/{id}/messages
func (h *Handler) PublishMessage(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(r.Context(), w, http.StatusBadRequest, "invalid json", nil)
		return
	}

	msg, err := h.bus.Publish(r.Context(), roomID, httpmw.CharacterIDFromCtx(r.Context()), req.Body)
	if err != nil {
		if domain.Retryable(err) {
			w.Header().Set("Retry-After", "1")
		}
		writeError(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, msg)
}

// GET /rooms/{id}/messages?after=&limit=
func (h *Handler) ReadMessages(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	after, err := uintQuery(r, "after")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := h.bus.ReadSince(r.Context(), roomID, domain.MessageID(after), limit)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newMessagesResponse(msgs, domain.MessageID(after)))
}

// GET /rooms/{id}/messages/poll?since=&wait=&limit=
// Отдаёт уже накопленное после since сразу; если ничего нет: ждёт первое
// сообщение до wait и возвращает его вместе с тем, что успело прийти следом.
func (h *Handler) PollMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	raw, err := uintQuery(r, "since")
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	since := domain.MessageID(raw)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	limit = store.ClampLimit(limit)
	wait := parseWait(r.URL.Query().Get("wait"), h.pollWait)

	msgs, err := h.bus.ReadSince(ctx, roomID, since, limit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if len(msgs) > 0 {
		httputil.JSON(w, http.StatusOK, newMessagesResponse(msgs, since))
		return
	}

	sub, err := h.bus.Subscribe(ctx, roomID, "", since)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	defer sub.Close()

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	first, err := sub.Next(waitCtx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		httputil.JSON(w, http.StatusOK, newMessagesResponse(nil, since))
		return
	case ctx.Err() != nil:
		// клиент ушёл
		return
	default:
		writeError(ctx, w, err)
		return
	}

	msgs = append(msgs, first)
	if limit > 1 {
		more, err := h.bus.ReadSince(ctx, roomID, first.ID, limit-1)
		if err == nil {
			msgs = append(msgs, more...)
		}
	}
	httputil.JSON(w, http.StatusOK, newMessagesResponse(msgs, since))
}

// wait: "15s" или число секунд.
func parseWait(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, errInt := strconv.Atoi(raw)
		if errInt != nil {
			return def
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		return 0
	}
	return min(d, MaxPollWait)
}

// POST /rooms/{id}/presence
func (h *Handler) JoinPresence(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	entry, err := h.bus.JoinPresence(r.Context(), roomID, httpmw.CharacterIDFromCtx(r.Context()))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, entry)
}

// PUT /rooms/{id}/presence: heartbeat; для отсутствующего персонажа ничего не меняет.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	ok := h.bus.Heartbeat(r.Context(), roomID, httpmw.CharacterIDFromCtx(r.Context()))
	httputil.JSON(w, http.StatusOK, HeartbeatResponse{Present: ok})
}

// DELETE /rooms/{id}/presence
func (h *Handler) LeavePresence(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.bus.LeavePresence(r.Context(), roomID, httpmw.CharacterIDFromCtx(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// GET /rooms/{id}/presence
func (h *Handler) ListPresent(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	chars, err := h.bus.ListPresent(r.Context(), roomID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if chars == nil {
		chars = []domain.CharacterID{}
	}
	httputil.JSON(w, http.StatusOK, PresenceResponse{RoomID: roomID, Characters: chars})
}

// GET /rooms/{id}/subscribers/{sid}/cursor
func (h *Handler) GetCursor(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	cur, err := h.bus.Cursor(roomID, chi.URLParam(r, "sid"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, cur)
}
