package httpmw

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

// HeartbeatToucher реализует bus.Bus. Heartbeat для отсутствующего персонажа ничего не делает.
type HeartbeatToucher interface {
	Heartbeat(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) bool
}

// HeartbeatMiddleware обновляет присутствие {roomID, characterID}, если roomID есть в пути.
func HeartbeatMiddleware(presence HeartbeatToucher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if charID := CharacterIDFromCtx(r.Context()); charID != 0 {
				if raw := chi.URLParam(r, "id"); raw != "" {
					if roomID, err := strconv.ParseInt(raw, 10, 64); err == nil {
						presence.Heartbeat(r.Context(), domain.RoomID(roomID), charID)
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
