package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpmw "github.com/cwrk-planet/room-bus/internal/transport/http/middleware"
	"github.com/cwrk-planet/room-bus/pkg/httputil"
)

type RouterDeps struct {
	Handler *Handler
	// WS: обработчик /ws/rooms/{id}; авторизуется сам по query-параметрам.
	WS       http.HandlerFunc
	Verifier httpmw.TokenVerifier
	Presence httpmw.HeartbeatToucher
	// Health: проверка хранилища для /healthz.
	Health         func(ctx context.Context) error
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if len(d.AllowedOrigins) == 0 {
		d.AllowedOrigins = []string{"*"}
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	// long-poll не должен упираться в общий таймаут
	pollTimeout := MaxPollWait + 5*time.Second

	r := chi.NewRouter()
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httpmw.WithRequestLoggerCtx)
	r.Use(httputil.MiddlewareLogging)
	r.Use(httpmw.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", httpmw.HeaderCharacterID, httputil.HeaderRequestID},
		ExposedHeaders:   []string{httputil.HeaderRequestID},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if d.WS != nil {
		r.Get("/ws/rooms/{id}", d.WS)
	}

	h := d.Handler
	r.Route("/api/v1", func(api chi.Router) {
		// Все маршруты требуют Bearer и X-Character-ID
		api.Use(httpmw.AuthMiddleware(d.Verifier))

		api.Route("/rooms", func(rm chi.Router) {
			rm.With(middlewareChi.Timeout(d.RequestTimeout)).Post("/", h.CreateRoom)
			rm.With(middlewareChi.Timeout(d.RequestTimeout)).Get("/", h.ListRooms)

			rm.Route("/{id}", func(rr chi.Router) {
				if d.Presence != nil {
					rr.Use(httpmw.HeartbeatMiddleware(d.Presence))
				}
				rr.With(middlewareChi.Timeout(pollTimeout)).Get("/messages/poll", h.PollMessages)

				rr.Group(func(g chi.Router) {
					g.Use(middlewareChi.Timeout(d.RequestTimeout))
					g.Get("/", h.GetRoom)
					g.Post("/messages", h.PublishMessage)
					g.Get("/messages", h.ReadMessages)
					g.Post("/presence", h.JoinPresence)
					g.Put("/presence", h.Heartbeat)
					g.Delete("/presence", h.LeavePresence)
					g.Get("/presence", h.ListPresent)
					g.Get("/subscribers/{sid}/cursor", h.GetCursor)
				})
			})
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				httputil.Error(r.Context(), w, http.StatusServiceUnavailable, "storage unavailable", nil)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
