package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cwrk-planet/room-bus/config"
	"github.com/cwrk-planet/room-bus/internal/bus"
	"github.com/cwrk-planet/room-bus/internal/postgres"
	"github.com/cwrk-planet/room-bus/internal/presence"
	"github.com/cwrk-planet/room-bus/internal/relay"
	"github.com/cwrk-planet/room-bus/internal/service"
	grpcx "github.com/cwrk-planet/room-bus/internal/transport/grpc"
	httpx "github.com/cwrk-planet/room-bus/internal/transport/http"
	httpmw "github.com/cwrk-planet/room-bus/internal/transport/http/middleware"
	"github.com/cwrk-planet/room-bus/internal/transport/ws"
	"github.com/cwrk-planet/room-bus/pkg/logger"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP/WebSocket and gRPC servers, presence sweeper and Kafka relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply the postgres schema before start")
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting room-bus",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "storage", cfg.Storage.Driver)

	// без экспортёра: спаны нужны ради trace_id/span_id в логах
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

	// --- storage ---
	st, pool, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if pool != nil {
		defer pool.Close()
		if serveMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
		}
	}

	// --- presence ---
	var mirror presence.Mirror
	switch cfg.Presence.Mirror {
	case "redis":
		rdb, err := presence.DialRedis(ctx, cfg.Presence.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		mirror = presence.NewRedisMirror(rdb)
	case "postgres":
		mirror = postgres.NewPresenceMirror(pool)
	}
	registry := presence.NewRegistry(presence.Options{
		Timeout: cfg.Presence.Timeout,
		Mirror:  mirror,
	})
	if n, err := registry.Restore(ctx); err != nil {
		slog.Warn("presence restore failed", "err", err)
	} else if n > 0 {
		slog.Info("presence restored", "entries", n)
	}

	// --- relay ---
	var rl *relay.Relay
	busOpts := bus.Options{
		BufferSize: cfg.Bus.SubscriberBuffer,
		PageSize:   cfg.Bus.PageSize,
		Rooms:      st,
		Presence:   registry,
		Logger:     slog.Default(),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		origin := cfg.Kafka.Origin
		if origin == "" {
			origin = uuid.NewString()
		}
		rl = relay.New(relay.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic, Origin: origin})
		defer rl.Close()
		busOpts.Announcer = rl
		slog.Info("kafka relay enabled", "topic", cfg.Kafka.Topic, "origin", origin)
	}
	b := bus.New(st, busOpts)

	// --- auth ---
	var verifier httpmw.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = httpmw.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.ClockSkew)
	} else {
		slog.Warn("auth.jwtSecret is empty, bearer tokens are not verified")
	}

	// --- transports ---
	roomSvc := service.NewRoomService(st)
	wsSrv := ws.NewServer(ws.NewHub(), b, verifier, cfg.HTTP.PingEvery)
	router := httpx.NewRouter(httpx.RouterDeps{
		Handler:        httpx.NewHandler(roomSvc, b, cfg.HTTP.PollWait),
		WS:             wsSrv.HandleWS,
		Verifier:       verifier,
		Presence:       b,
		Health:         st.Ping,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})
	httpSrv := httpx.NewServer(httpx.Config{
		Addr:        cfg.HTTP.Addr,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}, router)
	grpcSrv := grpcx.NewGRPCServer(grpcx.NewServer(roomSvc, b, verifier), cfg.GRPC.DefaultTimeout)

	// --- run ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(gctx) })
	g.Go(func() error {
		ln, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		slog.Info("grpc server listening", "addr", ln.Addr().String())
		return grpcx.Serve(gctx, grpcSrv, ln)
	})
	g.Go(func() error { return ignoreCanceled(registry.Run(gctx, cfg.Presence.SweepInterval)) })
	if rl != nil {
		g.Go(func() error { return ignoreCanceled(rl.Run(gctx, b)) })
	}
	// закрытие шины отпускает long-poll и WS, иначе Shutdown ждал бы их до таймаута
	g.Go(func() error {
		<-gctx.Done()
		b.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return err
	}
	slog.Info("stopped")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
