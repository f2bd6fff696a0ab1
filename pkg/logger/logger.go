// Package logger настраивает slog процесса: std или zap бэкенд, общие атрибуты
// сервиса и trace_id/span_id из контекста.
package logger

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

var (
	mu      sync.Mutex
	def     *slog.Logger
	flushFn func() error
)

// Init собирает логгер по cfg и делает его slog.Default.
func Init(cfg Config) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "room-bus"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	cfg.InstanceID = ensureInstanceID(cfg.InstanceID)
	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var (
		h     slog.Handler
		flush func() error
	)
	switch cfg.Backend {
	case BackendZap:
		h, flush = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}
	h = traceHandler{h}.WithAttrs(commonAttrs(cfg, time.Now()))

	l := slog.New(h)
	slog.SetDefault(l)

	mu.Lock()
	def, flushFn = l, flush
	mu.Unlock()
	return l
}

// L: текущий логгер, при первом вызове Init с настройками из окружения.
func L() *slog.Logger {
	mu.Lock()
	l := def
	mu.Unlock()
	if l != nil {
		return l
	}
	return Init(Config{})
}

// Sync сбрасывает буферы zap. Для std бэкенда no-op.
func Sync() error {
	mu.Lock()
	f := flushFn
	mu.Unlock()
	if f == nil {
		return nil
	}
	return f()
}
