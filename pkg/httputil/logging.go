package httputil

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// MiddlewareLogging логирует метод, путь, статус, длительность и X-Request-ID.
// Тела не пишутся: в них пользовательские сообщения. Уровень зависит от статуса.
func MiddlewareLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := NewRecorder(w)
		next.ServeHTTP(lrw, r)

		level := slog.LevelInfo
		switch {
		case lrw.Status() >= 500:
			level = slog.LevelError
		case lrw.Status() >= 400:
			level = slog.LevelWarn
		}

		reqID, _ := FromContext(r.Context())
		slog.Default().LogAttrs(r.Context(), level, "http request",
			slog.String("req_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("query", r.URL.RawQuery),
			slog.Int("status", lrw.Status()),
			slog.Int64("bytes", lrw.Bytes()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// Recorder запоминает статус и объём ответа. Пропускает Flush и Hijack,
// иначе за ним не работают long-poll и WebSocket.
type Recorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func NewRecorder(w http.ResponseWriter) *Recorder {
	if rec, ok := w.(*Recorder); ok {
		return rec
	}
	return &Recorder{ResponseWriter: w}
}

func (w *Recorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *Recorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *Recorder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *Recorder) Bytes() int64 { return w.bytes }

func (w *Recorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *Recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (w *Recorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
