package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

type envelope map[string]any

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// OK: «успешный» ответ с обёрткой.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, envelope{"data": data})
}

// Created: то же, что OK, со статусом 201.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, envelope{"data": data})
}

// Error: унифицированная ошибка (message + code).
func Error(ctx context.Context, w http.ResponseWriter, status int, msg string, meta map[string]any) {
	inner := envelope{"message": msg}
	if reqID, ok := FromContext(ctx); ok {
		inner["request_id"] = reqID
	}
	if len(meta) > 0 {
		inner["meta"] = meta
	}
	JSON(w, status, envelope{"error": inner})
}

// WriteError выбирает статус через ToHTTP. Текст 5xx наружу не отдаётся.
func WriteError(ctx context.Context, w http.ResponseWriter, err error, mappers ...StatusMapper) {
	status := ToHTTP(err, mappers...)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "status", status, "err", err)
		msg = http.StatusText(status)
	}
	Error(ctx, w, status, msg, nil)
}
