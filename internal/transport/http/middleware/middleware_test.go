package httpmw

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

func TestAuthMiddleware(t *testing.T) {
	var gotChar domain.CharacterID
	var gotSub string
	verifier := NewJWTVerifier("s3cret", "auth-service", "room-bus", time.Second)
	h := AuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotChar = CharacterIDFromCtx(r.Context())
		gotSub = SubjectFromCtx(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	good, err := verifier.Sign("42", time.Now(), time.Minute)
	require.NoError(t, err)
	expired, err := verifier.Sign("42", time.Now().Add(-time.Hour), time.Minute)
	require.NoError(t, err)
	foreign, err := NewJWTVerifier("other", "auth-service", "room-bus", 0).Sign("42", time.Now(), time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		auth   string
		char   string
		status int
	}{
		{"ok", "Bearer " + good, "7", http.StatusNoContent},
		{"no bearer", "", "7", http.StatusUnauthorized},
		{"no character", "Bearer " + good, "", http.StatusUnauthorized},
		{"bad character", "Bearer " + good, "-3", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "7", http.StatusUnauthorized},
		{"wrong key", "Bearer " + foreign, "7", http.StatusUnauthorized},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if c.auth != "" {
				req.Header.Set("Authorization", c.auth)
			}
			if c.char != "" {
				req.Header.Set(HeaderCharacterID, c.char)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, c.status, rec.Code)
		})
	}
	assert.Equal(t, domain.CharacterID(7), gotChar)
	assert.Equal(t, "42", gotSub)
}

func TestAuthMiddleware_WithoutVerifier(t *testing.T) {
	h := AuthMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, SubjectFromCtx(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer opaque")
	req.Header.Set(HeaderCharacterID, "9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type touches struct {
	calls []string
}

func (t *touches) Heartbeat(_ context.Context, roomID domain.RoomID, characterID domain.CharacterID) bool {
	t.calls = append(t.calls, fmtTouch(roomID, characterID))
	return true
}

func fmtTouch(r domain.RoomID, c domain.CharacterID) string {
	return fmt.Sprintf("%d/%d", r, c)
}

func TestHeartbeatMiddleware(t *testing.T) {
	tc := &touches{}
	r := chi.NewRouter()
	r.Use(AuthMiddleware(nil))
	r.Route("/rooms/{id}", func(rr chi.Router) {
		rr.Use(HeartbeatMiddleware(tc))
		rr.Get("/", func(w http.ResponseWriter, r *http.Request) {})
	})

	for _, path := range []string{"/rooms/5/", "/rooms/abc/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer t")
		req.Header.Set(HeaderCharacterID, "7")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, []string{fmtTouch(5, 7)}, tc.calls)
}
