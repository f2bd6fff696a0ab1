package httpmw

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/pkg/httputil"
)

type ctxKey string

const (
	ctxKeyToken       ctxKey = "token"
	ctxKeyCharacterID ctxKey = "character_id"
	ctxKeySubject     ctxKey = "subject"

	HeaderCharacterID = "X-Character-ID"
)

// TokenVerifier проверяет access token и возвращает subject (id аккаунта).
type TokenVerifier interface {
	Verify(token string) (subject string, err error)
}

// AuthMiddleware требует Bearer + X-Character-ID. Если verifier == nil, токен не
// проверяется: его валидирует шлюз перед сервисом.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= 7 {
				httputil.Error(r.Context(), w, http.StatusUnauthorized, "missing bearer token", nil)
				return
			}
			token := strings.TrimSpace(auth[7:])

			charID, err := ParseCharacterID(r.Header.Get(HeaderCharacterID))
			if err != nil {
				httputil.Error(r.Context(), w, http.StatusUnauthorized, "invalid "+HeaderCharacterID+" (must be positive int64)", nil)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyToken, token)
			ctx = context.WithValue(ctx, ctxKeyCharacterID, charID)
			if verifier != nil {
				sub, err := verifier.Verify(token)
				if err != nil {
					httputil.Error(r.Context(), w, http.StatusUnauthorized, "invalid token", nil)
					return
				}
				ctx = context.WithValue(ctx, ctxKeySubject, sub)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ParseCharacterID(raw string) (domain.CharacterID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return domain.CharacterID(id), nil
}

func CharacterIDFromCtx(ctx context.Context) domain.CharacterID {
	if v, ok := ctx.Value(ctxKeyCharacterID).(domain.CharacterID); ok {
		return v
	}
	return 0
}

// SubjectFromCtx: subject токена, если токен проверялся.
func SubjectFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySubject).(string)
	return v
}
