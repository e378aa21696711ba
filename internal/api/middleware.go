package api

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey uint8

const ctxKeyUserID ctxKey = iota

// withAuth rejects requests without a valid bearer token and stores the
// authenticated user id on the request context.
func (h *Handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		if raw == "" || !strings.HasPrefix(raw, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "no token, authorization denied")
			return
		}

		userID, err := h.tokens.Verify(strings.TrimPrefix(raw, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "token is not valid")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUserID, userID)))
	}
}

// userIDFrom returns the authenticated user id placed by withAuth.
func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}
