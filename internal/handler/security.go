package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// APIKeyHeader carries the raw admin API key.
const APIKeyHeader = "X-API-Key"

// requireAdmin rejects requests without a valid API key carrying
// auth.ScopeAdmin.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid API key")
			return
		case err != nil:
			zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
			httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "authentication is temporarily unavailable")
			return
		}
		if !info.HasScope(auth.ScopeAdmin) {
			httpmiddleware.WriteError(w, http.StatusForbidden, "FORBIDDEN", "API key lacks the admin scope")
			return
		}
		next.ServeHTTP(w, r.WithContext(zctx.With(r.Context(), zap.String("api_key_id", info.ID))))
	})
}
