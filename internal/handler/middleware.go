package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/boddenberg/faturas-core/internal/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type contextKey string

const tenantIDKey contextKey = "tenantID"

// TenantMiddleware validates the {tenantId} path parameter and injects it
// into the request context.
func TenantMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(chi.URLParam(r, "tenantId"))
			if tenantID == "" || strings.ContainsAny(tenantID, " /") {
				logger.Warn("tenant: invalid id",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid tenant id")
				return
			}

			ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantIDFromContext extracts the tenant ID injected by TenantMiddleware.
func TenantIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}
