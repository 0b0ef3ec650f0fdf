package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
	"github.com/boddenberg/faturas-core/internal/port"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Auditor runs the consistency checks for a tenant.
type Auditor interface {
	Audit(ctx context.Context, tenantID string) (*domain.AuditReport, error)
}

// NewRouter creates the operational HTTP router. The core has no product
// API: these routes expose health, metrics and on-demand audits.
// A nil store reports only the process itself.
func NewRouter(store port.Store, auditor Auditor, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.TraceContextMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(store))
	r.Get("/readyz", readyzHandler(store, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/stats", statsHandler(metrics))

	// --- Ops API v1 ---
	r.Route("/v1/tenants/{tenantId}", func(r chi.Router) {
		r.Use(TenantMiddleware(logger))
		r.Get("/audit", auditHandler(auditor, logger))
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(store port.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC().Format(time.RFC3339)

		services := []domain.ComponentHealth{
			{Name: "faturas-core", Status: "healthy", LastChecked: now},
		}

		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			start := time.Now()
			err := store.Ping(ctx)
			cancel()
			db := domain.ComponentHealth{
				Name:        "database",
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				db.Status = "unhealthy"
				db.Error = err.Error()
			}
			services = append(services, db)
		}

		overall := "healthy"
		status := http.StatusOK
		for _, s := range services {
			if s.Status == "unhealthy" {
				overall = "unhealthy"
				status = http.StatusServiceUnavailable
				break
			}
		}

		writeJSON(w, status, domain.HealthStatus{
			Status:   overall,
			Services: services,
		})
	}
}

func readyzHandler(store port.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				logger.Warn("readiness: database unreachable", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func statsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}

// ============================================================
// Audit
// ============================================================

func auditHandler(auditor Auditor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "Handler.Audit")
		defer span.End()

		tenantID := TenantIDFromContext(ctx)
		span.SetAttributes(attribute.String("tenant.id", tenantID))

		if auditor == nil {
			writeError(w, http.StatusServiceUnavailable, domain.KindUnknown, "audit not configured")
			return
		}

		report, err := auditor.Audit(ctx, tenantID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Bool("audit.clean", report.Clean()))
		writeJSON(w, http.StatusOK, report)
	}
}
