package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/boddenberg/faturas-core/internal/domain"
)

// Invoice transition labels.
const (
	TransitionOpened = "opened"
	TransitionClosed = "closed"
	TransitionPaid   = "paid"
)

// Recurrence outcome labels.
const (
	OutcomeGenerated = "generated"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Consistency check labels.
const (
	CheckOrphanItems       = "orphan_items"
	CheckEmptyOpenInvoices = "empty_open_invoices"
	CheckTotalDrift        = "total_drift"
	CheckDuplicateAccrual  = "duplicate_accrual"
)

// CacheTenants labels the tenant list cache used by the workers.
const CacheTenants = "tenants"

var consistencyChecks = []string{CheckOrphanItems, CheckEmptyOpenInvoices, CheckTotalDrift, CheckDuplicateAccrual}

// Metrics holds all Prometheus metrics for the faturas core.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration   *prometheus.HistogramVec
	operationErrors     *prometheus.CounterVec
	itemsAccrued        prometheus.Counter
	invoiceTransitions  *prometheus.CounterVec
	recurrenceOutcomes  *prometheus.CounterVec
	storageConflicts    *prometheus.CounterVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	eventsRelayed       *prometheus.CounterVec
	consistencyFindings *prometheus.GaugeVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faturas_operation_duration_seconds",
				Help:    "Duration of core operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faturas_operation_errors_total",
				Help: "Failed core operations by error kind.",
			},
			[]string{"operation", "kind"},
		),
		itemsAccrued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "faturas_items_accrued_total",
				Help: "Invoice items accrued, installments counted individually.",
			},
		),
		invoiceTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faturas_invoice_transitions_total",
				Help: "Invoice lifecycle transitions.",
			},
			[]string{"transition"},
		),
		recurrenceOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faturas_recurrence_occurrences_total",
				Help: "Recurrence occurrences by generation outcome.",
			},
			[]string{"outcome"},
		),
		storageConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faturas_storage_conflicts_total",
				Help: "Storage conflicts that triggered a retry of the unit of work.",
			},
			[]string{"operation"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faturas_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faturas_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		eventsRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faturas_outbox_events_total",
				Help: "Outbox events handed to the publisher.",
			},
			[]string{"status"},
		),
		consistencyFindings: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "faturas_consistency_findings",
				Help: "Findings of the last consistency audit per tenant.",
			},
			[]string{"tenant", "check"},
		),
	}
}

// RecordOperation records an operation's duration and, on failure, its error kind.
func (m *Metrics) RecordOperation(operation string, d time.Duration, err error) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.operationErrors.WithLabelValues(operation, domain.KindOf(err)).Inc()
	}
}

func (m *Metrics) AddItemsAccrued(n int) {
	m.itemsAccrued.Add(float64(n))
}

// IncrInvoiceTransition counts an invoice entering a lifecycle state.
func (m *Metrics) IncrInvoiceTransition(transition string) {
	m.invoiceTransitions.WithLabelValues(transition).Inc()
}

func (m *Metrics) AddRecurrenceOutcome(outcome string, n int) {
	m.recurrenceOutcomes.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) IncrStorageConflict(operation string) {
	m.storageConflicts.WithLabelValues(operation).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

func (m *Metrics) AddEventsRelayed(status string, n int) {
	m.eventsRelayed.WithLabelValues(status).Add(float64(n))
}

// SetConsistencyFinding publishes the finding count of one check.
func (m *Metrics) SetConsistencyFinding(tenant, check string, n int) {
	m.consistencyFindings.WithLabelValues(tenant, check).Set(float64(n))
}

// Snapshot returns the counters behind GET /stats.
func (m *Metrics) Snapshot() *domain.CoreStats {
	hits := getCounterValue(m.cacheHits, CacheTenants)
	misses := getCounterValue(m.cacheMisses, CacheTenants)
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	findings := make(map[string]float64, len(consistencyChecks))
	for _, check := range consistencyChecks {
		findings[check] = 0
	}
	if mfs, err := m.Registry.Gather(); err == nil {
		for _, mf := range mfs {
			if mf.GetName() != "faturas_consistency_findings" {
				continue
			}
			for _, metric := range mf.GetMetric() {
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == "check" {
						findings[lp.GetValue()] += metric.GetGauge().GetValue()
					}
				}
			}
		}
	}

	return &domain.CoreStats{
		ItemsAccrued:        readMetric(m.itemsAccrued),
		InvoicesOpened:      getCounterValue(m.invoiceTransitions, TransitionOpened),
		InvoicesClosed:      getCounterValue(m.invoiceTransitions, TransitionClosed),
		InvoicesPaid:        getCounterValue(m.invoiceTransitions, TransitionPaid),
		RecurrenceGenerated: getCounterValue(m.recurrenceOutcomes, OutcomeGenerated),
		RecurrenceSkipped:   getCounterValue(m.recurrenceOutcomes, OutcomeSkipped),
		RecurrenceFailed:    getCounterValue(m.recurrenceOutcomes, OutcomeFailed),
		StorageConflicts:    sumCounterVec(m.Registry, "faturas_storage_conflicts_total"),
		EventsPublished:     getCounterValue(m.eventsRelayed, "published"),
		ConsistencyFindings: findings,
		TenantCacheHitRate:  hitRate,
		GeneratedAt:         time.Now().UTC(),
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return readMetric(cv.WithLabelValues(label))
}

func readMetric(c prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds up every series of a counter family.
func sumCounterVec(reg *prometheus.Registry, name string) float64 {
	mfs, err := reg.Gather()
	if err != nil {
		return 0
	}
	total := float64(0)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
