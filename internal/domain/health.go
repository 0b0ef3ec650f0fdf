package domain

import "time"

// ============================================================
// Health & Stats Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string            `json:"status"` // healthy, unhealthy
	Services []ComponentHealth `json:"services"`
}

// ComponentHealth is the health of one dependency (database, broker).
type ComponentHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	Error       string `json:"error,omitempty"`
	LastChecked string `json:"lastChecked"`
}

// CoreStats is returned by GET /stats: a snapshot of the core's counters.
type CoreStats struct {
	ItemsAccrued        float64            `json:"itemsAccrued"`
	InvoicesOpened      float64            `json:"invoicesOpened"`
	InvoicesClosed      float64            `json:"invoicesClosed"`
	InvoicesPaid        float64            `json:"invoicesPaid"`
	RecurrenceGenerated float64            `json:"recurrenceGenerated"`
	RecurrenceSkipped   float64            `json:"recurrenceSkipped"`
	RecurrenceFailed    float64            `json:"recurrenceFailed"`
	StorageConflicts    float64            `json:"storageConflicts"`
	EventsPublished     float64            `json:"eventsPublished"`
	ConsistencyFindings map[string]float64 `json:"consistencyFindings"`
	TenantCacheHitRate  float64            `json:"tenantCacheHitRate"`
	GeneratedAt         time.Time          `json:"generatedAt"`
}
