package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Recurrences
// ============================================================

// Frequency is how often a recurrence produces a transaction.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
	Yearly   Frequency = "yearly"
)

// stepDays is the fixed spacing of the day-based frequencies.
var stepDays = map[Frequency]int{
	Daily:    1,
	Weekly:   7,
	Biweekly: 14,
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Yearly:
		return true
	}
	return false
}

// DedupByDate reports whether occurrences of this frequency are deduplicated
// by exact date. Monthly and yearly recurrences produce at most one entry per
// month and deduplicate by reference month alone.
func (f Frequency) DedupByDate() bool {
	_, ok := stepDays[f]
	return ok
}

// Recurrence is a template that periodically produces ledger transactions.
type Recurrence struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	AccountID      string          `json:"account_id"`
	CategoryID     *string         `json:"category_id,omitempty"`
	Kind           TransactionKind `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	Frequency      Frequency       `json:"frequency"`
	DueDay         int             `json:"due_day"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	Paused         bool            `json:"paused"`
	Deleted        bool            `json:"deleted"`
	NextOccurrence *time.Time      `json:"next_occurrence,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Origin is the tag carried by transactions generated from r.
func (r Recurrence) Origin() string {
	return RecurrenceOrigin(r.ID)
}

// Validate rejects templates the generator cannot expand.
func (r Recurrence) Validate() error {
	if !r.Frequency.Valid() {
		return &ErrInvalidRecurrence{RecurrenceID: r.ID, Reason: fmt.Sprintf("unknown frequency %q", r.Frequency)}
	}
	if r.DueDay < 1 || r.DueDay > 31 {
		return &ErrInvalidRecurrence{RecurrenceID: r.ID, Reason: fmt.Sprintf("due day %d out of range 1-31", r.DueDay)}
	}
	if r.StartDate.IsZero() {
		return &ErrInvalidRecurrence{RecurrenceID: r.ID, Reason: "start date is required"}
	}
	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return &ErrInvalidRecurrence{RecurrenceID: r.ID, Reason: "end date before start date"}
	}
	return nil
}

// Active reports whether the template may generate at all.
func (r Recurrence) Active() bool {
	return !r.Paused && !r.Deleted
}

// ActiveIn reports whether r's [start, end] window overlaps month.
func (r Recurrence) ActiveIn(month Competencia) bool {
	if !r.Active() {
		return false
	}
	if DateOnly(r.StartDate).After(month.LastDay()) {
		return false
	}
	if r.EndDate != nil && DateOnly(*r.EndDate).Before(month.FirstDay()) {
		return false
	}
	return true
}

// OccurrencesIn lists the occurrence dates of r inside month.
//
// Monthly recurrences occur once, on the due day clamped to the month length.
// Yearly recurrences occur on the due day of the start date's month. Daily,
// weekly and biweekly recurrences step from the start date. Every occurrence
// lies inside the [start, end] window.
func (r Recurrence) OccurrencesIn(month Competencia) ([]time.Time, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !r.ActiveIn(month) {
		return nil, nil
	}

	switch r.Frequency {
	case Monthly:
		return r.within(month.Day(r.DueDay)), nil
	case Yearly:
		if r.StartDate.Month() != month.Month {
			return nil, nil
		}
		return r.within(month.Day(r.DueDay)), nil
	}

	step := stepDays[r.Frequency]
	start := DateOnly(r.StartDate)
	from := month.FirstDay()
	to := month.LastDay()
	if r.EndDate != nil && DateOnly(*r.EndDate).Before(to) {
		to = DateOnly(*r.EndDate)
	}

	first := start
	if start.Before(from) {
		elapsed := int(from.Sub(start).Hours() / 24)
		k := (elapsed + step - 1) / step
		first = start.AddDate(0, 0, k*step)
	}

	var dates []time.Time
	for d := first; !d.After(to); d = d.AddDate(0, 0, step) {
		dates = append(dates, d)
	}
	return dates, nil
}

// within keeps date only if it lies in the [start, end] window.
func (r Recurrence) within(date time.Time) []time.Time {
	if date.Before(DateOnly(r.StartDate)) {
		return nil
	}
	if r.EndDate != nil && date.After(DateOnly(*r.EndDate)) {
		return nil
	}
	return []time.Time{date}
}

// NextAfter returns the occurrence following date.
func (r Recurrence) NextAfter(date time.Time) time.Time {
	date = DateOnly(date)
	switch r.Frequency {
	case Monthly:
		return CompetenciaOf(date).AddMonths(1).Day(r.DueDay)
	case Yearly:
		next := Competencia{Year: date.Year() + 1, Month: r.StartDate.Month()}
		return next.Day(r.DueDay)
	default:
		return date.AddDate(0, 0, stepDays[r.Frequency])
	}
}

// FirstOccurrence is the first occurrence on or after the start date.
func (r Recurrence) FirstOccurrence() time.Time {
	start := DateOnly(r.StartDate)
	switch r.Frequency {
	case Monthly:
		d := CompetenciaOf(start).Day(r.DueDay)
		if d.Before(start) {
			d = CompetenciaOf(start).AddMonths(1).Day(r.DueDay)
		}
		return d
	case Yearly:
		d := CompetenciaOf(start).Day(r.DueDay)
		if d.Before(start) {
			d = Competencia{Year: start.Year() + 1, Month: start.Month()}.Day(r.DueDay)
		}
		return d
	default:
		return start
	}
}
