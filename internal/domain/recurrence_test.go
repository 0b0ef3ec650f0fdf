package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/faturas-core/internal/domain"
)

func recurrence(freq domain.Frequency, dueDay int, start time.Time) domain.Recurrence {
	return domain.Recurrence{
		ID:        "rec-1",
		TenantID:  "t1",
		AccountID: "acc-1",
		Kind:      domain.KindDebit,
		Amount:    decimal.RequireFromString("50.00"),
		Frequency: freq,
		DueDay:    dueDay,
		StartDate: start,
	}
}

func formatDates(ds []time.Time) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Format(time.DateOnly)
	}
	return out
}

func TestOccurrencesIn(t *testing.T) {
	nov := domain.Competencia{Year: 2025, Month: time.November}
	end := func(d time.Time) *time.Time { return &d }

	tests := []struct {
		name string
		rec  domain.Recurrence
		want []string
	}{
		{
			name: "monthly on due day",
			rec:  recurrence(domain.Monthly, 15, date(2025, time.January, 1)),
			want: []string{"2025-11-15"},
		},
		{
			name: "monthly due day clamps",
			rec:  recurrence(domain.Monthly, 31, date(2025, time.January, 1)),
			want: []string{"2025-11-30"},
		},
		{
			name: "monthly starting after due day in month",
			rec:  recurrence(domain.Monthly, 15, date(2025, time.November, 20)),
			want: []string{},
		},
		{
			name: "weekly anchored on start",
			rec:  recurrence(domain.Weekly, 1, date(2025, time.October, 29)),
			want: []string{"2025-11-05", "2025-11-12", "2025-11-19", "2025-11-26"},
		},
		{
			name: "biweekly",
			rec:  recurrence(domain.Biweekly, 1, date(2025, time.November, 3)),
			want: []string{"2025-11-03", "2025-11-17"},
		},
		{
			name: "daily bounded by end date",
			rec: func() domain.Recurrence {
				r := recurrence(domain.Daily, 1, date(2025, time.November, 1))
				r.EndDate = end(date(2025, time.November, 5))
				return r
			}(),
			want: []string{"2025-11-01", "2025-11-02", "2025-11-03", "2025-11-04", "2025-11-05"},
		},
		{
			name: "yearly outside its month",
			rec:  recurrence(domain.Yearly, 10, date(2024, time.March, 10)),
			want: []string{},
		},
		{
			name: "yearly in its month",
			rec:  recurrence(domain.Yearly, 10, date(2024, time.November, 10)),
			want: []string{"2025-11-10"},
		},
		{
			name: "ended before month",
			rec: func() domain.Recurrence {
				r := recurrence(domain.Monthly, 15, date(2025, time.January, 1))
				r.EndDate = end(date(2025, time.October, 31))
				return r
			}(),
			want: []string{},
		},
		{
			name: "paused",
			rec: func() domain.Recurrence {
				r := recurrence(domain.Monthly, 15, date(2025, time.January, 1))
				r.Paused = true
				return r
			}(),
			want: []string{},
		},
		{
			name: "starts after month",
			rec:  recurrence(domain.Monthly, 15, date(2025, time.December, 1)),
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rec.OccurrencesIn(nov)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			gotS := formatDates(got)
			if len(gotS) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, gotS)
			}
			for i := range gotS {
				if gotS[i] != tt.want[i] {
					t.Errorf("occurrence %d: expected %s, got %s", i, tt.want[i], gotS[i])
				}
			}
		})
	}
}

func TestRecurrence_ValidateRejectsBadTemplates(t *testing.T) {
	bad := []domain.Recurrence{
		recurrence("fortnightly", 10, date(2025, time.January, 1)),
		recurrence(domain.Monthly, 0, date(2025, time.January, 1)),
		recurrence(domain.Monthly, 32, date(2025, time.January, 1)),
		recurrence(domain.Monthly, 10, time.Time{}),
	}
	for _, r := range bad {
		err := r.Validate()
		var invalid *domain.ErrInvalidRecurrence
		if !errors.As(err, &invalid) {
			t.Errorf("%+v: expected ErrInvalidRecurrence, got %v", r, err)
		}
		if _, err := r.OccurrencesIn(domain.Competencia{Year: 2025, Month: time.March}); err == nil {
			t.Errorf("%+v: expected OccurrencesIn to fail", r)
		}
	}
}

func TestRecurrence_NextAfterAndFirst(t *testing.T) {
	monthly := recurrence(domain.Monthly, 31, date(2025, time.January, 5))
	if got := monthly.FirstOccurrence(); !got.Equal(date(2025, time.January, 31)) {
		t.Errorf("first monthly: got %s", got.Format(time.DateOnly))
	}
	if got := monthly.NextAfter(date(2025, time.January, 31)); !got.Equal(date(2025, time.February, 28)) {
		t.Errorf("next monthly: got %s", got.Format(time.DateOnly))
	}

	late := recurrence(domain.Monthly, 3, date(2025, time.January, 5))
	if got := late.FirstOccurrence(); !got.Equal(date(2025, time.February, 3)) {
		t.Errorf("first monthly after due day: got %s", got.Format(time.DateOnly))
	}

	weekly := recurrence(domain.Weekly, 1, date(2025, time.November, 3))
	if got := weekly.NextAfter(date(2025, time.November, 3)); !got.Equal(date(2025, time.November, 10)) {
		t.Errorf("next weekly: got %s", got.Format(time.DateOnly))
	}

	yearly := recurrence(domain.Yearly, 10, date(2024, time.March, 10))
	if got := yearly.NextAfter(date(2025, time.March, 10)); !got.Equal(date(2026, time.March, 10)) {
		t.Errorf("next yearly: got %s", got.Format(time.DateOnly))
	}
}

func TestFrequency_DedupByDate(t *testing.T) {
	for _, f := range []domain.Frequency{domain.Daily, domain.Weekly, domain.Biweekly} {
		if !f.DedupByDate() {
			t.Errorf("%s should dedup by date", f)
		}
	}
	for _, f := range []domain.Frequency{domain.Monthly, domain.Yearly} {
		if f.DedupByDate() {
			t.Errorf("%s should dedup by month", f)
		}
	}
}
