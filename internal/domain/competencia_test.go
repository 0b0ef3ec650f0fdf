package domain_test

import (
	"testing"
	"time"

	"github.com/boddenberg/faturas-core/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveCycle_BeforeClosingDayStaysInMonth(t *testing.T) {
	card := domain.Card{ClosingDay: 10, DueDay: 20}

	for day := 1; day < 10; day++ {
		got := domain.ResolveCycle(date(2025, time.March, day), card)
		if got.Competencia.String() != "2025-03" {
			t.Errorf("day %d: expected 2025-03, got %s", day, got.Competencia)
		}
	}
}

func TestResolveCycle_OnOrAfterClosingDayRolls(t *testing.T) {
	card := domain.Card{ClosingDay: 10, DueDay: 20}

	for day := 10; day <= 31; day++ {
		got := domain.ResolveCycle(date(2025, time.March, day), card)
		if got.Competencia.String() != "2025-04" {
			t.Errorf("day %d: expected 2025-04, got %s", day, got.Competencia)
		}
	}
}

func TestResolveCycle_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		card     domain.Card
		purchase time.Time
		wantComp string
		wantDue  time.Time
		wantClos time.Time
	}{
		{
			name:     "day before closing",
			card:     domain.Card{ClosingDay: 10, DueDay: 20},
			purchase: date(2025, time.March, 9),
			wantComp: "2025-03",
			wantDue:  date(2025, time.April, 20),
			wantClos: date(2025, time.March, 10),
		},
		{
			name:     "closing day itself",
			card:     domain.Card{ClosingDay: 10, DueDay: 20},
			purchase: date(2025, time.March, 10),
			wantComp: "2025-04",
			wantDue:  date(2025, time.May, 20),
			wantClos: date(2025, time.April, 10),
		},
		{
			name:     "due day smaller than closing day",
			card:     domain.Card{ClosingDay: 25, DueDay: 5},
			purchase: date(2025, time.March, 3),
			wantComp: "2025-03",
			wantDue:  date(2025, time.May, 5),
			wantClos: date(2025, time.March, 25),
		},
		{
			name:     "year rollover",
			card:     domain.Card{ClosingDay: 10, DueDay: 20},
			purchase: date(2025, time.December, 15),
			wantComp: "2026-01",
			wantDue:  date(2026, time.February, 20),
			wantClos: date(2026, time.January, 10),
		},
		{
			name:     "closing day 31 clamps in february",
			card:     domain.Card{ClosingDay: 31, DueDay: 31},
			purchase: date(2025, time.February, 28),
			wantComp: "2025-03",
			wantDue:  date(2025, time.April, 30),
			wantClos: date(2025, time.March, 31),
		},
		{
			name:     "february before clamped closing",
			card:     domain.Card{ClosingDay: 31, DueDay: 31},
			purchase: date(2025, time.February, 27),
			wantComp: "2025-02",
			wantDue:  date(2025, time.March, 31),
			wantClos: date(2025, time.February, 28),
		},
		{
			name:     "due day clamps in leap february",
			card:     domain.Card{ClosingDay: 5, DueDay: 30},
			purchase: date(2024, time.January, 2),
			wantComp: "2024-01",
			wantDue:  date(2024, time.February, 29),
			wantClos: date(2024, time.January, 5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.ResolveCycle(tt.purchase, tt.card)
			if got.Competencia.String() != tt.wantComp {
				t.Errorf("competencia: expected %s, got %s", tt.wantComp, got.Competencia)
			}
			if !got.DueDate.Equal(tt.wantDue) {
				t.Errorf("due date: expected %s, got %s", tt.wantDue.Format(time.DateOnly), got.DueDate.Format(time.DateOnly))
			}
			if !got.ClosingDate.Equal(tt.wantClos) {
				t.Errorf("closing date: expected %s, got %s", tt.wantClos.Format(time.DateOnly), got.ClosingDate.Format(time.DateOnly))
			}
		})
	}
}

func TestParseCompetencia(t *testing.T) {
	c, err := domain.ParseCompetencia("2025-11")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Year != 2025 || c.Month != time.November {
		t.Errorf("unexpected competencia %+v", c)
	}

	for _, bad := range []string{"", "2025-13", "2025/11", "25-11"} {
		if _, err := domain.ParseCompetencia(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestCompetencia_AddMonths(t *testing.T) {
	c := domain.Competencia{Year: 2025, Month: time.November}
	if got := c.AddMonths(2).String(); got != "2026-01" {
		t.Errorf("expected 2026-01, got %s", got)
	}
	if got := c.AddMonths(-11).String(); got != "2024-12" {
		t.Errorf("expected 2024-12, got %s", got)
	}
	if !c.Before(c.AddMonths(1)) || c.AddMonths(1).Before(c) {
		t.Error("Before ordering is wrong")
	}
}

func TestCompetencia_Scan(t *testing.T) {
	var c domain.Competencia
	if err := c.Scan([]byte("2025-03")); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if c.String() != "2025-03" {
		t.Errorf("expected 2025-03, got %s", c)
	}
	v, err := c.Value()
	if err != nil || v != "2025-03" {
		t.Errorf("unexpected value %v (%v)", v, err)
	}
	if err := c.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestAddMonthsClamped(t *testing.T) {
	got := domain.AddMonthsClamped(date(2025, time.January, 31), 1)
	if !got.Equal(date(2025, time.February, 28)) {
		t.Errorf("expected 2025-02-28, got %s", got.Format(time.DateOnly))
	}
	got = domain.AddMonthsClamped(date(2025, time.January, 31), 2)
	if !got.Equal(date(2025, time.March, 31)) {
		t.Errorf("expected 2025-03-31, got %s", got.Format(time.DateOnly))
	}
}
