package domain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ============================================================
// Competência (billing cycle month)
// ============================================================

const competenciaLayout = "2006-01"

// Competencia is the calendar month a purchase or invoice belongs to ("2025-03").
type Competencia struct {
	Year  int
	Month time.Month
}

// CompetenciaOf returns the competência of the calendar month containing t.
func CompetenciaOf(t time.Time) Competencia {
	return Competencia{Year: t.Year(), Month: t.Month()}
}

// ParseCompetencia parses a "YYYY-MM" string.
func ParseCompetencia(s string) (Competencia, error) {
	t, err := time.Parse(competenciaLayout, s)
	if err != nil {
		return Competencia{}, &ErrValidation{Field: "competencia", Message: fmt.Sprintf("expected YYYY-MM, got %q", s)}
	}
	return CompetenciaOf(t), nil
}

func (c Competencia) String() string {
	return fmt.Sprintf("%04d-%02d", c.Year, int(c.Month))
}

func (c Competencia) IsZero() bool {
	return c.Year == 0 && c.Month == 0
}

// AddMonths returns the competência n months away (n may be negative).
func (c Competencia) AddMonths(n int) Competencia {
	return CompetenciaOf(time.Date(c.Year, c.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC))
}

// Before reports whether c is an earlier month than o.
func (c Competencia) Before(o Competencia) bool {
	if c.Year != o.Year {
		return c.Year < o.Year
	}
	return c.Month < o.Month
}

// FirstDay is the 1st of the month at UTC midnight.
func (c Competencia) FirstDay() time.Time {
	return time.Date(c.Year, c.Month, 1, 0, 0, 0, 0, time.UTC)
}

// LastDay is the last calendar day of the month at UTC midnight.
func (c Competencia) LastDay() time.Time {
	return time.Date(c.Year, c.Month, DaysIn(c.Year, c.Month), 0, 0, 0, 0, time.UTC)
}

// Day applies a day-of-month to c, clamping it to the month length.
func (c Competencia) Day(day int) time.Time {
	if day < 1 {
		day = 1
	}
	if last := DaysIn(c.Year, c.Month); day > last {
		day = last
	}
	return time.Date(c.Year, c.Month, day, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether date falls inside the month.
func (c Competencia) Contains(date time.Time) bool {
	return CompetenciaOf(date) == c
}

func (c Competencia) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Competencia) UnmarshalText(b []byte) error {
	parsed, err := ParseCompetencia(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value stores the competência as its "YYYY-MM" text.
func (c Competencia) Value() (driver.Value, error) {
	return c.String(), nil
}

// Scan reads a "YYYY-MM" column.
func (c *Competencia) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	case nil:
		*c = Competencia{}
		return nil
	default:
		return fmt.Errorf("competencia: unsupported scan type %T", src)
	}
}

// DaysIn returns the number of days of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateOnly truncates t to its calendar date at UTC midnight.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AddMonthsClamped moves date n months forward keeping its day, clamped to
// the target month length (Jan 31 + 1 month = Feb 28/29, not Mar 3).
func AddMonthsClamped(date time.Time, n int) time.Time {
	return CompetenciaOf(date).AddMonths(n).Day(date.Day())
}

// ============================================================
// Cycle resolution
// ============================================================

// Cycle is the billing cycle a purchase falls into.
type Cycle struct {
	Competencia Competencia `json:"competencia"`
	DueDate     time.Time   `json:"due_date"`
	ClosingDate time.Time   `json:"closing_date"`
}

// ResolveCycle maps a purchase date to the card's billing cycle.
//
// Purchases before the closing day belong to the purchase month; purchases on
// or after it land on the next month's invoice. Closing and due days beyond
// the month length clamp to its last day.
func ResolveCycle(purchaseDate time.Time, card Card) Cycle {
	purchaseMonth := CompetenciaOf(purchaseDate)
	comp := purchaseMonth
	if purchaseDate.Day() >= purchaseMonth.Day(card.ClosingDay).Day() {
		comp = comp.AddMonths(1)
	}
	return CycleFor(comp, card)
}

// CycleFor returns the due and closing dates of a given competência.
// The due date trails the competência by one month, or by two when the due
// day is numerically smaller than the closing day.
func CycleFor(comp Competencia, card Card) Cycle {
	dueMonth := comp.AddMonths(1)
	if card.DueDay < card.ClosingDay {
		dueMonth = comp.AddMonths(2)
	}
	return Cycle{
		Competencia: comp,
		DueDate:     dueMonth.Day(card.DueDay),
		ClosingDate: comp.Day(card.ClosingDay),
	}
}
