package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/faturas-core/internal/domain"
)

const (
	dateLayout = "2006-01-02"
	// fixed width so SQLite text timestamps sort chronologically
	tsLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// timeLayouts are the textual forms drivers hand back for DATE and timestamp columns.
var timeLayouts = []string{
	tsLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	dateLayout,
}

// ============================================================
// Arguments
// ============================================================

func dateArg(t time.Time) string {
	return t.Format(dateLayout)
}

func nullDateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dateArg(*t)
}

func tsArg(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func nullTSArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return tsArg(*t)
}

func nullDecimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return domain.Money(*d).String()
}

func moneyArg(d decimal.Decimal) string {
	return domain.Money(d).String()
}

func nullStringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullIntArg(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

// ============================================================
// Scanning
// ============================================================

// timeCol scans DATE/TIMESTAMP columns that arrive as time.Time (pq) or text (SQLite).
type timeCol struct {
	Time  time.Time
	Valid bool
}

func (c *timeCol) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		c.Time, c.Valid = time.Time{}, false
		return nil
	case time.Time:
		c.Time, c.Valid = v.UTC(), true
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	default:
		return fmt.Errorf("unsupported time column type %T", src)
	}
}

func (c *timeCol) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			c.Time, c.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", s)
}

// date returns the column as a calendar date.
func (c timeCol) date() time.Time {
	return domain.DateOnly(c.Time)
}

func (c timeCol) datePtr() *time.Time {
	if !c.Valid {
		return nil
	}
	d := c.date()
	return &d
}

func (c timeCol) ptr() *time.Time {
	if !c.Valid {
		return nil
	}
	t := c.Time
	return &t
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullDecimalPtr(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := domain.Money(nd.Decimal)
	return &d
}

func nullCompetenciaPtr(nc sql.Null[domain.Competencia]) *domain.Competencia {
	if !nc.Valid {
		return nil
	}
	c := nc.V
	return &c
}

// scanner is satisfied by *sql.Rows and *tracedRow.
type scanner interface {
	Scan(dest ...any) error
}
