package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
	"github.com/boddenberg/faturas-core/internal/infra/resilience"
	"github.com/boddenberg/faturas-core/internal/port"
)

var recurrenceTracer = otel.Tracer("service/recurrence")

// RecurrenceService expands recurrence templates into scheduled transactions.
type RecurrenceService struct {
	uow *unitOfWork
}

// NewRecurrenceService creates a new recurrence service.
func NewRecurrenceService(store port.Store, retry resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *RecurrenceService {
	return &RecurrenceService{
		uow: &unitOfWork{store: store, retry: retry, metrics: metrics, logger: logger},
	}
}

// RecurrenceFailure is a template that could not be expanded.
type RecurrenceFailure struct {
	RecurrenceID string `json:"recurrence_id"`
	Kind         string `json:"kind"`
	Err          error  `json:"-"`
	Message      string `json:"message"`
}

// GenerationResult summarizes one GenerateForMonth run.
type GenerationResult struct {
	TenantID  string               `json:"tenant_id"`
	Month     domain.Competencia   `json:"month"`
	Generated []domain.Transaction `json:"generated"`
	Skipped   int                  `json:"skipped"`
	Failures  []RecurrenceFailure  `json:"failures,omitempty"`
}

type recurrenceGeneratedPayload struct {
	Month        domain.Competencia `json:"month"`
	Transactions []string           `json:"transaction_ids"`
	Dates        []string           `json:"dates"`
}

// ============================================================
// Generation
// ============================================================

// GenerateForMonth writes the occurrences of every active template that fall
// in month. Occurrences already generated are skipped, so the call is
// idempotent and safe to run concurrently. Each template is its own unit of
// work; a template that fails is reported in Failures and the rest go on.
func (s *RecurrenceService) GenerateForMonth(ctx context.Context, tenantID string, month domain.Competencia) (*GenerationResult, error) {
	ctx, span := recurrenceTracer.Start(ctx, "RecurrenceService.GenerateForMonth")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("month", month.String()),
	)
	start := time.Now()

	if month.IsZero() {
		err := &domain.ErrValidation{Field: "month", Message: "required"}
		s.uow.observe(span, "generate_recurrences", start, err)
		return nil, err
	}

	var templates []domain.Recurrence
	err := s.uow.run(ctx, "generate_recurrences", func(tx port.Tx) error {
		list, err := tx.Recurrences().ListActiveRecurrences(ctx, tenantID)
		if err != nil {
			return err
		}
		templates = list
		return nil
	})
	if err != nil {
		s.uow.observe(span, "generate_recurrences", start, err)
		return nil, err
	}

	result := &GenerationResult{TenantID: tenantID, Month: month, Generated: []domain.Transaction{}}
	for _, rec := range templates {
		if err := ctx.Err(); err != nil {
			s.uow.observe(span, "generate_recurrences", start, err)
			return result, err
		}
		if !rec.ActiveIn(month) && rec.Validate() == nil {
			continue
		}

		generated, skipped, err := s.generateOne(ctx, rec, month)
		if err != nil {
			result.Failures = append(result.Failures, RecurrenceFailure{
				RecurrenceID: rec.ID,
				Kind:         domain.KindOf(err),
				Err:          err,
				Message:      err.Error(),
			})
			s.uow.logger.Warn("recurrence generation failed",
				zap.String("tenant_id", tenantID),
				zap.String("recurrence_id", rec.ID),
				zap.String("month", month.String()),
				zap.String("kind", domain.KindOf(err)),
				zap.Error(err),
			)
			continue
		}
		result.Generated = append(result.Generated, generated...)
		result.Skipped += skipped
	}

	s.uow.metrics.AddRecurrenceOutcome(observability.OutcomeGenerated, len(result.Generated))
	s.uow.metrics.AddRecurrenceOutcome(observability.OutcomeSkipped, result.Skipped)
	s.uow.metrics.AddRecurrenceOutcome(observability.OutcomeFailed, len(result.Failures))
	span.SetAttributes(
		attribute.Int("generated", len(result.Generated)),
		attribute.Int("skipped", result.Skipped),
		attribute.Int("failed", len(result.Failures)),
	)
	s.uow.observe(span, "generate_recurrences", start, nil)
	s.uow.logger.Info("recurrences generated",
		zap.String("tenant_id", tenantID),
		zap.String("month", month.String()),
		zap.Int("generated", len(result.Generated)),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failures)),
	)
	return result, nil
}

// generateOne expands one template inside a single unit of work: the
// existence check and the insert see the same snapshot, and the unique
// occurrence index turns a concurrent duplicate into a retried conflict.
func (s *RecurrenceService) generateOne(ctx context.Context, rec domain.Recurrence, month domain.Competencia) ([]domain.Transaction, int, error) {
	if err := rec.Validate(); err != nil {
		return nil, 0, err
	}

	var (
		generated []domain.Transaction
		skipped   int
	)
	err := s.uow.run(ctx, "generate_recurrence", func(tx port.Tx) error {
		generated, skipped = nil, 0

		current, err := tx.Recurrences().GetRecurrenceForUpdate(ctx, rec.TenantID, rec.ID)
		if err != nil {
			return err
		}
		dates, err := current.OccurrencesIn(month)
		if err != nil {
			return err
		}

		origin := current.Origin()
		var last time.Time
		for _, date := range dates {
			var at *time.Time
			if current.Frequency.DedupByDate() {
				at = &date
			}
			exists, err := tx.Transactions().OccurrenceExists(ctx, current.TenantID, origin, month, at)
			if err != nil {
				return err
			}
			last = date
			if exists {
				skipped++
				continue
			}

			occurrence, due, ref := date, date, month
			t := domain.Transaction{
				TenantID:        current.TenantID,
				Kind:            current.Kind,
				Amount:          current.Amount,
				Description:     current.Description,
				TransactionDate: occurrence,
				DueDate:         &due,
				AccountID:       current.AccountID,
				CategoryID:      current.CategoryID,
				Origin:          origin,
				Status:          domain.TxScheduled,
				ReferenceMonth:  &ref,
			}
			if err := tx.Transactions().CreateTransaction(ctx, &t); err != nil {
				return err
			}
			generated = append(generated, t)
		}

		if !last.IsZero() {
			next := current.NextAfter(last)
			if current.NextOccurrence == nil || next.After(*current.NextOccurrence) {
				current.NextOccurrence = &next
				if err := tx.Recurrences().UpdateRecurrence(ctx, current); err != nil {
					return err
				}
			}
		}
		if len(generated) == 0 {
			return nil
		}

		payload := recurrenceGeneratedPayload{Month: month}
		for _, t := range generated {
			payload.Transactions = append(payload.Transactions, t.ID)
			payload.Dates = append(payload.Dates, t.TransactionDate.Format(time.DateOnly))
		}
		return appendEvent(ctx, tx, current.TenantID, domain.EventRecurrenceGenerated, current.ID, payload)
	})
	if err != nil {
		return nil, 0, err
	}
	return generated, skipped, nil
}

// ============================================================
// Templates
// ============================================================

// Create validates and stores a new template. Its next occurrence starts at
// the first occurrence on or after the start date.
func (s *RecurrenceService) Create(ctx context.Context, rec *domain.Recurrence) error {
	ctx, span := recurrenceTracer.Start(ctx, "RecurrenceService.Create")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", rec.TenantID))
	start := time.Now()

	err := validateTemplate(rec)
	if err == nil {
		rec.StartDate = domain.DateOnly(rec.StartDate)
		if rec.EndDate != nil {
			end := domain.DateOnly(*rec.EndDate)
			rec.EndDate = &end
		}
		rec.Amount = domain.Money(rec.Amount)
		first := rec.FirstOccurrence()
		rec.NextOccurrence = &first

		err = s.uow.run(ctx, "create_recurrence", func(tx port.Tx) error {
			if _, err := tx.Accounts().GetAccount(ctx, rec.TenantID, rec.AccountID); err != nil {
				return err
			}
			if rec.CategoryID != nil {
				if _, err := tx.Categories().GetCategory(ctx, rec.TenantID, *rec.CategoryID); err != nil {
					return err
				}
			}
			return tx.Recurrences().CreateRecurrence(ctx, rec)
		})
	}
	s.uow.observe(span, "create_recurrence", start, err)
	if err != nil {
		return err
	}

	s.uow.logger.Info("recurrence created",
		zap.String("tenant_id", rec.TenantID),
		zap.String("recurrence_id", rec.ID),
		zap.String("frequency", string(rec.Frequency)),
	)
	return nil
}

// SetPaused pauses or resumes a template. Paused templates generate nothing.
func (s *RecurrenceService) SetPaused(ctx context.Context, tenantID, recurrenceID string, paused bool) (*domain.Recurrence, error) {
	ctx, span := recurrenceTracer.Start(ctx, "RecurrenceService.SetPaused")
	defer span.End()
	span.SetAttributes(
		attribute.String("recurrence.id", recurrenceID),
		attribute.Bool("paused", paused),
	)

	return s.update(ctx, "pause_recurrence", tenantID, recurrenceID, func(rec *domain.Recurrence) {
		rec.Paused = paused
	})
}

// Delete soft-deletes a template. Transactions it generated are kept.
func (s *RecurrenceService) Delete(ctx context.Context, tenantID, recurrenceID string) error {
	ctx, span := recurrenceTracer.Start(ctx, "RecurrenceService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("recurrence.id", recurrenceID))

	_, err := s.update(ctx, "delete_recurrence", tenantID, recurrenceID, func(rec *domain.Recurrence) {
		rec.Deleted = true
	})
	return err
}

func (s *RecurrenceService) update(ctx context.Context, op, tenantID, recurrenceID string, mutate func(rec *domain.Recurrence)) (*domain.Recurrence, error) {
	var out *domain.Recurrence
	err := s.uow.run(ctx, op, func(tx port.Tx) error {
		rec, err := tx.Recurrences().GetRecurrenceForUpdate(ctx, tenantID, recurrenceID)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return &domain.ErrNotFound{Resource: "recurrence", ID: recurrenceID}
		}
		mutate(rec)
		if err := tx.Recurrences().UpdateRecurrence(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.uow.logger.Info("recurrence updated",
		zap.String("tenant_id", tenantID),
		zap.String("recurrence_id", recurrenceID),
		zap.String("operation", op),
	)
	return out, nil
}

func validateTemplate(rec *domain.Recurrence) error {
	if rec.TenantID == "" {
		return &domain.ErrValidation{Field: "tenant_id", Message: "required"}
	}
	if rec.AccountID == "" {
		return &domain.ErrValidation{Field: "account_id", Message: "required"}
	}
	if !rec.Kind.Valid() {
		return &domain.ErrValidation{Field: "kind", Message: "unknown transaction kind " + string(rec.Kind)}
	}
	if !domain.Money(rec.Amount).IsPositive() {
		return &domain.ErrInvalidAmount{Amount: rec.Amount}
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	return nil
}

// IsInvalidRecurrence reports whether a failure comes from the template itself
// rather than from storage.
func IsInvalidRecurrence(f RecurrenceFailure) bool {
	var invalid *domain.ErrInvalidRecurrence
	return errors.As(f.Err, &invalid)
}
