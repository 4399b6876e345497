package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
)

type expiryClaimer interface {
	ClaimWarning(ctx context.Context, id string, at time.Time) (bool, error)
	ClaimExpired(ctx context.Context, id string, at time.Time) (bool, error)
}

type sweepGrantStore interface {
	expiryClaimer
	ListActive(ctx context.Context) ([]models.PlanGrant, error)
	UpdateStatus(ctx context.Context, id string, status models.ExpirationStatus) error
	Expire(ctx context.Context, id string) error
}

type sweepUnitStore interface {
	expiryClaimer
	ListActive(ctx context.Context) ([]models.CapacityUnit, error)
	UpdateStatus(ctx context.Context, id string, status models.ExpirationStatus) error
	Expire(ctx context.Context, id string) error
}

type sweepStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type studentDeactivator interface {
	Deactivate(ctx context.Context, trainerID, studentID string, reason models.TransitionReason) (*models.Student, bool, error)
}

// ExpirationSweeper recomputes expiration state for every active grant and
// unit. It deactivates students whose capacity has lapsed but never releases
// a binding and never assigns.
type ExpirationSweeper struct {
	tx          txRunner
	grants      sweepGrantStore
	units       sweepUnitStore
	students    sweepStudentReader
	deactivator studentDeactivator
	policy      ExpirationPolicy
	notifier    Notifier
	cache       capacityCacheInvalidator
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewExpirationSweeper constructs the sweeper.
func NewExpirationSweeper(
	tx txRunner,
	grants sweepGrantStore,
	units sweepUnitStore,
	students sweepStudentReader,
	deactivator studentDeactivator,
	policy ExpirationPolicy,
	notifier Notifier,
	cache capacityCacheInvalidator,
	metrics *MetricsService,
	logger *zap.Logger,
) *ExpirationSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirationSweeper{
		tx:          tx,
		grants:      grants,
		units:       units,
		students:    students,
		deactivator: deactivator,
		policy:      policy,
		notifier:    notifier,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one pass. Failures on individual grants or units are collected
// in the report; only failing to list the work aborts the pass.
func (s *ExpirationSweeper) Sweep(ctx context.Context) (*dto.SweepReport, error) {
	now := s.now()
	report := &dto.SweepReport{StartedAt: now}
	touched := make(map[string]struct{})
	log := logger.WithContext(ctx, s.logger)

	units, err := s.units.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active units: %w", err)
	}
	report.UnitsScanned = len(units)
	for _, unit := range units {
		changed, err := s.sweepUnit(ctx, unit, now, report)
		if err != nil {
			report.Errors = append(report.Errors, dto.SweepError{Kind: "unit", ID: unit.ID, Message: err.Error()})
			log.Error("sweep unit failed", zap.String("unit_id", unit.ID), zap.Error(err))
			continue
		}
		if changed {
			touched[unit.TrainerID] = struct{}{}
		}
	}

	grants, err := s.grants.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active grants: %w", err)
	}
	report.GrantsScanned = len(grants)
	for _, grant := range grants {
		changed, err := s.sweepGrant(ctx, grant, now, report)
		if err != nil {
			report.Errors = append(report.Errors, dto.SweepError{Kind: "grant", ID: grant.ID, Message: err.Error()})
			log.Error("sweep grant failed", zap.String("grant_id", grant.ID), zap.Error(err))
			continue
		}
		if changed {
			touched[grant.TrainerID] = struct{}{}
		}
	}

	if s.cache != nil {
		for trainerID := range touched {
			s.cache.InvalidateTrainer(ctx, trainerID)
		}
	}

	report.FinishedAt = s.now()
	s.metrics.RecordSweep(report)
	log.Info("expiration sweep finished",
		zap.Int("units_scanned", report.UnitsScanned),
		zap.Int("grants_scanned", report.GrantsScanned),
		zap.Int("status_changes", report.StatusChanges),
		zap.Int("students_deactivated", report.StudentsDeactivated),
		zap.Int("units_expired", report.UnitsExpired),
		zap.Int("grants_expired", report.GrantsExpired),
		zap.Int("notifications_sent", report.NotificationsSent),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

func (s *ExpirationSweeper) sweepUnit(ctx context.Context, unit models.CapacityUnit, now time.Time, report *dto.SweepReport) (bool, error) {
	reason, err := expiryReason(unit)
	if err != nil {
		return false, err
	}
	status := s.policy.Classify(unit.ExpiresAt, now)
	statusChanged := status != unit.Status
	expired := status == models.ExpirationInactive

	var deactivated bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		deactivated = false
		if statusChanged {
			if err := s.units.UpdateStatus(ctx, unit.ID, status); err != nil {
				return err
			}
		}
		if !expired {
			return nil
		}
		if unit.StudentID != nil {
			student, err := s.students.FindByID(ctx, *unit.StudentID)
			if err != nil {
				return fmt.Errorf("load bound student: %w", err)
			}
			if student.Status == models.StudentActive && student.CapacityUnitID != nil && *student.CapacityUnitID == unit.ID {
				_, changed, err := s.deactivator.Deactivate(ctx, unit.TrainerID, student.ID, reason)
				if err != nil {
					return fmt.Errorf("deactivate student %s: %w", student.ID, err)
				}
				deactivated = changed
			}
		}
		return s.units.Expire(ctx, unit.ID)
	})
	if err != nil {
		return false, err
	}

	if statusChanged {
		report.StatusChanges++
	}
	if deactivated {
		report.StudentsDeactivated++
	}
	if expired {
		report.UnitsExpired++
	}

	if _, ok := unit.Variant().(models.StandaloneUnit); ok {
		payload := map[string]interface{}{
			"subject":   "token",
			"unitId":    unit.ID,
			"expiresAt": unit.ExpiresAt,
			"status":    string(status),
		}
		if err := s.notifyExpiry(ctx, s.units, unit.ID, unit.TrainerID, unit.StudentID, status, payload, now, report); err != nil {
			return true, err
		}
	}
	return statusChanged || expired, nil
}

func (s *ExpirationSweeper) sweepGrant(ctx context.Context, grant models.PlanGrant, now time.Time, report *dto.SweepReport) (bool, error) {
	status := s.policy.Classify(grant.ExpiresAt, now)
	statusChanged := status != grant.Status
	expired := status == models.ExpirationInactive

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if statusChanged {
			if err := s.grants.UpdateStatus(ctx, grant.ID, status); err != nil {
				return err
			}
		}
		if expired {
			return s.grants.Expire(ctx, grant.ID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if statusChanged {
		report.StatusChanges++
	}
	if expired {
		report.GrantsExpired++
	}

	payload := map[string]interface{}{
		"subject":   "plan",
		"grantId":   grant.ID,
		"planId":    grant.PlanID,
		"expiresAt": grant.ExpiresAt,
		"status":    string(status),
	}
	if err := s.notifyExpiry(ctx, s.grants, grant.ID, grant.TrainerID, nil, status, payload, now, report); err != nil {
		return true, err
	}
	return statusChanged || expired, nil
}

// notifyExpiry claims the notice on the row first and only then sends it, so
// a notice goes out at most once per row.
func (s *ExpirationSweeper) notifyExpiry(ctx context.Context, claimer expiryClaimer, id, trainerID string, studentID *string, status models.ExpirationStatus, payload map[string]interface{}, now time.Time, report *dto.SweepReport) error {
	var (
		kind    models.NotificationKind
		claimed bool
		err     error
	)
	if s.notifier == nil {
		return nil
	}
	switch status {
	case models.ExpirationExpiring:
		kind = models.NotificationWarning
		claimed, err = claimer.ClaimWarning(ctx, id, now)
	case models.ExpirationExpired, models.ExpirationInactive:
		kind = models.NotificationExpired
		claimed, err = claimer.ClaimExpired(ctx, id, now)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim %s notice: %w", kind, err)
	}
	if !claimed {
		return nil
	}
	s.notifier.Notify(ctx, models.Notification{
		TrainerID: trainerID,
		StudentID: studentID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now,
	})
	report.NotificationsSent++
	return nil
}

func expiryReason(unit models.CapacityUnit) (models.TransitionReason, error) {
	switch unit.Variant().(type) {
	case models.PlanBoundUnit:
		return models.ReasonPlanExpired, nil
	case models.StandaloneUnit:
		return models.ReasonTokenExpired, nil
	default:
		return "", fmt.Errorf("unit %s has invalid kind %q", unit.ID, unit.Kind)
	}
}
