package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
)

type unitAdminStore interface {
	CreateBatch(ctx context.Context, units []models.CapacityUnit) error
	FindByID(ctx context.Context, id string) (*models.CapacityUnit, error)
	ListActiveByTrainer(ctx context.Context, trainerID string) ([]models.CapacityUnit, error)
	Release(ctx context.Context, unitID, studentID, releasedBy string, at time.Time) (bool, error)
}

type unitAdminStudents interface {
	LockByID(ctx context.Context, id string) (*models.Student, error)
	ClearUnit(ctx context.Context, id, unitID string, at time.Time) error
}

// UnitAdminService issues standalone units after an external purchase and
// performs administrative releases. Release is the only way a bound unit
// becomes free again.
type UnitAdminService struct {
	tx        txRunner
	units     unitAdminStore
	students  unitAdminStudents
	policy    ExpirationPolicy
	cache     capacityCacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewUnitAdminService constructs the service.
func NewUnitAdminService(tx txRunner, units unitAdminStore, students unitAdminStudents, policy ExpirationPolicy, cache capacityCacheInvalidator, validate *validator.Validate, logger *zap.Logger) *UnitAdminService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnitAdminService{
		tx:        tx,
		units:     units,
		students:  students,
		policy:    policy,
		cache:     cache,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Issue mints standalone units for a trainer.
func (s *UnitAdminService) Issue(ctx context.Context, trainerID, issuedBy string, req dto.IssueUnitsRequest) ([]models.CapacityUnit, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issue payload")
	}
	if trainerID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "trainerId is required")
	}

	now := s.now()
	renewal := s.policy.Renew(now, req.ValidityDays)
	status := s.policy.Classify(renewal.ExpiresAt, now)
	units := make([]models.CapacityUnit, req.Quantity)
	for i := range units {
		units[i] = models.CapacityUnit{
			Kind:      models.UnitKindStandalone,
			TrainerID: trainerID,
			ExpiresAt: renewal.ExpiresAt,
			Active:    true,
			Status:    status,
			IssuedBy:  issuedBy,
			Reason:    req.Reason,
			CreatedAt: now,
		}
	}
	if err := s.units.CreateBatch(ctx, units); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue units")
	}
	s.invalidate(ctx, trainerID)
	logger.WithContext(ctx, s.logger).Info("standalone units issued",
		zap.String("trainer_id", trainerID),
		zap.String("issued_by", issuedBy),
		zap.Int("quantity", req.Quantity),
		zap.Time("expires_at", renewal.ExpiresAt),
	)
	return units, nil
}

// List returns the trainer's active units.
func (s *UnitAdminService) List(ctx context.Context, trainerID string) ([]models.CapacityUnit, error) {
	units, err := s.units.ListActiveByTrainer(ctx, trainerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list units")
	}
	if units == nil {
		units = []models.CapacityUnit{}
	}
	return units, nil
}

// Release frees a bound unit. The holder must already be inactive so that
// release can never silently evict an active student. The holder row is
// locked before its status is read, so a reactivation that reuses the unit
// either commits first and is seen, or waits and finds the unit gone.
func (s *UnitAdminService) Release(ctx context.Context, unitID, releasedBy string) (*models.CapacityUnit, error) {
	var released *models.CapacityUnit
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		unit, err := s.units.FindByID(ctx, unitID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "capacity unit not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load capacity unit")
		}
		if !unit.Bound() {
			return appErrors.Clone(appErrors.ErrConflict, "capacity unit is not bound")
		}

		studentID := *unit.StudentID
		student, err := s.students.LockByID(ctx, studentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		if student != nil && student.Status == models.StudentActive {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "student must be inactive before its unit is released")
		}

		now := s.now()
		ok, err := s.units.Release(ctx, unit.ID, studentID, releasedBy, now)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release capacity unit")
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrConflict, "capacity unit changed holder during release")
		}
		if student != nil {
			if err := s.students.ClearUnit(ctx, student.ID, unit.ID, now); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear student unit")
			}
		}

		unit.StudentID = nil
		unit.AssignedAt = nil
		unit.ReleasedAt = &now
		unit.ReleasedBy = &releasedBy
		released = unit
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, released.TrainerID)
	logger.WithContext(ctx, s.logger).Info("capacity unit released",
		zap.String("unit_id", released.ID), zap.String("trainer_id", released.TrainerID), zap.String("released_by", releasedBy))
	return released, nil
}

func (s *UnitAdminService) invalidate(ctx context.Context, trainerID string) {
	if s.cache != nil {
		s.cache.InvalidateTrainer(ctx, trainerID)
	}
}
