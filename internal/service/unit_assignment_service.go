package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/internal/repository"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
)

// Remediation options offered with capacity errors.
const (
	RemediationPurchaseTokens = "purchase_tokens"
	RemediationUpgradePlan    = "upgrade_plan"
	RemediationReleaseStudent = "release_inactive_student"
)

type txRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type capacityCacheInvalidator interface {
	InvalidateTrainer(ctx context.Context, trainerID string)
}

type assignmentStudentStore interface {
	LockByID(ctx context.Context, id string) (*models.Student, error)
	Activate(ctx context.Context, id, unitID string, at time.Time) error
	Deactivate(ctx context.Context, id string, at time.Time) (bool, error)
}

type assignmentUnitStore interface {
	FindByID(ctx context.Context, id string) (*models.CapacityUnit, error)
	Bind(ctx context.Context, unitID, studentID string, at time.Time) error
}

type ledgerSnapshotter interface {
	Snapshot(ctx context.Context, trainerID string) (*LedgerSnapshot, error)
}

type transitionAppender interface {
	Append(ctx context.Context, record *models.TransitionRecord) error
}

// UnitAssignmentService binds capacity units to students. A binding is
// permanent: deactivation flips the student only, never the unit.
type UnitAssignmentService struct {
	tx       txRunner
	students assignmentStudentStore
	units    assignmentUnitStore
	ledger   ledgerSnapshotter
	records  transitionAppender
	policy   ExpirationPolicy
	retries  int
	cache    capacityCacheInvalidator
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewUnitAssignmentService wires the service. retries bounds how many times a
// lost race for a unit is retried before CAPACITY_EXHAUSTED.
func NewUnitAssignmentService(
	tx txRunner,
	students assignmentStudentStore,
	units assignmentUnitStore,
	ledger ledgerSnapshotter,
	records transitionAppender,
	policy ExpirationPolicy,
	retries int,
	cache capacityCacheInvalidator,
	metrics *MetricsService,
	logger *zap.Logger,
) *UnitAssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries < 0 {
		retries = 0
	}
	return &UnitAssignmentService{
		tx:       tx,
		students: students,
		units:    units,
		ledger:   ledger,
		records:  records,
		policy:   policy,
		retries:  retries,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Assign activates a student on a capacity unit. Repeating the call returns
// the same unit.
func (s *UnitAssignmentService) Assign(ctx context.Context, trainerID, studentID string) (*dto.AssignmentResult, error) {
	var result *dto.AssignmentResult
	err := s.WithAssignmentRetry(ctx, trainerID, func(ctx context.Context) error {
		var err error
		result, err = s.AssignWithinTx(ctx, trainerID, studentID)
		return err
	})
	if err != nil {
		s.metrics.RecordAssignment(assignmentOutcome(err))
		return nil, err
	}

	if result.Reused {
		s.metrics.RecordAssignment("reused")
	} else {
		s.metrics.RecordAssignment("bound")
	}
	s.invalidate(ctx, trainerID)
	logger.WithContext(ctx, s.logger).Info("student assigned",
		zap.String("trainer_id", trainerID),
		zap.String("student_id", studentID),
		zap.String("unit_id", result.UnitID),
		zap.String("kind", string(result.Kind)),
		zap.Bool("reused", result.Reused),
	)
	return result, nil
}

// Reactivate brings an inactive student back, reusing its bound unit while
// that unit is still usable and otherwise consuming new capacity.
func (s *UnitAssignmentService) Reactivate(ctx context.Context, trainerID, studentID string) (*dto.AssignmentResult, error) {
	return s.Assign(ctx, trainerID, studentID)
}

// AssignWithinTx performs one assignment attempt. It must run inside a
// transaction; an *repository.AssignmentConflict means the caller should roll
// back and try again.
func (s *UnitAssignmentService) AssignWithinTx(ctx context.Context, trainerID, studentID string) (*dto.AssignmentResult, error) {
	student, err := s.lockStudent(ctx, trainerID, studentID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	unit, err := s.reusableUnit(ctx, student, now)
	if err != nil {
		return nil, err
	}
	if unit != nil {
		if student.Status != models.StudentActive {
			if err := s.students.Activate(ctx, student.ID, unit.ID, now); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate student")
			}
		}
		return &dto.AssignmentResult{
			StudentID:     student.ID,
			UnitID:        unit.ID,
			Kind:          unit.Kind,
			Reused:        true,
			AlreadyActive: student.Status == models.StudentActive,
		}, nil
	}

	snap, err := s.ledger.Snapshot(ctx, trainerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read capacity")
	}
	candidates := snap.Candidates()
	if len(candidates) == 0 {
		return nil, capacityError(appErrors.ErrNoCapacity, snap.Slots(), nil)
	}

	chosen := candidates[0]
	if err := s.units.Bind(ctx, chosen.ID, student.ID, now); err != nil {
		if repository.IsAssignmentConflict(err) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bind capacity unit")
	}
	if err := s.students.Activate(ctx, student.ID, chosen.ID, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate student")
	}
	return &dto.AssignmentResult{StudentID: student.ID, UnitID: chosen.ID, Kind: chosen.Kind}, nil
}

// Deactivate flips an active student to inactive and records why. The bound
// unit stays consumed. Deactivating an inactive student changes nothing.
func (s *UnitAssignmentService) Deactivate(ctx context.Context, trainerID, studentID string, reason models.TransitionReason) (*models.Student, bool, error) {
	var (
		student *models.Student
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		st, err := s.lockStudent(ctx, trainerID, studentID)
		if err != nil {
			return err
		}
		student = st
		if st.Status != models.StudentActive {
			return nil
		}

		now := s.now()
		ok, err := s.students.Deactivate(ctx, st.ID, now)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
		}
		if !ok {
			return nil
		}

		record := &models.TransitionRecord{
			TrainerID:        trainerID,
			StudentID:        st.ID,
			Event:            models.EventDeactivated,
			Reason:           reason,
			WasActive:        true,
			CanBeReactivated: reason != models.ReasonManualDeactivation,
			ActivatedAt:      st.ActivatedAt,
			DeactivatedAt:    &now,
		}
		if st.CapacityUnitID != nil {
			unitID := *st.CapacityUnitID
			record.CapacityUnitID = &unitID
			unit, err := s.units.FindByID(ctx, unitID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load capacity unit")
			}
			if unit != nil {
				if v, ok := unit.Variant().(models.PlanBoundUnit); ok {
					grantID := v.GrantID
					record.GrantID = &grantID
				}
			}
		}
		if err := s.records.Append(ctx, record); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record deactivation")
		}

		st.Status = models.StudentInactive
		st.DeactivatedAt = &now
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.invalidate(ctx, trainerID)
		logger.WithContext(ctx, s.logger).Info("student deactivated",
			zap.String("trainer_id", trainerID),
			zap.String("student_id", studentID),
			zap.String("reason", string(reason)),
		)
	}
	return student, changed, nil
}

// WithAssignmentRetry runs fn in a fresh transaction, retrying when fn
// loses an assignment race. Once the retry budget is spent the conflict
// becomes CAPACITY_EXHAUSTED. A retry that finds no capacity left after a
// lost race is also CAPACITY_EXHAUSTED: the winner took the last unit.
func (s *UnitAssignmentService) WithAssignmentRetry(ctx context.Context, trainerID string, fn func(ctx context.Context) error) error {
	conflicted := false
	for attempt := 0; ; attempt++ {
		err := s.tx.WithinTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !repository.IsAssignmentConflict(err) {
			if conflicted && errors.Is(err, appErrors.ErrNoCapacity) {
				logger.WithContext(ctx, s.logger).Warn("assignment race lost to the last unit",
					zap.String("trainer_id", trainerID), zap.Int("attempts", attempt+1))
				return s.exhausted(ctx, trainerID, err)
			}
			return err
		}
		conflicted = true
		if attempt >= s.retries {
			logger.WithContext(ctx, s.logger).Warn("assignment conflict retries exhausted",
				zap.String("trainer_id", trainerID), zap.Int("attempts", attempt+1), zap.Error(err))
			return s.exhausted(ctx, trainerID, err)
		}
		logger.WithContext(ctx, s.logger).Info("assignment conflict, retrying",
			zap.String("trainer_id", trainerID), zap.Int("attempt", attempt+1), zap.Error(err))
	}
}

func (s *UnitAssignmentService) exhausted(ctx context.Context, trainerID string, cause error) error {
	var slots dto.AvailableSlots
	if snap, err := s.ledger.Snapshot(ctx, trainerID); err == nil {
		slots = snap.Slots()
	}
	return capacityError(appErrors.ErrCapacityExhausted, slots, cause)
}

func (s *UnitAssignmentService) lockStudent(ctx context.Context, trainerID, studentID string) (*models.Student, error) {
	student, err := s.students.LockByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.TrainerID != trainerID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return student, nil
}

// reusableUnit returns the student's bound unit when it can keep backing the
// student, nil otherwise.
func (s *UnitAssignmentService) reusableUnit(ctx context.Context, student *models.Student, now time.Time) (*models.CapacityUnit, error) {
	if student.CapacityUnitID == nil {
		return nil, nil
	}
	unit, err := s.units.FindByID(ctx, *student.CapacityUnitID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load capacity unit")
	}
	if !unit.Active || !unit.BoundTo(student.ID) || !s.policy.Usable(unit.ExpiresAt, now) {
		return nil, nil
	}
	return unit, nil
}

func (s *UnitAssignmentService) invalidate(ctx context.Context, trainerID string) {
	if s.cache != nil {
		s.cache.InvalidateTrainer(ctx, trainerID)
	}
}

func capacityError(base *appErrors.Error, slots dto.AvailableSlots, cause error) *appErrors.Error {
	err := appErrors.WithDetails(base, map[string]interface{}{
		"availableSlots": slots.Count,
		"reason":         slots.Reason,
		"remediation":    []string{RemediationPurchaseTokens, RemediationUpgradePlan, RemediationReleaseStudent},
	})
	err.Err = cause
	return err
}

func assignmentOutcome(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case appErrors.ErrNoCapacity.Code:
			return "no_capacity"
		case appErrors.ErrCapacityExhausted.Code:
			return "exhausted"
		case appErrors.ErrNotFound.Code:
			return "not_found"
		}
	}
	return "error"
}
