package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/internal/repository"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
)

type transitionPlanReader interface {
	FindByID(ctx context.Context, id string) (*models.Plan, error)
}

type transitionGrantStore interface {
	FindActiveByTrainer(ctx context.Context, trainerID string) (*models.PlanGrant, error)
	LockActiveByTrainer(ctx context.Context, trainerID string) (*models.PlanGrant, error)
	Supersede(ctx context.Context, id string, at time.Time) error
	Create(ctx context.Context, grant *models.PlanGrant) error
}

type transitionUnitStore interface {
	CreateBatch(ctx context.Context, units []models.CapacityUnit) error
	DeactivateByGrant(ctx context.Context, grantID string) (int64, error)
	Bind(ctx context.Context, unitID, studentID string, at time.Time) error
}

type transitionStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListActiveByGrant(ctx context.Context, grantID string) ([]models.Student, error)
	Rebind(ctx context.Context, id, unitID string, at time.Time) error
	Deactivate(ctx context.Context, id string, at time.Time) (bool, error)
}

type transitionRecordStore interface {
	Append(ctx context.Context, record *models.TransitionRecord) error
	ListEligible(ctx context.Context, trainerID string, cutoff time.Time) ([]models.Student, error)
}

type transitionAssigner interface {
	AssignWithinTx(ctx context.Context, trainerID, studentID string) (*dto.AssignmentResult, error)
	WithAssignmentRetry(ctx context.Context, trainerID string, fn func(ctx context.Context) error) error
}

type capacityReader interface {
	AvailableSlots(ctx context.Context, trainerID string) (*dto.AvailableSlots, error)
}

// Reactivation error codes reported per student.
const (
	ReactivationNotFound      = "NOT_FOUND"
	ReactivationAlreadyActive = "ALREADY_ACTIVE"
)

// PlanTransitionService classifies and executes plan changes and the manual
// reactivation that follows a downgrade.
type PlanTransitionService struct {
	tx        txRunner
	plans     transitionPlanReader
	grants    transitionGrantStore
	units     transitionUnitStore
	students  transitionStudentStore
	records   transitionRecordStore
	assigner  transitionAssigner
	ledger    capacityReader
	policy    ExpirationPolicy
	notifier  Notifier
	cache     capacityCacheInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// PlanTransitionDeps groups the collaborators of PlanTransitionService.
type PlanTransitionDeps struct {
	Tx       txRunner
	Plans    transitionPlanReader
	Grants   transitionGrantStore
	Units    transitionUnitStore
	Students transitionStudentStore
	Records  transitionRecordStore
	Assigner transitionAssigner
	Ledger   capacityReader
	Notifier Notifier
	Cache    capacityCacheInvalidator
	Metrics  *MetricsService
}

// NewPlanTransitionService constructs the service.
func NewPlanTransitionService(deps PlanTransitionDeps, policy ExpirationPolicy, validate *validator.Validate, logger *zap.Logger) *PlanTransitionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanTransitionService{
		tx:        deps.Tx,
		plans:     deps.Plans,
		grants:    deps.Grants,
		units:     deps.Units,
		students:  deps.Students,
		records:   deps.Records,
		assigner:  deps.Assigner,
		ledger:    deps.Ledger,
		policy:    policy,
		notifier:  deps.Notifier,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ClassifyTransition names the change from current to next. A nil current
// plan means the trainer has never held a grant.
func ClassifyTransition(current, next *models.Plan) models.TransitionType {
	switch {
	case current == nil:
		return models.TransitionFirstTime
	case current.ID == next.ID || current.StudentLimit == next.StudentLimit:
		return models.TransitionRenewal
	case next.StudentLimit > current.StudentLimit:
		return models.TransitionUpgrade
	default:
		return models.TransitionDowngrade
	}
}

// Classify previews the transition to newPlanID without changing anything.
func (s *PlanTransitionService) Classify(ctx context.Context, trainerID, newPlanID string) (*dto.TransitionPreview, error) {
	next, err := s.targetPlan(ctx, newPlanID)
	if err != nil {
		return nil, err
	}
	grant, err := s.activeGrant(ctx, trainerID)
	if err != nil {
		return nil, err
	}

	preview := &dto.TransitionPreview{NewPlan: *next, LimitDelta: next.StudentLimit}
	var current *models.Plan
	if grant != nil {
		current, err = s.plans.FindByID(ctx, grant.PlanID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current plan")
		}
		affected, err := s.students.ListActiveByGrant(ctx, grant.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active students")
		}
		grantID := grant.ID
		preview.CurrentGrantID = &grantID
		preview.CurrentPlan = current
		preview.LimitDelta = next.StudentLimit - current.StudentLimit
		preview.AffectedStudents = len(affected)
	}
	preview.Type = ClassifyTransition(current, next)
	preview.RequiresManualSelection = preview.Type == models.TransitionDowngrade
	return preview, nil
}

// Process executes a plan transition atomically. The grant the caller
// previewed must still be the active one, otherwise STALE_GRANT.
func (s *PlanTransitionService) Process(ctx context.Context, req dto.ProcessTransitionRequest) (*dto.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	next, err := s.targetPlan(ctx, req.NewPlanID)
	if err != nil {
		return nil, err
	}

	expected := req.ExpectedGrantID
	if expected == nil {
		observed, err := s.activeGrant(ctx, req.TrainerID)
		if err != nil {
			return nil, err
		}
		if observed != nil {
			id := observed.ID
			expected = &id
		}
	}

	result := &dto.TransitionResult{Plan: *next, Reactivated: []string{}, Deactivated: []string{}}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.processLocked(ctx, req, next, expected, result)
	})
	if err != nil {
		return nil, err
	}

	for _, studentID := range result.Reactivated {
		s.notify(ctx, req.TrainerID, studentID, result)
	}
	s.invalidate(ctx, req.TrainerID)
	s.metrics.RecordTransition(result.Type)
	if slots, err := s.ledger.AvailableSlots(ctx, req.TrainerID); err == nil {
		result.AvailableSlots = slots.Count
	} else {
		logger.WithContext(ctx, s.logger).Warn("failed to read capacity after transition", zap.Error(err))
	}

	logger.WithContext(ctx, s.logger).Info("plan transition processed",
		zap.String("trainer_id", req.TrainerID),
		zap.String("plan_id", next.ID),
		zap.String("grant_id", result.Grant.ID),
		zap.String("type", string(result.Type)),
		zap.Int("reactivated", len(result.Reactivated)),
		zap.Int("deactivated", len(result.Deactivated)),
		zap.String("authorized_by", req.AuthorizedBy),
	)
	return result, nil
}

func (s *PlanTransitionService) processLocked(ctx context.Context, req dto.ProcessTransitionRequest, next *models.Plan, expected *string, result *dto.TransitionResult) error {
	current, err := s.grants.LockActiveByTrainer(ctx, req.TrainerID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock current grant")
		}
		current = nil
	}
	if !sameGrant(current, expected) {
		return appErrors.Clone(appErrors.ErrStaleGrant, "")
	}

	var currentPlan *models.Plan
	if current != nil {
		currentPlan, err = s.plans.FindByID(ctx, current.PlanID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current plan")
		}
	}
	kind := ClassifyTransition(currentPlan, next)
	now := s.now()

	var affected []models.Student
	if current != nil {
		affected, err = s.students.ListActiveByGrant(ctx, current.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active students")
		}
		if err := s.grants.Supersede(ctx, current.ID, now); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire current grant")
		}
		if _, err := s.units.DeactivateByGrant(ctx, current.ID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire plan units")
		}
	}

	validity := next.ValidityDays
	if req.CustomDurationDays != nil {
		validity = *req.CustomDurationDays
	}
	renewal := s.policy.Renew(now, validity)
	grant := &models.PlanGrant{
		TrainerID:         req.TrainerID,
		PlanID:            next.ID,
		StartsAt:          renewal.StartsAt,
		ExpiresAt:         renewal.ExpiresAt,
		Active:            true,
		Status:            s.policy.Classify(renewal.ExpiresAt, now),
		AuthorizedBy:      req.AuthorizedBy,
		Reason:            req.Reason,
		WarningNotifiedAt: renewal.WarningNotifiedAt,
		ExpiredNotifiedAt: renewal.ExpiredNotifiedAt,
		CreatedAt:         now,
	}
	if err := s.grants.Create(ctx, grant); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grant")
	}

	minted := make([]models.CapacityUnit, next.StudentLimit)
	for i := range minted {
		grantID := grant.ID
		minted[i] = models.CapacityUnit{
			Kind:      models.UnitKindPlan,
			TrainerID: req.TrainerID,
			GrantID:   &grantID,
			ExpiresAt: grant.ExpiresAt,
			Active:    true,
			Status:    grant.Status,
			IssuedBy:  req.AuthorizedBy,
			Reason:    req.Reason,
			CreatedAt: now,
		}
	}
	if err := s.units.CreateBatch(ctx, minted); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mint plan units")
	}

	autoReactivate := kind == models.TransitionRenewal || kind == models.TransitionUpgrade
	for i := range affected {
		student := affected[i]
		if autoReactivate && i < len(minted) {
			if err := s.carryOver(ctx, req.TrainerID, kind, grant.ID, minted[i].ID, student, now); err != nil {
				return err
			}
			result.Reactivated = append(result.Reactivated, student.ID)
			continue
		}
		if err := s.dropStudent(ctx, req.TrainerID, kind, current.ID, student, now); err != nil {
			return err
		}
		result.Deactivated = append(result.Deactivated, student.ID)
	}

	result.Type = kind
	result.Grant = *grant
	result.UnitsMinted = len(minted)
	return nil
}

// carryOver moves a student that was active on the previous grant onto a
// fresh unit of the new one.
func (s *PlanTransitionService) carryOver(ctx context.Context, trainerID string, kind models.TransitionType, grantID, unitID string, student models.Student, now time.Time) error {
	if err := s.units.Bind(ctx, unitID, student.ID, now); err != nil {
		if repository.IsAssignmentConflict(err) {
			return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "plan unit already bound")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bind plan unit")
	}
	if err := s.students.Rebind(ctx, student.ID, unitID, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rebind student")
	}
	return s.append(ctx, &models.TransitionRecord{
		TrainerID:        trainerID,
		StudentID:        student.ID,
		GrantID:          &grantID,
		CapacityUnitID:   &unitID,
		Event:            models.EventReactivated,
		Reason:           models.ReasonPlanChanged,
		TransitionType:   &kind,
		WasActive:        true,
		CanBeReactivated: false,
		ActivatedAt:      student.ActivatedAt,
	})
}

// dropStudent deactivates a student the new grant does not carry over. The
// record stays reactivatable.
func (s *PlanTransitionService) dropStudent(ctx context.Context, trainerID string, kind models.TransitionType, oldGrantID string, student models.Student, now time.Time) error {
	if _, err := s.students.Deactivate(ctx, student.ID, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
	}
	return s.append(ctx, &models.TransitionRecord{
		TrainerID:        trainerID,
		StudentID:        student.ID,
		GrantID:          &oldGrantID,
		CapacityUnitID:   student.CapacityUnitID,
		Event:            models.EventDeactivated,
		Reason:           models.ReasonPlanChanged,
		TransitionType:   &kind,
		WasActive:        true,
		CanBeReactivated: true,
		ActivatedAt:      student.ActivatedAt,
		DeactivatedAt:    &now,
	})
}

// ManualReactivate brings back a hand-picked set of inactive students. The
// batch succeeds or fails as a whole.
func (s *PlanTransitionService) ManualReactivate(ctx context.Context, trainerID string, studentIDs []string) (*dto.ManualReactivateResult, error) {
	ids := dedupeIDs(studentIDs)
	result := &dto.ManualReactivateResult{Reactivated: []string{}, Errors: []dto.ReactivationError{}}
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "studentIds must not be empty")
	}

	for _, id := range ids {
		student, err := s.students.FindByID(ctx, id)
		switch {
		case errors.Is(err, sql.ErrNoRows) || (err == nil && student.TrainerID != trainerID):
			result.Errors = append(result.Errors, dto.ReactivationError{StudentID: id, Code: ReactivationNotFound, Message: "student not found"})
		case err != nil:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		case student.Status == models.StudentActive:
			result.Errors = append(result.Errors, dto.ReactivationError{StudentID: id, Code: ReactivationAlreadyActive, Message: "student is already active"})
		}
	}
	if len(result.Errors) > 0 {
		return result, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, "some students cannot be reactivated"),
			map[string]interface{}{"errors": result.Errors},
		)
	}

	slots, err := s.ledger.AvailableSlots(ctx, trainerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read capacity")
	}
	if len(ids) > slots.Count {
		return result, appErrors.WithDetails(appErrors.ErrLimitExceeded, map[string]interface{}{
			"requested": len(ids),
			"available": slots.Count,
		})
	}

	err = s.assigner.WithAssignmentRetry(ctx, trainerID, func(ctx context.Context) error {
		return s.reactivateAll(ctx, trainerID, ids)
	})
	if err != nil {
		return nil, err
	}

	result.Reactivated = append(result.Reactivated, ids...)
	result.ReactivatedCount = len(ids)
	for _, id := range ids {
		s.notify(ctx, trainerID, id, nil)
	}
	s.invalidate(ctx, trainerID)
	logger.WithContext(ctx, s.logger).Info("students manually reactivated",
		zap.String("trainer_id", trainerID), zap.Int("count", len(ids)))
	return result, nil
}

func (s *PlanTransitionService) reactivateAll(ctx context.Context, trainerID string, ids []string) error {
	grant, err := s.grants.FindActiveByTrainer(ctx, trainerID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active grant")
	}
	for _, id := range ids {
		assigned, err := s.assigner.AssignWithinTx(ctx, trainerID, id)
		if err != nil {
			return err
		}
		if assigned.AlreadyActive {
			// Activated by another request after the batch was validated.
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrValidation, "some students cannot be reactivated"),
				map[string]interface{}{"errors": []dto.ReactivationError{
					{StudentID: id, Code: ReactivationAlreadyActive, Message: "student is already active"},
				}},
			)
		}
		unitID := assigned.UnitID
		record := &models.TransitionRecord{
			TrainerID:      trainerID,
			StudentID:      id,
			CapacityUnitID: &unitID,
			Event:          models.EventReactivated,
			Reason:         models.ReasonPlanChanged,
			WasActive:      false,
		}
		if assigned.Kind == models.UnitKindPlan && grant != nil {
			grantID := grant.ID
			record.GrantID = &grantID
		}
		if err := s.append(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// EligibleForReactivation lists inactive students a trainer may bring back,
// skipping deactivations newer than excludeRecentDays.
func (s *PlanTransitionService) EligibleForReactivation(ctx context.Context, trainerID string, excludeRecentDays int) ([]models.Student, error) {
	if excludeRecentDays < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "excludeRecentDays must not be negative")
	}
	cutoff := s.now().Add(-time.Duration(excludeRecentDays) * 24 * time.Hour)
	students, err := s.records.ListEligible(ctx, trainerID, cutoff)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reactivation candidates")
	}
	if students == nil {
		students = []models.Student{}
	}
	return students, nil
}

func (s *PlanTransitionService) targetPlan(ctx context.Context, planID string) (*models.Plan, error) {
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if !plan.Active {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "plan is not available")
	}
	return plan, nil
}

func (s *PlanTransitionService) activeGrant(ctx context.Context, trainerID string) (*models.PlanGrant, error) {
	grant, err := s.grants.FindActiveByTrainer(ctx, trainerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active grant")
	}
	return grant, nil
}

func (s *PlanTransitionService) append(ctx context.Context, record *models.TransitionRecord) error {
	if err := s.records.Append(ctx, record); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record transition")
	}
	return nil
}

func (s *PlanTransitionService) notify(ctx context.Context, trainerID, studentID string, result *dto.TransitionResult) {
	if s.notifier == nil {
		return
	}
	id := studentID
	payload := map[string]interface{}{"reason": string(models.ReasonPlanChanged)}
	if result != nil {
		payload["transitionType"] = string(result.Type)
		payload["grantId"] = result.Grant.ID
	}
	s.notifier.Notify(ctx, models.Notification{
		TrainerID: trainerID,
		StudentID: &id,
		Kind:      models.NotificationReactivated,
		Payload:   payload,
		CreatedAt: s.now(),
	})
}

func (s *PlanTransitionService) invalidate(ctx context.Context, trainerID string) {
	if s.cache != nil {
		s.cache.InvalidateTrainer(ctx, trainerID)
	}
}

func sameGrant(current *models.PlanGrant, expected *string) bool {
	if current == nil || expected == nil {
		return current == nil && expected == nil
	}
	return current.ID == *expected
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
