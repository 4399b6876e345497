package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
)

type activeStudentCounter interface {
	CountActiveByTrainer(ctx context.Context, trainerID string) (int, error)
}

type historyLister interface {
	List(ctx context.Context, filter models.TransitionHistoryFilter) ([]models.TransitionHistoryEntry, int, error)
}

// CapacityQueryService serves the read side: the capacity dashboard and
// transition history.
type CapacityQueryService struct {
	ledger    ledgerSnapshotter
	students  activeStudentCounter
	history   historyLister
	cache     *CacheService
	statusTTL time.Duration
	logger    *zap.Logger
}

// NewCapacityQueryService constructs the service.
func NewCapacityQueryService(ledger ledgerSnapshotter, students activeStudentCounter, history historyLister, cache *CacheService, statusTTL time.Duration, logger *zap.Logger) *CapacityQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityQueryService{ledger: ledger, students: students, history: history, cache: cache, statusTTL: statusTTL, logger: logger}
}

// Status summarises a trainer's capacity. Limit counts the usable plan limit
// plus every usable standalone unit.
func (s *CapacityQueryService) Status(ctx context.Context, trainerID string) (*dto.CapacityStatus, error) {
	key := capacityStatusKey(trainerID)
	var cached dto.CapacityStatus
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	var (
		snap   *LedgerSnapshot
		active int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = s.ledger.Snapshot(gctx, trainerID)
		return err
	})
	g.Go(func() error {
		var err error
		active, err = s.students.CountActiveByTrainer(gctx, trainerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load capacity status")
	}

	slots := snap.Slots()
	status := &dto.CapacityStatus{
		Limit:          slots.Breakdown.PlanLimit + slots.Breakdown.StandaloneTotal,
		ActiveStudents: active,
		AvailableSlots: slots.Count,
		Breakdown:      slots.Breakdown,
		Reason:         slots.Reason,
	}
	if snap.Plan != nil && snap.Grant != nil {
		name, planID := snap.Plan.Name, snap.Plan.ID
		expiresAt := snap.Grant.ExpiresAt
		grantStatus := snap.policy.Classify(snap.Grant.ExpiresAt, snap.Now)
		status.PlanName = &name
		status.PlanID = &planID
		status.GrantExpiresAt = &expiresAt
		status.GrantStatus = &grantStatus
	}
	status.PercentUsed = percentUsed(status.Limit, status.AvailableSlots)

	if err := s.cache.Set(ctx, key, status, s.statusTTL); err != nil {
		logger.WithContext(ctx, s.logger).Warn("capacity status not cached",
			zap.String("trainer_id", trainerID), zap.Error(err))
	}
	return status, nil
}

// History pages through a trainer's transition records.
func (s *CapacityQueryService) History(ctx context.Context, filter models.TransitionHistoryFilter) ([]models.TransitionHistoryEntry, *models.Pagination, error) {
	if err := validateHistoryFilter(filter); err != nil {
		return nil, nil, err
	}
	entries, total, err := s.history.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list transition history")
	}
	if entries == nil {
		entries = []models.TransitionHistoryEntry{}
	}
	page, size := normalisePage(filter.Page, filter.PageSize)
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func validateHistoryFilter(filter models.TransitionHistoryFilter) error {
	switch filter.Reason {
	case "", models.ReasonPlanExpired, models.ReasonManualDeactivation, models.ReasonPlanChanged, models.ReasonTokenExpired:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown reason filter")
	}
	switch filter.Event {
	case "", models.EventDeactivated, models.EventReactivated:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown event filter")
	}
	return nil
}

func percentUsed(limit, available int) float64 {
	if limit <= 0 {
		return 0
	}
	used := limit - available
	if used < 0 {
		used = 0
	}
	pct := float64(used) / float64(limit) * 100
	return float64(int(pct*100+0.5)) / 100
}
