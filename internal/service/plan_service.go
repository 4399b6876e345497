package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
)

const defaultPlanCurrency = "USD"

type planStore interface {
	Create(ctx context.Context, plan *models.Plan) error
	FindByID(ctx context.Context, id string) (*models.Plan, error)
	List(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	Deactivate(ctx context.Context, id string) (bool, error)
}

// PlanService manages the plan catalogue. Plans are append-only: there is
// no update, only create and retire.
type PlanService struct {
	repo      planStore
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPlanService constructs the service.
func NewPlanService(repo planStore, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *PlanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns the catalogue, served from cache when enabled.
func (s *PlanService) List(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	key := planCatalogueKey(activeOnly)
	var cached []models.Plan
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	plans, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plans")
	}
	if plans == nil {
		plans = []models.Plan{}
	}
	_ = s.cache.Set(ctx, key, plans, s.cacheTTL)
	return plans, nil
}

// Get returns a single plan.
func (s *PlanService) Get(ctx context.Context, id string) (*models.Plan, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	return plan, nil
}

// Create adds a plan to the catalogue.
func (s *PlanService) Create(ctx context.Context, req dto.CreatePlanRequest) (*models.Plan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "price must be a non-negative decimal")
	}
	if req.Category == models.PlanCategoryFree && !price.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "free plans cannot carry a price")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultPlanCurrency
	}

	plan := &models.Plan{
		Name:         strings.TrimSpace(req.Name),
		StudentLimit: req.StudentLimit,
		ValidityDays: req.ValidityDays,
		Price:        price.Round(2),
		Currency:     currency,
		Category:     req.Category,
		Active:       true,
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan")
	}
	s.invalidateCatalogue(ctx)
	logger.WithContext(ctx, s.logger).Info("plan created", zap.String("plan_id", plan.ID), zap.String("name", plan.Name))
	return plan, nil
}

// Deactivate retires a plan so it can no longer be granted. Existing grants
// keep running.
func (s *PlanService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	changed, err := s.repo.Deactivate(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate plan")
	}
	if changed {
		s.invalidateCatalogue(ctx)
		logger.WithContext(ctx, s.logger).Info("plan deactivated", zap.String("plan_id", id))
	}
	return nil
}

func (s *PlanService) invalidateCatalogue(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, planCatalogueKeyPrefix+"*")
}
