package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coachdesk-api/internal/models"
)

const planColumns = `id, name, student_limit, validity_days, price, currency, category, active, created_at`

// PlanRepository persists the plan catalogue.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository constructs the repository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// Create inserts a plan.
func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO plans (` + planColumns + `)
VALUES (:id, :name, :student_limit, :validity_days, :price, :currency, :category, :active, :created_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, plan); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// FindByID returns a plan or sql.ErrNoRows.
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	const query = `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	var plan models.Plan
	if err := conn(ctx, r.db).GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// List returns catalogue entries ordered by limit, optionally only active ones.
func (r *PlanRepository) List(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY student_limit ASC, price ASC, name ASC`

	var plans []models.Plan
	if err := conn(ctx, r.db).SelectContext(ctx, &plans, query); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// Deactivate hides a plan from new transitions. Existing grants keep it.
func (r *PlanRepository) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE plans SET active = FALSE WHERE id = $1 AND active = TRUE`, id)
	if err != nil {
		return false, fmt.Errorf("deactivate plan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate plan rows: %w", err)
	}
	return affected > 0, nil
}
