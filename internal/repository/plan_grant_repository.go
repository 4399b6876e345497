package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coachdesk-api/internal/models"
)

const grantColumns = `id, trainer_id, plan_id, starts_at, expires_at, active, status, authorized_by, reason,
warning_notified_at, expired_notified_at, superseded_at, created_at`

// PlanGrantRepository persists plan grants.
type PlanGrantRepository struct {
	db *sqlx.DB
}

// NewPlanGrantRepository constructs the repository.
func NewPlanGrantRepository(db *sqlx.DB) *PlanGrantRepository {
	return &PlanGrantRepository{db: db}
}

// Create inserts a grant.
func (r *PlanGrantRepository) Create(ctx context.Context, grant *models.PlanGrant) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO plan_grants (` + grantColumns + `)
VALUES (:id, :trainer_id, :plan_id, :starts_at, :expires_at, :active, :status, :authorized_by, :reason,
:warning_notified_at, :expired_notified_at, :superseded_at, :created_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, grant); err != nil {
		return fmt.Errorf("create plan grant: %w", err)
	}
	return nil
}

// FindByID returns a grant or sql.ErrNoRows.
func (r *PlanGrantRepository) FindByID(ctx context.Context, id string) (*models.PlanGrant, error) {
	const query = `SELECT ` + grantColumns + ` FROM plan_grants WHERE id = $1`
	var grant models.PlanGrant
	if err := conn(ctx, r.db).GetContext(ctx, &grant, query, id); err != nil {
		return nil, err
	}
	return &grant, nil
}

// FindActiveByTrainer returns the trainer's active grant or sql.ErrNoRows.
func (r *PlanGrantRepository) FindActiveByTrainer(ctx context.Context, trainerID string) (*models.PlanGrant, error) {
	const query = `SELECT ` + grantColumns + ` FROM plan_grants WHERE trainer_id = $1 AND active = TRUE`
	var grant models.PlanGrant
	if err := conn(ctx, r.db).GetContext(ctx, &grant, query, trainerID); err != nil {
		return nil, err
	}
	return &grant, nil
}

// LockActiveByTrainer is FindActiveByTrainer holding a row lock until the
// surrounding transaction ends.
func (r *PlanGrantRepository) LockActiveByTrainer(ctx context.Context, trainerID string) (*models.PlanGrant, error) {
	const query = `SELECT ` + grantColumns + ` FROM plan_grants WHERE trainer_id = $1 AND active = TRUE FOR UPDATE`
	var grant models.PlanGrant
	if err := conn(ctx, r.db).GetContext(ctx, &grant, query, trainerID); err != nil {
		return nil, err
	}
	return &grant, nil
}

// ListActive returns every grant still flagged active, oldest expiry first.
func (r *PlanGrantRepository) ListActive(ctx context.Context) ([]models.PlanGrant, error) {
	const query = `SELECT ` + grantColumns + ` FROM plan_grants WHERE active = TRUE ORDER BY expires_at ASC, id ASC`
	var grants []models.PlanGrant
	if err := conn(ctx, r.db).SelectContext(ctx, &grants, query); err != nil {
		return nil, fmt.Errorf("list active plan grants: %w", err)
	}
	return grants, nil
}

// Supersede retires a grant because a newer one replaces it.
func (r *PlanGrantRepository) Supersede(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE plan_grants SET active = FALSE, superseded_at = $2 WHERE id = $1 AND active = TRUE`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("supersede plan grant: %w", err)
	}
	return nil
}

// UpdateStatus stores the last computed expiration status.
func (r *PlanGrantRepository) UpdateStatus(ctx context.Context, id string, status models.ExpirationStatus) error {
	if _, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE plan_grants SET status = $2 WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("update plan grant status: %w", err)
	}
	return nil
}

// Expire retires a grant whose grace period has elapsed.
func (r *PlanGrantRepository) Expire(ctx context.Context, id string) error {
	const query = `UPDATE plan_grants SET active = FALSE, status = $2 WHERE id = $1 AND active = TRUE`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, models.ExpirationInactive); err != nil {
		return fmt.Errorf("expire plan grant: %w", err)
	}
	return nil
}

// ClaimWarning marks the expiry warning as sent. It returns false when a
// previous sweep already claimed it.
func (r *PlanGrantRepository) ClaimWarning(ctx context.Context, id string, at time.Time) (bool, error) {
	return claim(ctx, conn(ctx, r.db),
		`UPDATE plan_grants SET warning_notified_at = $2 WHERE id = $1 AND warning_notified_at IS NULL`, id, at)
}

// ClaimExpired marks the expired notice as sent.
func (r *PlanGrantRepository) ClaimExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	return claim(ctx, conn(ctx, r.db),
		`UPDATE plan_grants SET expired_notified_at = $2 WHERE id = $1 AND expired_notified_at IS NULL`, id, at)
}

func claim(ctx context.Context, q queryer, query, id string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim notification rows: %w", err)
	}
	return affected == 1, nil
}
