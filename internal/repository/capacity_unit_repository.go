package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coachdesk-api/internal/models"
)

const unitColumns = `id, kind, trainer_id, grant_id, student_id, expires_at, active, status, assigned_at, issued_by, reason,
released_at, released_by, warning_notified_at, expired_notified_at, created_at`

// CapacityUnitRepository persists capacity units.
type CapacityUnitRepository struct {
	db *sqlx.DB
}

// NewCapacityUnitRepository constructs the repository.
func NewCapacityUnitRepository(db *sqlx.DB) *CapacityUnitRepository {
	return &CapacityUnitRepository{db: db}
}

// CreateBatch inserts units in one statement.
func (r *CapacityUnitRepository) CreateBatch(ctx context.Context, units []models.CapacityUnit) error {
	if len(units) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range units {
		if units[i].ID == "" {
			units[i].ID = uuid.NewString()
		}
		if units[i].CreatedAt.IsZero() {
			units[i].CreatedAt = now
		}
	}
	const query = `INSERT INTO capacity_units (` + unitColumns + `)
VALUES (:id, :kind, :trainer_id, :grant_id, :student_id, :expires_at, :active, :status, :assigned_at, :issued_by, :reason,
:released_at, :released_by, :warning_notified_at, :expired_notified_at, :created_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, units); err != nil {
		return fmt.Errorf("create capacity units: %w", err)
	}
	return nil
}

// FindByID returns a unit or sql.ErrNoRows.
func (r *CapacityUnitRepository) FindByID(ctx context.Context, id string) (*models.CapacityUnit, error) {
	const query = `SELECT ` + unitColumns + ` FROM capacity_units WHERE id = $1`
	var unit models.CapacityUnit
	if err := conn(ctx, r.db).GetContext(ctx, &unit, query, id); err != nil {
		return nil, err
	}
	return &unit, nil
}

// ListActiveByTrainer returns the trainer's active units, plan units first
// and then by expiry.
func (r *CapacityUnitRepository) ListActiveByTrainer(ctx context.Context, trainerID string) ([]models.CapacityUnit, error) {
	const query = `SELECT ` + unitColumns + ` FROM capacity_units
WHERE trainer_id = $1 AND active = TRUE
ORDER BY CASE kind WHEN 'plan' THEN 0 ELSE 1 END, expires_at ASC, created_at ASC, id ASC`
	var units []models.CapacityUnit
	if err := conn(ctx, r.db).SelectContext(ctx, &units, query, trainerID); err != nil {
		return nil, fmt.Errorf("list trainer capacity units: %w", err)
	}
	return units, nil
}

// ListActive returns every active unit, oldest expiry first.
func (r *CapacityUnitRepository) ListActive(ctx context.Context) ([]models.CapacityUnit, error) {
	const query = `SELECT ` + unitColumns + ` FROM capacity_units WHERE active = TRUE ORDER BY expires_at ASC, id ASC`
	var units []models.CapacityUnit
	if err := conn(ctx, r.db).SelectContext(ctx, &units, query); err != nil {
		return nil, fmt.Errorf("list active capacity units: %w", err)
	}
	return units, nil
}

// Bind attaches an unbound active unit to a student. Losing a race for the
// unit, or tripping the per-student plan unit index, yields *AssignmentConflict.
func (r *CapacityUnitRepository) Bind(ctx context.Context, unitID, studentID string, at time.Time) error {
	const query = `UPDATE capacity_units SET student_id = $2, assigned_at = $3
WHERE id = $1 AND student_id IS NULL AND active = TRUE`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, unitID, studentID, at)
	if err != nil {
		if isUniqueViolation(err) {
			return &AssignmentConflict{UnitID: unitID, StudentID: studentID, Err: err}
		}
		return fmt.Errorf("bind capacity unit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bind capacity unit rows: %w", err)
	}
	if affected == 0 {
		return &AssignmentConflict{UnitID: unitID, StudentID: studentID}
	}
	return nil
}

// Release detaches a unit from its student so it can be bound again.
func (r *CapacityUnitRepository) Release(ctx context.Context, unitID, studentID, releasedBy string, at time.Time) (bool, error) {
	const query = `UPDATE capacity_units SET student_id = NULL, assigned_at = NULL, released_at = $4, released_by = $3
WHERE id = $1 AND student_id = $2`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, unitID, studentID, releasedBy, at)
	if err != nil {
		return false, fmt.Errorf("release capacity unit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release capacity unit rows: %w", err)
	}
	return affected > 0, nil
}

// DeactivateByGrant retires every unit minted for a grant.
func (r *CapacityUnitRepository) DeactivateByGrant(ctx context.Context, grantID string) (int64, error) {
	const query = `UPDATE capacity_units SET active = FALSE, status = $2 WHERE grant_id = $1 AND active = TRUE`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, grantID, models.ExpirationInactive)
	if err != nil {
		return 0, fmt.Errorf("deactivate grant units: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate grant units rows: %w", err)
	}
	return affected, nil
}

// UpdateStatus stores the last computed expiration status.
func (r *CapacityUnitRepository) UpdateStatus(ctx context.Context, id string, status models.ExpirationStatus) error {
	if _, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE capacity_units SET status = $2 WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("update capacity unit status: %w", err)
	}
	return nil
}

// Expire retires a unit past its grace period. The binding is kept.
func (r *CapacityUnitRepository) Expire(ctx context.Context, id string) error {
	const query = `UPDATE capacity_units SET active = FALSE, status = $2 WHERE id = $1 AND active = TRUE`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, models.ExpirationInactive); err != nil {
		return fmt.Errorf("expire capacity unit: %w", err)
	}
	return nil
}

// ClaimWarning marks the unit's expiry warning as sent.
func (r *CapacityUnitRepository) ClaimWarning(ctx context.Context, id string, at time.Time) (bool, error) {
	return claim(ctx, conn(ctx, r.db),
		`UPDATE capacity_units SET warning_notified_at = $2 WHERE id = $1 AND warning_notified_at IS NULL`, id, at)
}

// ClaimExpired marks the unit's expired notice as sent.
func (r *CapacityUnitRepository) ClaimExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	return claim(ctx, conn(ctx, r.db),
		`UPDATE capacity_units SET expired_notified_at = $2 WHERE id = $1 AND expired_notified_at IS NULL`, id, at)
}
