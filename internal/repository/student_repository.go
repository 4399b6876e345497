package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coachdesk-api/internal/models"
)

const studentColumns = `id, trainer_id, full_name, email, phone, status, capacity_unit_id, activated_at, deactivated_at, created_at, updated_at`

// StudentRepository persists trainer rosters.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Create inserts a new, inactive student.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	if student.Status == "" {
		student.Status = models.StudentInactive
	}
	const query = `INSERT INTO students (` + studentColumns + `)
VALUES (:id, :trainer_id, :full_name, :email, :phone, :status, :capacity_unit_id, :activated_at, :deactivated_at, :created_at, :updated_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// FindByID returns a student or sql.ErrNoRows.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	var student models.Student
	if err := conn(ctx, r.db).GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// LockByID reads a student holding a row lock until the transaction ends.
// Concurrent assignments for the same student serialise here.
func (r *StudentRepository) LockByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE id = $1 FOR UPDATE`
	var student models.Student
	if err := conn(ctx, r.db).GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// List returns a page of a trainer's roster.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	args := []interface{}{filter.TrainerID}
	conditions := []string{"trainer_id = $1"}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR LOWER(COALESCE(email, '')) LIKE $%d)", len(args), len(args)))
	}
	where := strings.Join(conditions, " AND ")

	_, size, offset := pageBounds(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM students WHERE %s ORDER BY full_name ASC, id ASC LIMIT %d OFFSET %d`,
		studentColumns, where, size, offset)

	q := conn(ctx, r.db)
	var students []models.Student
	if err := q.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := q.GetContext(ctx, &total, "SELECT COUNT(*) FROM students WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// CountActiveByTrainer counts the trainer's active students.
func (r *StudentRepository) CountActiveByTrainer(ctx context.Context, trainerID string) (int, error) {
	var total int
	const query = `SELECT COUNT(*) FROM students WHERE trainer_id = $1 AND status = $2`
	if err := conn(ctx, r.db).GetContext(ctx, &total, query, trainerID, models.StudentActive); err != nil {
		return 0, fmt.Errorf("count active students: %w", err)
	}
	return total, nil
}

// ListActiveByGrant returns students currently active on one of the grant's
// plan units, longest-active first.
func (r *StudentRepository) ListActiveByGrant(ctx context.Context, grantID string) ([]models.Student, error) {
	const query = `SELECT s.id, s.trainer_id, s.full_name, s.email, s.phone, s.status, s.capacity_unit_id,
s.activated_at, s.deactivated_at, s.created_at, s.updated_at
FROM students s
JOIN capacity_units u ON u.id = s.capacity_unit_id
WHERE u.grant_id = $1 AND s.status = $2
ORDER BY s.activated_at ASC NULLS LAST, s.id ASC`
	var students []models.Student
	if err := conn(ctx, r.db).SelectContext(ctx, &students, query, grantID, models.StudentActive); err != nil {
		return nil, fmt.Errorf("list grant students: %w", err)
	}
	return students, nil
}

// Activate marks a student active on unitID starting at at.
func (r *StudentRepository) Activate(ctx context.Context, id, unitID string, at time.Time) error {
	const query = `UPDATE students SET status = $2, capacity_unit_id = $3, activated_at = $4, deactivated_at = NULL, updated_at = $4
WHERE id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, models.StudentActive, unitID, at); err != nil {
		return fmt.Errorf("activate student: %w", err)
	}
	return nil
}

// Rebind moves an active student onto a new unit keeping the original
// activation time.
func (r *StudentRepository) Rebind(ctx context.Context, id, unitID string, at time.Time) error {
	const query = `UPDATE students SET status = $2, capacity_unit_id = $3, deactivated_at = NULL, updated_at = $4
WHERE id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, models.StudentActive, unitID, at); err != nil {
		return fmt.Errorf("rebind student: %w", err)
	}
	return nil
}

// Deactivate flips an active student to inactive. The unit reference is
// kept. It returns false when the student was not active.
func (r *StudentRepository) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE students SET status = $2, deactivated_at = $3, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, models.StudentInactive, at, models.StudentActive)
	if err != nil {
		return false, fmt.Errorf("deactivate student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate student rows: %w", err)
	}
	return affected > 0, nil
}

// ClearUnit drops an inactive student's reference to a released unit.
func (r *StudentRepository) ClearUnit(ctx context.Context, id, unitID string, at time.Time) error {
	const query = `UPDATE students SET capacity_unit_id = NULL, updated_at = $3
WHERE id = $1 AND capacity_unit_id = $2 AND status = $4`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id, unitID, at, models.StudentInactive); err != nil {
		return fmt.Errorf("clear student unit: %w", err)
	}
	return nil
}
