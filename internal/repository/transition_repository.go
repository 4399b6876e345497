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

const recordColumns = `id, trainer_id, student_id, grant_id, capacity_unit_id, event, reason, transition_type,
was_active, can_be_reactivated, activated_at, deactivated_at, created_at`

// TransitionRepository is the append-only store of student status moves.
// It exposes no update or delete.
type TransitionRepository struct {
	db *sqlx.DB
}

// NewTransitionRepository constructs the repository.
func NewTransitionRepository(db *sqlx.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

// Append inserts a record.
func (r *TransitionRepository) Append(ctx context.Context, record *models.TransitionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO transition_records (` + recordColumns + `)
VALUES (:id, :trainer_id, :student_id, :grant_id, :capacity_unit_id, :event, :reason, :transition_type,
:was_active, :can_be_reactivated, :activated_at, :deactivated_at, :created_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("append transition record: %w", err)
	}
	return nil
}

// List returns a page of a trainer's history, newest first.
func (r *TransitionRepository) List(ctx context.Context, filter models.TransitionHistoryFilter) ([]models.TransitionHistoryEntry, int, error) {
	args := []interface{}{filter.TrainerID}
	conditions := []string{"tr.trainer_id = $1"}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("tr.student_id = $%d", len(args)))
	}
	if filter.Reason != "" {
		args = append(args, filter.Reason)
		conditions = append(conditions, fmt.Sprintf("tr.reason = $%d", len(args)))
	}
	if filter.Event != "" {
		args = append(args, filter.Event)
		conditions = append(conditions, fmt.Sprintf("tr.event = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	_, size, offset := pageBounds(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT tr.id, tr.trainer_id, tr.student_id, tr.grant_id, tr.capacity_unit_id, tr.event, tr.reason,
tr.transition_type, tr.was_active, tr.can_be_reactivated, tr.activated_at, tr.deactivated_at, tr.created_at,
s.full_name AS student_name
FROM transition_records tr
JOIN students s ON s.id = tr.student_id
WHERE %s ORDER BY tr.created_at DESC, tr.id DESC LIMIT %d OFFSET %d`, where, size, offset)

	q := conn(ctx, r.db)
	var entries []models.TransitionHistoryEntry
	if err := q.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list transition history: %w", err)
	}

	var total int
	if err := q.GetContext(ctx, &total, "SELECT COUNT(*) FROM transition_records tr WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count transition history: %w", err)
	}
	return entries, total, nil
}

// ListEligible returns inactive students whose most recent record is a
// reactivatable deactivation made at or before cutoff, most recently
// activated first.
func (r *TransitionRepository) ListEligible(ctx context.Context, trainerID string, cutoff time.Time) ([]models.Student, error) {
	const query = `SELECT s.id, s.trainer_id, s.full_name, s.email, s.phone, s.status, s.capacity_unit_id,
s.activated_at, s.deactivated_at, s.created_at, s.updated_at
FROM students s
JOIN LATERAL (
    SELECT tr.event, tr.was_active, tr.can_be_reactivated, tr.deactivated_at
    FROM transition_records tr
    WHERE tr.student_id = s.id
    ORDER BY tr.created_at DESC, tr.id DESC
    LIMIT 1
) latest ON TRUE
WHERE s.trainer_id = $1
  AND s.status = $2
  AND latest.event = $3
  AND latest.was_active
  AND latest.can_be_reactivated
  AND COALESCE(latest.deactivated_at, s.deactivated_at) <= $4
ORDER BY s.activated_at DESC NULLS LAST, s.id ASC`
	var students []models.Student
	if err := conn(ctx, r.db).SelectContext(ctx, &students, query,
		trainerID, models.StudentInactive, models.EventDeactivated, cutoff); err != nil {
		return nil, fmt.Errorf("list reactivation candidates: %w", err)
	}
	return students, nil
}
