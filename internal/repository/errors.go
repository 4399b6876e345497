package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// AssignmentConflict reports that a unit could not be bound because another
// writer got there first, either by binding the same unit or by tripping the
// one-active-plan-unit-per-student index.
type AssignmentConflict struct {
	UnitID    string
	StudentID string
	Err       error
}

func (e *AssignmentConflict) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("assignment conflict on unit %s for student %s: %v", e.UnitID, e.StudentID, e.Err)
	}
	return fmt.Sprintf("assignment conflict on unit %s for student %s", e.UnitID, e.StudentID)
}

func (e *AssignmentConflict) Unwrap() error {
	return e.Err
}

// IsAssignmentConflict reports whether err carries an AssignmentConflict.
func IsAssignmentConflict(err error) bool {
	var conflict *AssignmentConflict
	return errors.As(err, &conflict)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
