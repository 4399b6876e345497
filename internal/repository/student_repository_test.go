package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coachdesk-api/internal/models"
)

var studentRowColumns = []string{"id", "trainer_id", "full_name", "email", "phone", "status", "capacity_unit_id",
	"activated_at", "deactivated_at", "created_at", "updated_at"}

func TestStudentRepositoryCreateDefaultsInactive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs(sqlmock.AnyArg(), "trainer-1", "Ana Silva", nil, nil, "inactive", nil, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{TrainerID: "trainer-1", FullName: "Ana Silva"}
	require.NoError(t, repo.Create(context.Background(), student))
	assert.NotEmpty(t, student.ID)
	assert.Equal(t, models.StudentInactive, student.Status)
}

func TestStudentRepositoryLockByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.LockByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStudentRepositoryDeactivateIsConditional(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("UPDATE students SET status").
		WithArgs("student-1", "inactive", sqlmock.AnyArg(), "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE students SET status").
		WithArgs("student-1", "inactive", sqlmock.AnyArg(), "active").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.Deactivate(context.Background(), "student-1", time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.Deactivate(context.Background(), "student-1", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStudentRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(studentRowColumns).
		AddRow("student-1", "trainer-1", "Ana", "ana@example.com", nil, "active", "unit-1", now, nil, now, now)
	mock.ExpectQuery("SELECT id, trainer_id, full_name").
		WithArgs("trainer-1", "active", "%ana%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students")).
		WithArgs("trainer-1", "active", "%ana%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{
		TrainerID: "trainer-1",
		Status:    models.StudentActive,
		Search:    "Ana",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, students, 1)
	assert.Equal(t, "unit-1", *students[0].CapacityUnitID)
}

func TestStudentRepositoryListActiveByGrant(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(studentRowColumns).
		AddRow("student-1", "trainer-1", "Ana", nil, nil, "active", "unit-1", now.Add(-time.Hour), nil, now, now).
		AddRow("student-2", "trainer-1", "Bruno", nil, nil, "active", "unit-2", now, nil, now, now)
	mock.ExpectQuery("JOIN capacity_units u ON u.id = s.capacity_unit_id").
		WithArgs("grant-1", "active").
		WillReturnRows(rows)

	students, err := repo.ListActiveByGrant(context.Background(), "grant-1")
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "student-1", students[0].ID)
}
