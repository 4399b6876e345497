package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
)

func TestIssueMintsStandaloneUnits(t *testing.T) {
	env := newTestEnv(t)
	units := env.issue(t, "trainer-1", 3, 4)

	require.Len(t, units, 3)
	for _, unit := range units {
		assert.Equal(t, models.UnitKindStandalone, unit.Kind)
		assert.Nil(t, unit.GrantID)
		assert.Equal(t, "admin-1", unit.IssuedBy)
		assert.Equal(t, models.ExpirationExpiring, unit.Status)
		assert.Equal(t, env.clock.Now().AddDate(0, 0, 4), unit.ExpiresAt)
	}
	assert.Equal(t, 3, env.slots(t, "trainer-1"))
	assert.Equal(t, 1, env.cache.count("trainer-1"))

	listed, err := env.unitAdmin.List(context.Background(), "trainer-1")
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestIssueValidates(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.unitAdmin.Issue(context.Background(), "trainer-1", "admin-1", dto.IssueUnitsRequest{Quantity: 0, ValidityDays: 10})
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))

	_, err = env.unitAdmin.Issue(context.Background(), "", "admin-1", dto.IssueUnitsRequest{Quantity: 1, ValidityDays: 10})
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))
}

func TestReleaseRequiresInactiveHolder(t *testing.T) {
	env := newTestEnv(t)
	units := env.issue(t, "trainer-1", 1, 30)
	ana := env.student(t, "trainer-1", "Ana", true)
	ctx := context.Background()

	_, err := env.unitAdmin.Release(ctx, units[0].ID, "admin-1")
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, errorCode(err))

	_, _, err = env.assign.Deactivate(ctx, "trainer-1", ana.ID, models.ReasonManualDeactivation)
	require.NoError(t, err)
	assert.Equal(t, 0, env.slots(t, "trainer-1"))

	released, err := env.unitAdmin.Release(ctx, units[0].ID, "admin-1")
	require.NoError(t, err)
	assert.Nil(t, released.StudentID)
	require.NotNil(t, released.ReleasedBy)
	assert.Equal(t, "admin-1", *released.ReleasedBy)
	assert.Nil(t, env.load(t, ana.ID).CapacityUnitID)
	assert.Equal(t, 1, env.slots(t, "trainer-1"))

	_, err = env.unitAdmin.Release(ctx, units[0].ID, "admin-1")
	assert.Equal(t, appErrors.ErrConflict.Code, errorCode(err))

	_, err = env.unitAdmin.Release(ctx, "missing", "admin-1")
	assert.Equal(t, appErrors.ErrNotFound.Code, errorCode(err))
}

// reactivatedOnLock marks the holder active as the row lock is granted, as a
// reactivation that committed while release waited on the lock would.
type reactivatedOnLock struct {
	memStudents
}

func (r reactivatedOnLock) LockByID(ctx context.Context, id string) (*models.Student, error) {
	r.db.mu.Lock()
	if student, ok := r.db.students[id]; ok {
		student.Status = models.StudentActive
		r.db.students[id] = student
	}
	r.db.mu.Unlock()
	return r.memStudents.LockByID(ctx, id)
}

func TestReleaseRechecksHolderUnderLock(t *testing.T) {
	env := newTestEnv(t)
	units := env.issue(t, "trainer-1", 1, 30)
	ana := env.student(t, "trainer-1", "Ana", true)
	ctx := context.Background()

	_, _, err := env.assign.Deactivate(ctx, "trainer-1", ana.ID, models.ReasonManualDeactivation)
	require.NoError(t, err)

	admin := NewUnitAdminService(env.db, env.unitsRepo, reactivatedOnLock{env.studentRepo}, DefaultExpirationPolicy(), env.cache, nil, zap.NewNop())
	admin.now = env.clock.Now

	_, err = admin.Release(ctx, units[0].ID, "admin-1")
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, errorCode(err))

	unit := env.db.unit(units[0].ID)
	require.NotNil(t, unit.StudentID)
	assert.Equal(t, ana.ID, *unit.StudentID)
	assert.Nil(t, unit.ReleasedAt)
	require.NotNil(t, env.load(t, ana.ID).CapacityUnitID)
	assert.Equal(t, units[0].ID, *env.load(t, ana.ID).CapacityUnitID)
}

func TestReleaseSkipsUnitBoundToAnotherStudent(t *testing.T) {
	env := newTestEnv(t)
	units := env.issue(t, "trainer-1", 1, 30)
	ana := env.student(t, "trainer-1", "Ana", true)

	released, err := env.unitsRepo.Release(context.Background(), units[0].ID, "someone-else", "admin-1", env.clock.Now())
	require.NoError(t, err)
	assert.False(t, released)

	unit := env.db.unit(units[0].ID)
	require.NotNil(t, unit.StudentID)
	assert.Equal(t, ana.ID, *unit.StudentID)
}
