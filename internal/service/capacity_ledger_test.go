package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
)

var ledgerNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func planUnit(id, grantID string, expires time.Time, studentID string) models.CapacityUnit {
	gid := grantID
	unit := models.CapacityUnit{ID: id, Kind: models.UnitKindPlan, TrainerID: "trainer-1", GrantID: &gid, ExpiresAt: expires, Active: true}
	if studentID != "" {
		sid := studentID
		unit.StudentID = &sid
	}
	return unit
}

func standaloneUnit(id string, expires time.Time, studentID string) models.CapacityUnit {
	unit := models.CapacityUnit{ID: id, Kind: models.UnitKindStandalone, TrainerID: "trainer-1", ExpiresAt: expires, Active: true}
	if studentID != "" {
		sid := studentID
		unit.StudentID = &sid
	}
	return unit
}

func snapshotWith(grantExpires *time.Time, limit int, units ...models.CapacityUnit) *LedgerSnapshot {
	policy := DefaultExpirationPolicy()
	snap := &LedgerSnapshot{TrainerID: "trainer-1", Units: units, Now: ledgerNow, policy: policy}
	if grantExpires != nil {
		snap.Grant = &models.PlanGrant{ID: "grant-1", TrainerID: "trainer-1", PlanID: "plan-1", ExpiresAt: *grantExpires, Active: true}
		snap.Plan = &models.Plan{ID: "plan-1", Name: "Pro", StudentLimit: limit, Active: true}
		snap.GrantUsable = policy.Usable(*grantExpires, ledgerNow)
	}
	return snap
}

func days(n int) time.Time {
	return ledgerNow.AddDate(0, 0, n)
}

func TestLedgerSlotsWithoutAnything(t *testing.T) {
	slots := snapshotWith(nil, 0).Slots()
	assert.Equal(t, 0, slots.Count)
	assert.Equal(t, dto.CapacityReasonNoActivePlan, slots.Reason)
}

func TestLedgerSlotsCombinesPlanHeadroomAndFreeStandalone(t *testing.T) {
	expires := days(20)
	snap := snapshotWith(&expires, 5,
		planUnit("p1", "grant-1", expires, "s1"),
		planUnit("p2", "grant-1", expires, "s2"),
		planUnit("p3", "grant-1", expires, ""),
		planUnit("p4", "grant-1", expires, ""),
		planUnit("p5", "grant-1", expires, ""),
		standaloneUnit("t1", days(10), "s3"),
		standaloneUnit("t2", days(10), ""),
		standaloneUnit("t3", days(-4), ""),
	)

	slots := snap.Slots()
	assert.Equal(t, 4, slots.Count)
	assert.Empty(t, slots.Reason)
	assert.Equal(t, dto.CapacityBreakdown{
		PlanLimit:       5,
		PlanUsable:      true,
		PlanBound:       2,
		PlanHeadroom:    3,
		StandaloneTotal: 2,
		StandaloneBound: 1,
		StandaloneFree:  1,
		BoundTotal:      3,
	}, slots.Breakdown)
}

func TestLedgerSlotsIgnoresPlanDuringGrace(t *testing.T) {
	expires := days(-1)
	snap := snapshotWith(&expires, 5,
		planUnit("p1", "grant-1", expires, ""),
		standaloneUnit("t1", days(3), ""),
	)

	slots := snap.Slots()
	assert.Equal(t, 1, slots.Count)
	assert.False(t, slots.Breakdown.PlanUsable)
	assert.Equal(t, 0, slots.Breakdown.PlanLimit)
}

func TestLedgerSlotsNeverNegative(t *testing.T) {
	expires := days(20)
	snap := snapshotWith(&expires, 1,
		planUnit("p1", "grant-1", expires, "s1"),
		planUnit("p2", "grant-1", expires, "s2"),
	)

	slots := snap.Slots()
	assert.Equal(t, 0, slots.Count)
	assert.Equal(t, 0, slots.Breakdown.PlanHeadroom)
	assert.Equal(t, dto.CapacityReasonNoCapacity, slots.Reason)
}

func TestLedgerBoundInactiveStudentStillConsumes(t *testing.T) {
	snap := snapshotWith(nil, 0,
		standaloneUnit("t1", days(10), "inactive-student"),
		standaloneUnit("t2", days(10), "active-student"),
	)

	slots := snap.Slots()
	assert.Equal(t, 0, slots.Count)
	assert.Equal(t, dto.CapacityReasonNoCapacity, slots.Reason)
}

func TestLedgerCandidatesOrder(t *testing.T) {
	expires := days(20)
	snap := snapshotWith(&expires, 2,
		planUnit("p1", "grant-1", expires, "s1"),
		planUnit("p2", "grant-1", expires, ""),
		planUnit("p3", "grant-1", expires, ""),
		standaloneUnit("t-late", days(15), ""),
		standaloneUnit("t-soon", days(2), ""),
		standaloneUnit("t-gone", days(-5), ""),
		planUnit("old", "grant-0", expires, ""),
	)

	ids := make([]string, 0)
	for _, unit := range snap.Candidates() {
		ids = append(ids, unit.ID)
	}
	assert.Equal(t, []string{"p2", "t-soon", "t-late"}, ids)
}

func TestLedgerCandidatesSkipPlanWhenGrantUnusable(t *testing.T) {
	expires := days(-2)
	snap := snapshotWith(&expires, 3, planUnit("p1", "grant-1", expires, ""))
	assert.Empty(t, snap.Candidates())
}

func TestLedgerAvailableSlotsReadsStores(t *testing.T) {
	env := newTestEnv(t)
	pro := env.plan(t, "Pro", 3)
	env.grant(t, "trainer-1", pro)
	env.issue(t, "trainer-1", 2, 30)
	env.student(t, "trainer-1", "Ana", true)

	slots, err := env.ledger.AvailableSlots(context.Background(), "trainer-1")
	require.NoError(t, err)
	assert.Equal(t, 4, slots.Count)
	assert.Equal(t, 1, slots.Breakdown.PlanBound)
	assert.Equal(t, 2, slots.Breakdown.StandaloneFree)

	other, err := env.ledger.AvailableSlots(context.Background(), "trainer-2")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Count)
	assert.Equal(t, dto.CapacityReasonNoActivePlan, other.Reason)
}
