package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
)

type ledgerGrantReader interface {
	FindActiveByTrainer(ctx context.Context, trainerID string) (*models.PlanGrant, error)
}

type ledgerPlanReader interface {
	FindByID(ctx context.Context, id string) (*models.Plan, error)
}

type ledgerUnitReader interface {
	ListActiveByTrainer(ctx context.Context, trainerID string) ([]models.CapacityUnit, error)
}

// CapacityLedger computes a trainer's available capacity from stored grants
// and units, classifying expiry on read so the answer never depends on when
// the sweep last ran.
type CapacityLedger struct {
	grants ledgerGrantReader
	plans  ledgerPlanReader
	units  ledgerUnitReader
	policy ExpirationPolicy
	now    func() time.Time
}

// NewCapacityLedger constructs the ledger.
func NewCapacityLedger(grants ledgerGrantReader, plans ledgerPlanReader, units ledgerUnitReader, policy ExpirationPolicy) *CapacityLedger {
	return &CapacityLedger{grants: grants, plans: plans, units: units, policy: policy, now: func() time.Time { return time.Now().UTC() }}
}

// LedgerSnapshot is the state the ledger read for one trainer.
type LedgerSnapshot struct {
	TrainerID   string
	Grant       *models.PlanGrant
	Plan        *models.Plan
	GrantUsable bool
	Units       []models.CapacityUnit
	Now         time.Time
	policy      ExpirationPolicy
}

// Snapshot reads the trainer's grant, plan and active units. Inside a
// transaction it sees that transaction's writes.
func (l *CapacityLedger) Snapshot(ctx context.Context, trainerID string) (*LedgerSnapshot, error) {
	snap := &LedgerSnapshot{TrainerID: trainerID, Now: l.now(), policy: l.policy}

	grant, err := l.grants.FindActiveByTrainer(ctx, trainerID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load active grant: %w", err)
	default:
		plan, err := l.plans.FindByID(ctx, grant.PlanID)
		if err != nil {
			return nil, fmt.Errorf("load grant plan: %w", err)
		}
		snap.Grant = grant
		snap.Plan = plan
		snap.GrantUsable = l.policy.Usable(grant.ExpiresAt, snap.Now)
	}

	units, err := l.units.ListActiveByTrainer(ctx, trainerID)
	if err != nil {
		return nil, fmt.Errorf("load capacity units: %w", err)
	}
	snap.Units = units
	return snap, nil
}

// AvailableSlots returns the trainer's available count and its breakdown.
func (l *CapacityLedger) AvailableSlots(ctx context.Context, trainerID string) (*dto.AvailableSlots, error) {
	snap, err := l.Snapshot(ctx, trainerID)
	if err != nil {
		return nil, err
	}
	slots := snap.Slots()
	return &slots, nil
}

// Slots applies the ledger formula to the snapshot: plan headroom on a usable
// grant plus unbound usable standalone units. Bound units count as consumed
// whether or not their student is still active.
func (s *LedgerSnapshot) Slots() dto.AvailableSlots {
	var b dto.CapacityBreakdown
	if s.Plan != nil && s.GrantUsable {
		b.PlanLimit = s.Plan.StudentLimit
		b.PlanUsable = true
	}

	for _, unit := range s.Units {
		usable := s.policy.Usable(unit.ExpiresAt, s.Now)
		switch v := unit.Variant().(type) {
		case models.PlanBoundUnit:
			if s.Grant == nil || v.GrantID != s.Grant.ID || !usable {
				continue
			}
			if unit.Bound() {
				b.PlanBound++
			}
		case models.StandaloneUnit:
			if !usable {
				continue
			}
			b.StandaloneTotal++
			if unit.Bound() {
				b.StandaloneBound++
			} else {
				b.StandaloneFree++
			}
		}
	}

	b.BoundTotal = b.PlanBound + b.StandaloneBound
	if b.PlanLimit > b.PlanBound {
		b.PlanHeadroom = b.PlanLimit - b.PlanBound
	}

	slots := dto.AvailableSlots{Count: b.PlanHeadroom + b.StandaloneFree, Breakdown: b}
	switch {
	case !b.PlanUsable && b.StandaloneTotal == 0:
		slots.Reason = dto.CapacityReasonNoActivePlan
	case slots.Count == 0:
		slots.Reason = dto.CapacityReasonNoCapacity
	}
	return slots
}

// Candidates lists unbound units that may back a new binding in selection
// order: plan units of the usable grant first, then standalone units by
// earliest expiry.
func (s *LedgerSnapshot) Candidates() []models.CapacityUnit {
	var planUnits, standalone []models.CapacityUnit
	for _, unit := range s.Units {
		if unit.Bound() || !s.policy.Usable(unit.ExpiresAt, s.Now) {
			continue
		}
		switch v := unit.Variant().(type) {
		case models.PlanBoundUnit:
			if s.Grant != nil && s.GrantUsable && v.GrantID == s.Grant.ID {
				planUnits = append(planUnits, unit)
			}
		case models.StandaloneUnit:
			standalone = append(standalone, unit)
		}
	}

	if headroom := s.Slots().Breakdown.PlanHeadroom; len(planUnits) > headroom {
		planUnits = planUnits[:headroom]
	}

	sort.SliceStable(standalone, func(i, j int) bool {
		if !standalone[i].ExpiresAt.Equal(standalone[j].ExpiresAt) {
			return standalone[i].ExpiresAt.Before(standalone[j].ExpiresAt)
		}
		return standalone[i].ID < standalone[j].ID
	})

	return append(planUnits, standalone...)
}
