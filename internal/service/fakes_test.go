package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memTxKey struct{}

// memDB is an in-memory stand-in for the Postgres schema. Transactions are
// serialised and rolled back by restoring a snapshot.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	plans    map[string]models.Plan
	grants   map[string]models.PlanGrant
	units    map[string]models.CapacityUnit
	students map[string]models.Student
	records  []models.TransitionRecord

	bindConflicts int
	failEvent     models.TransitionEvent
	failAt        int
	eventAppends  int
	clock         *fakeClock
}

type memState struct {
	plans    map[string]models.Plan
	grants   map[string]models.PlanGrant
	units    map[string]models.CapacityUnit
	students map[string]models.Student
	records  []models.TransitionRecord
}

func newMemDB(clock *fakeClock) *memDB {
	return &memDB{
		plans:    map[string]models.Plan{},
		grants:   map[string]models.PlanGrant{},
		units:    map[string]models.CapacityUnit{},
		students: map[string]models.Student{},
		clock:    clock,
	}
}

func copyMap[T any](in map[string]T) map[string]T {
	out := make(map[string]T, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (db *memDB) snapshot() memState {
	return memState{
		plans:    copyMap(db.plans),
		grants:   copyMap(db.grants),
		units:    copyMap(db.units),
		students: copyMap(db.students),
		records:  append([]models.TransitionRecord(nil), db.records...),
	}
}

func (db *memDB) restore(s memState) {
	db.plans, db.grants, db.units, db.students, db.records = s.plans, s.grants, s.units, s.students, s.records
}

func (db *memDB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snap := db.snapshot()
	db.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		db.mu.Lock()
		db.restore(snap)
		db.mu.Unlock()
		return err
	}
	return nil
}

func (db *memDB) setBindConflicts(n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.bindConflicts = n
}

// failRecordAt makes the nth appended record of the given event fail.
func (db *memDB) failRecordAt(event models.TransitionEvent, n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failEvent, db.failAt, db.eventAppends = event, n, 0
}

func (db *memDB) state() memState {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.snapshot()
}

func (db *memDB) putUnit(u models.CapacityUnit) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.units[u.ID] = u
}

func (db *memDB) unit(id string) models.CapacityUnit {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.units[id]
}

func (db *memDB) allRecords() []models.TransitionRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.TransitionRecord(nil), db.records...)
}

func (db *memDB) studentCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.students)
}

type memPlans struct{ db *memDB }

func (r memPlans) Create(ctx context.Context, plan *models.Plan) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = r.db.clock.Now()
	}
	r.db.plans[plan.ID] = *plan
	return nil
}

func (r memPlans) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	plan, ok := r.db.plans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &plan, nil
}

func (r memPlans) List(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Plan
	for _, plan := range r.db.plans {
		if activeOnly && !plan.Active {
			continue
		}
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memPlans) Deactivate(ctx context.Context, id string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	plan, ok := r.db.plans[id]
	if !ok || !plan.Active {
		return false, nil
	}
	plan.Active = false
	r.db.plans[id] = plan
	return true, nil
}

type memGrants struct{ db *memDB }

func (r memGrants) Create(ctx context.Context, grant *models.PlanGrant) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = r.db.clock.Now()
	}
	if grant.Active {
		for _, g := range r.db.grants {
			if g.Active && g.TrainerID == grant.TrainerID {
				return errors.New("duplicate active grant")
			}
		}
	}
	r.db.grants[grant.ID] = *grant
	return nil
}

func (r memGrants) FindByID(ctx context.Context, id string) (*models.PlanGrant, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	grant, ok := r.db.grants[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &grant, nil
}

func (r memGrants) FindActiveByTrainer(ctx context.Context, trainerID string) (*models.PlanGrant, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, grant := range r.db.grants {
		if grant.Active && grant.TrainerID == trainerID {
			g := grant
			return &g, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memGrants) LockActiveByTrainer(ctx context.Context, trainerID string) (*models.PlanGrant, error) {
	return r.FindActiveByTrainer(ctx, trainerID)
}

func (r memGrants) ListActive(ctx context.Context) ([]models.PlanGrant, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.PlanGrant
	for _, grant := range r.db.grants {
		if grant.Active {
			out = append(out, grant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memGrants) Supersede(ctx context.Context, id string, at time.Time) error {
	return r.update(id, func(g *models.PlanGrant) {
		if g.Active {
			g.Active = false
			g.SupersededAt = &at
		}
	})
}

func (r memGrants) UpdateStatus(ctx context.Context, id string, status models.ExpirationStatus) error {
	return r.update(id, func(g *models.PlanGrant) { g.Status = status })
}

func (r memGrants) Expire(ctx context.Context, id string) error {
	return r.update(id, func(g *models.PlanGrant) {
		if g.Active {
			g.Active = false
			g.Status = models.ExpirationInactive
		}
	})
}

func (r memGrants) ClaimWarning(ctx context.Context, id string, at time.Time) (bool, error) {
	claimed := false
	err := r.update(id, func(g *models.PlanGrant) {
		if g.WarningNotifiedAt == nil {
			g.WarningNotifiedAt = &at
			claimed = true
		}
	})
	return claimed, err
}

func (r memGrants) ClaimExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	claimed := false
	err := r.update(id, func(g *models.PlanGrant) {
		if g.ExpiredNotifiedAt == nil {
			g.ExpiredNotifiedAt = &at
			claimed = true
		}
	})
	return claimed, err
}

func (r memGrants) update(id string, fn func(*models.PlanGrant)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	grant, ok := r.db.grants[id]
	if !ok {
		return nil
	}
	fn(&grant)
	r.db.grants[id] = grant
	return nil
}

type memUnits struct{ db *memDB }

func (r memUnits) CreateBatch(ctx context.Context, units []models.CapacityUnit) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i := range units {
		if units[i].ID == "" {
			units[i].ID = uuid.NewString()
		}
		if units[i].CreatedAt.IsZero() {
			units[i].CreatedAt = r.db.clock.Now()
		}
		r.db.units[units[i].ID] = units[i]
	}
	return nil
}

func (r memUnits) FindByID(ctx context.Context, id string) (*models.CapacityUnit, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	unit, ok := r.db.units[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &unit, nil
}

func (r memUnits) ListActiveByTrainer(ctx context.Context, trainerID string) ([]models.CapacityUnit, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.CapacityUnit
	for _, unit := range r.db.units {
		if unit.Active && unit.TrainerID == trainerID {
			out = append(out, unit)
		}
	}
	sortUnits(out)
	return out, nil
}

func (r memUnits) ListActive(ctx context.Context) ([]models.CapacityUnit, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.CapacityUnit
	for _, unit := range r.db.units {
		if unit.Active {
			out = append(out, unit)
		}
	}
	sortUnits(out)
	return out, nil
}

func sortUnits(units []models.CapacityUnit) {
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if (a.Kind == models.UnitKindPlan) != (b.Kind == models.UnitKindPlan) {
			return a.Kind == models.UnitKindPlan
		}
		if !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
		return a.ID < b.ID
	})
}

func (r memUnits) Bind(ctx context.Context, unitID, studentID string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.bindConflicts > 0 {
		r.db.bindConflicts--
		return &repository.AssignmentConflict{UnitID: unitID, StudentID: studentID}
	}
	unit, ok := r.db.units[unitID]
	if !ok || unit.StudentID != nil || !unit.Active {
		return &repository.AssignmentConflict{UnitID: unitID, StudentID: studentID}
	}
	if unit.Kind == models.UnitKindPlan {
		for _, other := range r.db.units {
			if other.ID != unitID && other.Kind == models.UnitKindPlan && other.Active && other.BoundTo(studentID) {
				return &repository.AssignmentConflict{UnitID: unitID, StudentID: studentID, Err: errors.New("unique violation")}
			}
		}
	}
	sid := studentID
	unit.StudentID = &sid
	unit.AssignedAt = &at
	r.db.units[unitID] = unit
	return nil
}

func (r memUnits) Release(ctx context.Context, unitID, studentID, releasedBy string, at time.Time) (bool, error) {
	released := false
	err := r.update(unitID, func(u *models.CapacityUnit) {
		if u.StudentID != nil && *u.StudentID == studentID {
			by := releasedBy
			u.StudentID = nil
			u.AssignedAt = nil
			u.ReleasedAt = &at
			u.ReleasedBy = &by
			released = true
		}
	})
	return released, err
}

func (r memUnits) DeactivateByGrant(ctx context.Context, grantID string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, unit := range r.db.units {
		if unit.Active && unit.GrantID != nil && *unit.GrantID == grantID {
			unit.Active = false
			r.db.units[id] = unit
			n++
		}
	}
	return n, nil
}

func (r memUnits) UpdateStatus(ctx context.Context, id string, status models.ExpirationStatus) error {
	return r.update(id, func(u *models.CapacityUnit) { u.Status = status })
}

func (r memUnits) Expire(ctx context.Context, id string) error {
	return r.update(id, func(u *models.CapacityUnit) {
		u.Active = false
		u.Status = models.ExpirationInactive
	})
}

func (r memUnits) ClaimWarning(ctx context.Context, id string, at time.Time) (bool, error) {
	claimed := false
	err := r.update(id, func(u *models.CapacityUnit) {
		if u.WarningNotifiedAt == nil {
			u.WarningNotifiedAt = &at
			claimed = true
		}
	})
	return claimed, err
}

func (r memUnits) ClaimExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	claimed := false
	err := r.update(id, func(u *models.CapacityUnit) {
		if u.ExpiredNotifiedAt == nil {
			u.ExpiredNotifiedAt = &at
			claimed = true
		}
	})
	return claimed, err
}

func (r memUnits) update(id string, fn func(*models.CapacityUnit)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	unit, ok := r.db.units[id]
	if !ok {
		return nil
	}
	fn(&unit)
	r.db.units[id] = unit
	return nil
}

type memStudents struct{ db *memDB }

func (r memStudents) Create(ctx context.Context, student *models.Student) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := r.db.clock.Now()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	if student.Status == "" {
		student.Status = models.StudentInactive
	}
	r.db.students[student.ID] = *student
	return nil
}

func (r memStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	student, ok := r.db.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &student, nil
}

func (r memStudents) LockByID(ctx context.Context, id string) (*models.Student, error) {
	return r.FindByID(ctx, id)
}

func (r memStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var matched []models.Student
	for _, s := range r.db.students {
		if s.TrainerID != filter.TrainerID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(s.FullName), strings.ToLower(filter.Search)) {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].FullName < matched[j].FullName })
	page, size := normalisePage(filter.Page, filter.PageSize)
	start := (page - 1) * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (r memStudents) CountActiveByTrainer(ctx context.Context, trainerID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, s := range r.db.students {
		if s.TrainerID == trainerID && s.Status == models.StudentActive {
			n++
		}
	}
	return n, nil
}

func (r memStudents) ListActiveByGrant(ctx context.Context, grantID string) ([]models.Student, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Student
	for _, s := range r.db.students {
		if s.Status != models.StudentActive || s.CapacityUnitID == nil {
			continue
		}
		unit, ok := r.db.units[*s.CapacityUnitID]
		if ok && unit.GrantID != nil && *unit.GrantID == grantID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ActivatedAt, out[j].ActivatedAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memStudents) Activate(ctx context.Context, id, unitID string, at time.Time) error {
	return r.update(id, func(s *models.Student) {
		uid := unitID
		s.Status = models.StudentActive
		s.CapacityUnitID = &uid
		s.ActivatedAt = &at
		s.DeactivatedAt = nil
	})
}

func (r memStudents) Rebind(ctx context.Context, id, unitID string, at time.Time) error {
	return r.update(id, func(s *models.Student) {
		uid := unitID
		s.Status = models.StudentActive
		s.CapacityUnitID = &uid
		s.DeactivatedAt = nil
	})
}

func (r memStudents) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	changed := false
	err := r.update(id, func(s *models.Student) {
		if s.Status == models.StudentActive {
			s.Status = models.StudentInactive
			s.DeactivatedAt = &at
			changed = true
		}
	})
	return changed, err
}

func (r memStudents) ClearUnit(ctx context.Context, id, unitID string, at time.Time) error {
	return r.update(id, func(s *models.Student) {
		if s.Status == models.StudentInactive && s.CapacityUnitID != nil && *s.CapacityUnitID == unitID {
			s.CapacityUnitID = nil
		}
	})
}

func (r memStudents) update(id string, fn func(*models.Student)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	student, ok := r.db.students[id]
	if !ok {
		return nil
	}
	fn(&student)
	student.UpdatedAt = r.db.clock.Now()
	r.db.students[id] = student
	return nil
}

type memRecords struct{ db *memDB }

func (r memRecords) Append(ctx context.Context, record *models.TransitionRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failAt > 0 && record.Event == r.db.failEvent {
		r.db.eventAppends++
		if r.db.eventAppends == r.db.failAt {
			r.db.failAt = 0
			return errors.New("append transition record: connection reset")
		}
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.db.clock.Now()
	}
	r.db.records = append(r.db.records, *record)
	return nil
}

func (r memRecords) List(ctx context.Context, filter models.TransitionHistoryFilter) ([]models.TransitionHistoryEntry, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var matched []models.TransitionHistoryEntry
	for i := len(r.db.records) - 1; i >= 0; i-- {
		rec := r.db.records[i]
		if rec.TrainerID != filter.TrainerID {
			continue
		}
		if filter.StudentID != "" && rec.StudentID != filter.StudentID {
			continue
		}
		if filter.Reason != "" && rec.Reason != filter.Reason {
			continue
		}
		if filter.Event != "" && rec.Event != filter.Event {
			continue
		}
		matched = append(matched, models.TransitionHistoryEntry{TransitionRecord: rec, StudentName: r.db.students[rec.StudentID].FullName})
	}
	page, size := normalisePage(filter.Page, filter.PageSize)
	start := (page - 1) * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (r memRecords) ListEligible(ctx context.Context, trainerID string, cutoff time.Time) ([]models.Student, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	latest := map[string]models.TransitionRecord{}
	for _, rec := range r.db.records {
		latest[rec.StudentID] = rec
	}
	var out []models.Student
	for _, s := range r.db.students {
		if s.TrainerID != trainerID || s.Status != models.StudentInactive {
			continue
		}
		rec, ok := latest[s.ID]
		if !ok || rec.Event != models.EventDeactivated || !rec.WasActive || !rec.CanBeReactivated {
			continue
		}
		at := rec.DeactivatedAt
		if at == nil {
			at = s.DeactivatedAt
		}
		if at == nil || at.After(cutoff) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ActivatedAt, out[j].ActivatedAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.After(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, notification models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *recordingNotifier) kinds(kind models.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, sent := range n.sent {
		if sent.Kind == kind {
			count++
		}
	}
	return count
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recordingInvalidator) InvalidateTrainer(ctx context.Context, trainerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[trainerID]++
}

func (r *recordingInvalidator) count(trainerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[trainerID]
}

// testEnv wires the capacity engine over memDB with a controllable clock.
type testEnv struct {
	clock       *fakeClock
	db          *memDB
	plansRepo   memPlans
	grantsRepo  memGrants
	unitsRepo   memUnits
	studentRepo memStudents
	recordsRepo memRecords
	ledger      *CapacityLedger
	assign      *UnitAssignmentService
	transitions *PlanTransitionService
	sweeper     *ExpirationSweeper
	students    *StudentService
	unitAdmin   *UnitAdminService
	notifier    *recordingNotifier
	cache       *recordingInvalidator
	metrics     *MetricsService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	db := newMemDB(clock)
	env := &testEnv{
		clock:       clock,
		db:          db,
		plansRepo:   memPlans{db},
		grantsRepo:  memGrants{db},
		unitsRepo:   memUnits{db},
		studentRepo: memStudents{db},
		recordsRepo: memRecords{db},
		notifier:    &recordingNotifier{},
		cache:       &recordingInvalidator{},
		metrics:     NewMetricsService(),
	}
	policy := DefaultExpirationPolicy()

	env.ledger = NewCapacityLedger(env.grantsRepo, env.plansRepo, env.unitsRepo, policy)
	env.ledger.now = clock.Now

	env.assign = NewUnitAssignmentService(db, env.studentRepo, env.unitsRepo, env.ledger, env.recordsRepo, policy, 1, env.cache, env.metrics, zap.NewNop())
	env.assign.now = clock.Now

	env.transitions = NewPlanTransitionService(PlanTransitionDeps{
		Tx:       db,
		Plans:    env.plansRepo,
		Grants:   env.grantsRepo,
		Units:    env.unitsRepo,
		Students: env.studentRepo,
		Records:  env.recordsRepo,
		Assigner: env.assign,
		Ledger:   env.ledger,
		Notifier: env.notifier,
		Cache:    env.cache,
		Metrics:  env.metrics,
	}, policy, nil, zap.NewNop())
	env.transitions.now = clock.Now

	env.sweeper = NewExpirationSweeper(db, env.grantsRepo, env.unitsRepo, env.studentRepo, env.assign, policy, env.notifier, env.cache, env.metrics, zap.NewNop())
	env.sweeper.now = clock.Now

	env.students = NewStudentService(env.studentRepo, env.assign, env.cache, nil, zap.NewNop())

	env.unitAdmin = NewUnitAdminService(db, env.unitsRepo, env.studentRepo, policy, env.cache, nil, zap.NewNop())
	env.unitAdmin.now = clock.Now
	return env
}

func (e *testEnv) plan(t *testing.T, name string, limit int) models.Plan {
	t.Helper()
	plan := &models.Plan{Name: name, StudentLimit: limit, ValidityDays: 30, Currency: "USD", Category: models.PlanCategoryPaid, Active: true}
	require.NoError(t, e.plansRepo.Create(context.Background(), plan))
	return *plan
}

func (e *testEnv) grant(t *testing.T, trainerID string, plan models.Plan) *dto.TransitionResult {
	t.Helper()
	result, err := e.transitions.Process(context.Background(), dto.ProcessTransitionRequest{
		TrainerID:    trainerID,
		NewPlanID:    plan.ID,
		AuthorizedBy: "admin-1",
	})
	require.NoError(t, err)
	return result
}

func (e *testEnv) issue(t *testing.T, trainerID string, quantity, days int) []models.CapacityUnit {
	t.Helper()
	units, err := e.unitAdmin.Issue(context.Background(), trainerID, "admin-1", dto.IssueUnitsRequest{Quantity: quantity, ValidityDays: days})
	require.NoError(t, err)
	return units
}

func (e *testEnv) student(t *testing.T, trainerID, name string, activate bool) models.Student {
	t.Helper()
	resp, err := e.students.Create(context.Background(), trainerID, dto.CreateStudentRequest{FullName: name, Activate: activate})
	require.NoError(t, err)
	return resp.Student
}

func (e *testEnv) slots(t *testing.T, trainerID string) int {
	t.Helper()
	slots, err := e.ledger.AvailableSlots(context.Background(), trainerID)
	require.NoError(t, err)
	return slots.Count
}

func (e *testEnv) load(t *testing.T, studentID string) models.Student {
	t.Helper()
	student, err := e.studentRepo.FindByID(context.Background(), studentID)
	require.NoError(t, err)
	return *student
}
