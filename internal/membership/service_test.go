package membership

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vigor-gym/vigor/internal/shared"
)

type memoryRepo struct {
	mu   sync.Mutex
	rows map[string]Membership
	// updateErr forces Update to fail for a given id.
	updateErr map[string]error
}

func newMemoryRepo(rows ...Membership) *memoryRepo {
	r := &memoryRepo{rows: make(map[string]Membership), updateErr: make(map[string]error)}
	for _, m := range rows {
		r.rows[m.ID] = m
	}
	return r
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	staged := make(map[string]Membership, len(r.rows))
	for k, v := range r.rows {
		staged[k] = v
	}
	tx := &memoryTx{repo: r, staged: staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.rows = staged
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return Membership{}, ErrNotFound
	}
	return m, nil
}

func (r *memoryRepo) ListByIDs(_ context.Context, ids []string) ([]Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Membership
	for _, id := range ids {
		if m, ok := r.rows[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListByStatus(_ context.Context, status Status, limit, offset int) ([]Membership, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Membership
	for _, m := range r.rows {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) ExpireOverdue(_ context.Context, before string, stamp shared.AuditStamp) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, m := range r.rows {
		if m.Status == StatusActive && m.EndDate != nil && *m.EndDate < before {
			m.Status = StatusExpired
			if stamp.UpdatedBy != nil {
				m.UpdatedBy = stamp.UpdatedBy
			}
			r.rows[id] = m
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memoryTx struct {
	repo   *memoryRepo
	staged map[string]Membership
}

func (t *memoryTx) GetForUpdate(_ context.Context, id string) (Membership, error) {
	m, ok := t.staged[id]
	if !ok {
		return Membership{}, ErrNotFound
	}
	return m, nil
}

func (t *memoryTx) Update(_ context.Context, m Membership, stamp shared.AuditStamp) error {
	if err := t.repo.updateErr[m.ID]; err != nil {
		return err
	}
	if _, ok := t.staged[m.ID]; !ok {
		return ErrNotFound
	}
	if stamp.UpdatedBy != nil {
		m.UpdatedBy = stamp.UpdatedBy
	}
	if stamp.UpdatedAt != nil {
		m.UpdatedAt = *stamp.UpdatedAt
	}
	t.staged[m.ID] = m
	return nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func testCalendar(t *testing.T, today string) *shared.Calendar {
	t.Helper()
	cal, err := shared.NewCalendar(shared.DefaultTimezone)
	require.NoError(t, err)
	day, err := time.Parse(shared.DateLayout, today)
	require.NoError(t, err)
	fixed := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.UTC)
	return cal.WithNow(func() time.Time { return fixed })
}

func strPtr(s string) *string { return &s }

func activeMembership(id string, endDate *string) Membership {
	return Membership{
		ID:         id,
		CustomerID: "cust-1",
		PlanID:     "plan-1",
		Status:     StatusActive,
		StartDate:  "2025-01-01",
		EndDate:    endDate,
	}
}

func TestFreezeManualShiftsEndDateImmediately(t *testing.T) {
	repo := newMemoryRepo(activeMembership("m1", strPtr("2025-03-01")))
	audit := &memoryAudit{}
	svc := NewService(repo, audit, testCalendar(t, "2025-02-01"), nil)

	frozen, err := svc.Freeze(context.Background(), FreezeInput{
		MembershipID: "m1",
		Mode:         ModeManual,
		FreezeDays:   10,
	})
	require.NoError(t, err)
	require.Equal(t, StatusFrozen, frozen.Status)
	require.NotNil(t, frozen.EndDate)
	require.Equal(t, "2025-03-11", *frozen.EndDate)
	require.Equal(t, 10, frozen.TotalFrozenDays)
	require.NotNil(t, frozen.FreezeDate)
	require.Equal(t, "2025-02-01", *frozen.FreezeDate)
	require.Contains(t, frozen.Notes, "Frozen manually for 10 days on 1 February 2025.")

	stored, err := repo.Get(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, frozen.EndDate, stored.EndDate)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "membership:freeze", audit.logs[0].Action)
}

func TestFreezeManualWithoutEndDate(t *testing.T) {
	repo := newMemoryRepo(activeMembership("m1", nil))
	svc := NewService(repo, nil, testCalendar(t, "2025-02-01"), nil)

	frozen, err := svc.Freeze(context.Background(), FreezeInput{
		MembershipID: "m1",
		Mode:         ModeManual,
		FreezeDays:   7,
	})
	require.NoError(t, err)
	require.Nil(t, frozen.EndDate)
	require.Equal(t, 7, frozen.TotalFrozenDays)
}

func TestFreezeAutoDefersCredit(t *testing.T) {
	repo := newMemoryRepo(activeMembership("m1", strPtr("2025-03-01")))
	svc := NewService(repo, nil, testCalendar(t, "2025-02-01"), nil)

	frozen, err := svc.Freeze(context.Background(), FreezeInput{
		MembershipID: "m1",
		Mode:         ModeAuto,
	})
	require.NoError(t, err)
	require.Equal(t, StatusFrozen, frozen.Status)
	require.Equal(t, "2025-03-01", *frozen.EndDate)
	require.Zero(t, frozen.TotalFrozenDays)
	require.Contains(t, frozen.Notes, "Frozen automatically on 1 February 2025.")
}

func TestFreezeRejectsNonActive(t *testing.T) {
	m := activeMembership("m1", strPtr("2025-03-01"))
	m.Status = StatusFrozen
	repo := newMemoryRepo(m)
	svc := NewService(repo, nil, testCalendar(t, "2025-02-01"), nil)

	_, err := svc.Freeze(context.Background(), FreezeInput{MembershipID: "m1", Mode: ModeAuto})
	require.ErrorIs(t, err, ErrNotActive)
}

func TestFreezeManualRequiresPositiveDays(t *testing.T) {
	repo := newMemoryRepo(activeMembership("m1", strPtr("2025-03-01")))
	svc := NewService(repo, nil, testCalendar(t, "2025-02-01"), nil)

	_, err := svc.Freeze(context.Background(), FreezeInput{MembershipID: "m1", Mode: ModeManual})
	require.ErrorIs(t, err, ErrInvalidFreezeDays)
}

func TestUnfreezeAutoCreditsElapsedDays(t *testing.T) {
	m := activeMembership("m1", strPtr("2025-03-01"))
	m.Status = StatusFrozen
	m.FreezeDate = strPtr("2025-02-01")
	repo := newMemoryRepo(m)
	svc := NewService(repo, nil, testCalendar(t, "2025-02-15"), nil)

	reactivated, err := svc.Unfreeze(context.Background(), UnfreezeInput{
		MembershipID: "m1",
		Mode:         ModeAuto,
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, reactivated.Status)
	require.Equal(t, "2025-03-15", *reactivated.EndDate)
	require.Equal(t, 14, reactivated.TotalFrozenDays)
	require.Nil(t, reactivated.FreezeDate)
	require.NotNil(t, reactivated.UnfreezeDate)
	require.Equal(t, "2025-02-15", *reactivated.UnfreezeDate)
}

func TestUnfreezeAutoSameDayCreditsNothing(t *testing.T) {
	m := activeMembership("m1", strPtr("2025-03-01"))
	m.Status = StatusFrozen
	m.FreezeDate = strPtr("2025-02-01")
	repo := newMemoryRepo(m)
	svc := NewService(repo, nil, testCalendar(t, "2025-02-01"), nil)

	reactivated, err := svc.Unfreeze(context.Background(), UnfreezeInput{
		MembershipID: "m1",
		Mode:         ModeAuto,
	})
	require.NoError(t, err)
	require.Equal(t, "2025-03-01", *reactivated.EndDate)
	require.Zero(t, reactivated.TotalFrozenDays)
}

func TestUnfreezeManualCreditsNothing(t *testing.T) {
	m := activeMembership("m1", strPtr("2025-03-01"))
	m.Status = StatusFrozen
	m.FreezeDate = strPtr("2025-02-01")
	m.TotalFrozenDays = 5
	repo := newMemoryRepo(m)
	svc := NewService(repo, nil, testCalendar(t, "2025-02-15"), nil)

	reactivated, err := svc.Unfreeze(context.Background(), UnfreezeInput{
		MembershipID: "m1",
		Mode:         ModeManual,
		Reason:       "paid dues",
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, reactivated.Status)
	require.Equal(t, "2025-03-01", *reactivated.EndDate)
	require.Equal(t, 5, reactivated.TotalFrozenDays)
	require.Contains(t, reactivated.Notes, "Reactivated manually on 15 February 2025. Reason: paid dues")
}

func TestUnfreezeRejectsNonFrozen(t *testing.T) {
	repo := newMemoryRepo(activeMembership("m1", strPtr("2025-03-01")))
	svc := NewService(repo, nil, testCalendar(t, "2025-02-01"), nil)

	_, err := svc.Unfreeze(context.Background(), UnfreezeInput{MembershipID: "m1", Mode: ModeAuto})
	require.ErrorIs(t, err, ErrNotFrozen)
}

func TestUnfreezeAutoRequiresFreezeDate(t *testing.T) {
	m := activeMembership("m1", strPtr("2025-03-01"))
	m.Status = StatusFrozen
	repo := newMemoryRepo(m)
	svc := NewService(repo, nil, testCalendar(t, "2025-02-01"), nil)

	_, err := svc.Unfreeze(context.Background(), UnfreezeInput{MembershipID: "m1", Mode: ModeAuto})
	require.ErrorIs(t, err, ErrNoFreezeDate)
}

func TestNotesAreAppendOnly(t *testing.T) {
	m := activeMembership("m1", strPtr("2025-03-01"))
	m.Notes = "Signed up at the front desk."
	repo := newMemoryRepo(m)
	svc := NewService(repo, nil, testCalendar(t, "2025-02-01"), nil)

	frozen, err := svc.Freeze(context.Background(), FreezeInput{
		MembershipID: "m1",
		Mode:         ModeManual,
		FreezeDays:   3,
	})
	require.NoError(t, err)
	require.Contains(t, frozen.Notes, "Signed up at the front desk.\nFrozen manually")
}

func TestExpireOverdue(t *testing.T) {
	overdue := activeMembership("m1", strPtr("2025-01-31"))
	current := activeMembership("m2", strPtr("2025-12-31"))
	openEnded := activeMembership("m3", nil)
	repo := newMemoryRepo(overdue, current, openEnded)
	audit := &memoryAudit{}
	svc := NewService(repo, audit, testCalendar(t, "2025-02-01"), nil)

	n, err := svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	m, err := repo.Get(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, StatusExpired, m.Status)

	m, err = repo.Get(context.Background(), "m2")
	require.NoError(t, err)
	require.Equal(t, StatusActive, m.Status)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "membership:expire", audit.logs[0].Action)
}

func TestFreezeNotFound(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, testCalendar(t, "2025-02-01"), nil)

	_, err := svc.Freeze(context.Background(), FreezeInput{MembershipID: "missing", Mode: ModeAuto})
	require.ErrorIs(t, err, ErrNotFound)
}
