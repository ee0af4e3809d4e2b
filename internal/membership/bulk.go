package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vigor-gym/vigor/internal/shared"
)

// BulkAction selects the direction of a batch operation.
type BulkAction string

const (
	BulkFreeze   BulkAction = "freeze"
	BulkUnfreeze BulkAction = "unfreeze"
)

// BulkRequest describes one batch freeze/unfreeze run. It exists only
// for the duration of the orchestration and is never persisted.
type BulkRequest struct {
	Action        BulkAction
	Mode          Mode
	MembershipIDs []string
	// FreezeDays applies to manual freezes only.
	FreezeDays int
	Reason     string
}

// BulkPreviewItem describes what one membership would look like after
// the operation, without mutating anything.
type BulkPreviewItem struct {
	MembershipID   string  `json:"membership_id"`
	CustomerName   string  `json:"customer_name"`
	PlanName       string  `json:"plan_name"`
	CurrentStatus  Status  `json:"current_status"`
	CurrentEndDate *string `json:"current_end_date"`
	NewEndDate     *string `json:"new_end_date"`
	DaysToAdd      int     `json:"days_to_add"`
	Description    string  `json:"description"`
}

// BulkError records one membership's failure inside a batch.
type BulkError struct {
	MembershipID string `json:"membership_id"`
	Message      string `json:"message"`
}

// BulkResult is the final outcome of a batch run.
type BulkResult struct {
	RunID   string       `json:"run_id"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Errors  []BulkError  `json:"errors"`
	// Reloaded holds fresh copies of the targeted memberships read back
	// from the store after the batch; in-memory mutations are never
	// treated as authoritative.
	Reloaded []Membership `json:"reloaded,omitempty"`
}

// Progress is the live snapshot published after every processed item.
type Progress struct {
	RunID     string      `json:"run_id"`
	Total     int         `json:"total"`
	Completed int         `json:"completed"`
	Success   int         `json:"success"`
	Failed    int         `json:"failed"`
	Errors    []BulkError `json:"errors,omitempty"`
	Done      bool        `json:"done"`
}

// ProgressStore publishes progress snapshots for observers to poll.
type ProgressStore interface {
	Publish(ctx context.Context, p Progress) error
	Fetch(ctx context.Context, runID string) (Progress, error)
}

// ErrNoEligible rejects a batch whose selection contains no membership
// matching the operation's precondition.
var ErrNoEligible = errors.New("membership: no eligible memberships in selection")

// Orchestrator drives the freeze engine over a set of memberships,
// isolating per-item failures and reporting progress as it goes.
type Orchestrator struct {
	svc      *Service
	repo     RepositoryPort
	progress ProgressStore
	logger   *slog.Logger
	// workers bounds concurrent item processing. The default of 1
	// preserves strictly sequential processing and deterministic
	// progress counters; higher values keep per-item isolation but
	// interleave store writes across different memberships.
	workers int
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(svc *Service, repo RepositoryPort, progress ProgressStore, workers int, logger *slog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{svc: svc, repo: repo, progress: progress, workers: workers, logger: logger}
}

// eligible loads the selected memberships and keeps those whose current
// status matches the operation's precondition. Ineligible ids are
// dropped silently; they are excluded before the run, not reported as
// failures.
func (o *Orchestrator) eligible(ctx context.Context, req BulkRequest) ([]Membership, error) {
	if len(req.MembershipIDs) == 0 {
		return nil, ErrNoEligible
	}
	selected, err := o.repo.ListByIDs(ctx, req.MembershipIDs)
	if err != nil {
		return nil, fmt.Errorf("membership: load selection: %w", err)
	}
	want := StatusActive
	if req.Action == BulkUnfreeze {
		want = StatusFrozen
	}
	var out []Membership
	for _, m := range selected {
		if m.Status == want {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoEligible
	}
	return out, nil
}

// Preview computes the effect of the batch without writing anything.
func (o *Orchestrator) Preview(ctx context.Context, req BulkRequest) ([]BulkPreviewItem, error) {
	memberships, err := o.eligible(ctx, req)
	if err != nil {
		return nil, err
	}
	cal := o.svc.Calendar()
	items := make([]BulkPreviewItem, 0, len(memberships))
	for _, m := range memberships {
		item := BulkPreviewItem{
			MembershipID:   m.ID,
			CustomerName:   m.CustomerName,
			PlanName:       m.PlanName,
			CurrentStatus:  m.Status,
			CurrentEndDate: m.EndDate,
			NewEndDate:     m.EndDate,
		}
		switch {
		case req.Action == BulkFreeze && req.Mode == ModeManual:
			if m.EndDate != nil && req.FreezeDays > 0 {
				shifted, err := cal.AddDays(*m.EndDate, req.FreezeDays)
				if err != nil {
					return nil, err
				}
				item.NewEndDate = &shifted
				item.DaysToAdd = req.FreezeDays
				item.Description = fmt.Sprintf("Will be frozen manually, crediting %d days immediately", req.FreezeDays)
			} else {
				item.Description = "Will be frozen manually without shifting the expiration date"
			}
		case req.Action == BulkFreeze:
			item.Description = "Will be frozen automatically; frozen days are credited on reactivation"
		case req.Mode == ModeManual:
			item.Description = "Will be reactivated manually; no additional days are credited"
		default:
			projected, days, err := o.svc.ProjectedEndDate(m)
			if err != nil {
				return nil, err
			}
			item.NewEndDate = projected
			item.DaysToAdd = days
			if days > 0 && m.EndDate != nil {
				item.Description = fmt.Sprintf("Will be reactivated automatically, crediting %d frozen days", days)
			} else {
				item.Description = "Will be reactivated automatically without shifting the expiration date"
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// Execute runs the batch. Each membership is processed in its own
// transaction; one failure never aborts or rolls back the rest. The
// final result is accompanied by fresh copies of the targeted rows.
func (o *Orchestrator) Execute(ctx context.Context, req BulkRequest) (BulkResult, error) {
	memberships, err := o.eligible(ctx, req)
	if err != nil {
		return BulkResult{}, err
	}

	runID := uuid.NewString()
	total := len(memberships)

	var mu sync.Mutex
	snapshot := Progress{RunID: runID, Total: total}
	o.publish(ctx, snapshot)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, m := range memberships {
		g.Go(func() error {
			err := o.applyOne(gctx, m, req)

			mu.Lock()
			snapshot.Completed++
			if err != nil {
				snapshot.Failed++
				snapshot.Errors = append(snapshot.Errors, BulkError{
					MembershipID: m.ID,
					Message:      shared.UserSafeMessage(err),
				})
			} else {
				snapshot.Success++
			}
			current := snapshot
			mu.Unlock()

			o.publish(gctx, current)
			return nil
		})
	}
	// Item errors are folded into the result, never returned to the group.
	_ = g.Wait()

	snapshot.Done = true
	o.publish(ctx, snapshot)

	ids := make([]string, 0, total)
	for _, m := range memberships {
		ids = append(ids, m.ID)
	}
	reloaded, err := o.repo.ListByIDs(ctx, ids)
	if err != nil {
		o.logger.Warn("bulk reload failed", slog.String("run_id", runID), slog.Any("error", err))
	}

	return BulkResult{
		RunID:    runID,
		Success:  snapshot.Success,
		Failed:   snapshot.Failed,
		Errors:   snapshot.Errors,
		Reloaded: reloaded,
	}, nil
}

// Summary renders the final tally as a single human-readable line.
func (r BulkResult) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed", r.Success, r.Failed)
}

func (o *Orchestrator) applyOne(ctx context.Context, m Membership, req BulkRequest) error {
	if req.Action == BulkFreeze {
		_, err := o.svc.Freeze(ctx, FreezeInput{
			MembershipID: m.ID,
			Mode:         req.Mode,
			FreezeDays:   req.FreezeDays,
			Reason:       req.Reason,
		})
		return err
	}
	_, err := o.svc.Unfreeze(ctx, UnfreezeInput{
		MembershipID: m.ID,
		Mode:         req.Mode,
		Reason:       req.Reason,
	})
	return err
}

func (o *Orchestrator) publish(ctx context.Context, p Progress) {
	if o.progress == nil {
		return
	}
	if err := o.progress.Publish(ctx, p); err != nil {
		o.logger.Warn("publish bulk progress", slog.String("run_id", p.RunID), slog.Any("error", err))
	}
}
