package membership

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vigor-gym/vigor/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id string) (Membership, error)
	ListByIDs(ctx context.Context, ids []string) ([]Membership, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Membership, int, error)
	ExpireOverdue(ctx context.Context, before string, stamp shared.AuditStamp) ([]string, error)
}

// TxRepository exposes transactional operations used by the service. The
// read-compute-write sequence of every freeze/unfreeze runs against a
// row lock so concurrent mutations of the same membership serialize.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id string) (Membership, error)
	Update(ctx context.Context, m Membership, stamp shared.AuditStamp) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service applies freeze/unfreeze transitions to memberships.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cal    *shared.Calendar
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cal *shared.Calendar, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cal: cal, logger: logger}
}

// FreezeInput describes one freeze request.
type FreezeInput struct {
	MembershipID string
	Mode         Mode
	// FreezeDays is required for manual freezes and credits the
	// expiration date immediately.
	FreezeDays int
	Reason     string
}

// UnfreezeInput describes one unfreeze request.
type UnfreezeInput struct {
	MembershipID string
	Mode         Mode
	Reason       string
}

// Freeze moves an active membership to frozen. Manual mode credits
// FreezeDays onto the expiration date immediately; automatic mode defers
// the credit until reactivation.
func (s *Service) Freeze(ctx context.Context, input FreezeInput) (Membership, error) {
	if input.Mode == ModeManual && input.FreezeDays <= 0 {
		return Membership{}, ErrInvalidFreezeDays
	}

	today := s.cal.Today()
	var frozen Membership
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.GetForUpdate(ctx, input.MembershipID)
		if err != nil {
			return err
		}
		if _, err := m.CanFreeze(); err != nil {
			return err
		}

		m.Status = StatusFrozen
		m.FreezeDate = &today

		switch input.Mode {
		case ModeManual:
			if m.EndDate != nil {
				shifted, err := s.cal.AddDays(*m.EndDate, input.FreezeDays)
				if err != nil {
					return fmt.Errorf("membership: shift end date: %w", err)
				}
				m.EndDate = &shifted
			}
			m.TotalFrozenDays += input.FreezeDays
			m.Notes = appendNote(m.Notes, fmt.Sprintf(
				"Frozen manually for %d days on %s.%s",
				input.FreezeDays, s.cal.FormatForDisplay(today), reasonSuffix(input.Reason)))
		default:
			m.Notes = appendNote(m.Notes, fmt.Sprintf(
				"Frozen automatically on %s.%s",
				s.cal.FormatForDisplay(today), reasonSuffix(input.Reason)))
		}

		stamp := shared.StampFor(ctx, "memberships", true, s.cal.Now())
		if err := tx.Update(ctx, m, stamp); err != nil {
			return err
		}
		frozen = m
		return nil
	})
	if err != nil {
		return Membership{}, err
	}

	s.recordAudit(ctx, "membership:freeze", frozen.ID, map[string]any{
		"mode":        string(input.Mode),
		"freeze_days": input.FreezeDays,
		"freeze_date": today,
	})
	return frozen, nil
}

// Unfreeze reactivates a frozen membership. Automatic mode credits the
// elapsed frozen days onto the expiration date; manual mode applies no
// credit.
func (s *Service) Unfreeze(ctx context.Context, input UnfreezeInput) (Membership, error) {
	today := s.cal.Today()
	var reactivated Membership
	var creditedDays int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.GetForUpdate(ctx, input.MembershipID)
		if err != nil {
			return err
		}
		if _, err := m.CanUnfreeze(input.Mode); err != nil {
			return err
		}

		if input.Mode == ModeAuto {
			days, err := s.cal.DaysBetween(*m.FreezeDate, today)
			if err != nil {
				return fmt.Errorf("membership: frozen days: %w", err)
			}
			creditedDays = days
			if m.EndDate != nil {
				shifted, err := s.cal.AddDays(*m.EndDate, days)
				if err != nil {
					return fmt.Errorf("membership: shift end date: %w", err)
				}
				m.EndDate = &shifted
			}
			m.TotalFrozenDays += days
			m.Notes = appendNote(m.Notes, fmt.Sprintf(
				"Reactivated automatically on %s.", s.cal.FormatForDisplay(today)))
		} else {
			m.Notes = appendNote(m.Notes, fmt.Sprintf(
				"Reactivated manually on %s.%s",
				s.cal.FormatForDisplay(today), reasonSuffix(input.Reason)))
		}

		m.Status = StatusActive
		m.FreezeDate = nil
		m.UnfreezeDate = &today

		stamp := shared.StampFor(ctx, "memberships", true, s.cal.Now())
		if err := tx.Update(ctx, m, stamp); err != nil {
			return err
		}
		reactivated = m
		return nil
	})
	if err != nil {
		return Membership{}, err
	}

	s.recordAudit(ctx, "membership:unfreeze", reactivated.ID, map[string]any{
		"mode":          string(input.Mode),
		"credited_days": creditedDays,
		"unfreeze_date": today,
	})
	return reactivated, nil
}

// ProjectedEndDate computes what a frozen membership's expiration would
// become if reactivated today. Used by the bulk preview; performs no
// mutation.
func (s *Service) ProjectedEndDate(m Membership) (*string, int, error) {
	if m.FreezeDate == nil || m.EndDate == nil {
		return m.EndDate, 0, nil
	}
	days, err := s.cal.DaysBetween(*m.FreezeDate, s.cal.Today())
	if err != nil {
		return nil, 0, err
	}
	shifted, err := s.cal.AddDays(*m.EndDate, days)
	if err != nil {
		return nil, 0, err
	}
	return &shifted, days, nil
}

// Get returns one membership.
func (s *Service) Get(ctx context.Context, id string) (Membership, error) {
	return s.repo.Get(ctx, id)
}

// List returns memberships filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]Membership, int, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

// ExpireOverdue flips active memberships whose expiration date has
// passed to expired. Run nightly by the background worker; returns the
// number of memberships touched.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	today := s.cal.Today()
	stamp := shared.StampFor(ctx, "memberships", true, s.cal.Now())
	ids, err := s.repo.ExpireOverdue(ctx, today, stamp)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.recordAudit(ctx, "membership:expire", id, map[string]any{"expired_on": today})
	}
	return len(ids), nil
}

// Calendar exposes the service's calendar for collaborators that must
// share its clock.
func (s *Service) Calendar() *shared.Calendar {
	return s.cal
}

func (s *Service) recordAudit(ctx context.Context, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "memberships",
		EntityID: id,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// appendNote adds a line to the membership's free-text notes. Existing
// notes are never overwritten.
func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " Reason: " + reason
}
