package shared

import (
	"context"
	"time"
)

// TablePolicy controls which audit columns a table carries.
type TablePolicy int

const (
	// PolicyInsertOnly stamps creator and creation time only. Rows are
	// immutable after insert (ledger tables).
	PolicyInsertOnly TablePolicy = iota
	// PolicyTracked additionally stamps updater and update time on every
	// mutation.
	PolicyTracked
)

var tablePolicies = map[string]TablePolicy{
	"memberships":          PolicyTracked,
	"products":             PolicyTracked,
	"sales":                PolicyTracked,
	"inventory_movements":  PolicyInsertOnly,
	"sale_items":           PolicyInsertOnly,
	"sale_payment_details": PolicyInsertOnly,
	"refunds":              PolicyInsertOnly,
	"refund_items":         PolicyInsertOnly,
}

// PolicyFor returns the audit policy for a table. Unknown tables default
// to insert-only, the safer of the two.
func PolicyFor(table string) TablePolicy {
	if p, ok := tablePolicies[table]; ok {
		return p
	}
	return PolicyInsertOnly
}

// AuditStamp holds the actor/timestamp fields merged into a mutation
// payload before it is written. Nil pointers mean the column is not
// touched by this mutation.
type AuditStamp struct {
	CreatedBy *string
	CreatedAt *time.Time
	UpdatedBy *string
	UpdatedAt *time.Time
}

// StampFor builds the audit fields for a write against the given table.
// Inserts stamp creator fields; updates to tracked tables stamp updater
// fields instead. The actor id is taken from the context.
func StampFor(ctx context.Context, table string, isUpdate bool, now time.Time) AuditStamp {
	actor := ActorFromContext(ctx)
	stamp := AuditStamp{}
	if isUpdate {
		if PolicyFor(table) == PolicyTracked {
			stamp.UpdatedBy = &actor
			stamp.UpdatedAt = &now
		}
		return stamp
	}
	stamp.CreatedBy = &actor
	stamp.CreatedAt = &now
	if PolicyFor(table) == PolicyTracked {
		stamp.UpdatedBy = &actor
		stamp.UpdatedAt = &now
	}
	return stamp
}
