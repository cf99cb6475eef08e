// internal/store/store.go
package store

import (
	"context"

	"repository-reconciler/internal/model"
)

// RecordFilter selects repository records. Zero fields match everything.
type RecordFilter struct {
	OwnerID        *int64
	ExcludeOwnerID *int64
	MachineName    string
	SourceID       string
}

// AccountFilter selects accounts.
type AccountFilter struct {
	ActiveOnly     bool
	WithSourceURLs bool
}

// Store is the persistence contract used by the reconciliation service.
type Store interface {
	FindRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error)
	// CreateRecord inserts rec and sets its ID and timestamps.
	CreateRecord(ctx context.Context, rec *model.Record) error
	UpdateRecord(ctx context.Context, rec model.Record) error
	DeleteRecord(ctx context.Context, id int64) error

	// GetAccount returns errors.ErrAccountNotFound for unknown ids.
	GetAccount(ctx context.Context, id int64) (model.Account, error)
	FindAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error)
	UpsertAccount(ctx context.Context, account model.Account) error

	// TotalOpenIssues sums open issues over all records, or over one owner's records.
	TotalOpenIssues(ctx context.Context, ownerID *int64) (int64, error)
}
