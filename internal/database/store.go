// internal/database/store.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	custom_errors "repository-reconciler/internal/errors"
	"repository-reconciler/internal/model"
	"repository-reconciler/internal/store"
)

// Ensure Store implements the interface.
var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL backed store.Store.
type Store struct {
	pool *pgxpool.Pool
	q    *Queries
}

// NewStore wraps an open connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: New(pool)}
}

func (s *Store) FindRecords(ctx context.Context, f store.RecordFilter) ([]model.Record, error) {
	recs, err := s.q.FindRepositories(ctx, FindRepositoriesParams{
		OwnerAccountID:        f.OwnerID,
		ExcludeOwnerAccountID: f.ExcludeOwnerID,
		MachineName:           f.MachineName,
		SourceID:              f.SourceID,
	})
	if err != nil {
		return nil, fmt.Errorf("finding repositories: %w", err)
	}
	return recs, nil
}

func (s *Store) CreateRecord(ctx context.Context, rec *model.Record) error {
	created, err := s.q.CreateRepository(ctx, CreateRepositoryParams{
		OwnerAccountID: rec.OwnerAccountID,
		MachineName:    rec.MachineName,
		SourceID:       rec.SourceID,
		Label:          rec.Label,
		Description:    rec.Description,
		OpenIssueCount: int32(rec.OpenIssueCount),
		CanonicalURL:   rec.CanonicalURL,
		Fingerprint:    rec.Fingerprint,
	})
	if err != nil {
		return fmt.Errorf("creating repository %s: %w", rec.MachineName, err)
	}
	*rec = created
	return nil
}

func (s *Store) UpdateRecord(ctx context.Context, rec model.Record) error {
	n, err := s.q.UpdateRepository(ctx, UpdateRepositoryParams{
		ID:             rec.ID,
		Label:          rec.Label,
		Description:    rec.Description,
		OpenIssueCount: int32(rec.OpenIssueCount),
		CanonicalURL:   rec.CanonicalURL,
		Fingerprint:    rec.Fingerprint,
	})
	if err != nil {
		return fmt.Errorf("updating repository %d: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("repository %d not found", rec.ID)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id int64) error {
	n, err := s.q.DeleteRepository(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting repository %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("repository %d not found", id)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	a, err := s.q.GetAccount(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("%w: %d", custom_errors.ErrAccountNotFound, id)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("getting account %d: %w", id, err)
	}
	return a, nil
}

func (s *Store) FindAccounts(ctx context.Context, f store.AccountFilter) ([]model.Account, error) {
	accounts, err := s.q.FindAccounts(ctx, FindAccountsParams{
		ActiveOnly:     f.ActiveOnly,
		WithSourceURLs: f.WithSourceURLs,
	})
	if err != nil {
		return nil, fmt.Errorf("finding accounts: %w", err)
	}
	return accounts, nil
}

// UpsertAccount replaces the account row and its ordered source URLs in one transaction.
func (s *Store) UpsertAccount(ctx context.Context, a model.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // Rollback is a no-op if the transaction is already committed.

	qtx := s.q.WithTx(tx)
	if err := qtx.UpsertAccount(ctx, UpsertAccountParams{ID: a.ID, Name: a.Name, Active: a.Active}); err != nil {
		return fmt.Errorf("upserting account %d: %w", a.ID, err)
	}
	if err := qtx.DeleteAccountSourceURLs(ctx, a.ID); err != nil {
		return fmt.Errorf("clearing source urls of account %d: %w", a.ID, err)
	}
	for i, u := range a.SourceURLs {
		err := qtx.InsertAccountSourceURL(ctx, InsertAccountSourceURLParams{
			AccountID: a.ID,
			Position:  int32(i),
			URL:       u,
		})
		if err != nil {
			return fmt.Errorf("saving source url of account %d: %w", a.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) TotalOpenIssues(ctx context.Context, ownerID *int64) (int64, error) {
	total, err := s.q.SumOpenIssues(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("summing open issues: %w", err)
	}
	return total, nil
}
