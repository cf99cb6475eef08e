// internal/store/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	custom_errors "repository-reconciler/internal/errors"
	"repository-reconciler/internal/model"
	"repository-reconciler/internal/store"
)

// Ensure Store implements the interface.
var _ store.Store = (*Store)(nil)

// Store keeps accounts and records in process memory. It is used by tests and by
// single process deployments with STORE_DRIVER=memory.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	records  map[int64]model.Record
	accounts map[int64]model.Account
	now      func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		records:  make(map[int64]model.Record),
		accounts: make(map[int64]model.Account),
		now:      time.Now,
	}
}

// FindRecords returns copies of the records matching every set field of f, ordered by id.
func (s *Store) FindRecords(_ context.Context, f store.RecordFilter) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Record
	for _, r := range s.records {
		if f.OwnerID != nil && r.OwnerAccountID != *f.OwnerID {
			continue
		}
		if f.ExcludeOwnerID != nil && r.OwnerAccountID == *f.ExcludeOwnerID {
			continue
		}
		if f.MachineName != "" && r.MachineName != f.MachineName {
			continue
		}
		if f.SourceID != "" && r.SourceID != f.SourceID {
			continue
		}
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateRecord stores rec and fills in its id and timestamps. A second record for the
// same owner, source and machine name is rejected.
func (s *Store) CreateRecord(_ context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.OwnerAccountID == rec.OwnerAccountID && r.MachineName == rec.MachineName && r.SourceID == rec.SourceID {
			return fmt.Errorf("record %s/%s already exists for account %d", rec.SourceID, rec.MachineName, rec.OwnerAccountID)
		}
	}

	s.nextID++
	now := s.now()
	rec.ID = s.nextID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[rec.ID] = copyRecord(*rec)
	return nil
}

// UpdateRecord overwrites the content fields and fingerprint of an existing record.
func (s *Store) UpdateRecord(_ context.Context, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.ID]
	if !ok {
		return fmt.Errorf("record %d not found", rec.ID)
	}
	existing.Apply(model.Metadata{
		Label:          rec.Label,
		Description:    rec.Description,
		OpenIssueCount: rec.OpenIssueCount,
		CanonicalURL:   rec.CanonicalURL,
	}, rec.Fingerprint)
	existing.UpdatedAt = s.now()
	s.records[rec.ID] = copyRecord(existing)
	return nil
}

// DeleteRecord removes the record with the given id.
func (s *Store) DeleteRecord(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("record %d not found", id)
	}
	delete(s.records, id)
	return nil
}

// GetAccount returns the account or an error wrapping ErrAccountNotFound.
func (s *Store) GetAccount(_ context.Context, id int64) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return model.Account{}, fmt.Errorf("%w: %d", custom_errors.ErrAccountNotFound, id)
	}
	return copyAccount(a), nil
}

// FindAccounts returns the accounts matching f, ordered by id.
func (s *Store) FindAccounts(_ context.Context, f store.AccountFilter) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Account
	for _, a := range s.accounts {
		if f.ActiveOnly && !a.Active {
			continue
		}
		if f.WithSourceURLs && len(a.SourceURLs) == 0 {
			continue
		}
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertAccount creates or replaces an account.
func (s *Store) UpsertAccount(_ context.Context, a model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[a.ID] = copyAccount(a)
	return nil
}

// TotalOpenIssues sums open issues over all records, or over one owner's records.
func (s *Store) TotalOpenIssues(_ context.Context, ownerID *int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, r := range s.records {
		if ownerID != nil && r.OwnerAccountID != *ownerID {
			continue
		}
		total += int64(r.OpenIssueCount)
	}
	return total, nil
}

func copyRecord(r model.Record) model.Record {
	if r.Description != nil {
		d := *r.Description
		r.Description = &d
	}
	return r
}

func copyAccount(a model.Account) model.Account {
	a.SourceURLs = append([]string(nil), a.SourceURLs...)
	return a
}
