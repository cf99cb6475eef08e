// internal/reconciler/reconcile.go
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	custom_errors "repository-reconciler/internal/errors"
	"repository-reconciler/internal/fingerprint"
	"repository-reconciler/internal/model"
	"repository-reconciler/internal/notify"
	"repository-reconciler/internal/store"
)

// Result describes what a reconciliation pass did, or would do in dry-run mode.
type Result struct {
	AccountID int64    `json:"account_id"`
	DryRun    bool     `json:"dry_run"`
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Deleted   []string `json:"deleted"`
	// Conflicts lists machine names skipped because another account owns them.
	Conflicts []string `json:"conflicts"`
	// DeletionsSkipped is set when connector errors prevented the delete phase.
	DeletionsSkipped bool                           `json:"deletions_skipped"`
	FetchErrors      []*custom_errors.ConnectorError `json:"fetch_errors"`
}

// Changed reports whether any record was created, updated or deleted.
func (r *Result) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Deleted) > 0
}

// Reconcile brings the account's records in line with what its declared URLs currently return.
func (s *Service) Reconcile(ctx context.Context, accountID int64) (*Result, error) {
	logger := s.logger.With("account_id", accountID)
	if s.opts.DryRun {
		logger = logger.With("dry_run", true)
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	res := &Result{AccountID: accountID, DryRun: s.opts.DryRun}
	if err := s.registry.RequireEnabled(); err != nil {
		logger.Warn("Skipping reconciliation", "reason", err)
		return res, nil
	}

	fetched, order, err := s.collect(ctx, logger, account, res)
	if err != nil {
		return nil, err
	}

	for _, name := range order {
		if err := s.upsert(ctx, logger, accountID, fetched[name], res); err != nil {
			return nil, err
		}
	}

	if err := s.prune(ctx, logger, accountID, fetched, res); err != nil {
		return nil, err
	}

	logger.Info("Reconciliation finished",
		"created", len(res.Created),
		"updated", len(res.Updated),
		"deleted", len(res.Deleted),
		"fetch_errors", len(res.FetchErrors),
	)
	return res, nil
}

// collect fetches every declared URL, in declaration order, through each enabled connector
// that accepts it. Results are keyed by machine name; a later URL wins over an earlier one.
func (s *Service) collect(ctx context.Context, logger *slog.Logger, account model.Account, res *Result) (map[string]model.Metadata, []string, error) {
	fetched := make(map[string]model.Metadata)
	var order []string

	connectors := s.registry.Enabled()
	for _, raw := range account.SourceURLs {
		uri := strings.TrimSpace(raw)
		if uri == "" {
			continue
		}
		for _, c := range connectors {
			if !c.Validate(uri) {
				continue
			}

			meta, err := s.fetch(ctx, c, uri)
			var cerr *custom_errors.ConnectorError
			switch {
			case errors.Is(err, custom_errors.ErrRemoteNotFound):
				logger.Info("Repository not found", "connector", c.ID(), "url", uri)
				continue
			case errors.As(err, &cerr):
				logger.Error("Fetch failed", "connector", c.ID(), "url", uri, "error", err)
				s.metrics.FetchFailed(c.ID())
				res.FetchErrors = append(res.FetchErrors, cerr)
				continue
			case err != nil:
				return nil, nil, err
			}

			conflict, err := s.ownershipConflict(ctx, uri, meta, account.ID)
			if err != nil {
				return nil, nil, err
			}
			if conflict != nil {
				logger.Warn("Repository owned by another account", "url", uri, "machine_name", meta.MachineName)
				res.Conflicts = append(res.Conflicts, meta.MachineName)
				continue
			}

			if _, seen := fetched[meta.MachineName]; !seen {
				order = append(order, meta.MachineName)
			}
			fetched[meta.MachineName] = *meta
		}
	}
	return fetched, order, nil
}

// upsert creates or updates the record for one fetched item.
func (s *Service) upsert(ctx context.Context, logger *slog.Logger, accountID int64, meta model.Metadata, res *Result) error {
	existing, err := s.store.FindRecords(ctx, store.RecordFilter{
		OwnerID:     &accountID,
		MachineName: meta.MachineName,
		SourceID:    meta.SourceID,
	})
	if err != nil {
		return fmt.Errorf("looking up %s: %w", meta.MachineName, err)
	}

	fp := fingerprint.Compute(meta)
	if len(existing) == 0 {
		rec := model.NewRecord(accountID, meta, fp)
		res.Created = append(res.Created, meta.MachineName)
		if s.opts.DryRun {
			logger.Info("Would create record", "machine_name", meta.MachineName)
			return nil
		}
		if err := s.store.CreateRecord(ctx, &rec); err != nil {
			return err
		}
		s.emit(ctx, notify.ActionCreated, rec)
		return nil
	}

	rec := existing[0]
	if !fingerprint.NeedsUpdate(rec.Fingerprint, meta) {
		return nil
	}
	rec.Apply(meta, fp)
	res.Updated = append(res.Updated, meta.MachineName)
	if s.opts.DryRun {
		logger.Info("Would update record", "machine_name", meta.MachineName)
		return nil
	}
	if err := s.store.UpdateRecord(ctx, rec); err != nil {
		return err
	}
	s.emit(ctx, notify.ActionUpdated, rec)
	return nil
}

// prune deletes the account's records that the pass did not fetch, or fetched from another source.
func (s *Service) prune(ctx context.Context, logger *slog.Logger, accountID int64, fetched map[string]model.Metadata, res *Result) error {
	if len(fetched) == 0 {
		logger.Info("Nothing fetched, keeping existing records")
		return nil
	}
	partial := len(res.FetchErrors) > 0
	if partial && !s.opts.DeleteOnPartialFailure {
		logger.Warn("Connector errors during pass, skipping deletions", "fetch_errors", len(res.FetchErrors))
		res.DeletionsSkipped = true
		return nil
	}

	owned, err := s.store.FindRecords(ctx, store.RecordFilter{OwnerID: &accountID})
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}

	for _, rec := range owned {
		meta, ok := fetched[rec.MachineName]
		if ok && meta.SourceID == rec.SourceID {
			continue
		}

		res.Deleted = append(res.Deleted, rec.MachineName)
		if partial {
			logger.Warn("Deleting record despite connector errors", "machine_name", rec.MachineName, "source_id", rec.SourceID)
		}
		if s.opts.DryRun {
			logger.Info("Would delete record", "machine_name", rec.MachineName, "source_id", rec.SourceID)
			continue
		}
		if err := s.store.DeleteRecord(ctx, rec.ID); err != nil {
			return err
		}
		s.emit(ctx, notify.ActionDeleted, rec)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, action notify.Action, rec model.Record) {
	s.metrics.RecordChanged(string(action))
	s.notifier.Notify(ctx, notify.NewEvent(action, rec))
}
