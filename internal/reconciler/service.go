// internal/reconciler/service.go
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/samber/lo"

	"repository-reconciler/internal/connector"
	custom_errors "repository-reconciler/internal/errors"
	"repository-reconciler/internal/metrics"
	"repository-reconciler/internal/model"
	"repository-reconciler/internal/notify"
	"repository-reconciler/internal/registry"
	"repository-reconciler/internal/store"
)

const (
	defaultFetchTimeout         = 30 * time.Second
	defaultRetryInitialInterval = 500 * time.Millisecond
)

// Options tunes a Service.
type Options struct {
	// DryRun computes every decision but writes nothing and emits no events.
	DryRun bool
	// FetchTimeout bounds a single connector call.
	FetchTimeout time.Duration
	// FetchMaxAttempts includes the first attempt. Only temporary connector errors are retried.
	FetchMaxAttempts     int
	RetryInitialInterval time.Duration
	// DeleteOnPartialFailure lets a pass with connector errors still delete records.
	DeleteOnPartialFailure bool
}

// Service reconciles the records of one account against its declared sources.
type Service struct {
	store    store.Store
	registry *registry.Registry
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
}

// New creates a Service. A nil notifier drops events and nil metrics are not recorded.
func New(st store.Store, reg *registry.Registry, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger, opts Options) *Service {
	if notifier == nil {
		notifier = notify.Nop
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.FetchMaxAttempts < 1 {
		opts.FetchMaxAttempts = 1
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = defaultRetryInitialInterval
	}
	return &Service{
		store:    st,
		registry: reg,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

// DryRun returns a copy of the service that never writes.
func (s *Service) DryRun() *Service {
	c := *s
	c.opts.DryRun = true
	return &c
}

// Problem is one validation finding for a declared URL.
type Problem struct {
	URL     string `json:"url"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// ValidationReport collects the problems found for a list of URLs. An empty report is valid.
type ValidationReport struct {
	Problems []Problem `json:"problems"`
}

func (r *ValidationReport) add(url string, err error, format string, args ...any) {
	r.Problems = append(r.Problems, Problem{URL: url, Message: fmt.Sprintf(format, args...), Err: err})
}

// Valid reports whether no problems were found.
func (r *ValidationReport) Valid() bool {
	return len(r.Problems) == 0
}

// Message joins all problem messages with spaces.
func (r *ValidationReport) Message() string {
	return strings.Join(lo.Map(r.Problems, func(p Problem, _ int) string {
		return p.Message
	}), " ")
}

// ValidateURLs checks that every non-blank URL is accepted by an enabled connector, exists
// remotely and is not already claimed by an account other than actingAccountID.
// The error return is reserved for store failures.
func (s *Service) ValidateURLs(ctx context.Context, urls []string, actingAccountID int64) (*ValidationReport, error) {
	report := &ValidationReport{}
	if err := s.registry.RequireEnabled(); err != nil {
		report.add("", err, "There are no enabled repository connectors.")
		return report, nil
	}

	for _, raw := range urls {
		uri := strings.TrimSpace(raw)
		if uri == "" {
			continue
		}

		c, ok := s.registry.ValidateAny(uri)
		if !ok {
			report.add(uri, &custom_errors.ErrInvalidSourceURL{URL: uri}, "The repository url %s is not valid.", uri)
			continue
		}

		meta, err := s.fetch(ctx, c, uri)
		var cerr *custom_errors.ConnectorError
		switch {
		case errors.Is(err, custom_errors.ErrRemoteNotFound):
			report.add(uri, err, "The repository at the url %s was not found.", uri)
			continue
		case errors.As(err, &cerr):
			report.add(uri, err, "The repository at the url %s could not be retrieved: %s.", uri, cerr.Reason)
			continue
		case err != nil:
			return nil, err
		}

		conflict, err := s.ownershipConflict(ctx, uri, meta, actingAccountID)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			report.add(uri, conflict, "The repository from %s has already been added by another account.", uri)
		}
	}
	return report, nil
}

// SaveAccount validates the account's URLs and persists it only when they are all valid.
func (s *Service) SaveAccount(ctx context.Context, account model.Account) (*ValidationReport, error) {
	account.SourceURLs = lo.Filter(lo.Map(account.SourceURLs, func(u string, _ int) string {
		return strings.TrimSpace(u)
	}), func(u string, _ int) bool {
		return u != ""
	})

	report := &ValidationReport{}
	if len(account.SourceURLs) > 0 {
		var err error
		report, err = s.ValidateURLs(ctx, account.SourceURLs, account.ID)
		if err != nil {
			return nil, err
		}
	}
	if !report.Valid() || s.opts.DryRun {
		return report, nil
	}
	if err := s.store.UpsertAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("saving account %d: %w", account.ID, err)
	}
	return report, nil
}

// ListEligibleAccounts returns the ids of active accounts declaring at least one URL.
func (s *Service) ListEligibleAccounts(ctx context.Context) ([]int64, error) {
	accounts, err := s.store.FindAccounts(ctx, store.AccountFilter{ActiveOnly: true, WithSourceURLs: true})
	if err != nil {
		return nil, err
	}
	return lo.Map(accounts, func(a model.Account, _ int) int64 { return a.ID }), nil
}

// OpenIssueTotals sums open issues over all records, or over one account's records.
func (s *Service) OpenIssueTotals(ctx context.Context, accountID *int64) (int64, error) {
	return s.store.TotalOpenIssues(ctx, accountID)
}

// ReconcileAccount runs Reconcile and reports whether anything changed.
func (s *Service) ReconcileAccount(ctx context.Context, accountID int64) (bool, error) {
	res, err := s.Reconcile(ctx, accountID)
	if err != nil {
		return false, err
	}
	return res.Changed(), nil
}

// fetch calls the connector with a per attempt timeout, retrying temporary failures.
// Any failure that is not NotFound comes back as a *ConnectorError.
func (s *Service) fetch(ctx context.Context, c connector.Connector, uri string) (*model.Metadata, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.opts.RetryInitialInterval
	expBackoff.MaxInterval = 60 * s.opts.RetryInitialInterval
	expBackoff.Reset()

	logger := s.logger.With("connector", c.ID(), "url", uri)
	attempt := 0
	operation := func() (*model.Metadata, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()

		meta, err := c.Fetch(attemptCtx, uri)
		switch {
		case err == nil:
			return meta, nil
		case custom_errors.IsTemporary(err):
			logger.Warn("Fetch failed", "attempt", attempt, "max_attempts", s.opts.FetchMaxAttempts, "error", err)
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}

	meta, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(s.opts.FetchMaxAttempts)),
		backoff.WithNotify(func(_ error, d time.Duration) {
			logger.Debug("Retrying fetch", "after", d)
		}),
	)
	if err == nil {
		return meta, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}

	var cerr *custom_errors.ConnectorError
	if errors.Is(err, custom_errors.ErrRemoteNotFound) || errors.As(err, &cerr) {
		return nil, err
	}
	// Cancellation while waiting between attempts, or a connector returning an untyped error.
	return nil, &custom_errors.ConnectorError{
		Connector: c.ID(),
		URI:       uri,
		Reason:    "fetch aborted",
		Temporary: true,
		Err:       err,
	}
}

// ownershipConflict reports whether meta's machine name is already held by another account.
func (s *Service) ownershipConflict(ctx context.Context, uri string, meta *model.Metadata, accountID int64) (*custom_errors.OwnershipConflictError, error) {
	others, err := s.store.FindRecords(ctx, store.RecordFilter{
		MachineName:    meta.MachineName,
		ExcludeOwnerID: &accountID,
	})
	if err != nil {
		return nil, fmt.Errorf("checking ownership of %s: %w", meta.MachineName, err)
	}
	if len(others) == 0 {
		return nil, nil
	}
	return &custom_errors.OwnershipConflictError{URL: uri, MachineName: meta.MachineName}, nil
}
