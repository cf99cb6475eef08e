// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	custom_errors "repository-reconciler/internal/errors"
	"repository-reconciler/internal/metrics"
	"repository-reconciler/internal/queue"
)

// Reconciler is the per-account unit of work the syncer distributes.
type Reconciler interface {
	ListEligibleAccounts(ctx context.Context) ([]int64, error)
	ReconcileAccount(ctx context.Context, accountID int64) (bool, error)
}

// Options configures a Syncer.
type Options struct {
	// Workers is the number of accounts reconciled in parallel. 1 runs units inline.
	Workers int
	// Schedule is a cron expression such as "@every 1h" or "0 2 * * *".
	Schedule string
	// PopAttempts bounds how often a failing queue read is tried before the drain gives up.
	PopAttempts      int
	PopRetryInterval time.Duration
}

const (
	defaultPopAttempts      = 3
	defaultPopRetryInterval = 200 * time.Millisecond
)

// Summary reports the outcome of one run. Total counts processed and skipped units.
type Summary struct {
	RunID          uuid.UUID     `json:"run_id"`
	Total          int           `json:"total"`
	Changed        int           `json:"changed"`
	Unchanged      int           `json:"unchanged"`
	Failed         int           `json:"failed"`
	FailedAccounts []int64       `json:"failed_accounts"`
	Skipped        int           `json:"skipped"`
	Duration       time.Duration `json:"duration"`
}

// Message is the human readable result line of the run.
func (s *Summary) Message() string {
	return fmt.Sprintf("updated %d of %d accounts", s.Changed, s.Total)
}

// Syncer orchestrates reconciliation of all eligible accounts.
type Syncer struct {
	reconciler       Reconciler
	queue            queue.Queue
	metrics          *metrics.Metrics
	logger           *slog.Logger
	workers          int
	schedule         cron.Schedule
	expr             string
	popAttempts      int
	popRetryInterval time.Duration

	// runMu allows one RunAll at a time in this process.
	runMu sync.Mutex
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(r Reconciler, q queue.Queue, m *metrics.Metrics, logger *slog.Logger, opts Options) (*Syncer, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Schedule == "" {
		opts.Schedule = "@every 1h"
	}
	if opts.PopAttempts < 1 {
		opts.PopAttempts = defaultPopAttempts
	}
	if opts.PopRetryInterval <= 0 {
		opts.PopRetryInterval = defaultPopRetryInterval
	}
	schedule, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", opts.Schedule, err)
	}

	return &Syncer{
		reconciler:       r,
		queue:            q,
		metrics:          m,
		logger:           logger,
		workers:          opts.Workers,
		schedule:         schedule,
		expr:             opts.Schedule,
		popAttempts:      opts.PopAttempts,
		popRetryInterval: opts.PopRetryInterval,
	}, nil
}

// Start runs once immediately, then on the configured schedule until ctx is cancelled.
// A tick is skipped while the previous run is still going.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer", "schedule", s.expr, "workers", s.workers)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	entryID := c.Schedule(s.schedule, cron.FuncJob(func() { s.runCycle(ctx) }))
	s.logger.Debug("Scheduled sync job", "entry_id", entryID)

	s.runCycle(ctx) // Initial sync
	if ctx.Err() != nil {
		return
	}
	c.Start()
	<-ctx.Done()
	s.logger.Info("Syncer shutting down", "reason", ctx.Err())
	<-c.Stop().Done()
}

func (s *Syncer) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.RunAll(ctx)
	switch {
	case errors.Is(err, custom_errors.ErrRunInProgress):
		s.logger.Info("Skipping sync cycle, previous run still in progress")
	case err != nil:
		s.logger.Error("Sync cycle failed", "error", err)
	}
}

// RunAll reconciles every eligible account exactly once. The run works on its own scoped
// queue, so items left in the shared queue or by other runs are never picked up.
// It returns ErrRunInProgress while another RunAll on this Syncer is going.
// When the queue fails for good the summary is still returned, with the untried
// accounts counted as skipped, together with the error.
func (s *Syncer) RunAll(ctx context.Context) (*Summary, error) {
	if !s.runMu.TryLock() {
		return nil, custom_errors.ErrRunInProgress
	}
	defer s.runMu.Unlock()

	ids, err := s.eligible(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary := &Summary{RunID: uuid.New()}
	logger := s.logger.With("run_id", summary.RunID.String())

	q := s.queue.Scoped(summary.RunID.String())
	defer func() {
		if err := q.Clear(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to clear run queue", "error", err)
		}
	}()
	if err := q.Push(ctx, ids...); err != nil {
		return nil, fmt.Errorf("queueing accounts: %w", err)
	}
	logger.Info("Accounts queued for reconciliation", "count", len(ids))

	drainErr := s.drain(ctx, q, logger, summary)
	summary.Skipped = len(ids) - (summary.Changed + summary.Unchanged + summary.Failed)
	s.finish(logger, summary, start)

	if drainErr != nil {
		return summary, fmt.Errorf("run %s abandoned: %w", summary.RunID, drainErr)
	}
	return summary, nil
}

// Enqueue pushes one unit per eligible account onto the shared queue for Drain,
// possibly in another process, and returns how many were queued.
func (s *Syncer) Enqueue(ctx context.Context) (int, error) {
	ids, err := s.eligible(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.queue.Push(ctx, ids...); err != nil {
		return 0, err
	}
	s.logger.Info("Accounts queued for reconciliation", "count", len(ids))
	return len(ids), nil
}

// Drain processes the shared queue until it is empty or ctx is cancelled.
// Units already taken finish even after cancellation. If the queue keeps failing the
// drain stops, items still queued are counted as skipped and the error is returned.
func (s *Syncer) Drain(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.New()}
	logger := s.logger.With("run_id", summary.RunID.String())

	err := s.drain(ctx, s.queue, logger, summary)
	if err != nil || ctx.Err() != nil {
		left, lenErr := s.queue.Len(context.WithoutCancel(ctx))
		if lenErr != nil {
			logger.Error("Failed to count units left in queue", "error", lenErr)
		} else {
			summary.Skipped = int(left)
		}
	}
	s.finish(logger, summary, start)

	if err != nil {
		return summary, fmt.Errorf("drain abandoned: %w", err)
	}
	return summary, nil
}

func (s *Syncer) eligible(ctx context.Context) ([]int64, error) {
	ids, err := s.reconciler.ListEligibleAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing eligible accounts: %w", err)
	}
	return lo.Uniq(ids), nil
}

// drain runs the workers over q and records each unit in summary.
// Cancellation of ctx is not an error; a queue that keeps failing is.
func (s *Syncer) drain(ctx context.Context, q queue.Queue, logger *slog.Logger, summary *Summary) error {
	logger.Info("Starting new sync cycle", "workers", s.workers)

	var mu sync.Mutex
	record := func(id int64, changed bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			summary.Failed++
			summary.FailedAccounts = append(summary.FailedAccounts, id)
			s.metrics.UnitDone(metrics.ResultFailed)
		case changed:
			summary.Changed++
			s.metrics.UnitDone(metrics.ResultChanged)
		default:
			summary.Unchanged++
			s.metrics.UnitDone(metrics.ResultUnchanged)
		}
	}

	worker := func(wctx context.Context) error {
		for {
			if wctx.Err() != nil {
				return nil
			}
			id, ok, err := s.pop(wctx, q, logger)
			if err != nil {
				if wctx.Err() != nil {
					return nil
				}
				logger.Error("Giving up on queue", "attempts", s.popAttempts, "error", err)
				return fmt.Errorf("taking unit from queue: %w", err)
			}
			if !ok {
				return nil
			}
			changed, err := s.runUnit(context.WithoutCancel(wctx), logger, id)
			record(id, changed, err)
		}
	}

	if s.workers == 1 {
		return worker(ctx)
	}
	// The first worker to give up on the queue stops the others.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error { return worker(gctx) })
	}
	return g.Wait()
}

type popped struct {
	id int64
	ok bool
}

// pop takes one unit, retrying queue errors with backoff up to popAttempts times.
func (s *Syncer) pop(ctx context.Context, q queue.Queue, logger *slog.Logger) (int64, bool, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.popRetryInterval
	expBackoff.Reset()

	p, err := backoff.Retry(ctx, func() (popped, error) {
		id, ok, err := q.Pop(ctx)
		return popped{id: id, ok: ok}, err
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(s.popAttempts)),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Warn("Failed to take unit from queue, retrying", "error", err, "after", d)
		}),
	)
	return p.id, p.ok, err
}

func (s *Syncer) finish(logger *slog.Logger, summary *Summary, start time.Time) {
	summary.Total = summary.Changed + summary.Unchanged + summary.Failed + summary.Skipped
	sort.Slice(summary.FailedAccounts, func(i, j int) bool { return summary.FailedAccounts[i] < summary.FailedAccounts[j] })
	summary.Duration = time.Since(start)
	s.metrics.ObserveRun(summary.Duration)

	logger.Info("Sync cycle finished",
		"message", summary.Message(),
		"changed", summary.Changed,
		"unchanged", summary.Unchanged,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration.String(),
	)
}

// runUnit reconciles one account. Errors and panics are turned into a UnitFailureError.
func (s *Syncer) runUnit(ctx context.Context, logger *slog.Logger, accountID int64) (changed bool, err error) {
	logger = logger.With("account_id", accountID)
	defer func() {
		if r := recover(); r != nil {
			err = &custom_errors.UnitFailureError{AccountID: accountID, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			logger.Error("Failed to reconcile account", "error", err)
		}
	}()

	changed, err = s.reconciler.ReconcileAccount(ctx, accountID)
	if err != nil {
		return false, &custom_errors.UnitFailureError{AccountID: accountID, Err: err}
	}
	if changed {
		logger.Info("Repositories updated.")
	} else {
		logger.Debug("Repositories NOT updated.")
	}
	return changed, nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
