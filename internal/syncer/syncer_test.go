// internal/syncer/syncer_test.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	custom_errors "repository-reconciler/internal/errors"
	"repository-reconciler/internal/metrics"
	"repository-reconciler/internal/queue"
)

// MockReconciler is a mock of the Reconciler interface.
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) ListEligibleAccounts(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockReconciler) ReconcileAccount(ctx context.Context, accountID int64) (bool, error) {
	args := m.Called(ctx, accountID)
	return args.Bool(0), args.Error(1)
}

// flakyQueue fails the next failures Pop calls, across all of its scoped queues.
type flakyQueue struct {
	queue.Queue
	failures *atomic.Int32
}

func newFlakyQueue(failures int32) *flakyQueue {
	f := &flakyQueue{Queue: queue.NewMemory(), failures: new(atomic.Int32)}
	f.failures.Store(failures)
	return f
}

func (f *flakyQueue) Pop(ctx context.Context) (int64, bool, error) {
	if f.failures.Add(-1) >= 0 {
		return 0, false, errors.New("i/o timeout")
	}
	return f.Queue.Pop(ctx)
}

func (f *flakyQueue) Scoped(runID string) queue.Queue {
	return &flakyQueue{Queue: f.Queue.Scoped(runID), failures: f.failures}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestSyncer(t *testing.T, r Reconciler, q queue.Queue, workers int) *Syncer {
	s, err := NewSyncer(r, q, metrics.New(), testLogger(), Options{
		Workers:          workers,
		Schedule:         "@every 1h",
		PopRetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func TestSyncer_RunAll(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			ctx := context.Background()
			r := new(MockReconciler)
			r.On("ListEligibleAccounts", ctx).Return([]int64{1, 2, 3, 4, 5}, nil).Once()
			r.On("ReconcileAccount", mock.Anything, int64(1)).Return(true, nil).Once()
			r.On("ReconcileAccount", mock.Anything, int64(2)).Return(false, nil).Once()
			r.On("ReconcileAccount", mock.Anything, int64(3)).Return(true, nil).Once()
			r.On("ReconcileAccount", mock.Anything, int64(4)).Return(false, nil).Once()
			r.On("ReconcileAccount", mock.Anything, int64(5)).Return(true, nil).Once()
			s := newTestSyncer(t, r, queue.NewMemory(), workers)

			summary, err := s.RunAll(ctx)

			require.NoError(t, err)
			assert.Equal(t, 5, summary.Total)
			assert.Equal(t, 3, summary.Changed)
			assert.Equal(t, 2, summary.Unchanged)
			assert.Zero(t, summary.Failed)
			assert.Equal(t, "updated 3 of 5 accounts", summary.Message())
			r.AssertExpectations(t)
		})
	}
}

func TestSyncer_UnitsAreIsolated(t *testing.T) {
	ctx := context.Background()
	r := new(MockReconciler)
	r.On("ListEligibleAccounts", ctx).Return([]int64{1, 2, 3, 4}, nil)
	r.On("ReconcileAccount", mock.Anything, int64(1)).Return(true, nil)
	r.On("ReconcileAccount", mock.Anything, int64(2)).Return(false, errors.New("database is down"))
	r.On("ReconcileAccount", mock.Anything, int64(3)).Panic("connector exploded")
	r.On("ReconcileAccount", mock.Anything, int64(4)).Return(true, nil)

	for _, workers := range []int{1, 3} {
		s := newTestSyncer(t, r, queue.NewMemory(), workers)

		summary, err := s.RunAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 4, summary.Total)
		assert.Equal(t, 2, summary.Changed)
		assert.Equal(t, 2, summary.Failed)
		assert.Equal(t, []int64{2, 3}, summary.FailedAccounts)
	}
}

func TestSyncer_RunUnitWrapsFailures(t *testing.T) {
	r := new(MockReconciler)
	dbErr := errors.New("database is down")
	r.On("ReconcileAccount", mock.Anything, int64(7)).Return(false, dbErr)
	r.On("ReconcileAccount", mock.Anything, int64(8)).Panic("boom")
	s := newTestSyncer(t, r, queue.NewMemory(), 1)

	_, err := s.runUnit(context.Background(), testLogger(), 7)
	var unitErr *custom_errors.UnitFailureError
	require.ErrorAs(t, err, &unitErr)
	assert.Equal(t, int64(7), unitErr.AccountID)
	assert.ErrorIs(t, err, dbErr)

	_, err = s.runUnit(context.Background(), testLogger(), 8)
	require.ErrorAs(t, err, &unitErr)
	assert.ErrorContains(t, err, "panic: boom")
}

func TestSyncer_Cancellation(t *testing.T) {
	t.Run("cancelled before start processes nothing", func(t *testing.T) {
		r := new(MockReconciler)
		q := queue.NewMemory()
		require.NoError(t, q.Push(context.Background(), 1, 2, 3))
		s := newTestSyncer(t, r, q, 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		summary, err := s.Drain(ctx)

		require.NoError(t, err)
		assert.Equal(t, 3, summary.Skipped)
		assert.Equal(t, "updated 0 of 3 accounts", summary.Message())
		r.AssertNotCalled(t, "ReconcileAccount", mock.Anything, mock.Anything)
	})

	t.Run("in-flight unit finishes on a detached context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		r := new(MockReconciler)
		var unitCtxErr error
		r.On("ReconcileAccount", mock.Anything, int64(1)).Run(func(args mock.Arguments) {
			cancel()
			unitCtxErr = args.Get(0).(context.Context).Err()
		}).Return(true, nil).Once()
		q := queue.NewMemory()
		require.NoError(t, q.Push(ctx, 1, 2, 3))
		s := newTestSyncer(t, r, q, 1)

		summary, err := s.Drain(ctx)

		require.NoError(t, err)
		assert.NoError(t, unitCtxErr)
		assert.Equal(t, 1, summary.Changed)
		assert.Equal(t, 2, summary.Skipped)
		r.AssertExpectations(t)
	})
}

func TestSyncer_EnqueueError(t *testing.T) {
	ctx := context.Background()
	r := new(MockReconciler)
	r.On("ListEligibleAccounts", ctx).Return([]int64(nil), errors.New("boom"))
	s := newTestSyncer(t, r, queue.NewMemory(), 1)

	_, err := s.RunAll(ctx)

	assert.ErrorContains(t, err, "listing eligible accounts")
}

func TestSyncer_SplitQueueAndWorker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	shared := queue.NewRedisWithClient(client, "reposync:test")

	ctx := context.Background()
	producer := new(MockReconciler)
	producer.On("ListEligibleAccounts", ctx).Return([]int64{10, 11}, nil)
	n, err := newTestSyncer(t, producer, shared, 1).Enqueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	consumer := new(MockReconciler)
	consumer.On("ReconcileAccount", mock.Anything, int64(10)).Return(true, nil).Once()
	consumer.On("ReconcileAccount", mock.Anything, int64(11)).Return(false, nil).Once()
	summary, err := newTestSyncer(t, consumer, shared, 2).Drain(ctx)
	require.NoError(t, err)

	assert.Equal(t, "updated 1 of 2 accounts", summary.Message())
	consumer.AssertExpectations(t)
	left, err := shared.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestNewSyncer_InvalidSchedule(t *testing.T) {
	_, err := NewSyncer(new(MockReconciler), queue.NewMemory(), nil, testLogger(), Options{Schedule: "every now and then"})

	assert.ErrorContains(t, err, "invalid sync schedule")
}

func TestSyncer_StartRunsImmediatelyAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ran := make(chan struct{})
	r := new(MockReconciler)
	r.On("ListEligibleAccounts", mock.Anything).Run(func(mock.Arguments) {
		close(ran)
	}).Return([]int64{}, nil).Once()
	s := newTestSyncer(t, r, queue.NewMemory(), 2)

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("initial run did not happen")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("syncer did not stop")
	}
	r.AssertExpectations(t)
}

func TestSyncer_RunAllRetriesQueueErrors(t *testing.T) {
	ctx := context.Background()
	r := new(MockReconciler)
	r.On("ListEligibleAccounts", ctx).Return([]int64{1, 2}, nil)
	r.On("ReconcileAccount", mock.Anything, int64(1)).Return(true, nil).Once()
	r.On("ReconcileAccount", mock.Anything, int64(2)).Return(false, nil).Once()
	s := newTestSyncer(t, r, newFlakyQueue(2), 1)

	summary, err := s.RunAll(ctx)

	require.NoError(t, err)
	assert.Equal(t, "updated 1 of 2 accounts", summary.Message())
	r.AssertExpectations(t)
}

func TestSyncer_RunAllReportsBrokenQueue(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			ctx := context.Background()
			r := new(MockReconciler)
			r.On("ListEligibleAccounts", ctx).Return([]int64{1, 2}, nil)
			s := newTestSyncer(t, r, newFlakyQueue(1000), workers)

			summary, err := s.RunAll(ctx)

			assert.ErrorContains(t, err, "i/o timeout")
			require.NotNil(t, summary)
			assert.Equal(t, 2, summary.Total)
			assert.Equal(t, 2, summary.Skipped)
			assert.Equal(t, "updated 0 of 2 accounts", summary.Message())
			r.AssertNotCalled(t, "ReconcileAccount", mock.Anything, mock.Anything)
		})
	}
}

func TestSyncer_DrainReportsBrokenQueue(t *testing.T) {
	ctx := context.Background()
	q := newFlakyQueue(1000)
	require.NoError(t, q.Push(ctx, 1, 2, 3))
	r := new(MockReconciler)
	s := newTestSyncer(t, r, q, 1)

	summary, err := s.Drain(ctx)

	assert.ErrorContains(t, err, "drain abandoned")
	assert.Equal(t, 3, summary.Skipped)
	r.AssertNotCalled(t, "ReconcileAccount", mock.Anything, mock.Anything)
}

func TestSyncer_RunAllIgnoresLeftoverItems(t *testing.T) {
	ctx := context.Background()
	shared := queue.NewMemory()
	require.NoError(t, shared.Push(ctx, 1))
	r := new(MockReconciler)
	r.On("ListEligibleAccounts", ctx).Return([]int64{1, 2, 2}, nil)
	r.On("ReconcileAccount", mock.Anything, int64(1)).Return(true, nil).Once()
	r.On("ReconcileAccount", mock.Anything, int64(2)).Return(true, nil).Once()
	s := newTestSyncer(t, r, shared, 2)

	summary, err := s.RunAll(ctx)

	require.NoError(t, err)
	assert.Equal(t, "updated 2 of 2 accounts", summary.Message())
	r.AssertExpectations(t)
	left, err := shared.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), left, "items queued for Drain are left alone")
}

func TestSyncer_OneRunAtATime(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	r := new(MockReconciler)
	r.On("ListEligibleAccounts", ctx).Return([]int64{1}, nil)
	r.On("ReconcileAccount", mock.Anything, int64(1)).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(true, nil).Once()
	s := newTestSyncer(t, r, queue.NewMemory(), 4)

	var wg sync.WaitGroup
	var first *Summary
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = s.RunAll(ctx)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not start")
	}
	second, err := s.RunAll(ctx)
	assert.ErrorIs(t, err, custom_errors.ErrRunInProgress)
	assert.Nil(t, second)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, "updated 1 of 1 accounts", first.Message())

	r.On("ReconcileAccount", mock.Anything, int64(1)).Return(false, nil).Once()
	third, err := s.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "updated 0 of 1 accounts", third.Message())
	r.AssertExpectations(t)
}
