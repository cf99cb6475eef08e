//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"repository-reconciler/internal/api"
	"repository-reconciler/internal/config"
	"repository-reconciler/internal/descriptor"
	"repository-reconciler/internal/store"
)

func setupTestDatabase(ctx context.Context, t *testing.T) string {
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(context.Background()))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestReconciliation_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Descriptor files served the way a remote host would.
	files := httptest.NewServer(http.FileServer(http.Dir("../../internal/descriptor/testdata")))
	defer files.Close()

	cfg := &config.Config{
		LogLevel:          "debug",
		StoreDriver:       "postgres",
		DBURL:             setupTestDatabase(ctx, t),
		EnabledConnectors: []string{descriptor.ConnectorID},
		GithubHost:        "github.com",
		GithubSecretName:  "github",
		GithubRateLimit:   1,
		SecretsProvider:   "environment",
		FetchTimeout:      5 * time.Second,
		FetchMaxAttempts:  2,
		Workers:           2,
		QueueDriver:       "memory",
		SyncSchedule:      "@every 1h",
	}
	a, err := newApp(ctx, cfg, logger)
	require.NoError(t, err)
	defer a.close()

	sy, err := a.newSyncer(a.reconciler)
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewRouter(api.NewService(a.reconciler, a.registry, sy), a.metrics.Handler(), logger))
	defer srv.Close()

	send := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	// --- ARRANGE ---
	batmanURL := files.URL + "/batman-repo.yml"
	aquamanURL := files.URL + "/aquaman-repo.yml"
	resp := send(http.MethodPut, "/v1/accounts/1",
		`{"name":"bruce","active":true,"source_urls":["`+batmanURL+`","`+aquamanURL+`"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(http.MethodPut, "/v1/accounts/2",
		`{"name":"arthur","active":true,"source_urls":["`+files.URL+`/missing.yml"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// --- ACT ---
	resp = send(http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))

	// --- ASSERT ---
	assert.Equal(t, "updated 1 of 1 accounts", run.Message)

	owner := int64(1)
	records, err := a.store.FindRecords(ctx, store.RecordFilter{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, records, 2)
	byName := map[string]string{}
	for _, r := range records {
		byName[r.MachineName] = r.Label
		assert.Equal(t, descriptor.ConnectorID, r.SourceID)
		assert.Equal(t, 6, r.OpenIssueCount)
	}
	assert.Equal(t, "The Batman repository", byName["batman-repo"])
	assert.Equal(t, "The Aquaman repository", byName["aquaman-repository"])

	resp = send(http.MethodGet, "/v1/stats/open-issues?account_id=1", "")
	var stats struct {
		TotalOpenIssues int64 `json:"total_open_issues"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, int64(12), stats.TotalOpenIssues)

	// A second pass changes nothing.
	changed, err := a.reconciler.ReconcileAccount(ctx, 1)
	require.NoError(t, err)
	assert.False(t, changed)

	// Dropping a URL deletes its record, but a dry run only reports it.
	resp = send(http.MethodPut, "/v1/accounts/1", `{"name":"bruce","active":true,"source_urls":["`+batmanURL+`"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(http.MethodPost, "/v1/accounts/1/reconcile?dry_run=true", "")
	var preview struct {
		DryRun  bool     `json:"dry_run"`
		Deleted []string `json:"deleted"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&preview))
	assert.True(t, preview.DryRun)
	assert.Equal(t, []string{"aquaman-repository"}, preview.Deleted)

	records, err = a.store.FindRecords(ctx, store.RecordFilter{OwnerID: &owner})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	changed, err = a.reconciler.ReconcileAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, changed)

	records, err = a.store.FindRecords(ctx, store.RecordFilter{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "batman-repo", records[0].MachineName)
}
