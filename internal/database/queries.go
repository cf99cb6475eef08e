// internal/database/queries.go
package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"repository-reconciler/internal/model"
)

// Querier lists the queries used by Store.
type Querier interface {
	CreateRepository(ctx context.Context, arg CreateRepositoryParams) (model.Record, error)
	UpdateRepository(ctx context.Context, arg UpdateRepositoryParams) (int64, error)
	DeleteRepository(ctx context.Context, id int64) (int64, error)
	FindRepositories(ctx context.Context, arg FindRepositoriesParams) ([]model.Record, error)
	SumOpenIssues(ctx context.Context, ownerAccountID *int64) (int64, error)
	GetAccount(ctx context.Context, id int64) (model.Account, error)
	FindAccounts(ctx context.Context, arg FindAccountsParams) ([]model.Account, error)
	UpsertAccount(ctx context.Context, arg UpsertAccountParams) error
	DeleteAccountSourceURLs(ctx context.Context, accountID int64) error
	InsertAccountSourceURL(ctx context.Context, arg InsertAccountSourceURLParams) error
}

var _ Querier = (*Queries)(nil)

const repositoryColumns = `id, owner_account_id, machine_name, source_id, label, description,
	open_issue_count, canonical_url, fingerprint, created_at, updated_at`

const createRepository = `-- name: CreateRepository :one
INSERT INTO repositories (
    owner_account_id, machine_name, source_id, label, description, open_issue_count, canonical_url, fingerprint
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8
)
RETURNING ` + repositoryColumns

type CreateRepositoryParams struct {
	OwnerAccountID int64
	MachineName    string
	SourceID       string
	Label          string
	Description    *string
	OpenIssueCount int32
	CanonicalURL   string
	Fingerprint    string
}

func (q *Queries) CreateRepository(ctx context.Context, arg CreateRepositoryParams) (model.Record, error) {
	row := q.db.QueryRow(ctx, createRepository,
		arg.OwnerAccountID,
		arg.MachineName,
		arg.SourceID,
		arg.Label,
		arg.Description,
		arg.OpenIssueCount,
		arg.CanonicalURL,
		arg.Fingerprint,
	)
	return scanRecord(row)
}

const updateRepository = `-- name: UpdateRepository :execrows
UPDATE repositories
SET label = $2,
    description = $3,
    open_issue_count = $4,
    canonical_url = $5,
    fingerprint = $6,
    updated_at = NOW()
WHERE id = $1`

type UpdateRepositoryParams struct {
	ID             int64
	Label          string
	Description    *string
	OpenIssueCount int32
	CanonicalURL   string
	Fingerprint    string
}

func (q *Queries) UpdateRepository(ctx context.Context, arg UpdateRepositoryParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateRepository,
		arg.ID,
		arg.Label,
		arg.Description,
		arg.OpenIssueCount,
		arg.CanonicalURL,
		arg.Fingerprint,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteRepository = `-- name: DeleteRepository :execrows
DELETE FROM repositories WHERE id = $1`

func (q *Queries) DeleteRepository(ctx context.Context, id int64) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteRepository, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const findRepositories = `-- name: FindRepositories :many
SELECT ` + repositoryColumns + `
FROM repositories
WHERE ($1::bigint IS NULL OR owner_account_id = $1)
  AND ($2::bigint IS NULL OR owner_account_id <> $2)
  AND ($3::text = '' OR machine_name = $3)
  AND ($4::text = '' OR source_id = $4)
ORDER BY id`

type FindRepositoriesParams struct {
	OwnerAccountID        *int64
	ExcludeOwnerAccountID *int64
	MachineName           string
	SourceID              string
}

func (q *Queries) FindRepositories(ctx context.Context, arg FindRepositoriesParams) ([]model.Record, error) {
	rows, err := q.db.Query(ctx, findRepositories,
		arg.OwnerAccountID,
		arg.ExcludeOwnerAccountID,
		arg.MachineName,
		arg.SourceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Record
	for rows.Next() {
		i, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const sumOpenIssues = `-- name: SumOpenIssues :one
SELECT COALESCE(SUM(open_issue_count), 0)::bigint
FROM repositories
WHERE open_issue_count > 0
  AND ($1::bigint IS NULL OR owner_account_id = $1)`

func (q *Queries) SumOpenIssues(ctx context.Context, ownerAccountID *int64) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, sumOpenIssues, ownerAccountID).Scan(&total)
	return total, err
}

const accountColumns = `a.id, a.name, a.active,
	COALESCE(array_agg(u.url ORDER BY u.position) FILTER (WHERE u.url IS NOT NULL), '{}')::text[]`

const getAccount = `-- name: GetAccount :one
SELECT ` + accountColumns + `
FROM accounts a
LEFT JOIN account_source_urls u ON u.account_id = a.id
WHERE a.id = $1
GROUP BY a.id`

func (q *Queries) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, getAccount, id))
}

const findAccounts = `-- name: FindAccounts :many
SELECT ` + accountColumns + `
FROM accounts a
LEFT JOIN account_source_urls u ON u.account_id = a.id
WHERE ($1::boolean = FALSE OR a.active)
GROUP BY a.id
HAVING ($2::boolean = FALSE OR COUNT(u.url) > 0)
ORDER BY a.id`

type FindAccountsParams struct {
	ActiveOnly     bool
	WithSourceURLs bool
}

func (q *Queries) FindAccounts(ctx context.Context, arg FindAccountsParams) ([]model.Account, error) {
	rows, err := q.db.Query(ctx, findAccounts, arg.ActiveOnly, arg.WithSourceURLs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Account
	for rows.Next() {
		i, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertAccount = `-- name: UpsertAccount :exec
INSERT INTO accounts (id, name, active)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    active = EXCLUDED.active,
    updated_at = NOW()`

type UpsertAccountParams struct {
	ID     int64
	Name   string
	Active bool
}

func (q *Queries) UpsertAccount(ctx context.Context, arg UpsertAccountParams) error {
	_, err := q.db.Exec(ctx, upsertAccount, arg.ID, arg.Name, arg.Active)
	return err
}

const deleteAccountSourceURLs = `-- name: DeleteAccountSourceURLs :exec
DELETE FROM account_source_urls WHERE account_id = $1`

func (q *Queries) DeleteAccountSourceURLs(ctx context.Context, accountID int64) error {
	_, err := q.db.Exec(ctx, deleteAccountSourceURLs, accountID)
	return err
}

const insertAccountSourceURL = `-- name: InsertAccountSourceURL :exec
INSERT INTO account_source_urls (account_id, position, url) VALUES ($1, $2, $3)`

type InsertAccountSourceURLParams struct {
	AccountID int64
	Position  int32
	URL       string
}

func (q *Queries) InsertAccountSourceURL(ctx context.Context, arg InsertAccountSourceURLParams) error {
	_, err := q.db.Exec(ctx, insertAccountSourceURL, arg.AccountID, arg.Position, arg.URL)
	return err
}

func scanRecord(row pgx.Row) (model.Record, error) {
	var (
		r     model.Record
		count int32
	)
	err := row.Scan(
		&r.ID,
		&r.OwnerAccountID,
		&r.MachineName,
		&r.SourceID,
		&r.Label,
		&r.Description,
		&count,
		&r.CanonicalURL,
		&r.Fingerprint,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	r.OpenIssueCount = int(count)
	return r, err
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Name, &a.Active, &a.SourceURLs)
	if len(a.SourceURLs) == 0 {
		a.SourceURLs = nil
	}
	return a, err
}
