// internal/api/service.go
package api

import (
	"context"

	"repository-reconciler/internal/model"
	"repository-reconciler/internal/reconciler"
	"repository-reconciler/internal/registry"
	"repository-reconciler/internal/syncer"
)

// Service is everything the HTTP API needs from the application.
type Service interface {
	Connectors() []registry.Available
	ValidateURLs(ctx context.Context, urls []string, accountID int64) (*reconciler.ValidationReport, error)
	SaveAccount(ctx context.Context, account model.Account) (*reconciler.ValidationReport, error)
	Reconcile(ctx context.Context, accountID int64, dryRun bool) (*reconciler.Result, error)
	RunAll(ctx context.Context) (*syncer.Summary, error)
	OpenIssueTotals(ctx context.Context, accountID *int64) (int64, error)
}

type appService struct {
	reconciler *reconciler.Service
	registry   *registry.Registry
	syncer     *syncer.Syncer
}

// NewService wires the application components behind the Service interface.
func NewService(rec *reconciler.Service, reg *registry.Registry, sy *syncer.Syncer) Service {
	return &appService{reconciler: rec, registry: reg, syncer: sy}
}

func (a *appService) Connectors() []registry.Available {
	return a.registry.Available()
}

func (a *appService) ValidateURLs(ctx context.Context, urls []string, accountID int64) (*reconciler.ValidationReport, error) {
	return a.reconciler.ValidateURLs(ctx, urls, accountID)
}

func (a *appService) SaveAccount(ctx context.Context, account model.Account) (*reconciler.ValidationReport, error) {
	return a.reconciler.SaveAccount(ctx, account)
}

func (a *appService) Reconcile(ctx context.Context, accountID int64, dryRun bool) (*reconciler.Result, error) {
	if dryRun {
		return a.reconciler.DryRun().Reconcile(ctx, accountID)
	}
	return a.reconciler.Reconcile(ctx, accountID)
}

func (a *appService) RunAll(ctx context.Context) (*syncer.Summary, error) {
	return a.syncer.RunAll(ctx)
}

func (a *appService) OpenIssueTotals(ctx context.Context, accountID *int64) (int64, error) {
	return a.reconciler.OpenIssueTotals(ctx, accountID)
}
