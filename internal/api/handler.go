// internal/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	custom_errors "repository-reconciler/internal/errors"
	"repository-reconciler/internal/model"
	"repository-reconciler/internal/reconciler"
)

// Handler is the container for API dependencies.
type Handler struct {
	svc      Service
	validate *validator.Validate
	logger   *slog.Logger
}

type validateRequest struct {
	URLs []string `json:"urls" validate:"required,min=1"`
}

type accountRequest struct {
	Name       string   `json:"name" validate:"required,max=255"`
	Active     bool     `json:"active"`
	SourceURLs []string `json:"source_urls" validate:"max=100"`
}

type validationResponse struct {
	Valid    bool     `json:"valid"`
	Message  string   `json:"message"`
	Problems []string `json:"problems"`
}

type openIssuesResponse struct {
	AccountID       *int64 `json:"account_id,omitempty"`
	TotalOpenIssues int64  `json:"total_open_issues"`
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(svc Service, metricsHandler http.Handler, logger *slog.Logger) http.Handler {
	h := &Handler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/connectors", h.listConnectors)
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Put("/", h.saveAccount)
			r.Post("/validate", h.validateURLs)
			r.Post("/reconcile", h.reconcileAccount)
		})
		r.Post("/runs", h.runAll)
		r.Get("/stats/open-issues", h.openIssues)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /v1/connectors
func (h *Handler) listConnectors(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.svc.Connectors())
}

// validateURLs checks a list of URLs on behalf of an account without saving anything.
// POST /v1/accounts/{id}/validate
func (h *Handler) validateURLs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req validateRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.svc.ValidateURLs(r.Context(), req.URLs, id)
	if err != nil {
		h.logger.Error("Failed to validate urls", "account_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, toValidationResponse(report))
}

// saveAccount creates or replaces an account when all of its URLs validate.
// PUT /v1/accounts/{id}
func (h *Handler) saveAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req accountRequest
	if !h.decode(w, r, &req) {
		return
	}

	account := model.Account{ID: id, Name: req.Name, Active: req.Active, SourceURLs: req.SourceURLs}
	report, err := h.svc.SaveAccount(r.Context(), account)
	if err != nil {
		h.logger.Error("Failed to save account", "account_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !report.Valid() {
		respondWithJSON(w, http.StatusUnprocessableEntity, toValidationResponse(report))
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

// reconcileAccount runs one reconciliation pass, optionally as a dry run.
// POST /v1/accounts/{id}/reconcile?dry_run=true
func (h *Handler) reconcileAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	dryRun := false
	if v := r.URL.Query().Get("dry_run"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'dry_run' parameter. Must be a boolean.")
			return
		}
		dryRun = parsed
	}

	res, err := h.svc.Reconcile(r.Context(), id, dryRun)
	if err != nil {
		if errors.Is(err, custom_errors.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.logger.Error("Failed to reconcile account", "account_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// POST /v1/runs
func (h *Handler) runAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.RunAll(r.Context())
	if errors.Is(err, custom_errors.ErrRunInProgress) {
		respondWithError(w, http.StatusConflict, "A reconciliation run is already in progress.")
		return
	}
	if err != nil {
		h.logger.Error("Failed to run reconciliation", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"summary": summary,
		"message": summary.Message(),
	})
}

// openIssues returns the total number of open issues, for everyone or for one account.
// GET /v1/stats/open-issues?account_id=N
func (h *Handler) openIssues(w http.ResponseWriter, r *http.Request) {
	var accountID *int64
	if v := r.URL.Query().Get("account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'account_id' parameter. Must be a positive integer.")
			return
		}
		accountID = &id
	}

	total, err := h.svc.OpenIssueTotals(r.Context(), accountID)
	if err != nil {
		h.logger.Error("Failed to sum open issues", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, openIssuesResponse{AccountID: accountID, TotalOpenIssues: total})
}

func toValidationResponse(report *reconciler.ValidationReport) validationResponse {
	problems := make([]string, 0, len(report.Problems))
	for _, p := range report.Problems {
		problems = append(problems, p.Message)
	}
	return validationResponse{Valid: report.Valid(), Message: report.Message(), Problems: problems}
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid account id.")
		return 0, false
	}
	return id, true
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body.")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
