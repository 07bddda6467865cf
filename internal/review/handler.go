package review

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JaimeStill/conveyor/pkg/handlers"
	"github.com/JaimeStill/conveyor/pkg/pagination"
	"github.com/JaimeStill/conveyor/pkg/routes"
)

// Handler provides HTTP endpoints for the reviewer work queue and token
// resolution.
type Handler struct {
	manager    *Manager
	logger     *slog.Logger
	pagination pagination.Config
}

// ResolveRequest identifies the reviewer settling a token, with optional
// corrections to the token's section.
type ResolveRequest struct {
	Reviewer string       `json:"reviewer"`
	Edit     *SectionEdit `json:"edit,omitempty"`
}

// SkipRequest identifies the operator skipping a document's review.
type SkipRequest struct {
	Operator string `json:"operator"`
}

// NewHandler creates a Handler with the given manager, logger, and
// pagination config.
func NewHandler(manager *Manager, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		manager:    manager,
		logger:     logger.With("handler", "reviews"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for review endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/reviews",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.ListWaiting},
			{Method: "GET", Pattern: "/documents/{id}", Handler: h.ListDocument},
			{Method: "POST", Pattern: "/tokens/{id}/resolve", Handler: h.Resolve},
			{Method: "POST", Pattern: "/documents/{id}/skip", Handler: h.Skip},
		},
	}
}

// ListWaiting returns a page of waiting review tokens across all
// documents.
func (h *Handler) ListWaiting(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)

	result, err := h.manager.ListWaiting(r.Context(), page)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// ListDocument returns every token issued for one document.
func (h *Handler) ListDocument(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.manager.List(r.Context(), r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, tokens)
}

// Resolve settles one section or page token on behalf of a reviewer.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := handlers.DecodeJSON(r, &req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if req.Reviewer == "" {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.New("reviewer is required"))
		return
	}

	if err := h.manager.Resolve(r.Context(), r.PathValue("id"), req.Reviewer, req.Edit); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Skip administratively concludes a document's pending review.
func (h *Handler) Skip(w http.ResponseWriter, r *http.Request) {
	var req SkipRequest
	if err := handlers.DecodeJSON(r, &req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if req.Operator == "" {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.New("operator is required"))
		return
	}

	if err := h.manager.Skip(r.Context(), r.PathValue("id"), req.Operator); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
