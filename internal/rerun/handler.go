package rerun

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JaimeStill/conveyor/pkg/handlers"
	"github.com/JaimeStill/conveyor/pkg/routes"
)

// Handler provides HTTP endpoints for recovery operations.
type Handler struct {
	ctrl   *Controller
	logger *slog.Logger
}

// RerunRequest names the documents to reset and the step to restart from.
type RerunRequest struct {
	DocumentIDs []string `json:"document_ids"`
	Step        Step     `json:"step"`
}

// NewHandler creates a Handler with the given controller and logger.
func NewHandler(ctrl *Controller, logger *slog.Logger) *Handler {
	return &Handler{
		ctrl:   ctrl,
		logger: logger.With("handler", "recovery"),
	}
}

// Routes returns the route group definition for recovery endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/recovery",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/rerun", Handler: h.Rerun},
			{Method: "POST", Pattern: "/documents/{id}/abort", Handler: h.Abort},
		},
	}
}

// Rerun resets a batch of documents to before the requested step and
// requeues them. Per-document outcomes are reported in the response.
func (h *Handler) Rerun(w http.ResponseWriter, r *http.Request) {
	var req RerunRequest
	if err := handlers.DecodeJSON(r, &req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if len(req.DocumentIDs) == 0 {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.New("document_ids is required"))
		return
	}
	if !req.Step.Valid() {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrUnknownStep)
		return
	}

	results := h.ctrl.Rerun(r.Context(), req.DocumentIDs, req.Step)
	handlers.RespondJSON(w, http.StatusOK, results)
}

// Abort cancels a document's live execution.
func (h *Handler) Abort(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Abort(r.Context(), r.PathValue("id")); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
