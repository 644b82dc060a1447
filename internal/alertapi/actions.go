package alertapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/bodyguard/internal/ledger"
	"github.com/linnemanlabs/bodyguard/internal/triage"
)

func (a *API) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": a.svc.Actions()})
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, a.svc.Confirm)
}

func (a *API) handleDeny(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, a.svc.Deny)
}

func (a *API) decide(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (ledger.Action, error)) {
	id := chi.URLParam(r, "id")
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("bodyguard.action.id", id))

	act, err := fn(r.Context(), id)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "action not found")
	case errors.Is(err, triage.ErrNotConsulting):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "action is not awaiting confirmation",
			"action": act,
		})
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to resolve action", "action_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		span.SetAttributes(attribute.String("bodyguard.action.status", string(act.Status)))
		writeJSON(w, http.StatusOK, act)
	}
}
