package alertapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/bodyguard/internal/alert"
)

func (a *API) handleListAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": a.svc.Alerts()})
}

func (a *API) handleSubmitAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	al, task, err := a.svc.SubmitManual(r.Context(), body)
	if err != nil {
		if errors.Is(err, alert.ErrInvalidAlert) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "Invalid JSON alert format",
				"message": err.Error(),
			})
			return
		}
		a.logger.Error(r.Context(), err, "manual alert submission failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("bodyguard.alert.id", al.ID),
		attribute.String("bodyguard.task.id", task.ID),
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"alert":   al,
		"task_id": task.ID,
	})
}

func (a *API) handleProcessAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("bodyguard.alert.id", id))

	task, err := a.svc.ProcessAlertByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, alert.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		a.logger.Error(r.Context(), err, "failed to process alert", "alert_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"alert_id": id,
		"task_id":  task.ID,
	})
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := a.svc.Task(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, task.Info())
}

func (a *API) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.State())
}

func (a *API) handleNextVoiceScript(w http.ResponseWriter, _ *http.Request) {
	script, ok := a.svc.NextVoiceScript()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"script": script})
}
