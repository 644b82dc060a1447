package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/bodyguard/internal/alert"
	"github.com/linnemanlabs/bodyguard/internal/analysis"
	"github.com/linnemanlabs/bodyguard/internal/ledger"
	"github.com/linnemanlabs/bodyguard/internal/triage"
	"github.com/linnemanlabs/bodyguard/internal/voice"
)

// TriageService defines the business operations alertapi needs.
type TriageService interface {
	Alerts() []alert.Alert
	Actions() []ledger.Action
	State() triage.State
	Task(id string) (*triage.Task, bool)
	SubmitManual(ctx context.Context, raw []byte) (*alert.Alert, *triage.Task, error)
	ProcessAlertByID(ctx context.Context, id string) (*triage.Task, error)
	RecordAlert(al alert.Alert) bool
	Confirm(ctx context.Context, id string) (ledger.Action, error)
	Deny(ctx context.Context, id string) (ledger.Action, error)
	NextVoiceScript() (string, bool)
	Subscribe(fn func(triage.StateEvent)) (unsubscribe func())
}

// Collaborators are exposed directly on the API for external callers. Either
// may be nil, in which case its endpoint answers 503.
type Collaborators struct {
	Analyzer analysis.Analyzer
	Dialer   voice.Dialer
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
	collab Collaborators
	hub    *hub
	unsub  func()
}

// New creates a new API handler and starts forwarding service events to
// websocket clients. Call Close on shutdown.
func New(logger log.Logger, svc TriageService, collab Collaborators) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	a := &API{
		logger: logger,
		svc:    svc,
		collab: collab,
		hub:    newHub(logger),
	}
	a.unsub = svc.Subscribe(a.hub.publish)
	return a
}

// Close stops event forwarding and disconnects websocket clients.
func (a *API) Close() {
	a.unsub()
	a.hub.close()
}

// EventsPath is the websocket endpoint for live ledger and state updates.
const EventsPath = "/api/v1/events"

// EventsHandler serves the websocket stream on its own, for mounting outside
// middleware that cannot hijack connections.
func (a *API) EventsHandler() http.Handler {
	return http.HandlerFunc(a.handleEvents)
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/alerts", a.handleListAlerts)
		r.Post("/alerts", a.handleSubmitAlert)
		r.Post("/alerts/{id}/process", a.handleProcessAlert)

		r.Get("/actions", a.handleListActions)
		r.Post("/actions/{id}/confirm", a.handleConfirm)
		r.Post("/actions/{id}/deny", a.handleDeny)

		r.Get("/state", a.handleState)
		r.Post("/voice-queue/next", a.handleNextVoiceScript)
		r.Get("/tasks/{id}", a.handleGetTask)
		r.Get("/events", a.handleEvents)

		r.Post("/analyze", a.handleAnalyze)
		r.Post("/voice-call", a.handleVoiceCall)
		r.Post("/webhooks/datadog", a.handleDatadogWebhook)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
