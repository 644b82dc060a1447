package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/bodyguard/internal/alert"
	"github.com/linnemanlabs/bodyguard/internal/analysis"
	"github.com/linnemanlabs/bodyguard/internal/ledger"
	"github.com/linnemanlabs/bodyguard/internal/voice"
)

const (
	tracerName = "github.com/linnemanlabs/bodyguard/internal/triage"

	// maxVoiceQueue bounds scripts waiting for playback; the oldest is dropped.
	maxVoiceQueue = 32

	// defaultMaxTasks bounds retained tasks; finished ones are evicted oldest
	// first, running ones are always kept.
	defaultMaxTasks = 256
)

// Notifier is told about actions that need a human decision.
type Notifier interface {
	Notify(ctx context.Context, a ledger.Action) error
}

// Options configures a Service. Analyzer is required.
type Options struct {
	Analyzer       analysis.Analyzer
	Dialer         voice.Dialer
	Notifier       Notifier
	DefaultPhone   string
	Logger         log.Logger
	Hooks          Hooks
	TracerProvider trace.TracerProvider
}

// State is the session's display state.
type State struct {
	Narrative   string   `json:"narrative"`
	ThreatLevel int      `json:"threat_level"`
	VoiceQueue  []string `json:"voice_queue"`
	Analyzing   bool     `json:"analyzing"`
}

// StateEventKind says what a StateEvent carries.
type StateEventKind string

const (
	StateEventLedger StateEventKind = "ledger"
	StateEventState  StateEventKind = "state"
)

// StateEvent is delivered to Service subscribers for every ledger mutation
// and every display state change.
type StateEvent struct {
	Kind   StateEventKind `json:"kind"`
	Ledger *ledger.Event  `json:"ledger,omitempty"`
	State  *State         `json:"state,omitempty"`
}

// Service is the business boundary for alert processing.
type Service struct {
	feed     *alert.Feed
	ledger   *ledger.Ledger
	gate     *Gate
	analyzer analysis.Analyzer
	dialer   voice.Dialer
	notifier Notifier
	phone    string
	logger   log.Logger
	hooks    Hooks
	tracer   trace.Tracer
	now      func() time.Time

	mu       sync.Mutex
	state    State
	inFlight int
	tasks    map[string]*Task
	order    []string
	maxTasks int

	subMu  sync.RWMutex
	subs   map[int]func(StateEvent)
	nextID int
}

// NewService creates a new triage service over the given feed and ledger.
func NewService(feed *alert.Feed, l *ledger.Ledger, opts Options) *Service {
	if opts.Analyzer == nil {
		panic(xerrors.New("triage: analyzer is required"))
	}
	if feed == nil {
		feed = alert.NewFeed()
	}
	if l == nil {
		l = ledger.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	s := &Service{
		feed:     feed,
		ledger:   l,
		gate:     NewGate(l, opts.Logger, opts.Hooks),
		analyzer: opts.Analyzer,
		dialer:   opts.Dialer,
		notifier: opts.Notifier,
		phone:    opts.DefaultPhone,
		logger:   opts.Logger,
		hooks:    opts.Hooks,
		tracer:   tp.Tracer(tracerName),
		now:      time.Now,
		state:    State{VoiceQueue: []string{}},
		tasks:    make(map[string]*Task),
		maxTasks: defaultMaxTasks,
		subs:     make(map[int]func(StateEvent)),
	}

	l.Subscribe(func(ev ledger.Event) {
		s.publish(StateEvent{Kind: StateEventLedger, Ledger: &ev})
	})

	return s
}

// Feed returns the alert feed.
func (s *Service) Feed() *alert.Feed { return s.feed }

// Ledger returns the action ledger.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Alerts returns the feed, newest first.
func (s *Service) Alerts() []alert.Alert { return s.feed.List() }

// Actions returns the ledger, newest first.
func (s *Service) Actions() []ledger.Action { return s.ledger.List() }

// Confirm resolves a CONSULTING action as executed.
func (s *Service) Confirm(ctx context.Context, id string) (ledger.Action, error) {
	return s.gate.Confirm(ctx, id)
}

// Deny resolves a CONSULTING action as dismissed.
func (s *Service) Deny(ctx context.Context, id string) (ledger.Action, error) {
	return s.gate.Deny(ctx, id)
}

// State returns a snapshot of the display state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// NextVoiceScript pops the oldest queued voice script.
func (s *Service) NextVoiceScript() (string, bool) {
	s.mu.Lock()
	if len(s.state.VoiceQueue) == 0 {
		s.mu.Unlock()
		return "", false
	}
	script := s.state.VoiceQueue[0]
	s.state.VoiceQueue = s.state.VoiceQueue[1:]
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(StateEvent{Kind: StateEventState, State: &st})
	return script, true
}

// Task returns a task by ID.
func (s *Service) Task(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Subscribe registers fn for every subsequent StateEvent and returns a
// function that removes it. fn must not block.
func (s *Service) Subscribe(fn func(StateEvent)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// RecordAlert adds an externally received alert to the feed without
// processing it. Returns false if an alert with the same ID already exists.
func (s *Service) RecordAlert(al alert.Alert) bool {
	return s.feed.AddIfAbsent(al)
}

// SubmitManual parses raw JSON into an alert, adds it to the head of the feed
// and starts processing. On a parse error nothing is recorded.
func (s *Service) SubmitManual(ctx context.Context, raw []byte) (*alert.Alert, *Task, error) {
	al, err := alert.ParseManual(raw, s.now())
	if err != nil {
		s.hooks.submit("invalid")
		s.logger.Warn(ctx, "manual alert rejected", "err", err)
		return nil, nil, err
	}
	s.feed.Add(*al)
	s.hooks.submit("accepted")
	return al, s.ProcessAlert(ctx, *al), nil
}

// ProcessAlertByID processes an alert already in the feed.
func (s *Service) ProcessAlertByID(ctx context.Context, id string) (*Task, error) {
	al, ok := s.feed.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", alert.ErrNotFound, id)
	}
	return s.ProcessAlert(ctx, al), nil
}

// ProcessAlert records the start of analysis and runs the rest
// asynchronously. The returned Task completes when all resulting actions are
// in the ledger.
func (s *Service) ProcessAlert(ctx context.Context, al alert.Alert) *Task {
	task := newTask(ulid.Make().String(), al.ID, s.now())

	startID := s.ledger.Append(ledger.TypeAnalysis, ledger.StatusPending, "Starting deep reasoning for alert: "+al.Alert)
	s.hooks.action(ledger.TypeAnalysis, ledger.StatusPending)
	task.addAction(startID)

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.evictTasksLocked()
	s.inFlight++
	s.state.Narrative = ""
	s.state.Analyzing = true
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(StateEvent{Kind: StateEventState, State: &st})

	go s.run(context.WithoutCancel(ctx), task, al)

	return task
}

// evictTasksLocked drops the oldest finished tasks while over maxTasks.
func (s *Service) evictTasksLocked() {
	if len(s.tasks) <= s.maxTasks {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if len(s.tasks) > s.maxTasks && s.tasks[id].Status() != TaskRunning {
			delete(s.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *Service) run(ctx context.Context, task *Task, al alert.Alert) {
	err := s.process(ctx, task, al)
	task.finish(err, s.now())
}

func (s *Service) process(ctx context.Context, task *Task, al alert.Alert) error {
	start := time.Now()
	L := s.logger.With("task_id", task.ID, "alert_id", al.ID)

	ctx, span := s.tracer.Start(ctx, "triage.ProcessAlert", trace.WithAttributes(
		attribute.String("alert.id", al.ID),
		attribute.String("task.id", task.ID),
	))
	defer span.End()

	res, err := s.analyze(ctx, &al)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		L.Error(ctx, err, "analysis failed")

		id := s.ledger.Append(ledger.TypeAnalysis, ledger.StatusFailed, DetailsAnalysisErr)
		s.hooks.action(ledger.TypeAnalysis, ledger.StatusFailed)
		task.addAction(id)

		s.endRun(nil)
		s.hooks.complete("failed", time.Since(start).Seconds(), 1)
		return err
	}

	in := Interpret(res.Text, res.FunctionCalls)
	decisions := Decide(in)

	for _, d := range decisions {
		id := s.ledger.Append(d.Type, d.Status, d.Details)
		s.hooks.action(d.Type, d.Status)
		task.addAction(id)
		if d.Status == ledger.StatusConsulting {
			s.notify(ctx, L, id)
		}
	}

	s.endRun(&in)
	s.dispatchCalls(ctx, L, in)

	span.SetAttributes(
		attribute.Int("triage.actions", len(decisions)),
		attribute.Int("triage.function_calls", len(in.Calls)),
	)
	if in.ThreatProbability != nil {
		span.SetAttributes(attribute.Int("triage.threat_probability", *in.ThreatProbability))
	}

	L.Info(ctx, "alert processed",
		"actions", len(decisions),
		"function_calls", len(in.Calls),
		"threat_probability", in.Probability(),
		"voice_script", in.HasVoiceScript,
		"duration", time.Since(start),
	)
	s.hooks.complete("completed", time.Since(start).Seconds(), len(decisions))
	return nil
}

// analyze calls the analyzer, turning a panic into an error.
func (s *Service) analyze(ctx context.Context, al *alert.Alert) (res *analysis.Result, err error) {
	model := "remote"
	if m, ok := s.analyzer.(interface{ Model() string }); ok {
		model = m.Model()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("analyzer panic: %v", r)
		}
		s.hooks.analysis(model, time.Since(start).Seconds(), err)
	}()

	res, err = s.analyzer.Analyze(ctx, al)
	if err == nil && res == nil {
		err = errors.New("analyzer returned no result")
	}
	return res, err
}

// endRun publishes the interpretation, if any, and drops the in-flight count.
func (s *Service) endRun(in *Interpretation) {
	s.mu.Lock()
	if in != nil {
		s.state.Narrative = in.Narrative
		if in.ThreatProbability != nil {
			s.state.ThreatLevel = *in.ThreatProbability
		}
		// a blank script has nothing to play
		if in.HasVoiceScript && in.VoiceScript != "" {
			s.state.VoiceQueue = append(s.state.VoiceQueue, in.VoiceScript)
			if n := len(s.state.VoiceQueue); n > maxVoiceQueue {
				s.state.VoiceQueue = s.state.VoiceQueue[n-maxVoiceQueue:]
			}
		}
	}
	s.inFlight--
	s.state.Analyzing = s.inFlight > 0
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(StateEvent{Kind: StateEventState, State: &st})
}

func (s *Service) notify(ctx context.Context, L log.Logger, actionID string) {
	if s.notifier == nil {
		return
	}
	a, ok := s.ledger.Get(actionID)
	if !ok {
		return
	}
	if err := s.notifier.Notify(ctx, a); err != nil {
		L.Warn(ctx, "confirmation notification failed", "action_id", actionID, "err", err)
	}
}

// dispatchCalls hands voice-call requests to the dialer. Failures are logged
// and never touch the ledger.
func (s *Service) dispatchCalls(ctx context.Context, L log.Logger, in Interpretation) {
	if s.dialer == nil {
		return
	}
	for _, call := range in.Calls {
		if call.Name != analysis.CallTriggerVoiceCall {
			continue
		}
		phone, ok := call.StringArg("phone")
		if !ok {
			phone = s.phone
		}
		if phone == "" {
			L.Warn(ctx, "voice call requested without a phone number")
			continue
		}
		script, ok := call.StringArg("script")
		if !ok {
			script = in.VoiceScript
		}

		c, err := s.dialer.PlaceCall(ctx, phone, script)
		if err != nil {
			s.hooks.voiceCall(false, err)
			L.Error(ctx, err, "voice call failed", "phone", phone)
			continue
		}
		s.hooks.voiceCall(c.Simulated, nil)
		L.Info(ctx, "voice call placed", "call_id", c.ID, "simulated", c.Simulated)
	}
}

func (s *Service) snapshotLocked() State {
	st := s.state
	st.VoiceQueue = append([]string{}, s.state.VoiceQueue...)
	return st
}

func (s *Service) publish(ev StateEvent) {
	s.subMu.RLock()
	fns := make([]func(StateEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
