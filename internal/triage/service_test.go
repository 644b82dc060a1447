package triage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/bodyguard/internal/alert"
	"github.com/linnemanlabs/bodyguard/internal/analysis"
	"github.com/linnemanlabs/bodyguard/internal/ledger"
	"github.com/linnemanlabs/bodyguard/internal/voice"
)

type mockAnalyzer struct {
	fn func(ctx context.Context, al *alert.Alert) (*analysis.Result, error)
}

func (m *mockAnalyzer) Analyze(ctx context.Context, al *alert.Alert) (*analysis.Result, error) {
	return m.fn(ctx, al)
}

func textAnalyzer(text string, calls ...analysis.FunctionCall) *mockAnalyzer {
	return &mockAnalyzer{fn: func(context.Context, *alert.Alert) (*analysis.Result, error) {
		return &analysis.Result{Text: text, FunctionCalls: calls}, nil
	}}
}

type mockDialer struct {
	mu    sync.Mutex
	calls [][2]string
	err   error
}

func (m *mockDialer) PlaceCall(_ context.Context, phone, script string) (*voice.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, [2]string{phone, script})
	if m.err != nil {
		return nil, m.err
	}
	return &voice.Call{ID: "call_1", Phone: phone}, nil
}

type mockNotifier struct {
	mu      sync.Mutex
	actions []ledger.Action
}

func (m *mockNotifier) Notify(_ context.Context, a ledger.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, a)
	return nil
}

var brute = alert.Alert{ID: "evt_001", Alert: "Multiple failed login attempts", Location: "Moscow, RU", Attempts: 45}

func waitTask(t *testing.T, task *Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		t.Fatalf("task did not finish: %v", err)
	}
}

func TestProcessAlert_HighRiskWithVoiceScript(t *testing.T) {
	t.Parallel()

	l := ledger.New()
	svc := NewService(nil, l, Options{
		Analyzer: textAnalyzer("Threat Probability: 95%.\nAccount takeover likely.\n[VOICE_SCRIPT]\nThis is your bodyguard. Please call back."),
		Logger:   log.Nop(),
	})

	task := svc.ProcessAlert(context.Background(), brute)
	waitTask(t, task)

	actions := l.List()
	if len(actions) != 2 {
		t.Fatalf("actions = %+v, want 2", actions)
	}
	if actions[0].Type != ledger.TypeLock || actions[0].Status != ledger.StatusExecuted || actions[0].Details != DetailsHighRisk {
		t.Errorf("head = %+v", actions[0])
	}
	if actions[1].Type != ledger.TypeAnalysis || actions[1].Status != ledger.StatusPending ||
		actions[1].Details != "Starting deep reasoning for alert: Multiple failed login attempts" {
		t.Errorf("start entry = %+v", actions[1])
	}

	st := svc.State()
	if st.ThreatLevel != 95 {
		t.Errorf("threat level = %d, want 95", st.ThreatLevel)
	}
	if st.Narrative != "Threat Probability: 95%.\nAccount takeover likely." {
		t.Errorf("narrative = %q", st.Narrative)
	}
	if len(st.VoiceQueue) != 1 || st.VoiceQueue[0] != "This is your bodyguard. Please call back." {
		t.Errorf("voice queue = %q", st.VoiceQueue)
	}
	if st.Analyzing {
		t.Error("analyzing still set after completion")
	}
	if task.Status() != TaskCompleted || task.Err() != nil {
		t.Errorf("task = %s, %v", task.Status(), task.Err())
	}
	if info := task.Info(); len(info.ActionIDs) != 2 || info.CompletedAt == nil {
		t.Errorf("task info = %+v", info)
	}
}

func TestProcessAlert_MediumRiskThenConfirm(t *testing.T) {
	t.Parallel()

	l := ledger.New()
	n := &mockNotifier{}
	svc := NewService(nil, l, Options{Analyzer: textAnalyzer("Threat Probability: 72%"), Notifier: n})

	waitTask(t, svc.ProcessAlert(context.Background(), brute))

	head := l.List()[0]
	if head.Type != ledger.TypeLock || head.Status != ledger.StatusConsulting {
		t.Fatalf("head = %+v", head)
	}
	if len(n.actions) != 1 || n.actions[0].ID != head.ID {
		t.Errorf("notified = %+v", n.actions)
	}

	if _, err := svc.Confirm(context.Background(), head.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	a, _ := l.Get(head.ID)
	if a.Status != ledger.StatusExecuted || a.Details != "Account locked manually following AI recommendation." {
		t.Errorf("after confirm = %+v", a)
	}
}

func TestProcessAlert_ThreatLevelOnlyWhenFound(t *testing.T) {
	t.Parallel()

	texts := []string{"Threat Probability: 60%", "nothing measurable"}
	i := 0
	var mu sync.Mutex
	svc := NewService(nil, nil, Options{Analyzer: &mockAnalyzer{fn: func(context.Context, *alert.Alert) (*analysis.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		text := texts[i]
		i++
		return &analysis.Result{Text: text}, nil
	}}})

	waitTask(t, svc.ProcessAlert(context.Background(), brute))
	waitTask(t, svc.ProcessAlert(context.Background(), brute))

	st := svc.State()
	if st.ThreatLevel != 60 {
		t.Errorf("threat level = %d, want 60 kept from first run", st.ThreatLevel)
	}
	if st.Narrative != "nothing measurable" {
		t.Errorf("narrative = %q", st.Narrative)
	}
	head := svc.Actions()[0]
	if head.Type != ledger.TypeAnalysis || head.Details != DetailsLowRisk {
		t.Errorf("head = %+v", head)
	}
}

func TestProcessAlert_AnalyzerFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream 500")
	tests := []struct {
		name string
		fn   func(context.Context, *alert.Alert) (*analysis.Result, error)
	}{
		{"error", func(context.Context, *alert.Alert) (*analysis.Result, error) { return nil, boom }},
		{"panic", func(context.Context, *alert.Alert) (*analysis.Result, error) { panic("bad") }},
		{"nil result", func(context.Context, *alert.Alert) (*analysis.Result, error) { return nil, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := ledger.New()
			svc := NewService(nil, l, Options{Analyzer: &mockAnalyzer{fn: tt.fn}})

			task := svc.ProcessAlert(context.Background(), brute)
			waitTask(t, task)

			actions := l.List()
			if len(actions) != 2 {
				t.Fatalf("actions = %+v", actions)
			}
			if actions[0].Type != ledger.TypeAnalysis || actions[0].Status != ledger.StatusFailed || actions[0].Details != DetailsAnalysisErr {
				t.Errorf("head = %+v", actions[0])
			}
			if actions[1].Status != ledger.StatusPending {
				t.Errorf("start entry status = %s, want PENDING", actions[1].Status)
			}
			if task.Status() != TaskFailed || task.Err() == nil {
				t.Errorf("task = %s, %v", task.Status(), task.Err())
			}
			if svc.State().Analyzing {
				t.Error("analyzing still set")
			}
		})
	}
}

func TestProcessAlert_StartEntryBeforeReturn(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	l := ledger.New()
	svc := NewService(nil, l, Options{Analyzer: &mockAnalyzer{fn: func(context.Context, *alert.Alert) (*analysis.Result, error) {
		<-release
		return &analysis.Result{Text: "10%"}, nil
	}}})

	task := svc.ProcessAlert(context.Background(), brute)
	if l.Len() != 1 {
		t.Errorf("ledger len = %d right after ProcessAlert, want 1", l.Len())
	}
	if !svc.State().Analyzing {
		t.Error("analyzing not set while in flight")
	}
	if task.Status() != TaskRunning {
		t.Errorf("status = %s, want running", task.Status())
	}
	close(release)
	waitTask(t, task)
}

func TestProcessAlert_CallsDispatchedToDialer(t *testing.T) {
	t.Parallel()

	d := &mockDialer{}
	l := ledger.New()
	svc := NewService(nil, l, Options{
		Analyzer: textAnalyzer("Threat Probability: 20%\n[VOICE_SCRIPT]fallback script",
			analysis.FunctionCall{Name: analysis.CallTriggerVoiceCall, Args: map[string]any{"phone": "+15550100", "script": "hello"}},
			analysis.FunctionCall{Name: analysis.CallTriggerVoiceCall},
		),
		Dialer:       d,
		DefaultPhone: "+15550199",
	})

	waitTask(t, svc.ProcessAlert(context.Background(), brute))

	want := [][2]string{{"+15550100", "hello"}, {"+15550199", "fallback script"}}
	if len(d.calls) != len(want) {
		t.Fatalf("dialer calls = %v", d.calls)
	}
	for i := range want {
		if d.calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, d.calls[i], want[i])
		}
	}

	actions := l.List()
	if len(actions) != 3 || actions[0].Type != ledger.TypeVoiceCall || actions[0].Status != ledger.StatusConsulting {
		t.Errorf("actions = %+v", actions)
	}
}

func TestProcessAlert_DialerFailureLeavesLedger(t *testing.T) {
	t.Parallel()

	d := &mockDialer{err: errors.New("provider down")}
	l := ledger.New()
	svc := NewService(nil, l, Options{
		Analyzer: textAnalyzer("", analysis.FunctionCall{Name: analysis.CallTriggerVoiceCall, Args: map[string]any{"phone": "+1"}}),
		Dialer:   d,
	})

	task := svc.ProcessAlert(context.Background(), brute)
	waitTask(t, task)

	if task.Err() != nil {
		t.Errorf("task err = %v, want nil", task.Err())
	}
	if head := l.List()[0]; head.Status != ledger.StatusConsulting {
		t.Errorf("head = %+v", head)
	}
}

func TestSubmitManual(t *testing.T) {
	t.Parallel()

	feed := alert.NewFeed(alert.Seeds(time.Now())...)
	l := ledger.New()
	var got *alert.Alert
	svc := NewService(feed, l, Options{Analyzer: &mockAnalyzer{fn: func(_ context.Context, al *alert.Alert) (*analysis.Result, error) {
		got = al
		return &analysis.Result{Text: "Threat Probability: 5%"}, nil
	}}})

	al, task, err := svc.SubmitManual(context.Background(), []byte(`{"alert":"Token used from new ASN","location":"Lagos, NG","attempts":3}`))
	if err != nil {
		t.Fatalf("SubmitManual: %v", err)
	}
	waitTask(t, task)

	if !strings.HasPrefix(al.ID, "evt_") {
		t.Errorf("id = %q", al.ID)
	}
	if head := feed.List()[0]; head.ID != al.ID {
		t.Errorf("feed head = %q, want %q", head.ID, al.ID)
	}
	if got == nil || got.Alert != "Token used from new ASN" || got.Attempts != 3 {
		t.Errorf("analyzed alert = %+v", got)
	}
	if task.AlertID != al.ID {
		t.Errorf("task alert = %q", task.AlertID)
	}
}

func TestSubmitManual_InvalidJSON(t *testing.T) {
	t.Parallel()

	feed := alert.NewFeed(alert.Seeds(time.Now())...)
	l := ledger.New()
	called := false
	svc := NewService(feed, l, Options{Analyzer: &mockAnalyzer{fn: func(context.Context, *alert.Alert) (*analysis.Result, error) {
		called = true
		return &analysis.Result{}, nil
	}}})

	_, task, err := svc.SubmitManual(context.Background(), []byte(`{"alert": "oops"`))
	if !errors.Is(err, alert.ErrInvalidAlert) {
		t.Fatalf("err = %v, want ErrInvalidAlert", err)
	}
	if task != nil {
		t.Error("task returned for invalid input")
	}
	if feed.Len() != 2 || l.Len() != 0 || called {
		t.Errorf("state mutated: feed=%d ledger=%d called=%v", feed.Len(), l.Len(), called)
	}
}

func TestProcessAlertByID(t *testing.T) {
	t.Parallel()

	feed := alert.NewFeed(brute)
	svc := NewService(feed, nil, Options{Analyzer: textAnalyzer("ok")})

	task, err := svc.ProcessAlertByID(context.Background(), "evt_001")
	if err != nil {
		t.Fatalf("ProcessAlertByID: %v", err)
	}
	waitTask(t, task)
	if got, ok := svc.Task(task.ID); !ok || got != task {
		t.Error("task not retained")
	}

	if _, err := svc.ProcessAlertByID(context.Background(), "evt_nope"); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("err = %v, want alert.ErrNotFound", err)
	}
}

func TestSubscribe_ReceivesLedgerAndState(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, Options{Analyzer: textAnalyzer("Threat Probability: 91%")})

	var mu sync.Mutex
	var kinds []StateEventKind
	unsub := svc.Subscribe(func(ev StateEvent) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	defer unsub()

	waitTask(t, svc.ProcessAlert(context.Background(), brute))

	mu.Lock()
	defer mu.Unlock()
	var ledgerN, stateN int
	for _, k := range kinds {
		switch k {
		case StateEventLedger:
			ledgerN++
		case StateEventState:
			stateN++
		}
	}
	if ledgerN != 2 || stateN != 2 {
		t.Errorf("ledger events = %d, state events = %d, want 2 and 2", ledgerN, stateN)
	}
}

func TestNextVoiceScript(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, Options{Analyzer: textAnalyzer("x [VOICE_SCRIPT] say this")})
	if _, ok := svc.NextVoiceScript(); ok {
		t.Error("empty queue returned a script")
	}
	waitTask(t, svc.ProcessAlert(context.Background(), brute))

	script, ok := svc.NextVoiceScript()
	if !ok || script != "say this" {
		t.Errorf("script = %q, %v", script, ok)
	}
	if len(svc.State().VoiceQueue) != 0 {
		t.Error("queue not drained")
	}
}

func TestProcessAlert_EmptyVoiceScriptNotQueued(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, Options{Analyzer: textAnalyzer("Threat Probability: 95% [VOICE_SCRIPT]   ")})
	waitTask(t, svc.ProcessAlert(context.Background(), brute))

	if q := svc.State().VoiceQueue; len(q) != 0 {
		t.Errorf("voice queue = %q, want empty", q)
	}
	if _, ok := svc.NextVoiceScript(); ok {
		t.Error("blank script was queued")
	}
}

func TestTasks_FinishedEvictedOldestFirst(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var blockFirst sync.Once
	svc := NewService(nil, nil, Options{Analyzer: &mockAnalyzer{fn: func(context.Context, *alert.Alert) (*analysis.Result, error) {
		first := false
		blockFirst.Do(func() { first = true })
		if first {
			<-release
		}
		return &analysis.Result{Text: "Threat Probability: 10%"}, nil
	}}})
	svc.maxTasks = 2

	running := svc.ProcessAlert(context.Background(), brute)
	var done []*Task
	for i := 0; i < 3; i++ {
		task := svc.ProcessAlert(context.Background(), brute)
		waitTask(t, task)
		done = append(done, task)
	}
	// one more insert triggers eviction with all three finished
	last := svc.ProcessAlert(context.Background(), brute)
	waitTask(t, last)

	if _, ok := svc.Task(running.ID); !ok {
		t.Error("running task was evicted")
	}
	for i, task := range done {
		if _, ok := svc.Task(task.ID); ok {
			t.Errorf("finished task %d still retained", i)
		}
	}
	if _, ok := svc.Task(last.ID); !ok {
		t.Error("newest task was evicted")
	}

	close(release)
	waitTask(t, running)
}

func TestProcessAlert_Span(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	svc := NewService(nil, nil, Options{
		Analyzer:       &mockAnalyzer{fn: func(context.Context, *alert.Alert) (*analysis.Result, error) { return nil, errors.New("boom") }},
		TracerProvider: tp,
	})

	waitTask(t, svc.ProcessAlert(context.Background(), brute))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "triage.ProcessAlert" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected a recorded error event")
	}
}

func TestProcessAlert_Hooks(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var outcomes []string
	var actions []ledger.Status
	svc := NewService(nil, nil, Options{
		Analyzer: textAnalyzer("Threat Probability: 55%"),
		Hooks: Hooks{
			OnComplete: func(outcome string, _ float64, _ int) {
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			},
			OnAction: func(_ ledger.Type, st ledger.Status) {
				mu.Lock()
				actions = append(actions, st)
				mu.Unlock()
			},
		},
	})

	waitTask(t, svc.ProcessAlert(context.Background(), brute))

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 1 || outcomes[0] != "completed" {
		t.Errorf("outcomes = %v", outcomes)
	}
	if len(actions) != 2 || actions[0] != ledger.StatusPending || actions[1] != ledger.StatusConsulting {
		t.Errorf("actions = %v", actions)
	}
}

func TestNewService_NilAnalyzerPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewService(nil, nil, Options{})
}
