package triage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/bodyguard/internal/ledger"
)

// Hooks are optional callbacks fired by the service and gate. Nil fields are
// skipped.
type Hooks struct {
	OnAnalysis     func(model string, duration float64, err error)
	OnComplete     func(outcome string, duration float64, actions int)
	OnAction       func(typ ledger.Type, status ledger.Status)
	OnGateDecision func(decision string, typ ledger.Type, result string)
	OnVoiceCall    func(simulated bool, err error)
	OnSubmit       func(result string)
}

func (h Hooks) analysis(model string, duration float64, err error) {
	if h.OnAnalysis != nil {
		h.OnAnalysis(model, duration, err)
	}
}

func (h Hooks) complete(outcome string, duration float64, actions int) {
	if h.OnComplete != nil {
		h.OnComplete(outcome, duration, actions)
	}
}

func (h Hooks) action(typ ledger.Type, status ledger.Status) {
	if h.OnAction != nil {
		h.OnAction(typ, status)
	}
}

func (h Hooks) gateDecision(decision string, typ ledger.Type, result string) {
	if h.OnGateDecision != nil {
		h.OnGateDecision(decision, typ, result)
	}
}

func (h Hooks) voiceCall(simulated bool, err error) {
	if h.OnVoiceCall != nil {
		h.OnVoiceCall(simulated, err)
	}
}

func (h Hooks) submit(result string) {
	if h.OnSubmit != nil {
		h.OnSubmit(result)
	}
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	AlertsTotal      *prometheus.CounterVec
	AlertDuration    *prometheus.HistogramVec
	AlertActions     prometheus.Histogram
	AnalysisTotal    *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	ActionsTotal     *prometheus.CounterVec
	GateDecisions    *prometheus.CounterVec
	VoiceCallsTotal  *prometheus.CounterVec
	SubmitsTotal     *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bodyguard_alerts_processed_total",
			Help: "Total alerts processed by outcome.",
		}, []string{"outcome"}),
		AlertDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bodyguard_alert_duration_seconds",
			Help:    "Duration of alert processing in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"outcome"}),
		AlertActions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bodyguard_alert_actions",
			Help:    "Ledger actions appended per processed alert.",
			Buckets: prometheus.LinearBuckets(0, 1, 8), // 0 .. 7
		}),
		AnalysisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bodyguard_analysis_calls_total",
			Help: "Total analysis calls by model and status.",
		}, []string{"model", "status"}),
		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bodyguard_analysis_duration_seconds",
			Help:    "Duration of analysis calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"model"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bodyguard_actions_total",
			Help: "Total ledger actions appended by type and status.",
		}, []string{"type", "status"}),
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bodyguard_gate_decisions_total",
			Help: "Total confirm/deny decisions by action type and result.",
		}, []string{"decision", "type", "result"}),
		VoiceCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bodyguard_voice_calls_total",
			Help: "Total voice calls dispatched by mode and status.",
		}, []string{"mode", "status"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bodyguard_submits_total",
			Help: "Total manual alert submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.AlertsTotal,
		m.AlertDuration,
		m.AlertActions,
		m.AnalysisTotal,
		m.AnalysisDuration,
		m.ActionsTotal,
		m.GateDecisions,
		m.VoiceCallsTotal,
		m.SubmitsTotal,
	)

	return m
}

// Hooks returns Hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnAnalysis: func(model string, duration float64, err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.AnalysisTotal.WithLabelValues(model, status).Inc()
			m.AnalysisDuration.WithLabelValues(model).Observe(duration)
		},
		OnComplete: func(outcome string, duration float64, actions int) {
			m.AlertsTotal.WithLabelValues(outcome).Inc()
			m.AlertDuration.WithLabelValues(outcome).Observe(duration)
			m.AlertActions.Observe(float64(actions))
		},
		OnAction: func(typ ledger.Type, status ledger.Status) {
			m.ActionsTotal.WithLabelValues(string(typ), string(status)).Inc()
		},
		OnGateDecision: func(decision string, typ ledger.Type, result string) {
			m.GateDecisions.WithLabelValues(decision, string(typ), result).Inc()
		},
		OnVoiceCall: func(simulated bool, err error) {
			mode := "live"
			if simulated {
				mode = "simulated"
			}
			status := "success"
			if err != nil {
				status = "error"
			}
			m.VoiceCallsTotal.WithLabelValues(mode, status).Inc()
		},
		OnSubmit: func(result string) {
			m.SubmitsTotal.WithLabelValues(result).Inc()
		},
	}
}
