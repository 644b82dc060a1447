package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

// Commands share package-level flag state, so these tests do not run in parallel.

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/alerts", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"alerts":[{"id":"evt_001","alert":"Brute force detected on admin console","location":"Lagos, NG","attempts":45,"timestamp":"2026-01-02T03:04:05Z"}]}`))
	})
	mux.HandleFunc("POST /api/v1/alerts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"alert":{"id":"evt_manual_1","alert":"x"},"task_id":"TASK1"}`))
	})
	mux.HandleFunc("POST /api/v1/alerts/{id}/process", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "evt_001" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"alert not found"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"alert_id":"evt_001","task_id":"TASK2"}`))
	})
	mux.HandleFunc("GET /api/v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"` + r.PathValue("id") + `","alert_id":"evt_001","status":"completed","action_ids":["act_2"],"started_at":"2026-01-02T03:04:05Z"}`))
	})
	mux.HandleFunc("GET /api/v1/actions", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"actions":[` +
			`{"id":"act_2","type":"LOCK","status":"CONSULTING","details":"Medium risk detected.","timestamp":"2026-01-02T03:04:06Z"},` +
			`{"id":"act_1","type":"ANALYSIS","status":"PENDING","details":"Starting deep reasoning","timestamp":"2026-01-02T03:04:05Z"}]}`))
	})
	mux.HandleFunc("POST /api/v1/actions/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "act_2":
			_, _ = w.Write([]byte(`{"id":"act_2","type":"LOCK","status":"EXECUTED","details":"User account locked per user confirmation."}`))
		case "act_1":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"action is not awaiting confirmation"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"action not found"}`))
		}
	})
	mux.HandleFunc("POST /api/v1/actions/{id}/deny", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"act_2","type":"LOCK","status":"FAILED","details":"Threat dismissed by user. No action taken."}`))
	})
	mux.HandleFunc("GET /api/v1/state", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"narrative":"Threat Probability: 95%","threat_level":95,"voice_queue":["call now"],"analyzing":false}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	submitWait = false
	pendingOnly = false

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestAlertsList(t *testing.T) {
	srv := fakeServer(t)
	out, err := run(t, srv, "alerts", "list")
	if err != nil {
		t.Fatalf("alerts list: %v", err)
	}
	for _, want := range []string{"ID", "evt_001", "Brute force detected", "Lagos, NG", "45"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAlertsSubmit_Wait(t *testing.T) {
	srv := fakeServer(t)
	out, err := run(t, srv, "alerts", "submit", "--wait", `{"alert":"x"}`)
	if err != nil {
		t.Fatalf("alerts submit: %v", err)
	}
	if !strings.Contains(out, "Submitted evt_manual_1 (task TASK1)") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "Task TASK1 completed") {
		t.Errorf("missing task line:\n%s", out)
	}
	if !strings.Contains(out, "LOCK") || strings.Contains(out, "Starting deep reasoning") {
		t.Errorf("expected only the task's actions:\n%s", out)
	}
}

func TestAlertsSubmit_Stdin(t *testing.T) {
	srv := fakeServer(t)
	rootCmd.SetIn(strings.NewReader(`{"alert":"from stdin"}`))
	defer rootCmd.SetIn(nil)

	out, err := run(t, srv, "alerts", "submit", "-")
	if err != nil {
		t.Fatalf("alerts submit -: %v", err)
	}
	if !strings.Contains(out, "Submitted evt_manual_1") {
		t.Errorf("output = %q", out)
	}
}

func TestAlertsProcess(t *testing.T) {
	srv := fakeServer(t)
	out, err := run(t, srv, "alerts", "process", "evt_001")
	if err != nil {
		t.Fatalf("alerts process: %v", err)
	}
	if !strings.Contains(out, "Processing evt_001 (task TASK2)") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, srv, "alerts", "process", "evt_missing"); err == nil {
		t.Error("expected error for unknown alert")
	}
}

func TestActionsList(t *testing.T) {
	srv := fakeServer(t)

	out, err := run(t, srv, "actions", "list")
	if err != nil {
		t.Fatalf("actions list: %v", err)
	}
	if !strings.Contains(out, "act_2") || !strings.Contains(out, "act_1") {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, srv, "actions", "list", "--consulting")
	if err != nil {
		t.Fatalf("actions list --consulting: %v", err)
	}
	if !strings.Contains(out, "act_2") || strings.Contains(out, "act_1") {
		t.Errorf("consulting filter output = %q", out)
	}
}

func TestActionsDecide(t *testing.T) {
	srv := fakeServer(t)

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{"confirm", []string{"actions", "confirm", "act_2"}, "act_2 LOCK -> EXECUTED", ""},
		{"deny", []string{"actions", "deny", "act_2"}, "act_2 LOCK -> FAILED", ""},
		{"conflict", []string{"actions", "confirm", "act_1"}, "", "not awaiting confirmation"},
		{"not found", []string{"actions", "confirm", "act_nope"}, "", "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, srv, tt.args...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestState(t *testing.T) {
	srv := fakeServer(t)
	out, err := run(t, srv, "state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	for _, want := range []string{"Threat level: 95%", "Voice queue:  1", "Threat Probability: 95%"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAlertsList_MultibyteColumns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"alerts":[{"id":"evt_009","alert":"Вход в консоль администратора с нового устройства","location":"Москва, Российская Федерация","attempts":3,"timestamp":"2026-01-02T03:04:05Z"}]}`))
	}))
	t.Cleanup(srv.Close)

	out, err := run(t, srv, "alerts", "list")
	if err != nil {
		t.Fatalf("alerts list: %v", err)
	}
	if !utf8.ValidString(out) {
		t.Errorf("output is not valid UTF-8:\n%s", out)
	}
	if !strings.Contains(out, "Москва, Российска...") {
		t.Errorf("location not cut on a rune boundary:\n%s", out)
	}
}
