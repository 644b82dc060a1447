package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/bodyguard/internal/ledger"
	"github.com/linnemanlabs/bodyguard/internal/triage"
)

func TestClient_ListAlerts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/alerts" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"alerts":[{"id":"evt_001","alert":"brute force","attempts":45}]}`))
	}))
	defer srv.Close()

	alerts, err := New(srv.URL + "/").ListAlerts(context.Background())
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != "evt_001" || alerts[0].Attempts != 45 {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestClient_SubmitAlert(t *testing.T) {
	t.Parallel()

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"alert":{"id":"evt_1","alert":"x"},"task_id":"01TASK"}`))
	}))
	defer srv.Close()

	sub, err := New(srv.URL).SubmitAlert(context.Background(), []byte(`{"alert":"x"}`))
	if err != nil {
		t.Fatalf("SubmitAlert: %v", err)
	}
	if gotBody != `{"alert":"x"}` {
		t.Errorf("body = %q", gotBody)
	}
	if sub.TaskID != "01TASK" || sub.Alert.ID != "evt_1" {
		t.Errorf("submission = %+v", sub)
	}
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"json error with message", http.StatusBadRequest, `{"error":"Invalid JSON alert format","message":"unexpected EOF"}`, "Invalid JSON alert format: unexpected EOF"},
		{"json error", http.StatusNotFound, `{"error":"action not found"}`, "action not found"},
		{"plain text", http.StatusBadGateway, "upstream down\n", "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL).Confirm(context.Background(), "act_1")
			if !IsStatus(err, tt.status) {
				t.Fatalf("err = %v, want status %d", err, tt.status)
			}
			if apiErr := err.(*APIError); apiErr.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestClient_ConfirmDenyPaths(t *testing.T) {
	t.Parallel()

	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"act_1","type":"LOCK","status":"EXECUTED"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	a, err := c.Confirm(context.Background(), "act_1")
	if err != nil || a.Status != ledger.StatusExecuted {
		t.Fatalf("Confirm = %+v, %v", a, err)
	}
	if _, err := c.Deny(context.Background(), "act_2"); err != nil {
		t.Fatalf("Deny: %v", err)
	}

	want := []string{"POST /api/v1/actions/act_1/confirm", "POST /api/v1/actions/act_2/deny"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v", paths)
	}
}

func TestClient_WaitTask(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"id":"t1","status":"running"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"t1","status":"completed","action_ids":["act_1","act_2"]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := New(srv.URL).WaitTask(ctx, "t1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTask: %v", err)
	}
	if info.Status != triage.TaskCompleted || len(info.ActionIDs) != 2 {
		t.Errorf("info = %+v", info)
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", polls.Load())
	}
}
