package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/bodyguard/internal/alert"
)

func TestAnalyze_Success(t *testing.T) {
	t.Parallel()

	var got alert.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"text":"Threat Probability: 72%","functionCalls":[{"name":"rotate_security_keys","args":{"account_id":"acct-9"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	res, err := c.Analyze(context.Background(), &alert.Alert{ID: "evt_1", Alert: "Brute force", Attempts: 45})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.ID != "evt_1" || got.Attempts != 45 {
		t.Errorf("request alert = %+v", got)
	}
	if res.Text != "Threat Probability: 72%" {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.FunctionCalls) != 1 || res.FunctionCalls[0].Name != CallRotateSecurityKeys {
		t.Fatalf("calls = %+v", res.FunctionCalls)
	}
	if v, ok := res.FunctionCalls[0].StringArg("account_id"); !ok || v != "acct-9" {
		t.Errorf("account_id = %q, %v", v, ok)
	}
}

func TestAnalyze_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"Failed to analyze threat"}`, "returned 500"},
		{"not json", http.StatusOK, `<html>`, "unmarshal"},
		{"success false", http.StatusOK, `{"success":false,"message":"quota"}`, "reported failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Analyze(context.Background(), &alert.Alert{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestAnalyze_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	if _, err := NewClient(url).Analyze(context.Background(), &alert.Alert{}); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestStringArg(t *testing.T) {
	t.Parallel()

	c := FunctionCall{Name: "x", Args: map[string]any{"reason": "bad", "empty": "", "num": 3.0}}
	if v, ok := c.StringArg("reason"); !ok || v != "bad" {
		t.Errorf("reason = %q, %v", v, ok)
	}
	for _, k := range []string{"empty", "num", "missing"} {
		if _, ok := c.StringArg(k); ok {
			t.Errorf("StringArg(%q) ok = true, want false", k)
		}
	}
	var nilArgs FunctionCall
	if _, ok := nilArgs.StringArg("reason"); ok {
		t.Error("nil args should not yield a value")
	}
}
