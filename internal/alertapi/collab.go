package alertapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/linnemanlabs/bodyguard/internal/alert"
	"github.com/linnemanlabs/bodyguard/internal/analysis"
	"github.com/linnemanlabs/bodyguard/internal/voice"
)

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if a.collab.Analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer not configured")
		return
	}

	var al alert.Alert
	if err := json.NewDecoder(r.Body).Decode(&al); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := a.collab.Analyzer.Analyze(r.Context(), &al)
	if err != nil {
		a.logger.Error(r.Context(), err, "threat analysis failed", "alert_id", al.ID)
		writeJSON(w, http.StatusInternalServerError, analysis.Response{
			Error:   "Failed to analyze threat",
			Message: err.Error(),
		})
		return
	}

	calls := res.FunctionCalls
	if calls == nil {
		calls = []analysis.FunctionCall{}
	}
	writeJSON(w, http.StatusOK, analysis.Response{
		Success:       true,
		Text:          res.Text,
		FunctionCalls: calls,
	})
}

type voiceCallRequest struct {
	Phone  string `json:"phone"`
	Script string `json:"script"`
}

type voiceCallResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	CallID  string `json:"callId"`
	Phone   string `json:"phone"`
}

func (a *API) handleVoiceCall(w http.ResponseWriter, r *http.Request) {
	if a.collab.Dialer == nil {
		writeError(w, http.StatusServiceUnavailable, "voice calls not configured")
		return
	}

	var req voiceCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	call, err := a.collab.Dialer.PlaceCall(r.Context(), req.Phone, req.Script)
	if err != nil {
		if errors.Is(err, voice.ErrMissingPhone) {
			writeError(w, http.StatusBadRequest, "Missing required field: phone")
			return
		}
		a.logger.Error(r.Context(), err, "voice call failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to trigger voice call",
			"message": err.Error(),
		})
		return
	}

	msg := "Voice call initiated successfully"
	if call.Simulated {
		msg = "Voice call simulated (API key not configured)"
	}
	writeJSON(w, http.StatusOK, voiceCallResponse{
		Success: true,
		Message: msg,
		CallID:  call.ID,
		Phone:   call.Phone,
	})
}

type datadogPayload struct {
	ID                  string `json:"id"`
	Alert               string `json:"alert"`
	Location            string `json:"location"`
	UserCurrentLocation string `json:"user_current_location"`
	Attempts            int    `json:"attempts"`
}

func (a *API) handleDatadogWebhook(w http.ResponseWriter, r *http.Request) {
	var p datadogPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if p.Alert == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: alert")
		return
	}
	if p.Attempts < 0 {
		writeError(w, http.StatusBadRequest, "attempts must be >= 0")
		return
	}

	now := time.Now().UTC()
	id := p.ID
	if id == "" {
		id = fmt.Sprintf("alert_%d", now.UnixMilli())
	}

	added := a.svc.RecordAlert(alert.Alert{
		ID:                  id,
		Alert:               p.Alert,
		Location:            p.Location,
		UserCurrentLocation: p.UserCurrentLocation,
		Attempts:            p.Attempts,
		Timestamp:           now,
	})
	a.logger.Info(r.Context(), "datadog alert received", "alert_id", id, "new", added)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Alert received and queued for analysis",
		"alertId": id,
	})
}
