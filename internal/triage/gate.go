package triage

import (
	"context"
	"errors"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/bodyguard/internal/ledger"
)

// ErrNotConsulting is returned when a decision targets an action that is not
// awaiting confirmation. The action is left unchanged.
var ErrNotConsulting = errors.New("action is not awaiting confirmation")

// DetailsDismissed is written when the user denies an action.
const DetailsDismissed = "Threat dismissed by user. No action taken."

var confirmDetails = map[ledger.Type]string{
	ledger.TypeLock:      "Account locked manually following AI recommendation.",
	ledger.TypeRotate:    "API keys rotated following AI recommendation.",
	ledger.TypeVoiceCall: "Interdiction call confirmed and completed.",
	ledger.TypeAnalysis:  "Analysis accepted.",
}

// ConfirmDetails returns the ledger details written when an action of type
// typ is confirmed.
func ConfirmDetails(typ ledger.Type) string {
	return confirmDetails[typ]
}

// Gate resolves CONSULTING actions on an explicit human decision.
type Gate struct {
	ledger *ledger.Ledger
	logger log.Logger
	hooks  Hooks
}

// NewGate creates a gate over l.
func NewGate(l *ledger.Ledger, logger log.Logger, hooks Hooks) *Gate {
	if logger == nil {
		logger = log.Nop()
	}
	return &Gate{ledger: l, logger: logger, hooks: hooks}
}

// Confirm moves a CONSULTING action to EXECUTED.
func (g *Gate) Confirm(ctx context.Context, id string) (ledger.Action, error) {
	return g.resolve(ctx, id, "confirm", func(cur ledger.Action) (ledger.Status, string) {
		return ledger.StatusExecuted, ConfirmDetails(cur.Type)
	})
}

// Deny moves a CONSULTING action to FAILED.
func (g *Gate) Deny(ctx context.Context, id string) (ledger.Action, error) {
	return g.resolve(ctx, id, "deny", func(ledger.Action) (ledger.Status, string) {
		return ledger.StatusFailed, DetailsDismissed
	})
}

func (g *Gate) resolve(ctx context.Context, id, decision string, next func(ledger.Action) (ledger.Status, string)) (ledger.Action, error) {
	var out ledger.Action
	err := g.ledger.Transition(id, func(cur ledger.Action) (ledger.Status, string, error) {
		out = cur
		if cur.Status != ledger.StatusConsulting {
			return "", "", ErrNotConsulting
		}
		status, details := next(cur)
		out.Status = status
		if details != "" {
			out.Details = details
		}
		return status, details, nil
	})

	L := g.logger.With("action_id", id, "decision", decision)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		L.Warn(ctx, "decision for unknown action ignored")
		g.hooks.gateDecision(decision, "", "not_found")
		return ledger.Action{}, err
	case errors.Is(err, ErrNotConsulting):
		L.Warn(ctx, "decision for action not awaiting confirmation ignored", "status", out.Status)
		g.hooks.gateDecision(decision, out.Type, "not_consulting")
		return out, err
	case err != nil:
		return ledger.Action{}, err
	}

	L.Info(ctx, "action resolved", "type", out.Type, "status", out.Status)
	g.hooks.gateDecision(decision, out.Type, "applied")
	return out, nil
}
