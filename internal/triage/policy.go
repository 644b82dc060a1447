package triage

import (
	"fmt"
	"math"
	"strconv"

	"github.com/linnemanlabs/bodyguard/internal/analysis"
	"github.com/linnemanlabs/bodyguard/internal/ledger"
)

// Risk thresholds, inclusive on both ends of the medium band.
const (
	MediumRiskMin = 50
	MediumRiskMax = 90
)

const defaultLockReason = "Critical security threat"

// Ledger details written by the policy.
const (
	DetailsMediumRisk  = "Medium risk detected. Recommendation: Lock account. Awaiting user confirmation."
	DetailsHighRisk    = "High risk detected (>90%). Automatic lock engaged for safety."
	DetailsLowRisk     = "Analysis complete. Low risk detected, system remains in monitor mode."
	DetailsVoiceCall   = "Outbound interdiction call initiated. Awaiting user voice/UI confirmation."
	DetailsAnalysisErr = "Security analysis engine encountered an error."
)

// Decision is one action the policy wants appended to the ledger.
type Decision struct {
	Type    ledger.Type
	Status  ledger.Status
	Details string
}

// Decide maps an interpretation to ledger actions. Structured calls take
// precedence; only when there are none does the probability decide. Unknown
// call names produce nothing.
func Decide(in Interpretation) []Decision {
	if len(in.Calls) > 0 {
		out := make([]Decision, 0, len(in.Calls))
		for _, call := range in.Calls {
			if d, ok := decideCall(call); ok {
				out = append(out, d)
			}
		}
		return out
	}

	p := in.Probability()
	switch {
	case p > MediumRiskMax:
		return []Decision{{ledger.TypeLock, ledger.StatusExecuted, DetailsHighRisk}}
	case p >= MediumRiskMin:
		return []Decision{{ledger.TypeLock, ledger.StatusConsulting, DetailsMediumRisk}}
	default:
		return []Decision{{ledger.TypeAnalysis, ledger.StatusExecuted, DetailsLowRisk}}
	}
}

func decideCall(call analysis.FunctionCall) (Decision, bool) {
	switch call.Name {
	case analysis.CallLockUserAccount:
		reason, ok := call.StringArg("reason")
		if !ok {
			reason = defaultLockReason
		}
		return Decision{ledger.TypeLock, ledger.StatusExecuted, "Account locked automatically. Reason: " + reason}, true

	case analysis.CallRotateSecurityKeys:
		return Decision{ledger.TypeRotate, ledger.StatusExecuted, "API keys rotated for account " + accountID(call.Args["account_id"])}, true

	case analysis.CallTriggerVoiceCall:
		return Decision{ledger.TypeVoiceCall, ledger.StatusConsulting, DetailsVoiceCall}, true

	default:
		return Decision{}, false
	}
}

// accountID renders a decoded JSON value. Whole numbers never use exponent form.
func accountID(v any) string {
	switch id := v.(type) {
	case nil:
		return "unknown"
	case float64:
		if id == math.Trunc(id) && !math.IsInf(id, 0) {
			return strconv.FormatFloat(id, 'f', -1, 64)
		}
		return fmt.Sprint(id)
	default:
		return fmt.Sprint(id)
	}
}
