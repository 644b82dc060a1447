package triage

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/linnemanlabs/bodyguard/internal/analysis"
)

// VoiceScriptMarker separates the narrative from the voice script.
const VoiceScriptMarker = "[VOICE_SCRIPT]"

var (
	threatProbabilityRe = regexp.MustCompile(`(?i)Threat Probability[:\s]*(\d+)%`)
	barePercentRe       = regexp.MustCompile(`(\d+)%`)
)

// Interpretation is the parsed form of one analysis result.
type Interpretation struct {
	Narrative string
	// ThreatProbability is nil when no percentage was found.
	ThreatProbability *int
	VoiceScript       string
	// HasVoiceScript is true when the marker was present, even if the
	// script after it is empty.
	HasVoiceScript bool
	Calls          []analysis.FunctionCall
}

// Probability returns the threat probability, 0 when absent.
func (in Interpretation) Probability() int {
	if in.ThreatProbability == nil {
		return 0
	}
	return *in.ThreatProbability
}

// Interpret splits text on VoiceScriptMarker and extracts the threat
// probability. It never fails: anything it cannot find is left absent.
func Interpret(text string, calls []analysis.FunctionCall) Interpretation {
	parts := strings.Split(text, VoiceScriptMarker)

	in := Interpretation{
		Narrative: strings.TrimSpace(parts[0]),
		Calls:     calls,
	}

	if len(parts) > 1 {
		in.VoiceScript = strings.TrimSpace(parts[1])
		in.HasVoiceScript = true
	}

	m := threatProbabilityRe.FindStringSubmatch(text)
	if m == nil {
		m = barePercentRe.FindStringSubmatch(in.Narrative)
	}
	if m != nil {
		if p, err := strconv.Atoi(m[1]); err == nil {
			in.ThreatProbability = &p
		}
	}

	return in
}
