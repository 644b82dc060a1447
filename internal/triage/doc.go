// Package triage is the response-interpretation and action layer. It turns an
// analysis result (free text plus structured calls) into ledger actions,
// gates medium-risk actions behind a human decision, and drives each alert
// through analyze, interpret, decide and append.
package triage
