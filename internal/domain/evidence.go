package domain

// Severity is the ordinal risk classification for a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// RiskDelta returns the risk-score increment applied to an account when a
// flag with this severity is created. Cumulative, capped at 100 by the sink.
func (s Severity) RiskDelta() float64 {
	switch s {
	case SeverityLow:
		return 10
	case SeverityMedium:
		return 25
	case SeverityHigh:
		return 50
	case SeverityCritical:
		return 75
	}
	return 0
}

// Kind determines which sink table receives a fired evidence record.
type Kind string

const (
	KindAlert Kind = "alert"
	KindFlag  Kind = "flag"
)

// EvidenceRecord is a rule's verdict for one real-world event. Records live
// for a single engine pass: they are deduplicated, optionally persisted, and
// discarded. A record with Fired=false is never persisted or deduplicated;
// it only feeds the run summary counters.
type EvidenceRecord struct {
	RuleName string
	Fired    bool
	Severity Severity
	Kind     Kind

	// Optional foreign references, also part of the dedup identity.
	Account string
	Asset   string

	// Evidence is the open payload a reviewer needs to judge the finding.
	Evidence map[string]any
	Message  string

	// Discriminators are the rule-specific dedup tuple. Two records
	// describing the same real-world event must carry identical
	// discriminators; distinct events must differ.
	Discriminators []string
}
