package domain

import "time"

// Alert is a persisted transient notification produced by a fired rule.
type Alert struct {
	ID             string         `json:"id"`
	Account        string         `json:"account,omitempty"`
	Asset          string         `json:"asset,omitempty"`
	AlertType      string         `json:"alertType"`
	Severity       Severity       `json:"severity"`
	DedupKey       string         `json:"dedupKey"`
	Payload        map[string]any `json:"payload"`
	CreatedAt      time.Time      `json:"createdAt"`
	AcknowledgedAt *time.Time     `json:"acknowledgedAt,omitempty"`
}

// Flag is a persisted account-level risk marker. Creating a flag raises the
// referenced account's risk score by the severity's delta.
type Flag struct {
	ID         string         `json:"id"`
	Account    string         `json:"account"`
	FlagType   string         `json:"flagType"`
	Severity   Severity       `json:"severity"`
	Reason     string         `json:"reason"`
	DedupKey   string         `json:"dedupKey"`
	Evidence   map[string]any `json:"evidence"`
	CreatedAt  time.Time      `json:"createdAt"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
}
