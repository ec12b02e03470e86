package model

// Severity grades how serious a finding is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FindingType classifies an anomaly finding.
type FindingType string

const (
	FindingPriceDeviation      FindingType = "price_deviation"
	FindingTemporalPattern     FindingType = "temporal_pattern"
	FindingVendorConcentration FindingType = "vendor_concentration"
	FindingBenfordViolation    FindingType = "benford_violation"
	FindingDuplicateContract   FindingType = "duplicate_contract"
)

// AnomalyFinding is one flagged irregularity over aggregated records.
// Findings reference records by identity key and never mutate them.
type AnomalyFinding struct {
	Type             FindingType    `json:"type"`
	Severity         Severity       `json:"severity"`
	Confidence       float64        `json:"confidence"` // 0..1
	AffectedRecords  []string       `json:"affected_records"`
	Explanation      string         `json:"explanation"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// NetworkType classifies a suspicious network.
type NetworkType string

const (
	NetworkCartel          NetworkType = "cartel"
	NetworkNepotism        NetworkType = "nepotism"
	NetworkMoneyLaundering NetworkType = "money_laundering"
)

// SuspiciousNetwork is a group of entities flagged by the fraud engine.
type SuspiciousNetwork struct {
	MemberNodeIDs   []string    `json:"member_node_ids"`
	Type            NetworkType `json:"network_type"`
	Severity        Severity    `json:"severity"`
	Confidence      float64     `json:"confidence"`
	DetectionMethod string      `json:"detection_method"`
}
