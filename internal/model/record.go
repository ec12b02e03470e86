package model

import "time"

// ResultStatus is the outcome of a single source call.
type ResultStatus string

const (
	StatusOK          ResultStatus = "OK"
	StatusError       ResultStatus = "ERROR"
	StatusTimeout     ResultStatus = "TIMEOUT"
	StatusCircuitOpen ResultStatus = "CIRCUIT_OPEN"
)

// Well-known record field keys shared between providers and the detection
// engines. Providers map their native schemas onto these before returning.
const (
	FieldContractNumber = "contract_number"
	FieldOrg            = "org"
	FieldSupplier       = "supplier"
	FieldSupplierTaxID  = "supplier_tax_id"
	FieldValueAmount    = "value_amount"
	FieldSignedAt       = "signed_at"
	FieldYear           = "year"
	FieldDescription    = "description"
	FieldAddress        = "address"
	FieldRegistration   = "registration_number"
	FieldBiddingID      = "bidding_id"
	FieldDecisionMaker  = "decision_maker"
	FieldPersonName     = "person_name"
	FieldFamilyOf       = "family_of"
	FieldSubcontractor  = "subcontractor"
	FieldTransferFrom   = "transfer_from"
	FieldTransferTo     = "transfer_to"
	FieldTransferAt     = "transfer_at"
)

// Record is one raw row returned by a provider, already mapped to the
// well-known field keys above.
type Record struct {
	Domain Domain         `json:"domain"`
	Fields map[string]any `json:"fields"`
}

// StringField returns the field as a string, or "" when absent.
func (r Record) StringField(key string) string {
	if v, ok := r.Fields[key].(string); ok {
		return v
	}
	return ""
}

// FloatField returns the field as a float64 when it carries a numeric type.
func (r Record) FloatField(key string) (float64, bool) {
	switch v := r.Fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// TimeField returns the field as a time.Time when it is one, or when it is
// an RFC 3339 string.
func (r Record) TimeField(key string) (time.Time, bool) {
	switch v := r.Fields[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FederatedResult is the outcome of one source call within a stage.
// Ephemeral: consumed by the aggregator and then discarded.
type FederatedResult struct {
	SourceID string        `json:"source_id"`
	Tier     Tier          `json:"tier"`
	Status   ResultStatus  `json:"status"`
	Records  []Record      `json:"records,omitempty"`
	Err      string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// FieldValue is a merged field inside an AggregatedRecord, tagged with the
// source that won the tier-priority resolution.
type FieldValue struct {
	Value    any    `json:"value"`
	SourceID string `json:"source_id"`
	Tier     Tier   `json:"tier"`
}

// AggregatedRecord is a deduplicated record merged from one or more sources.
// IdentityKey is deterministic: identical inputs always produce the same key
// and the same merged field set.
type AggregatedRecord struct {
	IdentityKey string                `json:"identity_key"`
	Domain      Domain                `json:"domain"`
	Fields      map[string]FieldValue `json:"fields"`
	Provenance  []string              `json:"provenance"` // sorted, unique source ids
}

// StringField returns the merged field as a string, or "" when absent.
func (r AggregatedRecord) StringField(key string) string {
	if v, ok := r.Fields[key].Value.(string); ok {
		return v
	}
	return ""
}

// FloatField returns the merged field as a float64 when numeric.
func (r AggregatedRecord) FloatField(key string) (float64, bool) {
	switch v := r.Fields[key].Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// TimeField returns the merged field as a time.Time when possible.
func (r AggregatedRecord) TimeField(key string) (time.Time, bool) {
	switch v := r.Fields[key].Value.(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
