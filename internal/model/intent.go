// Package model defines the shared data shapes of the federation core:
// intents, execution plans, federated results, aggregated records, findings,
// and the investigation envelope that ties them together.
package model

import "time"

// IntentType classifies what kind of investigation the caller asked for.
type IntentType string

const (
	IntentAnomalyScan     IntentType = "anomaly_scan"
	IntentContractSearch  IntentType = "contract_search"
	IntentSupplierProfile IntentType = "supplier_profile"
	IntentNetworkAnalysis IntentType = "network_analysis"
	IntentSpendingTrend   IntentType = "spending_trend"
)

// Intent is the structured output of the (external) NLU front-end. It is
// immutable input as far as this module is concerned.
type Intent struct {
	Type       IntentType    `json:"type"`
	Confidence float64       `json:"confidence"`
	Filters    IntentFilters `json:"filters"`
}

// IntentFilters narrows the scope of an investigation.
type IntentFilters struct {
	Domain     Domain      `json:"domain,omitempty"`
	DateRange  *DateRange  `json:"date_range,omitempty"`
	OrgRef     string      `json:"org_ref,omitempty"`
	ValueRange *ValueRange `json:"value_range,omitempty"`
}

// DateRange bounds an investigation in time. Zero values mean unbounded.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// ValueRange bounds monetary values. A zero Max means unbounded above.
type ValueRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Domain identifies a class of government data a source can serve.
type Domain string

const (
	DomainContracts   Domain = "contracts"
	DomainSuppliers   Domain = "suppliers"
	DomainServants    Domain = "servants"
	DomainSanctions   Domain = "sanctions"
	DomainBiddings    Domain = "biddings"
	DomainTransfers   Domain = "transfers"
	DomainOrgRegistry Domain = "org_registry"
	DomainExpenses    Domain = "expenses"
)
