package model

import "time"

// Tier ranks a source's authoritativeness. Higher wins field conflicts.
type Tier int

const (
	// TierOpenData covers municipal and state open data portals.
	TierOpenData Tier = 1
	// TierStateAudit covers state audit courts (TCEs).
	TierStateAudit Tier = 2
	// TierFederal covers federal registries and the federal audit court.
	TierFederal Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierFederal:
		return "federal"
	case TierStateAudit:
		return "state_audit"
	case TierOpenData:
		return "open_data"
	default:
		return "unknown"
	}
}

// SourceDescriptor describes a registered data provider's capabilities.
// Loaded at startup from the source catalog; rarely mutated after.
type SourceDescriptor struct {
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	Capabilities    []Domain      `json:"capabilities" yaml:"capabilities"`
	Tier            Tier          `json:"tier" yaml:"tier"`
	RateLimit       float64       `json:"rate_limit" yaml:"rate_limit"` // requests per second, 0 = unlimited
	BaseLatencyHint time.Duration `json:"base_latency_hint" yaml:"base_latency_hint"`
	Endpoint        string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"` // base URL for HTTP providers
}

// Serves reports whether the source can answer queries for the domain.
func (d SourceDescriptor) Serves(domain Domain) bool {
	for _, c := range d.Capabilities {
		if c == domain {
			return true
		}
	}
	return false
}
