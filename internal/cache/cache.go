// Package cache implements the response cache the executor consults before
// calling a source. Entries are keyed on (source, domain, filters) and
// expire by TTL tier.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/sells-group/fedprobe/internal/model"
)

// TTLTier buckets entries by how quickly the underlying data goes stale.
type TTLTier string

const (
	// TierFast is for volatile lookups (health, sanctions checks).
	TierFast TTLTier = "fast"
	// TierStandard is for routine domain queries.
	TierStandard TTLTier = "standard"
	// TierDurable is for slow-moving registries.
	TierDurable TTLTier = "durable"
)

// TTLs maps tiers to durations. Zero-value lookups fall back to defaults.
type TTLs struct {
	Fast     time.Duration
	Standard time.Duration
	Durable  time.Duration
}

// DefaultTTLs returns the default tier durations.
func DefaultTTLs() TTLs {
	return TTLs{
		Fast:     5 * time.Minute,
		Standard: time.Hour,
		Durable:  24 * time.Hour,
	}
}

// For returns the duration for a tier.
func (t TTLs) For(tier TTLTier) time.Duration {
	switch tier {
	case TierFast:
		if t.Fast > 0 {
			return t.Fast
		}
		return 5 * time.Minute
	case TierDurable:
		if t.Durable > 0 {
			return t.Durable
		}
		return 24 * time.Hour
	default:
		if t.Standard > 0 {
			return t.Standard
		}
		return time.Hour
	}
}

// Cache is the collaborator contract consumed by the federation executor.
type Cache interface {
	// Get returns the cached bytes for key, with ok=false on miss or expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val under key with the tier's TTL.
	Set(ctx context.Context, key string, val []byte, tier TTLTier) error
	// Close releases backend resources.
	Close() error
}

// Key builds the deterministic cache key for a source call.
func Key(sourceID string, domain model.Domain, filters model.IntentFilters) string {
	raw, _ := json.Marshal(struct {
		Source  string              `json:"source"`
		Domain  model.Domain        `json:"domain"`
		Filters model.IntentFilters `json:"filters"`
	}{sourceID, domain, filters})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
