// Package source defines the uniform client contract every data provider
// adapter implements. Concrete HTTP adapters for the individual government
// portals live outside this module; the executor only sees this interface.
package source

import (
	"context"
	"time"

	"github.com/sells-group/fedprobe/internal/model"
)

// Health is a provider's self-reported availability.
type Health struct {
	Available   bool          `json:"available"`
	LatencyHint time.Duration `json:"latency_hint"`
}

// Client is the adapter contract for one data provider.
type Client interface {
	// Capability describes what the provider can serve.
	Capability() model.SourceDescriptor

	// Fetch queries the provider for one domain under the given filters.
	// Adapters return provider rows mapped onto the well-known field keys;
	// call-level failures come back as errors, which the executor folds
	// into FederatedResult statuses.
	Fetch(ctx context.Context, domain model.Domain, filters model.IntentFilters) ([]model.Record, error)

	// Health probes the provider without fetching data.
	Health(ctx context.Context) Health
}

// Clients resolves source ids to adapter clients.
type Clients struct {
	byID map[string]Client
}

// NewClients builds a client set from the given adapters.
func NewClients(clients ...Client) *Clients {
	m := make(map[string]Client, len(clients))
	for _, c := range clients {
		m[c.Capability().ID] = c
	}
	return &Clients{byID: m}
}

// Get returns the client for the source id, or nil.
func (c *Clients) Get(sourceID string) Client {
	return c.byID[sourceID]
}

// Add registers an additional adapter.
func (c *Clients) Add(client Client) {
	c.byID[client.Capability().ID] = client
}
