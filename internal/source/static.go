package source

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/fedprobe/internal/model"
)

// StaticClient is a fixture-backed adapter used by tests and the demo
// catalog. Latency and failures are injectable so executor behavior
// (timeouts, breakers, racing) can be exercised deterministically.
type StaticClient struct {
	descriptor model.SourceDescriptor

	mu      sync.Mutex
	records map[model.Domain][]model.Record
	latency time.Duration
	err     error
	calls   int
}

// NewStatic creates a static client for the descriptor.
func NewStatic(d model.SourceDescriptor) *StaticClient {
	return &StaticClient{
		descriptor: d,
		records:    make(map[model.Domain][]model.Record),
	}
}

// WithRecords sets the fixture rows served for a domain.
func (s *StaticClient) WithRecords(domain model.Domain, records []model.Record) *StaticClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[domain] = records
	return s
}

// WithLatency makes every Fetch sleep before answering.
func (s *StaticClient) WithLatency(d time.Duration) *StaticClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
	return s
}

// WithError makes every Fetch fail with err. Pass nil to recover.
func (s *StaticClient) WithError(err error) *StaticClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Calls returns how many times Fetch ran to completion or failure. Calls
// abandoned during the latency sleep by cancellation still count.
func (s *StaticClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Capability implements Client.
func (s *StaticClient) Capability() model.SourceDescriptor {
	return s.descriptor
}

// Fetch implements Client. Filters are applied to the fixture rows the
// same way a real adapter would push them down to the provider.
func (s *StaticClient) Fetch(ctx context.Context, domain model.Domain, filters model.IntentFilters) ([]model.Record, error) {
	s.mu.Lock()
	s.calls++
	latency := s.latency
	err := s.err
	rows := s.records[domain]
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if err != nil {
		return nil, err
	}

	out := make([]model.Record, 0, len(rows))
	for _, rec := range rows {
		if matchFilters(rec, filters) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Health implements Client.
func (s *StaticClient) Health(_ context.Context) Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{Available: s.err == nil, LatencyHint: s.latency}
}

func matchFilters(rec model.Record, f model.IntentFilters) bool {
	if f.OrgRef != "" {
		if org := rec.StringField(model.FieldOrg); org != "" && org != f.OrgRef {
			return false
		}
	}
	if f.DateRange != nil {
		if t, ok := rec.TimeField(model.FieldSignedAt); ok && !f.DateRange.Contains(t) {
			return false
		}
	}
	if f.ValueRange != nil {
		if v, ok := rec.FloatField(model.FieldValueAmount); ok {
			if v < f.ValueRange.Min {
				return false
			}
			if f.ValueRange.Max > 0 && v > f.ValueRange.Max {
				return false
			}
		}
	}
	return true
}
