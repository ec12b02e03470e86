package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fedprobe/internal/model"
	"github.com/sells-group/fedprobe/internal/resilience"
)

// HTTPClient adapts an HTTP provider that exposes the common data API:
// GET {endpoint}/{domain} with filter query params, returning
// {"records": [...]}, and GET {endpoint}/health.
type HTTPClient struct {
	desc model.SourceDescriptor
	http *http.Client
}

// NewHTTP builds an adapter for a catalog entry with an endpoint.
func NewHTTP(desc model.SourceDescriptor, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		desc: desc,
		http: &http.Client{Timeout: timeout},
	}
}

// Capability returns the descriptor this adapter was built from.
func (c *HTTPClient) Capability() model.SourceDescriptor {
	return c.desc
}

// Fetch queries the provider for one domain. Transient provider trouble
// (5xx, 429) is wrapped so the retry layer can tell it from permanent
// failures.
func (c *HTTPClient) Fetch(ctx context.Context, domain model.Domain, filters model.IntentFilters) ([]model.Record, error) {
	u, err := url.Parse(c.desc.Endpoint)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse endpoint", c.desc.ID)
	}
	u = u.JoinPath(string(domain))

	q := u.Query()
	if filters.OrgRef != "" {
		q.Set("org", filters.OrgRef)
	}
	if filters.DateRange != nil {
		if !filters.DateRange.From.IsZero() {
			q.Set("from", filters.DateRange.From.Format(time.RFC3339))
		}
		if !filters.DateRange.To.IsZero() {
			q.Set("to", filters.DateRange.To.Format(time.RFC3339))
		}
	}
	if filters.ValueRange != nil {
		q.Set("min_value", strconv.FormatFloat(filters.ValueRange.Min, 'f', -1, 64))
		if filters.ValueRange.Max > 0 {
			q.Set("max_value", strconv.FormatFloat(filters.ValueRange.Max, 'f', -1, 64))
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: build request", c.desc.ID)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: fetch %s", c.desc.ID, domain)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("source %s: %s returned %d", c.desc.ID, domain, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var body struct {
		Records []model.Record `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, eris.Wrapf(err, "source %s: decode %s response", c.desc.ID, domain)
	}
	for i := range body.Records {
		if body.Records[i].Domain == "" {
			body.Records[i].Domain = domain
		}
	}
	return body.Records, nil
}

// Health probes the provider's health endpoint.
func (c *HTTPClient) Health(ctx context.Context) Health {
	u, err := url.Parse(c.desc.Endpoint)
	if err != nil {
		return Health{Available: false}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.JoinPath("health").String(), nil)
	if err != nil {
		return Health{Available: false}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Health{Available: false, LatencyHint: c.desc.BaseLatencyHint}
	}
	defer resp.Body.Close()

	return Health{
		Available:   resp.StatusCode == http.StatusOK,
		LatencyHint: time.Since(start),
	}
}
