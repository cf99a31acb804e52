// Package adapters provides platform-specific Fetcher adapters. Each
// platform integration in original_source lived in its own
// app.integrations.<platform> module exposing fetch_post_metrics(post_url);
// here every platform's adapter is a thin HTTPAdapter configured with that
// platform's metrics endpoint template, registered into a
// fetcher.AdapterRegistry at wiring time.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/P4R1H/affiliate-platform/internal/fetcher"
	httpclient "github.com/P4R1H/affiliate-platform/internal/shared/httpclient"
)

// metricsPayload is the wire shape every platform's stats endpoint is
// assumed to answer with: a flat JSON object with nullable counters.
type metricsPayload struct {
	Views       *int64 `json:"views"`
	Clicks      *int64 `json:"clicks"`
	Conversions *int64 `json:"conversions"`
}

// HTTPAdapter fetches a post's metrics from a REST endpoint templated on
// the post URL, used by every built-in platform integration.
type HTTPAdapter struct {
	Name          string
	Client        *http.Client
	EndpointForURL func(postURL string) (string, error)
}

// NewHTTPAdapter builds an adapter whose endpoint is
// baseURL + "/v1/posts/metrics?url=<post_url>", the convention every
// platform stub in this module follows; platforms with a genuinely
// different API shape can still satisfy fetcher.Adapter directly.
func NewHTTPAdapter(name, baseURL string, fetchTimeout time.Duration) *HTTPAdapter {
	client := httpclient.NewClient(httpclient.PlatformFetchClientConfig(fetchTimeout))
	return &HTTPAdapter{
		Name:   name,
		Client: client,
		EndpointForURL: func(postURL string) (string, error) {
			u, err := url.Parse(baseURL + "/v1/posts/metrics")
			if err != nil {
				return "", err
			}
			q := u.Query()
			q.Set("url", postURL)
			u.RawQuery = q.Encode()
			return u.String(), nil
		},
	}
}

func (a *HTTPAdapter) FetchPostMetrics(ctx context.Context, postURL string) (fetcher.Metrics, error) {
	endpoint, err := a.EndpointForURL(postURL)
	if err != nil {
		return fetcher.Metrics{}, fmt.Errorf("%s: building endpoint: %w", a.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fetcher.Metrics{}, fmt.Errorf("%s: building request: %w", a.Name, err)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return fetcher.Metrics{}, fmt.Errorf("%s: fetch error: %w", a.Name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode below
	case http.StatusTooManyRequests:
		return fetcher.Metrics{}, fmt.Errorf("%s: rate limit exceeded (status %d)", a.Name, resp.StatusCode)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fetcher.Metrics{}, fmt.Errorf("%s: auth error (status %d)", a.Name, resp.StatusCode)
	default:
		return fetcher.Metrics{}, fmt.Errorf("%s: unexpected status %d", a.Name, resp.StatusCode)
	}

	var payload metricsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fetcher.Metrics{}, fmt.Errorf("%s: decoding response: %w", a.Name, err)
	}

	return fetcher.Metrics{
		Views:       payload.Views,
		Clicks:      payload.Clicks,
		Conversions: payload.Conversions,
	}, nil
}
