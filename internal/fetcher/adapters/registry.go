package adapters

import (
	"time"

	"github.com/P4R1H/affiliate-platform/internal/fetcher"
)

// PlatformEndpoint is one entry in the static platform->base-URL map wired
// at startup, replacing original_source's dynamic
// `__import__(f"app.integrations.{platform_name}")` with an explicit
// registry (Go has no runtime module lookup by string).
type PlatformEndpoint struct {
	Platform string
	BaseURL  string
}

// BuildRegistry constructs an AdapterRegistry from a static endpoint list.
func BuildRegistry(endpoints []PlatformEndpoint, fetchTimeout time.Duration) fetcher.AdapterRegistry {
	registry := make(fetcher.AdapterRegistry, len(endpoints))
	for _, ep := range endpoints {
		registry[ep.Platform] = NewHTTPAdapter(ep.Platform, ep.BaseURL, fetchTimeout)
	}
	return registry
}
