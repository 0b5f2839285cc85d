package offline

import (
	"net/http"
	"net/url"
	"strings"
)

const StrategyCacheFirst = "cache-first"

// ShellRoutes are pre-cached when the service worker installs.
var ShellRoutes = []string{
	"/",
	"/signin",
	"/hotel/dashboard",
	"/hotel/report-food",
	"/agent/dashboard",
	"/admin/dashboard",
	"/offline",
	"/manifest.json",
}

type Manifest struct {
	Version        string   `json:"version"`
	CacheName      string   `json:"cache_name"`
	Routes         []string `json:"routes"`
	Strategy       string   `json:"strategy"`
	SameOriginOnly bool     `json:"sameOriginOnly"`
}

func NewManifest(version string) Manifest {
	if version == "" {
		version = "v1"
	}
	routes := make([]string, len(ShellRoutes))
	copy(routes, ShellRoutes)
	return Manifest{
		Version:        version,
		CacheName:      "foodbridge-" + version,
		Routes:         routes,
		Strategy:       StrategyCacheFirst,
		SameOriginOnly: true,
	}
}

// Cacheable reports whether a fetch may be answered from the cache: only
// GET requests to the page's own origin. API calls are never cached.
func Cacheable(origin, method, target string) bool {
	if method != http.MethodGet {
		return false
	}
	base, err := url.Parse(origin)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return false
	}
	ref, err := url.Parse(target)
	if err != nil {
		return false
	}
	resolved := base.ResolveReference(ref)
	if !strings.EqualFold(resolved.Scheme, base.Scheme) || !strings.EqualFold(resolved.Host, base.Host) {
		return false
	}
	return !strings.HasPrefix(resolved.Path, "/api/")
}
