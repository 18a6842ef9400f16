package downloader

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"mangago/config"
)

// SiteDeps are the shared services handed to a site constructor.
type SiteDeps struct {
	Config *config.Config
	Client *HTTPClient
	Log    *zap.Logger
}

// SiteFactory builds a site plugin from the shared services.
type SiteFactory func(SiteDeps) SitePlugin

// registeredSites maps site domains to their constructors
var registeredSites = make(map[string]SiteFactory)

// RegisterSite registers a site constructor for a domain.
// This should be called during initialization by each site package
func RegisterSite(domain string, factory SiteFactory) {
	registeredSites[strings.ToLower(domain)] = factory
}

// LookupSite returns the plugin serving chapterURL. Subdomains of a
// registered domain match too.
func LookupSite(chapterURL string, deps SiteDeps) (SitePlugin, error) {
	u, err := url.Parse(chapterURL)
	if err != nil {
		return nil, fmt.Errorf("invalid chapter url %q: %w", chapterURL, err)
	}

	host := strings.ToLower(u.Hostname())
	for domain, factory := range registeredSites {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return factory(deps), nil
		}
	}
	return nil, fmt.Errorf("download not supported for site: %s", host)
}

// RegisteredDomains lists the domains with a registered site.
func RegisteredDomains() []string {
	domains := make([]string, 0, len(registeredSites))
	for domain := range registeredSites {
		domains = append(domains, domain)
	}
	return domains
}
