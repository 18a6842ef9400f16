package sites

import (
	"mangago/downloader"
)

// init() is called automatically when the package is imported
// This registers all site constructors with the downloader
func init() {
	downloader.RegisterSite("mangago.me", func(deps downloader.SiteDeps) downloader.SitePlugin {
		return NewMangago(deps.Config, deps.Client, deps.Log)
	})
	downloader.RegisterSite("mangago.zone", func(deps downloader.SiteDeps) downloader.SitePlugin {
		return NewMangago(deps.Config, deps.Client, deps.Log)
	})

	// Add new sites here in the future:
	// downloader.RegisterSite("newsite.com", NewsiteFactory)
}
