package admin

import (
	"embed"
	"net/http"
)

// staticFS embeds the dashboard's single static page (SPEC_FULL.md §4.11).
// There is no build step: static/index.html fetches the JSON API directly.
//
//go:embed static/index.html
var staticFS embed.FS

// dashboardIndexHandler serves the embedded index.html at GET /dashboard/.
// This is plumbing so the JSON API is reachable from a browser during
// manual testing, not a UI deliverable.
func dashboardIndexHandler(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, staticFS, "static/index.html")
}
