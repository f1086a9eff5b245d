package source

import "bytes"

// spaIndicators mark client-rendered shells: the markup is only a mount
// point and the tables arrive via JS.
var spaIndicators = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	"<noscript>you need to enable javascript",
	"<noscript>enable javascript",
}

// Sufficient reports whether fetched HTML already carries a usable report,
// meaning the browser path is unnecessary. A usable report has at least one
// table with a header row and a data row, and is not an SPA shell.
//
// Unlike generic content heuristics, text-to-markup ratio is useless here:
// a real report table is almost all markup.
func Sufficient(body []byte) bool {
	if len(body) < 256 {
		return false
	}
	lower := bytes.ToLower(body)

	if !bytes.Contains(lower, []byte("<table")) {
		return false
	}
	// A header row alone is a shell the page fills in later.
	if bytes.Count(lower, []byte("<tr")) < 2 {
		return false
	}
	for _, ind := range spaIndicators {
		if bytes.Contains(lower, []byte(ind)) {
			return false
		}
	}
	return true
}
