package batch

import glob "github.com/ryanuber/go-glob"

// MatchesFilters reports whether relPath (slash-separated, relative to
// the batch root) should be included. include/exclude are shell-style
// glob patterns, matched with ryanuber/go-glob the same way
// kenchrcum-s3-encryption-gateway matches its allow/deny path lists. An
// empty include list means "everything is included by default"; exclude
// always wins over include.
func MatchesFilters(relPath string, include, exclude []string) bool {
	for _, pattern := range exclude {
		if glob.Glob(pattern, relPath) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if glob.Glob(pattern, relPath) {
			return true
		}
	}
	return false
}
