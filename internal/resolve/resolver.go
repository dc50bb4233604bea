package resolve

import (
	"net/url"
	"path"
	"strings"
)

// PlayableSource is a resolved, fetchable URL plus the originating field
// name used to obtain it.
type PlayableSource struct {
	URL   string
	Field string
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
	".ogg":  true,
	".flac": true,
}

// Resolver turns raw catalogue field values into fetchable URLs. Resolve is
// purely syntactic; it never touches the network, so the same input always
// classifies the same way.
type Resolver struct {
	// ProxyBase is prepended to the container proxy path when remote URLs
	// are rewrapped. May be empty, which leaves the proxy URL
	// server-relative.
	ProxyBase string
}

// Resolve classifies a raw field value. Absolute paths pass through, remote
// http(s) URLs are rewrapped into the container proxy so the archive's own
// authorization applies, and bare filenames with a known audio extension are
// accepted as-is. Everything else is unplayable.
func (r Resolver) Resolve(raw string) (PlayableSource, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return PlayableSource{}, false
	}
	if strings.HasPrefix(v, "/") {
		return PlayableSource{URL: v}, true
	}
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return PlayableSource{URL: r.ProxyURL(v)}, true
	}
	if !strings.Contains(v, "/") && audioExtensions[strings.ToLower(path.Ext(v))] {
		return PlayableSource{URL: v}, true
	}
	return PlayableSource{}, false
}

// Resolvable reports whether a raw field value survives the triage. Listing
// code uses this to skip rows that can never play.
func (r Resolver) Resolvable(raw string) bool {
	_, ok := r.Resolve(raw)
	return ok
}

// ProxyURL wraps a stored remote reference into the backend container proxy.
func (r Resolver) ProxyURL(raw string) string {
	return strings.TrimRight(r.ProxyBase, "/") + "/api/container?u=" + url.QueryEscape(raw)
}
