// ABOUTME: File-to-engine routing by glob patterns over NFC-normalized slash paths
// ABOUTME: Bare patterns match the base name; "**/" patterns match at any directory depth

package manager

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizePath converts p to the form patterns are matched against:
// forward slashes, NFC normalized, cleaned.
func NormalizePath(p string) string {
	return path.Clean(norm.NFC.String(filepath.ToSlash(p)))
}

// MatchPattern reports whether the normalized path p matches pattern.
// Malformed patterns never match.
func MatchPattern(pattern, p string) bool {
	pattern = norm.NFC.String(filepath.ToSlash(pattern))

	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		if MatchPattern(rest, p) {
			return true
		}
		for i := 0; i < len(p); i++ {
			if p[i] == '/' && MatchPattern(rest, p[i+1:]) {
				return true
			}
		}
		return false
	}

	if ok, err := path.Match(pattern, p); err == nil && ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, err := path.Match(pattern, path.Base(p))
		return err == nil && ok
	}
	return false
}

// matchAny reports whether p matches at least one pattern.
func matchAny(patterns []string, p string) bool {
	for _, pat := range patterns {
		if MatchPattern(pat, p) {
			return true
		}
	}
	return false
}

// uriPath extracts the path part of a file URI. Anything that does not
// parse as a URI with a scheme is treated as a plain path.
func uriPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return uri
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	if u.Host != "" && u.Scheme != "file" {
		return u.Host + u.Path
	}
	return u.Path
}
