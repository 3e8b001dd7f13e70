package domain

import (
	"regexp"
	"strings"
)

const atScheme = "at://"

// NormalizeURI canonicalizes a post identifier to at://authority/collection/rkey.
// Missing schemes are added and trailing path segments are dropped. Input with
// fewer than three segments after the scheme is returned as-is (with the
// scheme added) rather than rejected, so callers must tolerate non-canonical
// keys for malformed input.
func NormalizeURI(raw string) string {
	uri := strings.TrimSpace(raw)
	if uri == "" {
		return raw
	}

	rest, ok := strings.CutPrefix(uri, atScheme)
	if !ok {
		rest = strings.TrimLeft(uri, "/")
	}

	// Drop query and fragment, they never belong to the record key.
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return atScheme + rest
	}
	return atScheme + parts[0] + "/" + parts[1] + "/" + parts[2]
}

// URIAuthority returns the authority (usually a DID) of an AT-URI, or "" when
// the URI has none.
func URIAuthority(uri string) string {
	rest := strings.TrimPrefix(NormalizeURI(uri), atScheme)
	authority, _, _ := strings.Cut(rest, "/")
	return authority
}

// RecordKey returns the last path segment of an AT-URI.
func RecordKey(uri string) string {
	norm := NormalizeURI(uri)
	if i := strings.LastIndex(norm, "/"); i >= 0 {
		return norm[i+1:]
	}
	return norm
}

// cidPattern matches raw-codec CIDv1 blob identifiers in base32.
var cidPattern = regexp.MustCompile(`^bafkrei[a-z0-9]{40,64}$`)

// ValidCID reports whether cid looks like a blob content identifier. Anything
// that fails this check must not reach the network.
func ValidCID(cid string) bool {
	return cidPattern.MatchString(cid)
}
