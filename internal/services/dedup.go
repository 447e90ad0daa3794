package services

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"
)

// trackingParams are query parameters stripped during URL normalization.
// Matching is exact except for the "utm_" prefix, which is always dropped.
var trackingParams = map[string]bool{
	"fbclid":      true,
	"gclid":       true,
	"gclsrc":      true,
	"dclid":       true,
	"msclkid":     true,
	"twclid":      true,
	"igshid":      true,
	"mc_cid":      true,
	"mc_eid":      true,
	"yclid":       true,
	"_hsenc":      true,
	"_hsmi":       true,
	"spm":         true,
	"ref_src":     true,
	"cmpid":       true,
	"s_kwcid":     true,
}

// NormalizeURL produces the stable form of a content URL: lower-cased
// scheme and host, "www." stripped, trailing slash removed, tracking
// parameters dropped and the remaining query sorted for stable ordering.
// A raw value that does not parse as a URL is returned trimmed as-is so
// the caller can still hash it.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	u.Host = host

	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = ""

	if u.RawQuery != "" {
		values := u.Query()
		for key := range values {
			if strings.HasPrefix(strings.ToLower(key), "utm_") || trackingParams[key] {
				values.Del(key)
			}
		}
		// Encode sorts keys, which gives the stable ordering.
		u.RawQuery = values.Encode()
	}

	return u.String()
}

// normalizeTitle lower-cases the title and collapses punctuation and
// whitespace runs to single spaces.
func normalizeTitle(title string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace && b.Len() > 0 {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// ContentHash computes the dedup hash of an item from its normalized
// title and normalized URL. Items that republish the same story under a
// different URL still collide on this hash.
func ContentHash(title, rawURL string) string {
	sum := sha256.Sum256([]byte(normalizeTitle(title) + "|" + NormalizeURL(rawURL)))
	return hex.EncodeToString(sum[:])
}
