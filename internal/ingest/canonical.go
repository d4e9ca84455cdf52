package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// trackingParams are query parameters stripped during URL normalization.
// utm_* is handled as a prefix match.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"dclid":   true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"igshid":  true,
	"ref":     true,
	"ref_src": true,
	"cmpid":   true,
	"smid":    true,
	"partner": true,
	"_hsenc":  true,
	"_hsmi":   true,
}

// CanonicalURL normalizes an article URL for deduplication: scheme and host
// are lowercased, a scheme-default port is dropped, the fragment is dropped,
// tracking parameters are stripped, and a trailing slash on a non-root path
// is removed. An empty result means the URL could not be parsed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	switch parsed.Scheme {
	case "http":
		parsed.Host = strings.TrimSuffix(parsed.Host, ":80")
	case "https":
		parsed.Host = strings.TrimSuffix(parsed.Host, ":443")
	}
	parsed.Fragment = ""

	query := parsed.Query()
	for key := range query {
		lowered := strings.ToLower(key)
		if strings.HasPrefix(lowered, "utm_") || trackingParams[lowered] {
			query.Del(key)
		}
	}
	parsed.RawQuery = query.Encode()

	if len(parsed.Path) > 1 {
		parsed.Path = strings.TrimRight(parsed.Path, "/")
	}
	return parsed.String()
}

// ContentHash derives the content-addressed dedup key: the text is Unicode
// normalized (NFKC), case folded, whitespace collapsed, then hashed. When no
// extracted text exists the title, then the URL, stands in.
func ContentHash(extractedText, title, canonicalURL string) string {
	source := strings.TrimSpace(extractedText)
	if source == "" {
		source = strings.TrimSpace(title)
	}
	if source == "" {
		source = canonicalURL
	}
	if source == "" {
		return ""
	}

	folded := cases.Fold().String(norm.NFKC.String(source))
	collapsed := strings.Join(strings.Fields(folded), " ")
	sum := sha256.Sum256([]byte(collapsed))
	return hex.EncodeToString(sum[:])
}
