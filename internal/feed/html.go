package feed

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var decorativeHints = []string{
	"logo", "avatar", "icon", "sprite", "spacer", "pixel", "badge",
	"gravatar", "feedburner", "doubleclick", "1x1", "emoji", "button",
}

// HTMLToText strips markup from an HTML fragment and collapses whitespace.
// Script and style bodies are dropped. Non-HTML input passes through trimmed.
func HTMLToText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// FirstContentImage returns the src of the first <img> in the fragment that
// does not look decorative (tracking pixels, logos, avatars, tiny images).
func FirstContentImage(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}

	var found string
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(src, "data:") {
			return true
		}
		if looksDecorative(src) || tooSmall(sel) {
			return true
		}
		found = src
		return false
	})
	return found
}

func looksDecorative(src string) bool {
	lowered := strings.ToLower(src)
	for _, hint := range decorativeHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}

// tooSmall rejects images whose declared dimensions are under 64px.
func tooSmall(sel *goquery.Selection) bool {
	for _, attr := range []string{"width", "height"} {
		value := strings.TrimSpace(sel.AttrOr(attr, ""))
		if value == "" {
			continue
		}
		value = strings.TrimSuffix(value, "px")
		size, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		if size < 64 {
			return true
		}
	}
	return false
}
