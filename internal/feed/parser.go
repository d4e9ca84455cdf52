package feed

import (
	"io"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Item is one normalized feed entry.
type Item struct {
	GUID        string
	Title       string
	URL         string
	Author      string
	PublishedAt *time.Time
	ContentHTML string
	ContentText string
	ImageURL    string
}

// Parsed is the flat result of parsing one feed body.
type Parsed struct {
	Title   string
	SiteURL string
	Items   []Item
}

// ParseBody parses a feed body into the normalized model. The error is only
// returned for callers that care; fetch degrades it to an empty parse.
func ParseBody(body io.Reader) (*Parsed, error) {
	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, err
	}

	out := &Parsed{
		Title:   strings.TrimSpace(parsed.Title),
		SiteURL: strings.TrimSpace(parsed.Link),
		Items:   make([]Item, 0, len(parsed.Items)),
	}
	for _, raw := range parsed.Items {
		if raw == nil {
			continue
		}
		out.Items = append(out.Items, normalizeItem(raw))
	}
	return out, nil
}

func normalizeItem(raw *gofeed.Item) Item {
	item := Item{
		GUID:  strings.TrimSpace(raw.GUID),
		Title: strings.TrimSpace(raw.Title),
		URL:   strings.TrimSpace(raw.Link),
	}
	if item.GUID == "" {
		item.GUID = item.URL
	}
	if raw.Author != nil {
		item.Author = strings.TrimSpace(raw.Author.Name)
	}
	if item.Author == "" && len(raw.Authors) > 0 && raw.Authors[0] != nil {
		item.Author = strings.TrimSpace(raw.Authors[0].Name)
	}
	if raw.PublishedParsed != nil {
		published := raw.PublishedParsed.UTC()
		item.PublishedAt = &published
	} else if raw.UpdatedParsed != nil {
		updated := raw.UpdatedParsed.UTC()
		item.PublishedAt = &updated
	}

	item.ContentHTML = strings.TrimSpace(raw.Content)
	if item.ContentHTML == "" {
		item.ContentHTML = strings.TrimSpace(raw.Description)
	}
	item.ContentText = HTMLToText(item.ContentHTML)
	item.ImageURL = resolveItemImage(raw, item.ContentHTML)
	return item
}

// resolveItemImage walks the image priority chain: explicit feed image,
// media extensions, image enclosures, then the first non-decorative <img>
// in the item content. Empty means no image resolved.
func resolveItemImage(raw *gofeed.Item, contentHTML string) string {
	if raw.Image != nil {
		if url := strings.TrimSpace(raw.Image.URL); url != "" {
			return url
		}
	}
	if url := mediaExtensionURL(raw, "content"); url != "" {
		return url
	}
	if url := mediaExtensionURL(raw, "thumbnail"); url != "" {
		return url
	}
	for _, enclosure := range raw.Enclosures {
		if enclosure == nil {
			continue
		}
		if strings.HasPrefix(enclosure.Type, "image/") {
			if url := strings.TrimSpace(enclosure.URL); url != "" {
				return url
			}
		}
	}
	return FirstContentImage(contentHTML)
}

func mediaExtensionURL(raw *gofeed.Item, element string) string {
	media, ok := raw.Extensions["media"]
	if !ok {
		return ""
	}
	for _, ext := range media[element] {
		if url := strings.TrimSpace(ext.Attrs["url"]); url != "" {
			return url
		}
	}
	return ""
}
