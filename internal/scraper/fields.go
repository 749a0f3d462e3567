package scraper

import (
	"context"
	"strings"

	"github.com/maltedev/places-scraper/internal/browser"
	"github.com/maltedev/places-scraper/internal/models"
)

// FieldExtractor reads one field from a ready detail page.
type FieldExtractor interface {
	Extract(ctx context.Context, page browser.Page) (string, error)
}

// TextField is the trimmed inner text of the first element matching
// Selector, optionally passed through Transform.
type TextField struct {
	Selector  string
	Transform func(string) string
}

func (f TextField) Extract(ctx context.Context, page browser.Page) (string, error) {
	text, err := page.Text(f.Selector)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if f.Transform != nil {
		text = f.Transform(text)
	}
	return text, nil
}

// DigitsOnly drops every non digit rune, so "(1,234)" becomes "1234".
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// DefaultFields is the extractor table for detail pages.
func DefaultFields() map[string]FieldExtractor {
	return map[string]FieldExtractor{
		models.FieldTitle:       TextField{Selector: "h1.DUwDvf"},
		models.FieldAvgRating:   TextField{Selector: `.F7nice span[aria-hidden="true"]`},
		models.FieldRatingCount: TextField{Selector: ".F7nice span[aria-label]:nth-child(1)", Transform: DigitsOnly},
		models.FieldAddress:     TextField{Selector: "button[data-item-id='address'] .AeaXub .rogA2c .Io6YTe"},
		models.FieldWebsite:     TextField{Selector: "a[data-item-id='authority'] .AeaXub .rogA2c .Io6YTe"},
		models.FieldPhone:       TextField{Selector: "button[data-tooltip='Copy phone number'] .AeaXub .rogA2c .Io6YTe"},
		models.FieldCategory:    TextField{Selector: "button.DkEaL"},
	}
}
