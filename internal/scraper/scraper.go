// Package scraper turns a business detail page into a flat record.
package scraper

import (
	"context"
	"errors"

	"github.com/maltedev/places-scraper/internal/browser"
	"github.com/maltedev/places-scraper/internal/geocode"
)

var (
	ErrNavigation       = errors.New("navigation failed")
	ErrReadinessTimeout = errors.New("page not ready")
	ErrImagesExhausted  = errors.New("image extraction attempts exhausted")
)

// Geocoder resolves the derived city and area fields from an address.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (geocode.Location, error)
}

// Scroller scrolls a lazily loaded container to its end.
type Scroller interface {
	Scroll(ctx context.Context, page browser.Page, container string) (int, error)
}
