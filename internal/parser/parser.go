// Package parser reads listing pages captured from the browser.
package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ListingLinkSelector matches the result cards of a search feed.
const ListingLinkSelector = "a.hfpxzc"

// ParseListingLinks returns the detail page links of a search results page
// in document order, without duplicates. Relative links are resolved
// against base when it is set.
func ParseListingLinks(html, base string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var baseURL *url.URL
	if base != "" {
		if baseURL, err = url.Parse(base); err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", base, err)
		}
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find(ListingLinkSelector).Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		if baseURL != nil {
			if ref, err := url.Parse(href); err == nil {
				href = baseURL.ResolveReference(ref).String()
			}
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})

	return links, nil
}

// Dedupe merges link lists, keeping the first occurrence of each link.
func Dedupe(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, link := range list {
			if link == "" {
				continue
			}
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			out = append(out, link)
		}
	}
	return out
}
