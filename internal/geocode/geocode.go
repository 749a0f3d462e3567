// Package geocode derives city and area names from a postal address.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://postcodes.io"

var ErrNoPostcode = errors.New("no postcode in address")

type Location struct {
	City string
	Area string
}

// PostcodeResolver looks up the postcode found in an address on a
// postcodes.io compatible API.
type PostcodeResolver struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewPostcodeResolver(baseURL string, timeout time.Duration, logger *slog.Logger) *PostcodeResolver {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostcodeResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "geocode"),
	}
}

// WithRateLimit caps lookups at perSecond. Zero or less removes the cap.
func (r *PostcodeResolver) WithRateLimit(perSecond float64) *PostcodeResolver {
	if perSecond <= 0 {
		r.limiter = nil
		return r
	}
	r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	return r
}

// Postcode returns the last two words of the second to last comma separated
// part of address, e.g. "M1 1AE" for "1 Main St, Manchester M1 1AE, UK".
func Postcode(address string) (string, error) {
	parts := strings.Split(address, ",")
	if len(parts) < 2 {
		return "", ErrNoPostcode
	}
	words := strings.Fields(parts[len(parts)-2])
	if len(words) < 2 {
		return "", ErrNoPostcode
	}
	return strings.Join(words[len(words)-2:], " "), nil
}

type postcodeResponse struct {
	Status int `json:"status"`
	Result *struct {
		AdminDistrict                 string `json:"admin_district"`
		ParliamentaryConstituency2024 string `json:"parliamentary_constituency_2024"`
		ParliamentaryConstituency     string `json:"parliamentary_constituency"`
	} `json:"result"`
}

// Resolve returns the location for address. Any failure yields an empty
// Location and an error.
func (r *PostcodeResolver) Resolve(ctx context.Context, address string) (Location, error) {
	code, err := Postcode(address)
	if err != nil {
		return Location{}, err
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return Location{}, fmt.Errorf("postcode lookup %q: %w", code, err)
		}
	}

	endpoint := r.baseURL + "/postcodes/" + url.PathEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("postcode lookup %q: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("postcode lookup %q: status %d", code, resp.StatusCode)
	}

	var body postcodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("failed to decode postcode response: %w", err)
	}
	if body.Result == nil {
		return Location{}, fmt.Errorf("postcode lookup %q: empty result", code)
	}

	area := body.Result.ParliamentaryConstituency2024
	if area == "" {
		area = body.Result.ParliamentaryConstituency
	}

	r.logger.Debug("resolved postcode", "postcode", code, "city", body.Result.AdminDistrict, "area", area)
	return Location{City: body.Result.AdminDistrict, Area: area}, nil
}
