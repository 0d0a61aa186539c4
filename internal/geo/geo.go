// Package geo resolves coordinates to a city, region, and country via
// external reverse-geocoding providers. Providers are tried in order; the
// chain returns the first usable answer. Lookups are best-effort, callers
// tolerate failure and carry on with empty place fields.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/amberpages/classifieds/internal/pkg/httpretry"
)

// ErrUnavailable reports that no provider produced a usable answer.
var ErrUnavailable = errors.New("reverse geocoding unavailable")

// Place is a resolved location.
type Place struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

// Empty reports whether the lookup produced nothing usable.
func (p Place) Empty() bool {
	return p.City == "" && p.Region == "" && p.Country == ""
}

// Provider resolves coordinates to a place.
type Provider interface {
	Reverse(ctx context.Context, lat, lon float64) (Place, error)
}

// Chain tries providers in order and returns the first non-empty result.
type Chain struct {
	providers []Provider
}

// NewChain builds a provider chain. Order matters; the first provider is the
// primary.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Reverse walks the chain. An error or empty result from one provider moves
// on to the next; when all fail, ErrUnavailable wraps the last error.
func (c *Chain) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	var lastErr error
	for _, p := range c.providers {
		place, err := p.Reverse(ctx, lat, lon)
		if err != nil {
			lastErr = err
			continue
		}
		if !place.Empty() {
			return place, nil
		}
	}
	if lastErr != nil {
		return Place{}, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}
	return Place{}, ErrUnavailable
}

// NominatimProvider queries an OSM Nominatim-compatible endpoint.
type NominatimProvider struct {
	baseURL string
	client  httpretry.HTTPDoer
}

// NewNominatimProvider creates a provider against the given base URL. A nil
// client gets a retrying client with a bounded timeout.
func NewNominatimProvider(baseURL string, client httpretry.HTTPDoer) *NominatimProvider {
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 2)
	}
	return &NominatimProvider{baseURL: baseURL, client: client}
}

func (p *NominatimProvider) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	endpoint := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%s&lon=%s",
		p.baseURL, formatCoord(lat), formatCoord(lon))

	var payload struct {
		Address struct {
			City    string `json:"city"`
			Town    string `json:"town"`
			Village string `json:"village"`
			State   string `json:"state"`
			Country string `json:"country"`
		} `json:"address"`
	}
	if err := p.getJSON(ctx, endpoint, &payload); err != nil {
		return Place{}, err
	}

	city := payload.Address.City
	if city == "" {
		city = payload.Address.Town
	}
	if city == "" {
		city = payload.Address.Village
	}
	return Place{City: city, Region: payload.Address.State, Country: payload.Address.Country}, nil
}

func (p *NominatimProvider) getJSON(ctx context.Context, endpoint string, out any) error {
	return getJSON(ctx, p.client, endpoint, out)
}

// BigDataCloudProvider queries the BigDataCloud reverse-geocode endpoint.
// It is the fallback; its free tier needs no API key.
type BigDataCloudProvider struct {
	baseURL string
	client  httpretry.HTTPDoer
}

// NewBigDataCloudProvider creates the fallback provider. A nil client gets a
// retrying client with a bounded timeout.
func NewBigDataCloudProvider(baseURL string, client httpretry.HTTPDoer) *BigDataCloudProvider {
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 2)
	}
	return &BigDataCloudProvider{baseURL: baseURL, client: client}
}

func (p *BigDataCloudProvider) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	endpoint := fmt.Sprintf("%s/data/reverse-geocode-client?latitude=%s&longitude=%s&localityLanguage=en",
		p.baseURL, formatCoord(lat), formatCoord(lon))

	var payload struct {
		City                 string `json:"city"`
		Locality             string `json:"locality"`
		PrincipalSubdivision string `json:"principalSubdivision"`
		CountryName          string `json:"countryName"`
	}
	if err := p.getJSON(ctx, endpoint, &payload); err != nil {
		return Place{}, err
	}

	city := payload.City
	if city == "" {
		city = payload.Locality
	}
	return Place{City: city, Region: payload.PrincipalSubdivision, Country: payload.CountryName}, nil
}

func (p *BigDataCloudProvider) getJSON(ctx context.Context, endpoint string, out any) error {
	return getJSON(ctx, p.client, endpoint, out)
}

func getJSON(ctx context.Context, client httpretry.HTTPDoer, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("geocoding provider returned %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func formatCoord(v float64) string {
	return url.QueryEscape(fmt.Sprintf("%.6f", v))
}
