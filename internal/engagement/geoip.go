package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/mailpulse/internal/pkg/httpretry"
)

const defaultGeoBaseURL = "http://ip-api.com/json"

// HTTPGeolocator resolves client IPs to coarse "City, CC" strings via an
// ip-api.com compatible endpoint. Lookups ride a retrying client; a short
// timeout keeps slow lookups from delaying the journal.
type HTTPGeolocator struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
}

// NewHTTPGeolocator creates a geolocator against baseURL, or the public
// ip-api.com endpoint when baseURL is empty.
func NewHTTPGeolocator(baseURL string) *HTTPGeolocator {
	if baseURL == "" {
		baseURL = defaultGeoBaseURL
	}
	return &HTTPGeolocator{
		baseURL: baseURL,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: 5 * time.Second,
		}, 2),
	}
}

type geoResponse struct {
	Status      string `json:"status"`
	City        string `json:"city"`
	CountryCode string `json:"countryCode"`
}

// Locate resolves an IP to a coarse location string.
func (g *HTTPGeolocator) Locate(ctx context.Context, ip string) (string, error) {
	url := fmt.Sprintf("%s/%s?fields=status,city,countryCode", g.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geolocation error (status %d): %s", resp.StatusCode, string(body))
	}

	var geo geoResponse
	if err := json.Unmarshal(body, &geo); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if geo.Status != "success" {
		// Private ranges and malformed IPs fail here; not worth surfacing.
		return "", nil
	}

	if geo.City == "" {
		return geo.CountryCode, nil
	}
	return fmt.Sprintf("%s, %s", geo.City, geo.CountryCode), nil
}
