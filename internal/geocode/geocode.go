// Package geocode resolves coordinates to the region identifiers the game
// compares guesses by ("streak codes") and tells land from water.
package geocode

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roundkeeper/internal/models"
)

// Place is the reverse-geocoded region of a coordinate. An empty
// CountryCode means the coordinate is not on land.
type Place struct {
	CountryCode string `json:"countryCode"`
	CountryName string `json:"countryName"`
}

// Lookuper reverse-geocodes one coordinate
type Lookuper interface {
	Lookup(ctx context.Context, p models.LatLng) (Place, error)
}

// Client calls a BigDataCloud-compatible reverse geocoding endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a reverse geocoding client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Lookup resolves p through the remote service
func (c *Client) Lookup(ctx context.Context, p models.LatLng) (Place, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(p.Lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(p.Lng, 'f', -1, 64))
	q.Set("localityLanguage", "en")
	endpoint := fmt.Sprintf("%s/data/reverse-geocode-client?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Place{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("failed to reverse geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Place{}, fmt.Errorf("reverse geocode failed with status %d: %s", resp.StatusCode, string(body))
	}

	var place Place
	if err := json.NewDecoder(resp.Body).Decode(&place); err != nil {
		return Place{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return place, nil
}

// Service answers the questions the game asks about a coordinate
type Service struct {
	lookup Lookuper
}

// NewService wraps a Lookuper, typically a Client behind a RedisCache
func NewService(lookup Lookuper) *Service {
	return &Service{lookup: lookup}
}

// StreakCodeFor returns the normalized region code of p, empty at sea
func (s *Service) StreakCodeFor(ctx context.Context, p models.LatLng) (string, error) {
	place, err := s.lookup.Lookup(ctx, p)
	if err != nil {
		return "", err
	}
	return NormalizeCode(place.CountryCode), nil
}

// IsOnLand reports whether p lies inside a country
func (s *Service) IsOnLand(ctx context.Context, p models.LatLng) (bool, error) {
	place, err := s.lookup.Lookup(ctx, p)
	if err != nil {
		return false, err
	}
	return place.CountryCode != "", nil
}

// NormalizeCode lowercases a country code and folds known aliases
func NormalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if alias, ok := codeAliases[code]; ok {
		return alias
	}
	return code
}

var codeAliases = map[string]string{
	"uk": "gb",
	"el": "gr",
}

//go:embed countries.json
var countriesJSON []byte

var countryNames = func() map[string]string {
	names := make(map[string]string)
	if err := json.Unmarshal(countriesJSON, &names); err != nil {
		panic(fmt.Sprintf("geocode: invalid countries.json: %v", err))
	}
	return names
}()

// CountryName returns the English name for a streak code
func CountryName(code string) (string, bool) {
	name, ok := countryNames[NormalizeCode(code)]
	return name, ok
}
