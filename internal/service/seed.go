package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roundkeeper/internal/models"
)

// SeedClient fetches game snapshots from the upstream game api
type SeedClient struct {
	apiBase    string
	httpClient *http.Client
}

// NewSeedClient creates a new seed client
func NewSeedClient(apiBase string, timeout time.Duration) *SeedClient {
	return &SeedClient{
		apiBase: strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GameToken extracts the game token from a play url such as
// https://www.geoguessr.com/game/AbCdEf123
func GameToken(playURL string) (string, error) {
	u, err := url.Parse(playURL)
	if err != nil {
		return "", fmt.Errorf("invalid game url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "game" || parts[i] == "results" {
			if token := parts[i+1]; token != "" {
				return token, nil
			}
		}
	}
	return "", fmt.Errorf("invalid game url: no game token in %q", playURL)
}

// FetchSeed returns the current snapshot of the game behind playURL.
// A game the api does not know yields (nil, nil).
func (c *SeedClient) FetchSeed(ctx context.Context, playURL string) (*models.Seed, error) {
	token, err := GameToken(playURL)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api/v3/games/%s", c.apiBase, url.PathEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch seed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("seed request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var seed models.Seed
	if err := json.Unmarshal(body, &seed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seed: %w", err)
	}
	if seed.Token == "" {
		seed.Token = token
	}
	return &seed, nil
}
