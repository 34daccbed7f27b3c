package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGameToken(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		want      string
		wantError bool
	}{
		{name: "game url", url: "https://www.geoguessr.com/game/AbC123", want: "AbC123"},
		{name: "trailing slash", url: "https://www.geoguessr.com/game/AbC123/", want: "AbC123"},
		{name: "results url", url: "https://www.geoguessr.com/results/XyZ", want: "XyZ"},
		{name: "localized path", url: "https://www.geoguessr.com/de/game/Tok", want: "Tok"},
		{name: "map url", url: "https://www.geoguessr.com/maps/world", wantError: true},
		{name: "empty", url: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GameToken(tt.url)
			if tt.wantError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected token %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSeedClient_FetchSeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/games/known":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"token": "known",
				"map": "world",
				"mapName": "A Diverse World",
				"round": 2,
				"roundCount": 5,
				"state": "started",
				"bounds": {"min": {"lat": -60, "lng": -180}, "max": {"lat": 85, "lng": 180}},
				"rounds": [
					{"lat": 48.85, "lng": 2.35, "panoId": "a", "heading": 90, "pitch": 0, "zoom": 0},
					{"lat": 35.68, "lng": 139.69, "panoId": "b", "heading": 0, "pitch": 0, "zoom": 0}
				],
				"player": {"guesses": [{"lat": 47.1, "lng": 3.2, "timedOut": false}]}
			}`))
		case "/api/v3/games/broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewSeedClient(server.URL, time.Second)
	ctx := context.Background()

	seed, err := client.FetchSeed(ctx, "https://www.geoguessr.com/game/known")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seed.Round != 2 || len(seed.Rounds) != 2 || len(seed.Player.Guesses) != 1 {
		t.Errorf("unexpected seed %+v", seed)
	}
	current, _ := seed.CurrentRound()
	if current.PanoID != "b" {
		t.Errorf("expected current pano b, got %q", current.PanoID)
	}

	missing, err := client.FetchSeed(ctx, "https://www.geoguessr.com/game/missing")
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil) for unknown game, got (%v, %v)", missing, err)
	}

	if _, err := client.FetchSeed(ctx, "https://www.geoguessr.com/game/broken"); err == nil {
		t.Errorf("expected error on server failure")
	}
}
