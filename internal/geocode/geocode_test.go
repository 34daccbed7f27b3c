package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roundkeeper/internal/models"
	"github.com/roundkeeper/pkg/logger"
)

func TestClient_Lookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/reverse-geocode-client" {
			http.NotFound(w, r)
			return
		}
		place := Place{}
		if r.URL.Query().Get("latitude") == "48.85" {
			place = Place{CountryCode: "FR", CountryName: "France"}
		}
		json.NewEncoder(w).Encode(place)
	}))
	defer server.Close()

	svc := NewService(NewClient(server.URL, time.Second))
	ctx := context.Background()

	code, err := svc.StreakCodeFor(ctx, models.LatLng{Lat: 48.85, Lng: 2.35})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "fr" {
		t.Errorf("expected fr, got %q", code)
	}

	onLand, err := svc.IsOnLand(ctx, models.LatLng{Lat: 0, Lng: -30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if onLand {
		t.Errorf("expected mid-atlantic to be water")
	}
}

func TestClient_Lookup_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, time.Second).Lookup(context.Background(), models.LatLng{}); err == nil {
		t.Errorf("expected error on non-200 response")
	}
}

func TestCountryName(t *testing.T) {
	tests := []struct {
		code   string
		want   string
		wantOK bool
	}{
		{code: "fr", want: "France", wantOK: true},
		{code: "US", want: "United States", wantOK: true},
		{code: "uk", want: "United Kingdom", wantOK: true},
		{code: "", wantOK: false},
		{code: "zz", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, ok := CountryName(tt.code)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.want, tt.wantOK, got, ok)
			}
		})
	}
}

type countingLookuper struct {
	calls int32
}

func (c *countingLookuper) Lookup(ctx context.Context, p models.LatLng) (Place, error) {
	atomic.AddInt32(&c.calls, 1)
	return Place{CountryCode: "JP", CountryName: "Japan"}, nil
}

func TestRedisCache_Lookup(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, "", 15)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	p := models.LatLng{Lat: 35.6895, Lng: 139.6917}
	client.Del(ctx, placeKey(p))
	defer client.Del(ctx, placeKey(p))

	next := &countingLookuper{}
	cache := NewRedisCache(client, next, time.Minute, logger.Nop())

	for i := 0; i < 3; i++ {
		place, err := cache.Lookup(ctx, p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if place.CountryCode != "JP" {
			t.Errorf("expected JP, got %q", place.CountryCode)
		}
	}
	if next.calls != 1 {
		t.Errorf("expected a single upstream lookup, got %d", next.calls)
	}
}
