package geo

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/roundkeeper/internal/models"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name string
		a, b models.LatLng
		want float64
	}{
		{
			name: "same point",
			a:    models.LatLng{Lat: 48.8566, Lng: 2.3522},
			b:    models.LatLng{Lat: 48.8566, Lng: 2.3522},
			want: 0,
		},
		{
			name: "paris to london",
			a:    models.LatLng{Lat: 48.8566, Lng: 2.3522},
			b:    models.LatLng{Lat: 51.5074, Lng: -0.1278},
			want: 343.5,
		},
		{
			name: "quarter meridian",
			a:    models.LatLng{Lat: 0, Lng: 0},
			b:    models.LatLng{Lat: 90, Lng: 0},
			want: math.Pi / 2 * EarthRadiusKm,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1 {
				t.Errorf("expected %.1f km, got %.1f km", tt.want, got)
			}
		})
	}
}

func TestMapScale(t *testing.T) {
	bounds := models.Bounds{
		Min: models.LatLng{Lat: -60, Lng: -180},
		Max: models.LatLng{Lat: 85, Lng: 180},
	}
	scale := MapScale(bounds)
	if scale <= 0 {
		t.Fatalf("expected positive scale, got %f", scale)
	}
	if math.Abs(scale*scaleDivisor-Diagonal(bounds)) > 1e-6 {
		t.Errorf("scale does not match diagonal")
	}
}

func TestParseGuessMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    models.LatLng
		wantOK  bool
	}{
		{name: "comma and space", message: "!g 48.85, 2.35", want: models.LatLng{Lat: 48.85, Lng: 2.35}, wantOK: true},
		{name: "no space after comma", message: "!g -33.9,151.2", want: models.LatLng{Lat: -33.9, Lng: 151.2}, wantOK: true},
		{name: "integers", message: "!g 10, -70", want: models.LatLng{Lat: 10, Lng: -70}, wantOK: true},
		{name: "missing trigger", message: "48.85, 2.35", wantOK: false},
		{name: "trigger glued to text", message: "!golf 1, 2", wantOK: false},
		{name: "latitude out of range", message: "!g 95, 2", wantOK: false},
		{name: "longitude out of range", message: "!g 45, 190", wantOK: false},
		{name: "garbage", message: "!g paris", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseGuessMessage(tt.message)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestRandomPoint_StaysInBounds(t *testing.T) {
	bounds := models.Bounds{
		Min: models.LatLng{Lat: 40, Lng: -5},
		Max: models.LatLng{Lat: 50, Lng: 10},
	}
	rnd := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		p := RandomPoint(bounds, rnd)
		if p.Lat < bounds.Min.Lat || p.Lat > bounds.Max.Lat || p.Lng < bounds.Min.Lng || p.Lng > bounds.Max.Lng {
			t.Fatalf("point %+v outside bounds", p)
		}
	}
}
