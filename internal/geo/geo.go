// Package geo holds the coordinate utilities the engine treats as pure
// functions: great-circle distance, map scale and guess trigger parsing.
package geo

import (
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/roundkeeper/internal/models"
)

// EarthRadiusKm is the mean Earth radius used for distances
const EarthRadiusKm = 6371.0

// scaleDivisor converts a map diagonal into the scale the score curve expects
const scaleDivisor = 7.458421

// Haversine returns the great-circle distance between a and b in kilometres
func Haversine(a, b models.LatLng) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Diagonal returns the distance between the corners of bounds in kilometres
func Diagonal(bounds models.Bounds) float64 {
	return Haversine(bounds.Min, bounds.Max)
}

// MapScale derives the score curve scale from a map's bounds
func MapScale(bounds models.Bounds) float64 {
	return Diagonal(bounds) / scaleDivisor
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

var coordinatesRe = regexp.MustCompile(`^\s*(-?\d{1,2}(?:\.\d+)?)\s*,\s*(-?\d{1,3}(?:\.\d+)?)\s*$`)

// ParseCoordinates parses "lat, lng". It reports false for malformed or
// out-of-range input.
func ParseCoordinates(s string) (models.LatLng, bool) {
	m := coordinatesRe.FindStringSubmatch(s)
	if m == nil {
		return models.LatLng{}, false
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return models.LatLng{}, false
	}
	lng, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return models.LatLng{}, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return models.LatLng{}, false
	}
	return models.LatLng{Lat: lat, Lng: lng}, true
}

// GuessTrigger is the chat prefix that marks a guess submission
const GuessTrigger = "!g"

// ParseGuessMessage extracts the coordinate from a "!g lat, lng" chat message
func ParseGuessMessage(message string) (models.LatLng, bool) {
	if !strings.HasPrefix(message, GuessTrigger) {
		return models.LatLng{}, false
	}
	rest := strings.TrimPrefix(message, GuessTrigger)
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return models.LatLng{}, false
	}
	return ParseCoordinates(rest)
}

// RandomPoint draws a uniformly distributed coordinate inside bounds
func RandomPoint(bounds models.Bounds, rnd *rand.Rand) models.LatLng {
	lat := bounds.Min.Lat + rnd.Float64()*(bounds.Max.Lat-bounds.Min.Lat)
	lng := bounds.Min.Lng + rnd.Float64()*(bounds.Max.Lng-bounds.Min.Lng)
	return models.LatLng{
		Lat: math.Round(lat*1e6) / 1e6,
		Lng: math.Round(lng*1e6) / 1e6,
	}
}
