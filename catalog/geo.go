package catalog

import (
	"context"
	"math"
	"strings"
)

const earthRadiusMiles = 3958.8

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lon float64 `yaml:"lon" json:"lon"`
}

// Valid reports whether c holds a usable, non-zero position.
func (c Coordinates) Valid() bool {
	if c.Lat == 0 && c.Lon == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Geocoder resolves free-form place text. found is false when the place is
// unknown; err is reserved for lookups that could not be performed.
type Geocoder interface {
	Geocode(ctx context.Context, place string) (coords Coordinates, found bool, err error)
}

// DistanceMiles returns the great-circle distance between a and b.
func DistanceMiles(a, b Coordinates) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// normalizePlace lowercases place and drops a trailing US state suffix, so
// "Boston, MA" and "boston" share a key.
func normalizePlace(place string) string {
	p := strings.ToLower(strings.TrimSpace(place))
	if i := strings.LastIndex(p, ","); i >= 0 {
		if suffix := strings.TrimSpace(p[i+1:]); len(suffix) == 2 {
			p = strings.TrimSpace(p[:i])
		}
	}
	return strings.Join(strings.Fields(p), " ")
}

// Gazetteer is an offline geocoder over a fixed set of towns.
type Gazetteer struct {
	places map[string]Coordinates
}

// ServiceAreas are the towns the default catalog delivers to.
var ServiceAreas = map[string]Coordinates{
	"boston":     {Lat: 42.3601, Lon: -71.0589},
	"cambridge":  {Lat: 42.3736, Lon: -71.1097},
	"somerville": {Lat: 42.3876, Lon: -71.0995},
	"newton":     {Lat: 42.3370, Lon: -71.2092},
	"brookline":  {Lat: 42.3318, Lon: -71.1212},
}

// NewGazetteer builds a Gazetteer from places. Keys are normalized.
func NewGazetteer(places map[string]Coordinates) *Gazetteer {
	g := &Gazetteer{places: make(map[string]Coordinates, len(places))}
	for name, c := range places {
		g.places[normalizePlace(name)] = c
	}
	return g
}

// Geocode implements Geocoder.
func (g *Gazetteer) Geocode(ctx context.Context, place string) (Coordinates, bool, error) {
	if err := ctx.Err(); err != nil {
		return Coordinates{}, false, err
	}
	c, ok := g.places[normalizePlace(place)]
	return c, ok, nil
}

// Chain tries each geocoder in order. The first hit wins; an error from one
// geocoder is returned only if no later geocoder finds the place.
type Chain []Geocoder

// Geocode implements Geocoder.
func (ch Chain) Geocode(ctx context.Context, place string) (Coordinates, bool, error) {
	var firstErr error
	for _, g := range ch {
		c, ok, err := g.Geocode(ctx, place)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return c, true, nil
		}
	}
	return Coordinates{}, false, firstErr
}
