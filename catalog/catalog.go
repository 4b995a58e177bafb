// Package catalog holds the caterer directory and the geo helpers used to
// search it.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/room4-2/CaterConverse/logging"
)

//go:embed providers.yaml
var defaultProviders []byte

// ErrNotFound is returned by ByID for unknown ids.
var ErrNotFound = errors.New("catalog: provider not found")

// Provider is the canonical caterer record. Callers only ever see copies of
// it wrapped in a Listing.
type Provider struct {
	ID          int         `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Cuisine     string      `yaml:"cuisine" json:"cuisine"`
	Location    string      `yaml:"location" json:"location"`
	Coordinates Coordinates `yaml:"coordinates" json:"coordinates"`
	Rating      float64     `yaml:"rating" json:"rating"`
	PriceRange  string      `yaml:"price_range" json:"price_range"`
	MinOrder    int         `yaml:"min_order" json:"min_order"`
	Specialties []string    `yaml:"specialties" json:"specialties"`
	Phone       string      `yaml:"phone" json:"phone"`
	Description string      `yaml:"description" json:"description"`
}

// Listing is a query-specific view of a Provider. Distance is only set on
// results of location-aware searches.
type Listing struct {
	Provider
	distance    float64
	hasDistance bool
}

// NewListing copies p so the view never aliases catalog data.
func NewListing(p Provider) Listing {
	p.Specialties = append([]string(nil), p.Specialties...)
	return Listing{Provider: p}
}

// WithDistance returns a copy of l annotated with a distance in miles,
// rounded to one decimal.
func (l Listing) WithDistance(miles float64) Listing {
	out := NewListing(l.Provider)
	out.distance = math.Round(miles*10) / 10
	out.hasDistance = true
	return out
}

// Clone returns a deep copy of l, distance included.
func (l Listing) Clone() Listing {
	out := l
	out.Specialties = append([]string(nil), l.Specialties...)
	return out
}

// Distance reports the distance attached by a location search.
func (l Listing) Distance() (float64, bool) {
	return l.distance, l.hasDistance
}

type catalogFile struct {
	Providers []Provider `yaml:"providers"`
}

// Catalog answers cuisine, location and menu queries over a fixed provider set.
type Catalog struct {
	providers []Provider
	geocoder  Geocoder
	logger    *zap.Logger
}

// New creates a Catalog over providers. The geocoder resolves place names
// for ByLocation.
func New(providers []Provider, geocoder Geocoder, logger *zap.Logger) (*Catalog, error) {
	if geocoder == nil {
		return nil, errors.New("catalog: geocoder must not be nil")
	}
	if len(providers) == 0 {
		return nil, errors.New("catalog: provider list must not be empty")
	}
	seen := make(map[int]struct{}, len(providers))
	for _, p := range providers {
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate provider id %d", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	own := make([]Provider, len(providers))
	copy(own, providers)
	return &Catalog{providers: own, geocoder: geocoder, logger: logging.OrNop(logger)}, nil
}

// LoadProviders reads the provider list from path, or the embedded default
// list when path is empty.
func LoadProviders(path string) ([]Provider, error) {
	data := defaultProviders
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		data = b
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: decode providers: %w", err)
	}
	return f.Providers, nil
}

// All returns every provider in catalog order.
func (c *Catalog) All() []Listing {
	out := make([]Listing, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, NewListing(p))
	}
	return out
}

// ByID returns the provider with the given id.
func (c *Catalog) ByID(id int) (Listing, error) {
	for _, p := range c.providers {
		if p.ID == id {
			return NewListing(p), nil
		}
	}
	return Listing{}, ErrNotFound
}

// ByCuisine matches providers whose cuisine contains name, ignoring case.
func (c *Catalog) ByCuisine(ctx context.Context, name string) ([]Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, nil
	}
	var out []Listing
	for _, p := range c.providers {
		if strings.Contains(strings.ToLower(p.Cuisine), name) {
			out = append(out, NewListing(p))
		}
	}
	return out, nil
}

// ByMenuItem matches providers with a specialty containing term, ignoring case.
func (c *Catalog) ByMenuItem(ctx context.Context, term string) ([]Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	var out []Listing
	for _, p := range c.providers {
		for _, s := range p.Specialties {
			if strings.Contains(strings.ToLower(s), term) {
				out = append(out, NewListing(p))
				break
			}
		}
	}
	return out, nil
}

// ByLocation geocodes place and returns providers within radiusMiles,
// closest first. An unknown place yields no results.
func (c *Catalog) ByLocation(ctx context.Context, place string, radiusMiles float64) ([]Listing, error) {
	origin, found, err := c.geocoder.Geocode(ctx, place)
	if err != nil {
		return nil, fmt.Errorf("catalog: geocode %q: %w", place, err)
	}
	if !found {
		c.logger.Debug("location not found", zap.String("place", place))
		return nil, nil
	}
	return Near(origin, radiusMiles, c.All()), nil
}

// Near annotates listings with their distance from origin, keeps the ones
// within radiusMiles and sorts them closest first. Listings without usable
// coordinates are dropped.
func Near(origin Coordinates, radiusMiles float64, listings []Listing) []Listing {
	out := make([]Listing, 0, len(listings))
	for _, l := range listings {
		if !l.Coordinates.Valid() {
			continue
		}
		d := DistanceMiles(origin, l.Coordinates)
		if d <= radiusMiles {
			out = append(out, l.WithDistance(d))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].distance < out[j].distance
	})
	return out
}
