package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"
)

// Nominatim geocodes through an OpenStreetMap Nominatim search endpoint.
type Nominatim struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// NewNominatim creates a client. rps bounds outbound requests; the public
// server allows one per second.
func NewNominatim(baseURL, userAgent string, rps float64, httpClient *http.Client) (*Nominatim, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("catalog: nominatim base url must not be empty")
	}
	if strings.TrimSpace(userAgent) == "" {
		return nil, errors.New("catalog: nominatim user agent must not be empty")
	}
	if rps <= 0 {
		rps = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Nominatim{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// Geocode implements Geocoder.
func (n *Nominatim) Geocode(ctx context.Context, place string) (Coordinates, bool, error) {
	place = strings.TrimSpace(place)
	if place == "" {
		return Coordinates{}, false, nil
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return Coordinates{}, false, fmt.Errorf("catalog: nominatim rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "json")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Coordinates{}, false, fmt.Errorf("catalog: nominatim request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return Coordinates{}, false, fmt.Errorf("catalog: nominatim call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Coordinates{}, false, fmt.Errorf("catalog: nominatim read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, false, fmt.Errorf("catalog: nominatim status %d", resp.StatusCode)
	}

	var places []nominatimPlace
	if err := sonic.Unmarshal(body, &places); err != nil {
		return Coordinates{}, false, fmt.Errorf("catalog: nominatim decode: %w", err)
	}
	if len(places) == 0 {
		return Coordinates{}, false, nil
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return Coordinates{}, false, fmt.Errorf("catalog: nominatim lat: %w", err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return Coordinates{}, false, fmt.Errorf("catalog: nominatim lon: %w", err)
	}
	return Coordinates{Lat: lat, Lon: lon}, true, nil
}
