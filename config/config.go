package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Geocoder modes
const (
	GeocoderStatic    = "static"
	GeocoderNominatim = "nominatim"
)

const defaultSearchRadius = 50.0

// Config holds all server configuration
type Config struct {
	Port              int
	Env               string
	LogLevel          string
	RedisURL          string
	RedisPassword     string
	MaxSessions       int           // Maximum concurrently open websocket conversations
	SessionTimeout    time.Duration // Idle expiry for sessions whose call-ended event never arrived; 0 disables
	AllowedOrigins    []string
	KeepAlivePeriod   time.Duration
	MaxUtteranceBytes int
	SearchRadius      float64 // Miles
	LookupTimeout     time.Duration
	Geocoder          string // "static" or "nominatim"
	GeocoderURL       string
	GeocoderUserAgent string
	GeocoderRPS       float64
	CatalogFile       string // Optional YAML override of the embedded catalog
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:              8080,
		Env:               "development",
		LogLevel:          "info",
		RedisURL:          "localhost:6379",
		RedisPassword:     "",
		MaxSessions:       100,
		SessionTimeout:    30 * time.Minute,
		AllowedOrigins:    []string{"*"},
		KeepAlivePeriod:   30 * time.Second,
		MaxUtteranceBytes: 4096,
		SearchRadius:      defaultSearchRadius,
		LookupTimeout:     3 * time.Second,
		Geocoder:          GeocoderNominatim,
		GeocoderURL:       "https://nominatim.openstreetmap.org",
		GeocoderUserAgent: "cater_converse_voice_agent",
		GeocoderRPS:       1,
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		config.Env = env
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: MAX_UTTERANCE_BYTES
	if maxBytes := os.Getenv("MAX_UTTERANCE_BYTES"); maxBytes != "" {
		b, err := strconv.Atoi(maxBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_UTTERANCE_BYTES: %w", err)
		}
		config.MaxUtteranceBytes = b
	}

	// Optional: MAX_SEARCH_RADIUS (in miles). Never fails startup.
	if radius := os.Getenv("MAX_SEARCH_RADIUS"); radius != "" {
		config.SearchRadius = parseRadius(radius)
	}

	// Optional: LOOKUP_TIMEOUT (in milliseconds)
	if lookup := os.Getenv("LOOKUP_TIMEOUT"); lookup != "" {
		ms, err := strconv.Atoi(lookup)
		if err != nil {
			return nil, fmt.Errorf("invalid LOOKUP_TIMEOUT: %w", err)
		}
		config.LookupTimeout = time.Duration(ms) * time.Millisecond
	}

	// Optional: GEOCODER ("static" or "nominatim")
	if mode := os.Getenv("GEOCODER"); mode != "" {
		switch mode {
		case GeocoderStatic, GeocoderNominatim:
			config.Geocoder = mode
		default:
			return nil, fmt.Errorf("invalid GEOCODER: must be 'static' or 'nominatim'")
		}
	}

	if geocoderURL := os.Getenv("GEOCODER_URL"); geocoderURL != "" {
		config.GeocoderURL = strings.TrimRight(geocoderURL, "/")
	}

	if agent := os.Getenv("GEOCODER_USER_AGENT"); agent != "" {
		config.GeocoderUserAgent = agent
	}

	if rps := os.Getenv("GEOCODER_RPS"); rps != "" {
		r, err := strconv.ParseFloat(rps, 64)
		if err != nil || r <= 0 {
			return nil, fmt.Errorf("invalid GEOCODER_RPS: %q", rps)
		}
		config.GeocoderRPS = r
	}

	config.CatalogFile = os.Getenv("CATALOG_FILE")

	return config, nil
}

// parseRadius accepts values such as "25 # miles" and falls back to the
// default radius when the value is not a positive number.
func parseRadius(raw string) float64 {
	raw = strings.TrimSpace(strings.SplitN(raw, "#", 2)[0])
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil || r <= 0 {
		return defaultSearchRadius
	}
	return r
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
