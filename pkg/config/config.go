// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Routing RoutingConfig `yaml:"routing"`
	Reports ReportsConfig `yaml:"reports"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// DataConfig locates the network inputs. Either Snapshot or EdgesCSV must be
// set. Coordinates come from EdgesGeoJSON, or from OSMPBF when no GeoJSON is
// configured.
type DataConfig struct {
	EdgesCSV     string `yaml:"edges_csv"`
	EdgesGeoJSON string `yaml:"edges_geojson"`
	OSMPBF       string `yaml:"osm_pbf"`
	Snapshot     string `yaml:"snapshot"`
	RequireIndex bool   `yaml:"require_index"`
}

// RoutingConfig bounds query work.
type RoutingConfig struct {
	MaxK         int           `yaml:"max_k"`
	DefaultK     int           `yaml:"default_k"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// ReportsConfig selects the report store.
type ReportsConfig struct {
	Backend      string  `yaml:"backend"` // "memory" or "mongo"
	MongoURI     string  `yaml:"mongo_uri"`
	Database     string  `yaml:"database"`
	Collection   string  `yaml:"collection"`
	RadiusMeters float64 `yaml:"radius_meters"`
	AdminToken   string  `yaml:"admin_token"` // enables the moderation route when set
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5001",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  8 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxConcurrent:   64,
			CORSOrigins:     []string{"*"},
		},
		Data: DataConfig{
			EdgesCSV:     "data/edges.csv",
			EdgesGeoJSON: "data/edges.geojson",
			RequireIndex: true,
		},
		Routing: RoutingConfig{
			MaxK:         10,
			DefaultK:     3,
			QueryTimeout: 5 * time.Second,
		},
		Reports: ReportsConfig{
			Backend:      "memory",
			MongoURI:     "mongodb://localhost:27017",
			Database:     "safe_route",
			Collection:   "reports",
			RadiusMeters: 200,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and validates the result. An empty path
// returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr is empty")
	}
	if c.Server.MaxConcurrent <= 0 {
		add("server.max_concurrent must be positive, got %d", c.Server.MaxConcurrent)
	}
	for _, o := range c.Server.CORSOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			add("server.cors_origins entry %q must be * or an http(s) origin", o)
		}
	}
	if c.Data.Snapshot == "" && c.Data.EdgesCSV == "" {
		add("one of data.snapshot or data.edges_csv is required")
	}
	if c.Routing.MaxK <= 0 {
		add("routing.max_k must be positive, got %d", c.Routing.MaxK)
	}
	if c.Routing.DefaultK <= 0 || c.Routing.DefaultK > c.Routing.MaxK {
		add("routing.default_k must be in [1, max_k], got %d", c.Routing.DefaultK)
	}
	if c.Routing.QueryTimeout < 0 {
		add("routing.query_timeout must not be negative")
	}
	switch c.Reports.Backend {
	case "memory":
	case "mongo":
		if c.Reports.MongoURI == "" || c.Reports.Database == "" || c.Reports.Collection == "" {
			add("reports.mongo_uri, database and collection are required for the mongo backend")
		}
	default:
		add("reports.backend must be memory or mongo, got %q", c.Reports.Backend)
	}
	if c.Reports.RadiusMeters <= 0 {
		add("reports.radius_meters must be positive")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		add("%v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// NewLogger builds the slog logger described by c.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}
