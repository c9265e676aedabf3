// Package config loads engine tuning and wiring from a JSON file. All
// fields are optional pointers: anything a deployment does not set falls
// back to the built-in default through its Get accessor, so partial config
// files are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/geotruth/engine/internal/match"
	"github.com/geotruth/engine/internal/track"
)

// DefaultConfigPath is where the service binary looks for configuration
// when no -config flag is given.
const DefaultConfigPath = "config/engine.defaults.json"

// EngineConfig is the root configuration. The schema doubles as the body
// of the runtime tuning endpoint, so JSON names are part of the API.
type EngineConfig struct {
	// Matcher tuning
	SigmaM        *float64 `json:"sigma_m,omitempty"`
	Beta          *float64 `json:"beta,omitempty"`
	RadiusFloorM  *float64 `json:"radius_floor_m,omitempty"`
	RadiusCeilM   *float64 `json:"radius_ceil_m,omitempty"`
	AccuracyScale *float64 `json:"accuracy_scale,omitempty"`

	// Track normalization
	MaxGap      *string  `json:"max_gap,omitempty"` // duration string like "30s"
	MaxSpeedMPS *float64 `json:"max_speed_mps,omitempty"`

	// Bundle cache
	CacheTTL *string `json:"cache_ttl,omitempty"` // duration string like "24h"

	// Online backends
	OnlineTimeout    *string `json:"online_timeout,omitempty"` // duration string like "5s"
	PostgresDSN      *string `json:"postgres_dsn,omitempty"`
	GeocodeURL       *string `json:"geocode_url,omitempty"`
	ValhallaURL      *string `json:"valhalla_url,omitempty"`
	OverpassEndpoint *string `json:"overpass_endpoint,omitempty"`

	// Offline reference data
	OfflineDBPath *string `json:"offline_db_path,omitempty"`
	MigrationsDir *string `json:"migrations_dir,omitempty"`

	// Service
	ListenAddr *string `json:"listen_addr,omitempty"`
	Verbose    *bool   `json:"verbose,omitempty"`
}

// EmptyEngineConfig returns an EngineConfig with every field unset.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// LoadEngineConfig loads an EngineConfig from a JSON file. Fields omitted
// from the file keep their defaults via the Get accessors.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEngineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set values are in range and durations parse.
func (c *EngineConfig) Validate() error {
	if c.SigmaM != nil && *c.SigmaM <= 0 {
		return fmt.Errorf("sigma_m must be positive, got %f", *c.SigmaM)
	}
	if c.Beta != nil && *c.Beta <= 0 {
		return fmt.Errorf("beta must be positive, got %f", *c.Beta)
	}
	if c.RadiusFloorM != nil && *c.RadiusFloorM <= 0 {
		return fmt.Errorf("radius_floor_m must be positive, got %f", *c.RadiusFloorM)
	}
	if c.RadiusCeilM != nil && c.RadiusFloorM != nil && *c.RadiusCeilM < *c.RadiusFloorM {
		return fmt.Errorf("radius_ceil_m (%f) below radius_floor_m (%f)", *c.RadiusCeilM, *c.RadiusFloorM)
	}
	if c.MaxSpeedMPS != nil && *c.MaxSpeedMPS <= 0 {
		return fmt.Errorf("max_speed_mps must be positive, got %f", *c.MaxSpeedMPS)
	}
	for name, v := range map[string]*string{
		"max_gap":        c.MaxGap,
		"cache_ttl":      c.CacheTTL,
		"online_timeout": c.OnlineTimeout,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}
	return nil
}

// GetSigmaM returns the sigma_m value or the default.
func (c *EngineConfig) GetSigmaM() float64 {
	if c.SigmaM == nil {
		return match.DefaultSigmaM
	}
	return *c.SigmaM
}

// GetBeta returns the beta value or the default.
func (c *EngineConfig) GetBeta() float64 {
	if c.Beta == nil {
		return match.DefaultBeta
	}
	return *c.Beta
}

// GetRadiusFloorM returns the radius_floor_m value or the default.
func (c *EngineConfig) GetRadiusFloorM() float64 {
	if c.RadiusFloorM == nil {
		return match.DefaultRadiusFloorM
	}
	return *c.RadiusFloorM
}

// GetRadiusCeilM returns the radius_ceil_m value or the default.
func (c *EngineConfig) GetRadiusCeilM() float64 {
	if c.RadiusCeilM == nil {
		return match.DefaultRadiusCeilM
	}
	return *c.RadiusCeilM
}

// GetAccuracyScale returns the accuracy_scale value or the default.
func (c *EngineConfig) GetAccuracyScale() float64 {
	if c.AccuracyScale == nil {
		return match.DefaultAccuracyScale
	}
	return *c.AccuracyScale
}

// GetMaxGap parses and returns max_gap as a time.Duration.
func (c *EngineConfig) GetMaxGap() time.Duration {
	if c.MaxGap == nil || *c.MaxGap == "" {
		return track.DefaultMaxGap
	}
	d, err := time.ParseDuration(*c.MaxGap)
	if err != nil {
		return track.DefaultMaxGap
	}
	return d
}

// GetMaxSpeedMPS returns the teleport threshold or the default.
func (c *EngineConfig) GetMaxSpeedMPS() float64 {
	if c.MaxSpeedMPS == nil {
		return track.DefaultMaxSpeedMPS
	}
	return *c.MaxSpeedMPS
}

// GetCacheTTL parses and returns cache_ttl as a time.Duration. Zero means
// the cache package default.
func (c *EngineConfig) GetCacheTTL() time.Duration {
	if c.CacheTTL == nil || *c.CacheTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.CacheTTL)
	if err != nil {
		return 0
	}
	return d
}

// GetOnlineTimeout parses and returns online_timeout as a time.Duration.
// Zero means the arbiter default.
func (c *EngineConfig) GetOnlineTimeout() time.Duration {
	if c.OnlineTimeout == nil || *c.OnlineTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.OnlineTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetPostgresDSN returns the postgres_dsn value, empty when unset.
func (c *EngineConfig) GetPostgresDSN() string {
	if c.PostgresDSN == nil {
		return ""
	}
	return *c.PostgresDSN
}

// GetGeocodeURL returns the geocode_url value, empty when unset.
func (c *EngineConfig) GetGeocodeURL() string {
	if c.GeocodeURL == nil {
		return ""
	}
	return *c.GeocodeURL
}

// GetValhallaURL returns the valhalla_url value, empty when unset.
func (c *EngineConfig) GetValhallaURL() string {
	if c.ValhallaURL == nil {
		return ""
	}
	return *c.ValhallaURL
}

// GetOverpassEndpoint returns the overpass_endpoint value, empty when unset.
func (c *EngineConfig) GetOverpassEndpoint() string {
	if c.OverpassEndpoint == nil {
		return ""
	}
	return *c.OverpassEndpoint
}

// GetOfflineDBPath returns the offline_db_path value or the default.
func (c *EngineConfig) GetOfflineDBPath() string {
	if c.OfflineDBPath == nil || *c.OfflineDBPath == "" {
		return "reference.db"
	}
	return *c.OfflineDBPath
}

// GetMigrationsDir returns the migrations_dir value or the default.
func (c *EngineConfig) GetMigrationsDir() string {
	if c.MigrationsDir == nil || *c.MigrationsDir == "" {
		return "migrations"
	}
	return *c.MigrationsDir
}

// GetListenAddr returns the listen_addr value or the default.
func (c *EngineConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetVerbose returns the verbose value or the default.
func (c *EngineConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// MatchConfig builds the matcher tuning from this configuration.
func (c *EngineConfig) MatchConfig() match.Config {
	return match.Config{
		SigmaM:        c.GetSigmaM(),
		Beta:          c.GetBeta(),
		RadiusFloorM:  c.GetRadiusFloorM(),
		RadiusCeilM:   c.GetRadiusCeilM(),
		AccuracyScale: c.GetAccuracyScale(),
	}
}

// NormalizerConfig builds the track normalizer tuning from this
// configuration.
func (c *EngineConfig) NormalizerConfig() track.NormalizerConfig {
	return track.NormalizerConfig{
		MaxGap:      c.GetMaxGap(),
		MaxSpeedMPS: c.GetMaxSpeedMPS(),
	}
}
