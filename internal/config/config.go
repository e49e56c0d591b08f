package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigMissing is returned when a required setting (credentials or API
// token) is absent after the file and environment have been applied.
var ErrConfigMissing = errors.New("config: required setting missing")

const (
	DefaultBaseURL         = "https://www.sarool.fr"
	DefaultListen          = ":3000"
	DefaultTimezone        = "Europe/Paris"
	DefaultCacheTTL        = 60
	DefaultUpstreamTimeout = 30
	DefaultCalendarName    = "Sarool Planning (UTC)"
	DefaultLocationName    = "Auto-école"
)

// Place is a name + address pair used as event location.
type Place struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
}

// Complete reports whether both fields are set.
func (p Place) Complete() bool {
	return p.Name != "" && p.Address != ""
}

// LocationsConfig maps event classifications to places.
type LocationsConfig struct {
	Default    Place `yaml:"default" json:"default"`
	Lecon      Place `yaml:"lecon" json:"lecon"`
	Module     Place `yaml:"module" json:"module"`
	Simulateur Place `yaml:"simulateur" json:"simulateur"`
}

// PortalConfig holds the upstream account.
type PortalConfig struct {
	// BaseURL is the portal origin. Only tests should need to change it.
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"password"`

	// TimeoutSeconds bounds each upstream HTTP call.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// APIToken must be passed as ?token= by calendar clients.
	APIToken string `yaml:"api_token" json:"api_token"`

	// Timezone is the IANA zone the portal prints its dates in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// CacheTTLSeconds is how long a built calendar is served before the
	// next request triggers a refresh.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	// WarmCron, when set, refreshes the cache on a cron schedule
	// (e.g. "*/10 * * * *") so that clients rarely wait on the portal.
	WarmCron string `yaml:"warm_cron" json:"warm_cron"`

	// CalendarName is written as X-WR-CALNAME.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Portal    PortalConfig    `yaml:"portal" json:"portal"`
	Locations LocationsConfig `yaml:"locations" json:"locations"`
}

// DefaultConfig returns an in-memory default configuration. Credentials and
// the API token have no defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		Timezone:        DefaultTimezone,
		CacheTTLSeconds: DefaultCacheTTL,
		CalendarName:    DefaultCalendarName,
		LogLevel:        "info",
		Portal: PortalConfig{
			BaseURL:        DefaultBaseURL,
			TimeoutSeconds: DefaultUpstreamTimeout,
		},
		Locations: LocationsConfig{
			Default: Place{Name: DefaultLocationName},
		},
	}
}

// Normalize fills in missing/zero values with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = DefaultCacheTTL
	}
	if c.CalendarName == "" {
		c.CalendarName = DefaultCalendarName
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Portal.BaseURL = strings.TrimRight(c.Portal.BaseURL, "/")
	if c.Portal.BaseURL == "" {
		c.Portal.BaseURL = DefaultBaseURL
	}
	if c.Portal.TimeoutSeconds <= 0 {
		c.Portal.TimeoutSeconds = DefaultUpstreamTimeout
	}
	if c.Locations.Default.Name == "" {
		c.Locations.Default.Name = DefaultLocationName
	}
}

// Validate checks required settings and values that must parse.
func (c *Config) Validate() error {
	var missing []string
	if c.Portal.Email == "" {
		missing = append(missing, "SAROOL_EMAIL")
	}
	if c.Portal.Password == "" {
		missing = append(missing, "SAROOL_PASSWORD")
	}
	if c.APIToken == "" {
		missing = append(missing, "API_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigMissing, strings.Join(missing, ", "))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// CacheTTL returns the TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// UpstreamTimeout returns the per-call portal timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Portal.TimeoutSeconds) * time.Second
}

// Location loads the configured timezone. Validate has already checked it.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Load builds the configuration from, in increasing precedence: defaults,
// the optional YAML file at path, and environment variables. A missing file
// is not an error; the result is normalized and validated.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// env-only deployment
		default:
			return nil, err
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("LISTEN", &c.Listen)
	str("API_TOKEN", &c.APIToken)
	str("TIMEZONE", &c.Timezone)
	str("WARM_CRON", &c.WarmCron)
	str("CALENDAR_NAME", &c.CalendarName)
	str("LOG_LEVEL", &c.LogLevel)

	str("SAROOL_BASE_URL", &c.Portal.BaseURL)
	str("SAROOL_EMAIL", &c.Portal.Email)
	str("SAROOL_PASSWORD", &c.Portal.Password)

	str("DEFAULT_LOCATION_NAME", &c.Locations.Default.Name)
	str("DEFAULT_LOCATION_ADDRESS", &c.Locations.Default.Address)
	str("LECON_LOCATION_NAME", &c.Locations.Lecon.Name)
	str("LECON_LOCATION_ADDRESS", &c.Locations.Lecon.Address)
	str("MODULE_LOCATION_NAME", &c.Locations.Module.Name)
	str("MODULE_LOCATION_ADDRESS", &c.Locations.Module.Address)
	str("SIMULATEUR_LOCATION_NAME", &c.Locations.Simulateur.Name)
	str("SIMULATEUR_LOCATION_ADDRESS", &c.Locations.Simulateur.Address)

	if err := num("CACHE_TTL_SECONDS", &c.CacheTTLSeconds); err != nil {
		return err
	}
	return num("UPSTREAM_TIMEOUT_SECONDS", &c.Portal.TimeoutSeconds)
}

// Save writes cfg as YAML to path.
//
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Final file permissions are 0600 since the file may hold credentials.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".planningcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
