// Package clientconfig loads settings for the storefront command-line
// client: an optional YAML file followed by STOREFRONT_* environment
// overrides.
package clientconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/pharmacy-storefront/internal/cartstore"
)

// Config is the client configuration.
type Config struct {
	APIURL       string        `yaml:"api_url"`
	Timeout      time.Duration `yaml:"timeout"`
	SessionFile  string        `yaml:"session_file"`
	SuggestLimit int           `yaml:"suggest_limit"`
	Cart         CartConfig    `yaml:"cart"`
	// Trace writes a JSON record of every API request span to stderr.
	Trace bool `yaml:"trace"`
}

// CartConfig selects the cart reconciliation strategy.
type CartConfig struct {
	Strategy string        `yaml:"strategy"` // "debounced" or "immediate"
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the built-in configuration.
func Default() Config {
	session := "storefront-session.json"
	if dir, err := os.UserConfigDir(); err == nil {
		session = filepath.Join(dir, "storefront", "session.json")
	}
	return Config{
		APIURL:       "http://localhost:8080/api",
		Timeout:      10 * time.Second,
		SessionFile:  session,
		SuggestLimit: 5,
		Cart: CartConfig{
			Strategy: "debounced",
			Debounce: cartstore.DefaultDebounce,
		},
	}
}

// Load reads path over the defaults (a missing file is not an error),
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STOREFRONT_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("STOREFRONT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("STOREFRONT_SESSION_FILE"); v != "" {
		cfg.SessionFile = v
	}
	if v := os.Getenv("STOREFRONT_SUGGEST_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SuggestLimit = n
		}
	}
	if v := os.Getenv("STOREFRONT_CART_STRATEGY"); v != "" {
		cfg.Cart.Strategy = v
	}
	if v := os.Getenv("STOREFRONT_TRACE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trace = b
		}
	}
	if v := os.Getenv("STOREFRONT_CART_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cart.Debounce = d
		}
	}
}

// Validate checks the configuration for values the client cannot use.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api_url must be an absolute URL, got %q", c.APIURL)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.SessionFile == "" {
		return errors.New("session_file is required")
	}
	if _, err := c.Cart.ParseStrategy(); err != nil {
		return err
	}
	if c.Cart.Debounce < 0 {
		return errors.New("cart.debounce must not be negative")
	}
	return nil
}

// ParseStrategy maps the configured name to a cartstore.Strategy.
func (c CartConfig) ParseStrategy() (cartstore.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(c.Strategy)) {
	case "", "debounced":
		return cartstore.Debounced, nil
	case "immediate":
		return cartstore.Immediate, nil
	}
	return 0, fmt.Errorf("unknown cart.strategy %q (want debounced or immediate)", c.Strategy)
}
