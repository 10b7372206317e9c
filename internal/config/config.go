// Package config loads process settings from the environment and carrier
// bootstrap definitions from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"carrierlink/internal/integration"
	"carrierlink/internal/logging"
)

type Config struct {
	Environment   string
	Port          int
	Log           logging.Config
	DatabaseURL   string
	RedisURL      string
	Auth          AuthConfig
	Observability ObservabilityConfig
	Forward       ForwardConfig
	CarriersFile  string
}

type AuthConfig struct {
	Mode       string
	APIKeys    []string
	HMACSecret string
	JWKSURL    string
}

type ObservabilityConfig struct {
	Enabled     bool
	ServiceName string
}

// ForwardConfig names a downstream endpoint that receives lifecycle events.
type ForwardConfig struct {
	URL         string
	Secret      string
	Types       []string
	MaxAttempts int
}

// Load reads settings from the environment.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("app_env", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("api_keys", "")
	v.SetDefault("auth_mode", "dev")
	v.SetDefault("auth_hmac_secret", "")
	v.SetDefault("auth_jwks_url", "")
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_service_name", "carrierlink")
	v.SetDefault("carriers_file", "carriers.yaml")
	v.SetDefault("forward_url", "")
	v.SetDefault("forward_secret", "")
	v.SetDefault("forward_types", "")
	v.SetDefault("webhook_max_attempts", 10)

	port := v.GetInt("port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT: %d", port)
	}

	cfg := Config{
		Environment: strings.TrimSpace(v.GetString("app_env")),
		Port:        port,
		Log: logging.Config{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
		DatabaseURL: strings.TrimSpace(v.GetString("database_url")),
		RedisURL:    strings.TrimSpace(v.GetString("redis_url")),
		Auth: AuthConfig{
			Mode:       strings.ToLower(strings.TrimSpace(v.GetString("auth_mode"))),
			APIKeys:    splitList(v.GetString("api_keys")),
			HMACSecret: v.GetString("auth_hmac_secret"),
			JWKSURL:    strings.TrimSpace(v.GetString("auth_jwks_url")),
		},
		Observability: ObservabilityConfig{
			Enabled:     v.GetBool("otel_enabled"),
			ServiceName: strings.TrimSpace(v.GetString("otel_service_name")),
		},
		Forward: ForwardConfig{
			URL:         strings.TrimSpace(v.GetString("forward_url")),
			Secret:      v.GetString("forward_secret"),
			Types:       splitList(v.GetString("forward_types")),
			MaxAttempts: v.GetInt("webhook_max_attempts"),
		},
		CarriersFile: strings.TrimSpace(v.GetString("carriers_file")),
	}
	if cfg.Forward.URL != "" {
		if u, err := url.Parse(cfg.Forward.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("invalid FORWARD_URL: %q", cfg.Forward.URL)
		}
	}

	switch cfg.Auth.Mode {
	case "dev":
		if cfg.Environment == "production" {
			return Config{}, errors.New("AUTH_MODE=dev is not allowed in production")
		}
	case "apikey":
		if len(cfg.Auth.APIKeys) == 0 {
			return Config{}, errors.New("API_KEYS is required when AUTH_MODE=apikey")
		}
	case "hmac":
		if cfg.Auth.HMACSecret == "" {
			return Config{}, errors.New("AUTH_HMAC_SECRET is required when AUTH_MODE=hmac")
		}
	case "jwks":
		if cfg.Auth.JWKSURL == "" {
			return Config{}, errors.New("AUTH_JWKS_URL is required when AUTH_MODE=jwks")
		}
	default:
		return Config{}, fmt.Errorf("invalid AUTH_MODE: %q", cfg.Auth.Mode)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CarrierEntry is one carrier to initialize at startup.
type CarrierEntry struct {
	integration.Config `yaml:",inline"`
	Disabled           bool `yaml:"disabled"`
}

type carriersFile struct {
	Carriers []CarrierEntry `yaml:"carriers"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnvVars replaces ${VAR} with the variable's value.
func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// LoadCarriers reads enabled carrier definitions from path. A missing file
// yields no carriers.
func LoadCarriers(path string) ([]CarrierEntry, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseCarriers([]byte(substituteEnvVars(string(raw))))
}

// ParseCarriers decodes a carriers document.
func ParseCarriers(doc []byte) ([]CarrierEntry, error) {
	var f carriersFile
	if err := yaml.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("parse carriers file: %w", err)
	}
	out := make([]CarrierEntry, 0, len(f.Carriers))
	seen := map[string]bool{}
	for i, c := range f.Carriers {
		c.CarrierID = strings.ToUpper(strings.TrimSpace(c.CarrierID))
		if c.CarrierID == "" {
			return nil, fmt.Errorf("carriers[%d]: carrierId is required", i)
		}
		if seen[c.CarrierID] {
			return nil, fmt.Errorf("carriers[%d]: duplicate carrier %s", i, c.CarrierID)
		}
		seen[c.CarrierID] = true
		if !c.Disabled {
			out = append(out, c)
		}
	}
	return out, nil
}
