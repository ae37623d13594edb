package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DefaultBackendURL = "https://private-notes-backend.onrender.com"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Datastore DatastoreConfig `mapstructure:"datastore"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Consul    ConsulConfig    `mapstructure:"consul"`
	Log       LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Port          int           `mapstructure:"port"`
	CORSOrigin    string        `mapstructure:"cors_origin"`
	ClientTimeout time.Duration `mapstructure:"client_timeout"`
}

type AuthConfig struct {
	URL     string `mapstructure:"url"`
	AnonKey string `mapstructure:"anon_key"`
}

type DatastoreConfig struct {
	URL     string `mapstructure:"url"`
	AnonKey string `mapstructure:"anon_key"`
	Migrate bool   `mapstructure:"migrate"`
}

type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

type ConsulConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceID   string `mapstructure:"service_id"`
	ServiceName string `mapstructure:"service_name"`
	Address     string `mapstructure:"address"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClientConfig configures the command-line client.
type ClientConfig struct {
	BackendURL  string `mapstructure:"backend_url"`
	AuthURL     string `mapstructure:"auth_url"`
	AuthAnonKey string `mapstructure:"auth_anon_key"`
	SessionFile string `mapstructure:"session_file"`
}

var (
	ErrMissingDatastoreURL = errors.New("DATASTORE_URL (or SUPABASE_URL) is required")
	ErrMissingDatastoreKey = errors.New("DATASTORE_ANON_KEY (or SUPABASE_ANON_KEY) is required")
)

// LoadEnvFile loads a .env file into the process environment. A missing
// file is not an error.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("http.port", 4000)
	v.SetDefault("http.cors_origin", "http://localhost:3000")
	v.SetDefault("http.client_timeout", 10*time.Second)
	v.SetDefault("datastore.migrate", true)
	v.SetDefault("grpc.port", 9096)
	v.SetDefault("consul.enabled", false)
	v.SetDefault("consul.service_id", "private-notes")
	v.SetDefault("consul.service_name", "private-notes")
	v.SetDefault("consul.address", "localhost")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	bindings := map[string][]string{
		"http.port":           {"PORT", "BACKEND_PORT"},
		"http.cors_origin":    {"CORS_ORIGIN"},
		"http.client_timeout": {"HTTP_CLIENT_TIMEOUT"},
		"auth.url":            {"AUTH_URL", "SUPABASE_URL"},
		"auth.anon_key":       {"AUTH_ANON_KEY", "SUPABASE_ANON_KEY"},
		"datastore.url":       {"DATASTORE_URL", "SUPABASE_URL"},
		"datastore.anon_key":  {"DATASTORE_ANON_KEY", "SUPABASE_ANON_KEY"},
		"datastore.migrate":   {"DATASTORE_MIGRATE"},
		"grpc.port":           {"GRPC_PORT"},
		"consul.enabled":      {"CONSUL_ENABLED"},
		"consul.service_id":   {"CONSUL_SERVICE_ID"},
		"consul.service_name": {"CONSUL_SERVICE_NAME"},
		"consul.address":      {"SERVICE_ADDRESS"},
		"log.level":           {"LOG_LEVEL"},
		"log.format":          {"LOG_FORMAT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every missing value at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if strings.TrimSpace(c.Datastore.URL) == "" {
		result = multierror.Append(result, ErrMissingDatastoreURL)
	}
	if strings.TrimSpace(c.Datastore.AnonKey) == "" {
		result = multierror.Append(result, ErrMissingDatastoreKey)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("invalid HTTP port %d", c.HTTP.Port))
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("invalid gRPC port %d", c.GRPC.Port))
	}
	return result.ErrorOrNil()
}

// AllowedOrigins splits the comma-separated CORS_ORIGIN value.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.HTTP.CORSOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func LoadClient() (*ClientConfig, error) {
	v := viper.New()
	v.SetDefault("backend_url", DefaultBackendURL)
	v.SetDefault("session_file", "")

	bindings := map[string][]string{
		"backend_url":   {"NOTES_BACKEND_URL"},
		"auth_url":      {"NOTES_AUTH_URL"},
		"auth_anon_key": {"NOTES_AUTH_ANON_KEY"},
		"session_file":  {"NOTES_SESSION_FILE"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding client config: %w", err)
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	return &cfg, nil
}
