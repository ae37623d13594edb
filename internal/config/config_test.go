package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dovakin0007.com/private-notes/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "BACKEND_PORT", "CORS_ORIGIN", "DATASTORE_URL", "SUPABASE_URL",
		"DATASTORE_ANON_KEY", "SUPABASE_ANON_KEY", "GRPC_PORT", "HTTP_CLIENT_TIMEOUT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.HTTP.Port)
	assert.Equal(t, 9096, cfg.GRPC.Port)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ClientTimeout)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins())
	assert.True(t, cfg.Datastore.Migrate)
	assert.False(t, cfg.Consul.Enabled)
}

func TestLoad_SupabaseFallbacks(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("AUTH_URL", "")
	os.Unsetenv("AUTH_URL")
	t.Setenv("DATASTORE_URL", "postgres://notes@localhost/notes")
	t.Setenv("BACKEND_PORT", "5001")
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "https://project.supabase.co", cfg.Auth.URL)
	assert.Equal(t, "anon", cfg.Auth.AnonKey)
	assert.Equal(t, "postgres://notes@localhost/notes", cfg.Datastore.URL)
	assert.Equal(t, "anon", cfg.Datastore.AnonKey)
	assert.Equal(t, 5001, cfg.HTTP.Port)
	require.NoError(t, cfg.Validate())
}

func TestValidate_ReportsEveryMissingValue(t *testing.T) {
	cfg := &config.Config{HTTP: config.HTTPConfig{Port: 4000}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingDatastoreURL)
	assert.ErrorIs(t, err, config.ErrMissingDatastoreKey)
}

func TestAllowedOrigins_TrimsAndDropsEmpty(t *testing.T) {
	cfg := &config.Config{HTTP: config.HTTPConfig{CORSOrigin: " https://a.example , ,https://b.example"}}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("NOTES_TEST_VALUE=from-dotenv\n"), 0o600))
	t.Setenv("NOTES_TEST_VALUE", "")
	os.Unsetenv("NOTES_TEST_VALUE")

	require.NoError(t, config.LoadEnvFile(path))
	assert.Equal(t, "from-dotenv", os.Getenv("NOTES_TEST_VALUE"))

	require.NoError(t, config.LoadEnvFile(filepath.Join(dir, "missing.env")))
}

func TestLoadClient_TrimsBackendURL(t *testing.T) {
	t.Setenv("NOTES_BACKEND_URL", "http://localhost:4000///")

	cfg, err := config.LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", cfg.BackendURL)
}

func TestLoadClient_DefaultBackend(t *testing.T) {
	t.Setenv("NOTES_BACKEND_URL", "")
	os.Unsetenv("NOTES_BACKEND_URL")

	cfg, err := config.LoadClient()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultBackendURL, cfg.BackendURL)
}
