package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"AIPROXY_HOST", "AIPROXY_PORT", "AIPROXY_TIMEOUT", "AIPROXY_DATABASE_URL",
		"AIPROXY_QUEUE", "AIPROXY_REQUIRE_USER", "AIPROXY_MODEL_OVERRIDES",
		"AWS_REGION", "AZURE_OPENAI_API_VERSION",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, "sqlite://aiproxy.db", cfg.Database.URL)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, "accesslog", cfg.Queue.RedisName)
	assert.Equal(t, "us-east-1", cfg.Bedrock.Region)
	assert.Equal(t, "2024-02-01", cfg.AzureOpenAI.APIVersion)
	assert.False(t, cfg.RequireUser)
	assert.Nil(t, cfg.ModelOverrides)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AIPROXY_HOST", "0.0.0.0")
	t.Setenv("AIPROXY_PORT", "9000")
	t.Setenv("AIPROXY_TIMEOUT", "120")
	t.Setenv("AIPROXY_DATABASE_URL", "postgres://user:pass@db/aiproxy")
	t.Setenv("AIPROXY_DB_WIDE_TEXT", "true")
	t.Setenv("AIPROXY_QUEUE", "redis")
	t.Setenv("AIPROXY_REDIS_ADDR", "redis:6379")
	t.Setenv("AIPROXY_REQUIRE_USER", "true")
	t.Setenv("AIPROXY_BANNED_USERS", "uezo, mallory")
	t.Setenv("AIPROXY_MODEL_OVERRIDES", "gpt-4=gpt-3.5-turbo,gpt-4o=gpt-4o-mini")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, "postgres://user:pass@db/aiproxy", cfg.Database.URL)
	assert.True(t, cfg.Database.WideText)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, "redis:6379", cfg.Queue.RedisAddr)
	assert.True(t, cfg.RequireUser)
	assert.Equal(t, []string{"uezo", "mallory"}, cfg.BannedUsers)
	assert.Equal(t, map[string]string{"gpt-4": "gpt-3.5-turbo", "gpt-4o": "gpt-4o-mini"}, cfg.ModelOverrides)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("AIPROXY_TIMEOUT", "not-a-number")
	t.Setenv("AIPROXY_REQUIRE_USER", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.False(t, cfg.RequireUser)
}

func TestParsePairsSkipsMalformedEntries(t *testing.T) {
	m := parsePairs([]string{"a=b", "missing", "=nofrom", "noto="})
	assert.Equal(t, map[string]string{"a": "b"}, m)
	assert.Nil(t, parsePairs(nil))
}
