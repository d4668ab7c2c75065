// Package config loads proxy settings from the environment. Provider
// credentials are optional; routes are only mounted for providers whose
// credentials are present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the proxy.
type Config struct {
	Host    string
	Port    string
	Timeout time.Duration

	Database DatabaseConfig
	Queue    QueueConfig

	OpenAI      OpenAIConfig
	AzureOpenAI AzureOpenAIConfig
	Anthropic   AnthropicConfig
	Gemini      GeminiConfig
	Bedrock     BedrockConfig

	// APIKeyHashes, when set, gate every route behind proxy API keys.
	APIKeyHashes []string
	// RequireUser rejects requests that do not identify an end user.
	RequireUser bool
	// BannedUsers short-circuit requests whose user field matches.
	BannedUsers []string
	// ModelOverrides rewrites requested models, "from=to" pairs.
	ModelOverrides map[string]string
}

// DatabaseConfig holds access log store settings.
type DatabaseConfig struct {
	// URL accepts postgres:// and sqlite:// DSNs, or a bare sqlite path.
	URL string
	// WideText widens the text columns for engines that truncate by default.
	WideText bool
}

// QueueConfig selects the access log queue backend.
type QueueConfig struct {
	// Backend is "memory" or "redis".
	Backend string
	// Size bounds the memory backend.
	Size int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisName     string
}

// OpenAIConfig holds the OpenAI credential.
type OpenAIConfig struct {
	APIKey string
}

// AzureOpenAIConfig identifies one Azure OpenAI deployment.
type AzureOpenAIConfig struct {
	APIKey       string
	ResourceName string
	DeploymentID string
	APIVersion   string
}

// AnthropicConfig holds the Anthropic credential.
type AnthropicConfig struct {
	APIKey string
}

// GeminiConfig holds the Google AI Studio credential.
type GeminiConfig struct {
	APIKey string
}

// BedrockConfig holds static AWS credentials for the Bedrock runtime.
type BedrockConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	// LegacyClaude also mounts the claude-v2 text completion route.
	LegacyClaude bool
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Host:    getEnvString("AIPROXY_HOST", "127.0.0.1"),
		Port:    getEnvString("AIPROXY_PORT", "8000"),
		Timeout: time.Duration(getEnvInt("AIPROXY_TIMEOUT", 60)) * time.Second,
		Database: DatabaseConfig{
			URL:      getEnvString("AIPROXY_DATABASE_URL", "sqlite://aiproxy.db"),
			WideText: getEnvBool("AIPROXY_DB_WIDE_TEXT", false),
		},
		Queue: QueueConfig{
			Backend:       getEnvString("AIPROXY_QUEUE", "memory"),
			Size:          getEnvInt("AIPROXY_QUEUE_SIZE", 0),
			RedisAddr:     getEnvString("AIPROXY_REDIS_ADDR", "127.0.0.1:6379"),
			RedisPassword: os.Getenv("AIPROXY_REDIS_PASSWORD"),
			RedisDB:       getEnvInt("AIPROXY_REDIS_DB", 0),
			RedisName:     getEnvString("AIPROXY_REDIS_QUEUE", "accesslog"),
		},
		OpenAI: OpenAIConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
		},
		AzureOpenAI: AzureOpenAIConfig{
			APIKey:       os.Getenv("AZURE_OPENAI_API_KEY"),
			ResourceName: os.Getenv("AZURE_OPENAI_RESOURCE_NAME"),
			DeploymentID: os.Getenv("AZURE_OPENAI_DEPLOYMENT_ID"),
			APIVersion:   getEnvString("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Anthropic: AnthropicConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Bedrock: BedrockConfig{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Region:          getEnvString("AWS_REGION", "us-east-1"),
			LegacyClaude:    getEnvBool("AIPROXY_BEDROCK_LEGACY_CLAUDE", false),
		},
		RequireUser:    getEnvBool("AIPROXY_REQUIRE_USER", false),
		APIKeyHashes:   getEnvList("AIPROXY_API_KEY_HASHES"),
		BannedUsers:    getEnvList("AIPROXY_BANNED_USERS"),
		ModelOverrides: parsePairs(getEnvList("AIPROXY_MODEL_OVERRIDES")),
	}
	return cfg, nil
}

func parsePairs(items []string) map[string]string {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]string, len(items))
	for _, item := range items {
		from, to, found := strings.Cut(item, "=")
		if found && from != "" && to != "" {
			m[from] = to
		}
	}
	return m
}
