package config

import (
	"os"
	"strconv"
	"time"
)

// Config is a flat, env-sourced configuration struct, read once at
// process start. There is no hot reload; a config change means a
// restart.
type Config struct {
	HTTPAddr string

	DBUsername     string
	DBPassword     string
	DBHost         string
	DBPort         string
	DBName         string
	DisableTLS     bool
	DBMaxOpenConns int
	DBMaxIdleConns int

	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int

	StopFlagTTL time.Duration

	// IntegrationMetadataKeys names additional tool-argument/result keys
	// the event bus must redact before publishing, beyond the built-in
	// secret-name list and the always-redacted leading-underscore
	// convention (spec §4.3, P7).
	IntegrationMetadataKeys []string

	ToolCatalogTTL time.Duration
	MCPServerURLs  []string
	K8sToolsEnable bool
	K8sKubeconfig  string

	LLMModel         string
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	MaxIterations    int
	ContextWindow    int
	TitlegenWorkers  int
	TitlegenMaxChars int

	OIDCIssuer   string
	OIDCAudience string
	AdminRole    string

	OtelExporterOTLPEndpoint string
	ServiceName              string
}

func ReadConfig() *Config {
	return &Config{
		HTTPAddr: getEnvOrDefault("HTTP_ADDR", ":8080"),

		DBUsername:     os.Getenv("DB_USERNAME"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBHost:         os.Getenv("DB_HOST"),
		DBPort:         getEnvOrDefault("DB_PORT", "5432"),
		DBName:         os.Getenv("DB_NAME"),
		DisableTLS:     os.Getenv("DISABLE_TLS") == "true",
		DBMaxOpenConns: getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisUsername: os.Getenv("REDIS_USERNAME"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 10),

		StopFlagTTL: time.Duration(getEnvIntOrDefault("STOP_FLAG_TTL_SECONDS", 600)) * time.Second,

		IntegrationMetadataKeys: splitNonEmpty(os.Getenv("INTEGRATION_METADATA_KEYS")),

		ToolCatalogTTL: time.Duration(getEnvIntOrDefault("TOOL_CATALOG_TTL_SECONDS", 30)) * time.Second,
		MCPServerURLs:  splitNonEmpty(os.Getenv("MCP_SERVER_URLS")),
		K8sToolsEnable: os.Getenv("K8S_TOOLS_ENABLE") == "true",
		K8sKubeconfig:  os.Getenv("K8S_KUBECONFIG"),

		LLMModel:         getEnvOrDefault("LLM_MODEL", "claude-sonnet-4-20250514"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		MaxIterations:    getEnvIntOrDefault("AGENT_MAX_ITERATIONS", 25),
		ContextWindow:    getEnvIntOrDefault("AGENT_CONTEXT_WINDOW_TOKENS", 150000),
		TitlegenWorkers:  getEnvIntOrDefault("TITLEGEN_WORKERS", 2),
		TitlegenMaxChars: getEnvIntOrDefault("TITLEGEN_MAX_CHARS", 80),

		OIDCIssuer:   os.Getenv("OIDC_ISSUER"),
		OIDCAudience: os.Getenv("OIDC_AUDIENCE"),
		AdminRole:    getEnvOrDefault("ADMIN_ROLE", "admin"),

		OtelExporterOTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:              getEnvOrDefault("OTEL_SERVICE_NAME", "agent-run-orchestrator"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
