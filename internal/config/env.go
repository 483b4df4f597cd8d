package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the AGENTPAY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "AGENTPAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "AGENTPAY_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "AGENTPAY_ADMIN_METRICS_API_KEY")

	if origins := os.Getenv("AGENTPAY_CORS_ALLOWED_ORIGINS"); origins != "" {
		c.Server.CORSAllowedOrigins = splitAndTrim(origins)
	}

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "AGENTPAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "AGENTPAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "AGENTPAY_ENVIRONMENT")

	// Storage config
	setIfEnv(&c.Storage.Backend, "AGENTPAY_STORAGE_BACKEND")
	setIfEnv(&c.Storage.MongoDBURL, "AGENTPAY_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "AGENTPAY_MONGODB_DATABASE")
	setIfEnv(&c.Storage.PostgresURL, "AGENTPAY_POSTGRES_URL")

	// Rates config
	setIfEnv(&c.Rates.SourceURL, "AGENTPAY_RATES_SOURCE_URL")
	setFloatIfEnv(&c.Rates.FallbackKrwPerUsdt, "AGENTPAY_RATES_FALLBACK_KRW_PER_USDT")

	// Rate limiting
	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "AGENTPAY_RATE_LIMIT_GLOBAL_ENABLED")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "AGENTPAY_RATE_LIMIT_PER_IP_ENABLED")
}

// setIfEnv assigns the env value when present and non-empty.
func setIfEnv(dest *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}

// setBoolIfEnv assigns a parsed boolean env value when present and valid.
func setBoolIfEnv(dest *bool, key string) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*dest = parsed
		}
	}
}

// setFloatIfEnv assigns a parsed float env value when present and valid.
func setFloatIfEnv(dest *float64, key string) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*dest = parsed
		}
	}
}

// splitAndTrim parses a comma-separated env value into a clean slice.
func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with exactly one "/"
// and has no trailing "/".
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}
