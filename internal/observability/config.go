package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/acquiring/internal/config"
)

// Config holds observability settings derived from the app config and the
// standard OTEL_* environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	out := Config{
		ServiceName:          firstNonEmpty(cfg.AppName, "acquiring"),
		Environment:          firstNonEmpty(os.Getenv("DEPLOYMENT_ENV"), cfg.Environment),
		Version:              firstNonEmpty(os.Getenv("SERVICE_VERSION"), cfg.AppVersion),
		LogLevel:             strings.ToLower(firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")),
		LogFormat:            strings.ToLower(firstNonEmpty(os.Getenv("LOG_FORMAT"), "json")),
		OtelExporterEndpoint: firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(firstNonEmpty(
			os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"),
			os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"),
			"grpc",
		)),
		OtelSamplingRatio: 0.1,
	}

	if enabled, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("OTEL_ENABLED"))); err == nil {
		out.OtelEnabled = enabled
	}
	if ratio, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("OTEL_SAMPLING_RATIO")), 64); err == nil {
		out.OtelSamplingRatio = ratio
	}
	return out
}

// Debug reports whether verbose diagnostics (stack traces) are wanted.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
