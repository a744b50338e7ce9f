package observability

import (
	"strings"

	"github.com/smallbiznis/acpgateway/internal/config"
)

const defaultServiceName = "acpgateway"

// Config is the resolved observability view of the gateway configuration.
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

// LoadConfig resolves service identity and exporter settings. DEPLOYMENT_ENV
// and SERVICE_VERSION override the application values when set.
func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = defaultServiceName
	}
	ratio := obs.SamplingRatio
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}

	return Config{
		ServiceName:          name,
		Environment:          firstNonEmpty(obs.DeploymentEnv, cfg.Environment),
		Version:              firstNonEmpty(obs.ServiceVersion, cfg.AppVersion),
		LogLevel:             obs.LogLevel,
		LogFormat:            obs.LogFormat,
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: obs.OTLPEndpoint,
		OtelExporterProtocol: obs.OTLPProtocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug reports whether verbose logging and gin debug mode apply.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
