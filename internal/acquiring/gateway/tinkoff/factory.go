package tinkoff

import (
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/config"
	"github.com/smallbiznis/acquiring/internal/observability/metrics"
	"go.uber.org/zap"
)

// Factory builds gateways from the current acquiring config, so reloaded
// settings apply to the next resolved gateway.
type Factory struct {
	holder  *config.AcquiringConfigHolder
	metrics *metrics.HTTPMetrics
	log     *zap.Logger
}

func NewFactory(holder *config.AcquiringConfigHolder, httpMetrics *metrics.HTTPMetrics, log *zap.Logger) *Factory {
	return &Factory{holder: holder, metrics: httpMetrics, log: log}
}

func (f *Factory) Type() domain.AcquirerType {
	return domain.AcquirerTinkoff
}

func (f *Factory) NewGateway() (domain.Gateway, error) {
	cfg := config.DefaultAcquiringConfig().Gateway(string(domain.AcquirerTinkoff))
	if f.holder != nil {
		cfg = f.holder.Get().Gateway(string(domain.AcquirerTinkoff))
	}
	return New(Options{
		BaseURL:         cfg.BaseURL,
		Timeout:         cfg.Timeout,
		NotificationURL: cfg.NotificationURL,
		Language:        cfg.DefaultLanguage,
		Metrics:         f.metrics,
		Log:             f.log,
	})
}
