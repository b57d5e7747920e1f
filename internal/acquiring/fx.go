package acquiring

import (
	"github.com/smallbiznis/acquiring/internal/acquiring/credential"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/acquiring/gateway"
	"github.com/smallbiznis/acquiring/internal/acquiring/gateway/tinkoff"
	"github.com/smallbiznis/acquiring/internal/acquiring/repository"
	"github.com/smallbiznis/acquiring/internal/acquiring/service"
	"github.com/smallbiznis/acquiring/internal/acquiring/webhook"
	"github.com/smallbiznis/acquiring/internal/config"
	"github.com/smallbiznis/acquiring/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("acquiring",
	fx.Provide(ProvideRegistry),
	repository.Module,
	credential.Module,
	service.Module,
	webhook.Module,
)

type RegistryParams struct {
	fx.In

	Config      *config.AcquiringConfigHolder
	HTTPMetrics *metrics.HTTPMetrics `optional:"true"`
	Log         *zap.Logger
}

// ProvideRegistry registers every supported acquirer. The default type is
// read once at startup.
func ProvideRegistry(p RegistryParams) *gateway.Registry {
	log := p.Log.Named("acquiring.gateway")
	registry := gateway.NewRegistry(
		domain.AcquirerType(p.Config.Get().DefaultAcquirer),
		tinkoff.NewFactory(p.Config, p.HTTPMetrics, log),
	)
	log.Info("acquirer registry ready",
		zap.String("default", string(registry.Default())),
		zap.Int("acquirers", len(registry.Types())),
	)
	return registry
}
