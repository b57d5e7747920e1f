package vault

import (
	"github.com/smallbiznis/acquiring/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("vault",
	fx.Provide(Provide),
)

func Provide(cfg config.Config, log *zap.Logger) (*Vault, error) {
	return New(Config{
		Key:          cfg.Vault.Key,
		PreviousKeys: cfg.Vault.PreviousKeys,
	}, log)
}
