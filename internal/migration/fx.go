package migration

import (
	"strings"

	acquiringdomain "github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

// Run migrates postgres with the embedded SQL files; other dialects (local
// sqlite, mysql) fall back to gorm AutoMigrate of the same models.
func Run(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBAutoMigrate {
		log.Info("schema migration disabled")
		return nil
	}

	if strings.EqualFold(cfg.DBType, "postgres") {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}

	return conn.AutoMigrate(
		&acquiringdomain.Partner{},
		&acquiringdomain.AcquirerCredential{},
		&acquiringdomain.PaymentIntent{},
	)
}
