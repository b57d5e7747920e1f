package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/acquiring/internal/acquiring"
	"github.com/smallbiznis/acquiring/internal/clock"
	"github.com/smallbiznis/acquiring/internal/config"
	"github.com/smallbiznis/acquiring/internal/dedup"
	"github.com/smallbiznis/acquiring/internal/migration"
	"github.com/smallbiznis/acquiring/internal/observability"
	"github.com/smallbiznis/acquiring/internal/vault"
	"github.com/smallbiznis/acquiring/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "acquiring",
		Short:        "Payment acquiring and webhook reconciliation service",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(partnersCmd())
	rootCmd.AddCommand(credentialsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// coreModules wires everything except the HTTP server.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		vault.Module,
		dedup.Module,
		acquiring.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
