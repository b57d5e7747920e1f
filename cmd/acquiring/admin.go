package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/acquiring/internal/acquiring/credential"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/acquiring/gateway"
	"github.com/smallbiznis/acquiring/internal/clock"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const adminTimeout = 30 * time.Second

type adminDeps struct {
	fx.In

	DB       *gorm.DB
	GenID    *snowflake.Node
	Clock    clock.Clock
	Partners domain.PartnerRepository
	Registry *gateway.Registry
	Resolver *credential.Resolver
}

// withAdmin starts the core graph without the HTTP server and runs fn.
func withAdmin(ctx context.Context, fn func(ctx context.Context, deps adminDeps) error) error {
	var deps adminDeps
	app := fx.New(
		coreModules(),
		fx.Populate(&deps),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Stop(context.Background())

	return fn(ctx, deps)
}

func partnersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partners",
		Short: "Manage partners",
	}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register an active partner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			return withAdmin(cmd.Context(), func(ctx context.Context, deps adminDeps) error {
				partner := &domain.Partner{
					ID:        deps.GenID.Generate(),
					Name:      name,
					IsActive:  true,
					CreatedAt: deps.Clock.Now(),
				}
				if err := deps.Partners.Insert(ctx, deps.DB, partner); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), partner.ID.String())
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "partner display name")

	cmd.AddCommand(create)
	return cmd
}

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage encrypted acquirer credentials",
	}

	var (
		partner  string
		acquirer string
		raw      string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Encrypt and store the active credential of a partner",
		Long: `Encrypt and store the active credential of a partner.

Examples:
  acquiring credentials set --partner 1790 --config '{"terminal_key":"TinkoffBankTest","password":"secret"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			partnerID, err := snowflake.ParseString(strings.TrimSpace(partner))
			if err != nil {
				return fmt.Errorf("invalid --partner: %w", err)
			}
			config := map[string]any{}
			if err := json.Unmarshal([]byte(raw), &config); err != nil {
				return fmt.Errorf("invalid --config: %w", err)
			}

			return withAdmin(cmd.Context(), func(ctx context.Context, deps adminDeps) error {
				gw, err := deps.Registry.Resolve(domain.AcquirerType(acquirer))
				if err != nil {
					return err
				}
				stored, err := deps.Resolver.Store(ctx, partnerID, gw, config)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "credential %s active for partner %s (%s)\n",
					stored.ID.String(), partnerID.String(), stored.AcquirerType)
				return nil
			})
		},
	}
	set.Flags().StringVar(&partner, "partner", "", "partner id")
	set.Flags().StringVar(&acquirer, "acquirer", "", "acquirer type, defaults to the configured default")
	set.Flags().StringVar(&raw, "config", "", "credential config as a JSON object")
	_ = set.MarkFlagRequired("partner")
	_ = set.MarkFlagRequired("config")

	cmd.AddCommand(set)
	return cmd
}
