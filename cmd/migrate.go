package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tokengate/pkg/config"
	"github.com/dmitrymomot/tokengate/pkg/entitlement/pgstore"
	"github.com/dmitrymomot/tokengate/pkg/pg"
)

var errNothingToMigrate = errors.New("the memory store has no schema")

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema or create the MongoDB indexes",
		Long: "migrate prepares the store selected by STORE_DRIVER. PostgreSQL runs the embedded goose " +
			"migrations; MongoDB indexes are created while connecting.",
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			switch a.cfg.StoreDriver {
			case driverPostgres:
				var cfg pg.Config
				if err := config.Load(&cfg); err != nil {
					return fmt.Errorf("load postgres config: %w", err)
				}
				if err := pg.Migrate(cmd.Context(), a.pool, cfg, pgstore.Migrations, a.log); err != nil {
					return err
				}
			case driverMongo:
			default:
				return fmt.Errorf("%w: STORE_DRIVER=%s", errNothingToMigrate, a.cfg.StoreDriver)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", a.cfg.StoreDriver)
			return err
		}),
	}
}
