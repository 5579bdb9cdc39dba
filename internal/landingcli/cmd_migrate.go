package landingcli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mozilla-lando/landingd/internal/landingdb"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, _ := cmd.Flags().GetString("database-url")

		ctx := cmd.Context()
		db, err := landingdb.Open(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().String("database-url", envOrDefault("LANDINGD_DATABASE_URL", "postgres://localhost:5432/landingd?sslmode=disable"), "Postgres DSN")
}
