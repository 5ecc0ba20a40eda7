package bootstrap

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guiomkt/angubackend-sub001/platform/go/persistence"
)

// Command returns the bootstrap command. It applies the embedded platform DDL
// (restaurants, whatsapp_channels, whatsapp_integration_logs) to the target
// database. Every statement is idempotent, so re-running against an already
// bootstrapped database is safe.
func Command() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "bootstrap",
		Short: "Apply the embedded database schema",
		Long:  "Apply the embedded platform DDL (restaurants, WhatsApp channels, integration logs) to the target database. Safe to re-run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.Bootstrap(ctx, pool); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Schema bootstrap complete.")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	_ = c.MarkFlagRequired("database-url")

	return c
}
