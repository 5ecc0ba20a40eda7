package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/guiomkt/angubackend-sub001/database"
)

// Bootstrap applies the platform DDL in a single transaction, in this order:
//  1. platform/restaurants.sql
//  2. platform/whatsapp_channels.sql
//  3. platform/whatsapp_integration_logs.sql
//
// SQL is embedded at build time so binaries stay self-contained. All statements
// are CREATE IF NOT EXISTS, so the helper is idempotent and intended for the
// CLI bootstrap command and tests.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap: pool is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.RestaurantsSQL)...)
	statements = append(statements, splitStatements(sqlassets.WhatsAppChannelsSQL)...)
	statements = append(statements, splitStatements(sqlassets.WhatsAppIntegrationLogsSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements breaks an embedded SQL asset into individual statements.
// The platform DDL keeps one statement per semicolon and no procedural blocks,
// so a plain split is sufficient.
func splitStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		stmt := strings.TrimSpace(part)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
