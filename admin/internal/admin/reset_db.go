package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// resetTables are cleared child first.
var resetTables = []string{"settlements", "bonds", "sync_state"}

type ResetDBConfig struct {
	// Config limits the reset to the rows of one config account; empty clears every row.
	Config      string
	DryRun      bool
	SkipConfirm bool
	In          io.Reader
	Out         io.Writer
}

// ResetDB deletes the collected rows so the next collector refresh rebuilds them.
func ResetDB(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, cfg ResetDBConfig) error {
	counts := make(map[string]int64, len(resetTables))
	var total int64
	for _, table := range resetTables {
		var n int64
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE ($1 = '' OR config = $1)", pgx.Identifier{table}.Sanitize())
		if err := pool.QueryRow(ctx, q, cfg.Config).Scan(&n); err != nil {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
		total += n
	}

	if total == 0 {
		fmt.Fprintln(cfg.Out, "No rows to delete")
		return nil
	}

	scope := "all configs"
	if cfg.Config != "" {
		scope = "config " + cfg.Config
	}
	fmt.Fprintf(cfg.Out, "WARNING: This will DELETE %d row(s) of %s:\n\n", total, scope)
	for _, table := range resetTables {
		fmt.Fprintf(cfg.Out, "  - %s: %d\n", table, counts[table])
	}

	if cfg.DryRun {
		fmt.Fprintln(cfg.Out, "\n[DRY RUN] Would delete the above rows")
		return nil
	}

	if !cfg.SkipConfirm {
		fmt.Fprintf(cfg.Out, "\nType 'yes' to confirm: ")
		response, err := bufio.NewReader(cfg.In).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintln(cfg.Out, "\nConfirmation failed. Operation cancelled.")
			return nil
		}
	}

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, table := range resetTables {
			q := fmt.Sprintf("DELETE FROM %s WHERE ($1 = '' OR config = $1)", pgx.Identifier{table}.Sanitize())
			if _, err := tx.Exec(ctx, q, cfg.Config); err != nil {
				return fmt.Errorf("failed to delete from %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("admin: reset database", "rows", total, "scope", scope)
	fmt.Fprintf(cfg.Out, "\nSuccessfully deleted %d row(s)\n", total)
	return nil
}
