package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/store/postgres"
)

// resetTimeout bounds a reset of every kind.
const resetTimeout = 30 * time.Second

func newResetCommand() *cobra.Command {
	var (
		kindFlag string
		dbFlag   string
		yesFlag  bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete stored records of a kind from PostgreSQL",
		Long: `reset deletes every stored record of the kind, or of all kinds with
--kind all. Saved field mappings and the import history are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yesFlag {
				return errors.New("reset is destructive, pass --yes to confirm")
			}
			if dbFlag == "" {
				return errors.New("no database, set --database-url or DATABASE_URL")
			}

			kinds := core.Kinds()
			if kindFlag != "all" {
				kind, err := core.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				kinds = []core.Kind{kind}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), resetTimeout)
			defer cancel()

			pool, err := pgxpool.New(ctx, dbFlag)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			store := postgres.New(pool)
			for _, kind := range kinds {
				n, err := store.ResetKind(ctx, kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records deleted\n", kind, n)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "Record kind, or all")
	cmd.Flags().StringVar(&dbFlag, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	cmd.Flags().BoolVar(&yesFlag, "yes", false, "Confirm deletion")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
