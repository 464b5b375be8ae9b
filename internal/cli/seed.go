package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tokutei-learning/tokutei/backend/local"
)

func newSeedCmd(e *env) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the fixture accounts in a local backend database",
		Long: "Creates the accounts of --seed (or the built-in test accounts) in the sqlite\n" +
			"database used by serve --local-db. Existing accounts are left alone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := local.Open(cmd.Context(), dbPath, local.Options{Logger: e.logger})
			if err != nil {
				return err
			}
			defer b.Close()

			seed := local.DefaultSeed()
			if e.cfg.SeedFile != "" {
				if seed, err = local.LoadSeed(e.cfg.SeedFile); err != nil {
					return err
				}
			}
			n, err := b.Seed(cmd.Context(), seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d of %d accounts in %s\n", n, len(seed.Users), dbPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "tokutei-local.db", "sqlite database path")
	return cmd
}
