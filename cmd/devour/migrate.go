package main

import (
	"fmt"

	"devour/internal/app"
	"devour/internal/storage"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending storage migrations",
	Long: `Bring the SQL schema up to date and print the applied versions.

"devour run" migrates on startup as well; this command lets a deploy step
migrate before the new binary starts. The file driver has no schema.`,
	Args: cobra.NoArgs,
	RunE: migrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := app.OpenStore(ctx, cfg, cliLogger(), false)
	if err != nil {
		return err
	}
	defer store.Close()

	m, ok := store.(storage.Migrator)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "driver %s has no schema to migrate\n", store.Driver())
		return nil
	}
	applied, err := m.Migrate(ctx)
	if err != nil {
		return err
	}
	v, err := m.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s schema is current (version %d)\n", store.Driver(), v)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: applied %v, now at version %d\n", store.Driver(), applied, v)
	return nil
}
