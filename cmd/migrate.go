package cmd

import (
	"context"
	"time"

	"github.com/gridbase/gridbase/internal/registry"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the registry's metadata tables",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		log := newLogger(cmd).WithPrefix("[migrate]")
		db, err := connectDB(ctx, databaseURL())
		if err != nil {
			log.Fatal("error connecting to db: %s", err)
		}
		defer db.Close()
		reg := registry.NewDatabaseRegistry(ctx, log, db, nil)
		defer reg.Close()
		started := time.Now()
		if err := reg.Migrate(ctx); err != nil {
			log.Fatal("error running migrate: %s", err)
		}
		log.Info("registry schema is up-to-date, took %v", time.Since(started))
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
