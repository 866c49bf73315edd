package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/gridbase/gridbase/internal/bootstrap"
	"github.com/gridbase/gridbase/internal/ddl"
	"github.com/gridbase/gridbase/internal/registry"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision [manifest]",
	Short: "Create the built-in tables for a tenant from a manifest file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		log := newLogger(cmd).WithPrefix("[provision]")

		tenant := int64(mustFlagInt(cmd, "tenant", true))
		if tenant < 1 {
			log.Error("error: a positive --tenant id is required")
			os.Exit(1)
		}

		if !util.Exists(args[0]) {
			log.Error("error: manifest %s not found", args[0])
			os.Exit(1)
		}
		manifest, err := bootstrap.LoadManifest(args[0])
		if err != nil {
			log.Fatal("error loading manifest: %s", err)
		}

		db, err := connectDB(ctx, databaseURL())
		if err != nil {
			log.Fatal("error connecting to db: %s", err)
		}
		defer db.Close()

		reg := registry.NewDatabaseRegistry(ctx, log, db, nil)
		defer reg.Close()
		if err := reg.Migrate(ctx); err != nil {
			log.Fatal("error migrating registry: %s", err)
		}

		manager := ddl.NewManager(ddl.ManagerConfig{
			Logger:   log,
			DB:       db,
			Registry: reg,
		})

		started := time.Now()
		result, err := bootstrap.New(bootstrap.Config{
			Logger:  log,
			DB:      db,
			Manager: manager,
		}).Provision(ctx, tenant, manifest)
		if err != nil {
			log.Fatal("error provisioning: %s", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		for _, name := range result.Created {
			fmt.Printf("%-10s%s\n", green("created"), name)
		}
		for _, name := range result.Skipped {
			fmt.Printf("%-10s%s\n", yellow("skipped"), name)
		}
		log.Info("provisioned %d tables for tenant %d in %v (%d already existed)", len(result.Created), tenant, time.Since(started), len(result.Skipped))
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	provisionCmd.Flags().Int("tenant", 0, "the tenant id to provision tables for")
}
