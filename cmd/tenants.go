package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gridbase/gridbase/internal/registry"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/spf13/cobra"
)

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage tenants",
}

var tenantsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new tenant",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		log := newLogger(cmd).WithPrefix("[tenants]")
		name := mustFlagString(cmd, "name", true)
		owner := mustFlagString(cmd, "owner", true)
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
		id, err := reg.CreateTenant(ctx, name, owner)
		if err != nil {
			log.Fatal("error creating tenant: %s", err)
		}
		display := owner
		if strings.Contains(owner, "@") {
			display = util.MaskEmail(owner)
		}
		log.Info("created tenant %d (%s) owned by %s", id, name, display)
	},
}

var tenantsTablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables registered to a tenant",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		log := newLogger(cmd).WithPrefix("[tenants]")
		tenant := int64(mustFlagInt(cmd, "tenant", true))
		if tenant < 1 {
			log.Error("error: a positive --tenant id is required")
			os.Exit(1)
		}
		db, err := connectDB(ctx, databaseURL())
		if err != nil {
			log.Fatal("error connecting to db: %s", err)
		}
		defer db.Close()
		reg := registry.NewDatabaseRegistry(ctx, log, db, nil)
		defer reg.Close()
		tables, err := reg.ListTenantTables(ctx, tenant)
		if err != nil {
			log.Fatal("error listing tables: %s", err)
		}
		if len(tables) == 0 {
			log.Info("tenant %d has no registered tables", tenant)
			return
		}
		fmt.Printf("%-40s%-30s%-10s%s\n", "TABLE", "DISPLAY NAME", "API", "BUILT-IN")
		for _, table := range tables {
			fmt.Printf("%-40s%-30s%-10v%v\n", table.PhysicalTableName, table.DisplayName, table.APIEnabled, table.IsBuiltIn)
		}
	},
}

func init() {
	rootCmd.AddCommand(tenantsCmd)
	tenantsCmd.AddCommand(tenantsCreateCmd)
	tenantsCmd.AddCommand(tenantsTablesCmd)
	tenantsCreateCmd.Flags().String("name", "", "the tenant's display name")
	tenantsCreateCmd.Flags().String("owner", "", "the user id that owns the tenant")
	tenantsTablesCmd.Flags().Int("tenant", 0, "the tenant id to list tables for")
}
