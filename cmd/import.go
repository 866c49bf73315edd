package cmd

import (
	"context"
	"os"
	"time"

	"github.com/gridbase/gridbase/internal/engine"
	"github.com/gridbase/gridbase/internal/importer"
	"github.com/gridbase/gridbase/internal/registry"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Bulk load newline-delimited JSON records into a tenant table",
	Long: `Bulk load newline-delimited JSON records into a tenant table.

Each line of the file must be one JSON object. Gzip compressed files are
detected by their .gz extension. Records are written in batches directly
against the database; change events are not emitted for imported records.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger(cmd).WithPrefix("[import]")
		defer util.RecoverPanic(log)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tenant := int64(mustFlagInt(cmd, "tenant", true))
		if tenant < 1 {
			log.Error("error: a positive --tenant id is required")
			os.Exit(1)
		}
		table := mustFlagString(cmd, "table", true)
		batchSize := mustFlagInt(cmd, "batch-size", false)
		if !util.Exists(args[0]) {
			log.Error("error: file %s not found", args[0])
			os.Exit(1)
		}

		db, err := connectDB(ctx, databaseURL())
		if err != nil {
			log.Fatal("%s", err)
		}
		defer db.Close()

		reg := registry.NewDatabaseRegistry(ctx, log, db, nil)
		defer reg.Close()

		imp := importer.New(importer.Config{
			Logger:    log,
			Engine:    engine.New(engine.Config{Logger: log, DB: db, Registry: reg, InstanceID: "import"}),
			TenantID:  tenant,
			Table:     table,
			BatchSize: batchSize,
		})
		started := time.Now()
		res, err := imp.Run(ctx, args[0])
		if err != nil {
			log.Fatal("error importing %s: %s", args[0], err)
		}
		log.Info("imported %d records in %d batches, took %v", res.Inserted, res.Batches, time.Since(started))
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().Int("tenant", 0, "the tenant id that owns the table")
	importCmd.Flags().String("table", "", "the logical table name to load into")
	importCmd.Flags().Int("batch-size", importer.DefaultBatchSize, "the number of records per insert batch")
}
