//go:build e2e

package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/gridbase/gridbase/internal/e2e"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/spf13/cobra"
)

var e2eCmd = &cobra.Command{
	Use:   "e2e",
	Short: "Run the end-to-end scenarios against a live server",
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger(cmd).WithPrefix("[e2e]")
		defer util.RecoverPanic(log)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tenant := int64(mustFlagInt(cmd, "tenant", true))
		if tenant < 1 {
			log.Error("error: a positive --tenant id is required")
			os.Exit(1)
		}
		only, _ := cmd.Flags().GetStringSlice("scenario")
		if len(only) > 0 {
			log.Debug("running scenarios: %s (of %s)", strings.Join(only, ", "), strings.Join(e2e.Names(), ", "))
		}
		if err := e2e.Run(ctx, e2e.Config{
			Logger:   log,
			BaseURL:  mustFlagString(cmd, "url", true),
			Token:    mustFlagString(cmd, "token", false),
			TenantID: tenant,
		}, only); err != nil {
			log.Fatal("%s", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(e2eCmd)
	e2eCmd.Flags().String("url", "http://localhost:8080", "the base url of the server under test")
	e2eCmd.Flags().String("token", "", "the bearer token to authenticate with")
	e2eCmd.Flags().Int("tenant", 0, "the tenant id to run the scenarios against")
	e2eCmd.Flags().StringSlice("scenario", nil, "run only the named scenarios")
}
