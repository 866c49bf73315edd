package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/ddl"
	"github.com/gridbase/gridbase/internal/engine"
	"github.com/gridbase/gridbase/internal/notification"
	"github.com/gridbase/gridbase/internal/registry"
	"github.com/gridbase/gridbase/internal/server"
	"github.com/gridbase/gridbase/internal/tracker"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/shopmonkeyus/go-common/sys"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		serverStarted := time.Now()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		log := newLogger(cmd).WithPrefix("[server]")

		defer util.RecoverPanic(log)

		log.Trace("starting with arguments: %s", strings.Join(util.MaskArguments(os.Args[1:]), " "))

		dbURL := databaseURL()
		port := mustFlagInt(cmd, "port", false)
		natsurl := viper.GetString("nats-url")
		natscreds := mustFlagString(cmd, "nats-creds", false)
		secret := viper.GetString("auth-secret")
		datadir := mustFlagString(cmd, "data-dir", false)

		if secret == "" {
			log.Warn("no auth secret configured, requests will not be authenticated")
		}

		machineID, err := util.GetMachineId()
		if err != nil {
			log.Fatal("failed to get machine ID: %s", err)
		}
		instanceID := util.Hash(machineID)

		masked, err := util.MaskURL(dbURL)
		if err != nil {
			log.Fatal("invalid database url: %s", err)
		}
		log.Debug("connecting to %s", masked)
		db, err := connectDB(ctx, dbURL)
		if err != nil {
			log.Fatal("error connecting to db: %s", err)
		}
		defer db.Close()

		var trk *tracker.Tracker
		if datadir != "" {
			if ok, err := util.IsDirWritable(datadir); !ok {
				log.Fatal("data dir %s is not writable: %s", datadir, err)
			}
			trk, err = tracker.NewTracker(tracker.TrackerConfig{
				Context: ctx,
				Logger:  log,
				Dir:     datadir,
			})
			if err != nil {
				log.Fatal("error creating tracker db: %s", err)
			}
			defer trk.Close()
		}

		reg := registry.NewDatabaseRegistry(ctx, log, db, trk)
		defer reg.Close()
		if err := reg.Migrate(ctx); err != nil {
			log.Fatal("error migrating registry: %s", err)
		}

		var publisher internal.EventPublisher
		if natsurl != "" {
			notifier := notification.New(notification.Config{
				Logger:      log,
				URL:         natsurl,
				Credentials: natscreds,
				InstanceID:  instanceID,
			})
			if err := notifier.Start(); err != nil {
				log.Fatal("error starting event publisher: %s", err)
			}
			defer notifier.Stop()
			publisher = notifier
		} else {
			log.Debug("no nats url configured, change events are disabled")
		}

		manager := ddl.NewManager(ddl.ManagerConfig{
			Logger:     log,
			DB:         db,
			Registry:   reg,
			Publisher:  publisher,
			InstanceID: instanceID,
		})

		eng := engine.New(engine.Config{
			Logger:     log,
			DB:         db,
			Registry:   reg,
			Publisher:  publisher,
			InstanceID: instanceID,
		})

		srv := server.New(server.Config{
			Logger:     log,
			DB:         db,
			Registry:   reg,
			Manager:    manager,
			Engine:     eng,
			Port:       port,
			AuthSecret: secret,
			InstanceID: instanceID,
		})
		if err := srv.Start(); err != nil {
			log.Fatal("error starting server: %s", err)
		}

		log.Info("server is running version: %v", Version)
		if ip, err := util.GetLocalIP(); err == nil {
			log.Info("listening on http://%s:%d", ip, port)
		}

		<-sys.CreateShutdownChannel()

		log.Debug("server is stopping")
		srv.Stop()
		cancel()

		log.Trace("server was up for %v", time.Since(serverStarted))
		log.Info("👋 Bye")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", getOSInt("PORT", 8080), "the port to listen for http requests")
	serveCmd.Flags().String("nats-url", "", "the nats server url for change events, empty disables publishing")
	serveCmd.Flags().String("nats-creds", "", "the nats server credentials file")
	serveCmd.Flags().String("auth-secret", "", "the secret bearer tokens are signed with")
	serveCmd.Flags().String("data-dir", "", "the directory for the registry's on-disk cache")
	viper.BindPFlag("nats-url", serveCmd.Flags().Lookup("nats-url"))
	viper.BindPFlag("auth-secret", serveCmd.Flags().Lookup("auth-secret"))
	viper.BindEnv("nats-url", "GRIDBASE_NATS_URL")
	viper.BindEnv("auth-secret", "GRIDBASE_AUTH_SECRET")
}
