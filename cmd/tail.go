package cmd

import (
	"fmt"
	"os"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/notification"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/shopmonkeyus/go-common/sys"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream change events from NATS to stdout as JSON lines",
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger(cmd).WithPrefix("[tail]")
		defer util.RecoverPanic(log)

		natsurl := mustFlagString(cmd, "nats-url", false)
		if natsurl == "" {
			natsurl = viper.GetString("nats-url")
		}
		if natsurl == "" {
			fmt.Printf("error: required flag --nats-url missing\n")
			os.Exit(1)
		}
		subject := mustFlagString(cmd, "subject", false)

		nc, err := notification.NewNatsConnection(log, "gridbase-tail", natsurl, mustFlagString(cmd, "nats-creds", false))
		if err != nil {
			log.Fatal("%s", err)
		}
		defer nc.Close()

		sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
			var event internal.ChangeEvent
			if err := util.DecodeNatsMsg(m, &event); err != nil {
				log.Error("error decoding event on %s: %s", m.Subject, err)
				return
			}
			fmt.Println(util.JSONStringify(event))
		})
		if err != nil {
			log.Fatal("error subscribing to %s: %s", subject, err)
		}
		defer sub.Unsubscribe()

		log.Info("listening for change events on %s", subject)
		<-sys.CreateShutdownChannel()
		log.Info("👋 Bye")
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().String("nats-url", "", "the nats server url")
	tailCmd.Flags().String("nats-creds", "", "the path to the nats credentials file")
	tailCmd.Flags().String("subject", notification.StreamSubjects, "the subject filter to listen on")
}
