package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	f := NewBotRunFlags()

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Process the current merge request backlog once, then exit",
		Run: func(cmd *cobra.Command, args []string) {
			d, err := f.GetDispatcher()
			if err != nil {
				log.WithError(err).Fatal("could not initialize the bot")
			}
			if err := d.RunOnce(); err != nil {
				log.WithError(err).Fatal("backlog pass failed")
			}
		},
	}

	f.BindFlags(cmd.Flags())
	rootCmd.AddCommand(cmd)
}
