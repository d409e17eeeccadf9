package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/lanchat/internal/daemon"
	"github.com/rudransh-shrivastava/lanchat/internal/ipc"
	"github.com/rudransh-shrivastava/lanchat/internal/node"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "runs the lanchat daemon",
	Long:  `runs the lanchat daemon in the background, the daemon uses a unix socket to communicate with the CLI`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := daemon.New(daemon.Options{
			Config: cfg,
			Logger: log,
			Serve:  true,
			OnEvent: func(ev node.Event) {
				if line := describe(ipc.EventFrom(ev)); line != "" {
					log.WithField("event", ev.Kind()).Info(line)
				}
			},
		})
		if err != nil {
			return err
		}
		log.WithField("name", cfg.DisplayName).Info("Daemon starting...")
		if err := d.Run(ctx); err != nil {
			return err
		}
		log.Info("Daemon stopped")
		return nil
	},
}
