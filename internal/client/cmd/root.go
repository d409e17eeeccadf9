package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/lanchat/internal/config"
	"github.com/rudransh-shrivastava/lanchat/internal/logger"
)

var flags struct {
	config   string
	name     string
	socket   string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:           "lanchat",
	Short:         "serverless chat and file sharing for the local network",
	Long:          `lanchat finds other lanchat users on the local network and lets you chat and send files to them, without any server`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "path to a YAML config file")
	pf.StringVarP(&flags.name, "name", "n", "", "display name (defaults to the host name)")
	pf.StringVarP(&flags.socket, "socket", "s", "", "control socket path")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(sendFileCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(transfersCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(stopCmd)
}

// loadConfig applies the command line flags on top of the loaded config.
func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return config.Config{}, nil, err
	}
	if flags.name != "" {
		cfg.DisplayName = flags.name
	}
	if flags.socket != "" {
		cfg.SocketPath = flags.socket
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	log, err := logger.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("log level: %w", err)
	}
	return cfg, log, nil
}
