package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dodns/internal/config"
)

var (
	configFile string
	version    = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "dodns",
	Short: "Web manager for the DNS records of one DigitalOcean zone",
	Long: `dodns serves a small JSON API for listing, creating, editing and
deleting the records of a single DigitalOcean DNS zone. Records sharing
a name and type are managed together as one multi-value record.`,
	SilenceUsage: true,
	// Running without a subcommand starts the server.
	RunE: runServe,
}

// Execute runs the root command with the given build version.
func Execute(v string) error {
	if v != "" {
		version = v
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg.Log)
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}
	return cfg, log, nil
}

func newLogger(cfg config.LogConfig) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	// Load has already validated the level.
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	return logrus.NewEntry(logger).WithField("app", "dodns")
}
