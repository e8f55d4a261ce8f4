package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dodns/internal/server"
	"dodns/internal/service"
	"dodns/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{"version": version, "store": cfg.Store.Backend}).Info("starting dodns")

	st, err := server.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	connect := service.DigitalOcean(upstream.Options{
		BaseURL:   cfg.DigitalOcean.BaseURL,
		Timeout:   cfg.DigitalOcean.Timeout,
		UserAgent: "dodns/" + version,
	})
	app, err := server.New(cfg, st, connect, version, log)
	if err != nil {
		return err
	}

	if seeded, err := app.Credentials.Seed(ctx, cfg.Seed); err != nil {
		return fmt.Errorf("failed to seed configuration: %w", err)
	} else if seeded {
		log.WithField("zone", cfg.Seed.DNSZone).Info("configuration seeded from environment")
	}

	if current, ok := app.Credentials.Get(ctx); ok {
		log.WithField("zone", current.DNSZone).Info("managing zone")
	} else {
		log.Warn("DigitalOcean credentials not configured; record endpoints will fail until they are saved")
	}

	return server.Run(ctx, cfg.Addr(), app.Handler, log)
}
