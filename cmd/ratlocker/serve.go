package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ratlocker/ratlocker/internal/config"
	"github.com/ratlocker/ratlocker/internal/keystore"
	"github.com/ratlocker/ratlocker/internal/metrics"
	"github.com/ratlocker/ratlocker/internal/server"
	"github.com/ratlocker/ratlocker/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the file server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		files, err := store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		files.SetMaxFileSize(cfg.MaxFileSize.Bytes())

		keys, err := keystore.Load(cfg.KeysPath())
		if err != nil {
			return err
		}

		m := metrics.InitMetrics()

		// Pick up files dropped into the data dir while we were down.
		added, err := store.Reconcile(files)
		if err != nil {
			return err
		}
		if added > 0 {
			m.ReconcileAdded.Add(float64(added))
			log.Info().Int("added", added).Msg("reconciled data directory")
		}

		srv := server.New(cfg, files, keys, m)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

// loadConfig loads the config file given with --config, or defaults.
func loadConfig() (*config.ServerConfig, error) {
	if flagConfig == "" {
		return config.Default(), nil
	}
	return config.LoadServerConfig(flagConfig)
}
