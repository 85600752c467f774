package main

import (
	"log/slog"

	"github.com/Veraticus/chargemap/internal/certs"
	"github.com/Veraticus/chargemap/internal/config"
	"github.com/Veraticus/chargemap/internal/metrics"
	"github.com/Veraticus/chargemap/internal/server"
	"github.com/Veraticus/chargemap/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and Prometheus metrics",
		Long: `Start the HTTP API for resolving charges, managing rules, and running
previews and applies. Metrics are exposed at /metrics.

With --tls the API is served over HTTPS using a self-signed localhost
certificate kept in server.cert_dir and created on first use.

The server shuts down gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStorage(cmd.Context(), func(cfg *config.Config, store *storage.SQLiteStorage) error {
				met := metrics.New(store)
				met.Register(prometheus.DefaultRegisterer)

				eng := initEngine(store, cfg)
				eng.SetObserver(met)

				srvCfg := server.Config{
					Addr:           cfg.ServerAddr,
					RequestTimeout: cfg.RequestTimeout,
				}
				if cfg.TLS {
					manager := certs.NewFileManager(cfg.CertDir)
					tlsCfg, err := certs.ServerTLSConfig(manager)
					if err != nil {
						return err
					}
					srvCfg.TLS = tlsCfg
					slog.Info("Serving HTTPS", "cert", manager.CertFile())
				}

				return server.New(eng, store, met, prometheus.DefaultGatherer, srvCfg).Run(cmd.Context())
			})
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed localhost certificate (overrides server.tls)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.tls", cmd.Flags().Lookup("tls"))

	return cmd
}
