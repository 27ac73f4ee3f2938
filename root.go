package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/Chative-Retention-Router/pkg/config"
	logx "github.com/tanpawarit/Chative-Retention-Router/pkg/logger"
)

var (
	envFile     string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "retention-router",
	Short: "TechFlow support conversation router",
	Long: `Routes customer support conversations between intake, retention and
processing roles, and hands technical or billing issues to the right queue.

Configuration is read from the environment (and an optional .env file) under
the LOG, ROUTER, DATA, STATE, LLM, EMBEDDING, QSTASH, KAFKA and POSTGRES
prefixes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logCfg, err := configx.New[logx.Config]("LOG", envFile)
		if err != nil {
			return err
		}
		// Replies go to stdout; keep logs out of the way.
		logx.InitWithWriter(os.Stderr, *logCfg)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to an env file (defaults to ./.env when present)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(offersCmd)
	rootCmd.AddCommand(lookupCmd)
}

// startApp loads configuration and wires the router. The returned stop
// function releases every collaborator.
func startApp(ctx context.Context) (*app, func(), error) {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return nil, nil, err
	}

	opts := appOptions{}
	var srv *http.Server
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts.registerer = reg
		srv = &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Str("addr", metricsAddr).Msg("metrics server stopped")
			}
		}()
	}

	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		if srv != nil {
			_ = srv.Close()
		}
		return nil, nil, fmt.Errorf("start router: %w", err)
	}

	stop := func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("close collaborators")
		}
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
	}
	return a, stop, nil
}
