package landingcli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mozilla-lando/landingd/internal/api"
	"github.com/mozilla-lando/landingd/internal/assess"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Public Request API and the landing worker together",
	Long: `serve runs the Public Request API (submit/dryrun/list/cancel/try-push) and
the landing worker loop in the same process, the usual way to run landingd
in production.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := readRuntimeFlags(cmd)
		if err != nil {
			return fmt.Errorf("reading flags: %w", err)
		}
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := build(ctx, rf)
		if err != nil {
			return err
		}
		defer d.db.Close()
		defer d.log.Sync()

		warningChecks := assess.DefaultWarningChecks(time.Now())
		server := api.NewServer(d.store, d.reviewSvc, d.repoLookup, nil, warningChecks, nil, d.log)

		httpSrv := &http.Server{Addr: listenAddr, Handler: server.Routes()}
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}

		errCh := make(chan error, 3)
		go func() {
			d.log.Info("public request api listening", zap.String("addr", listenAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
		go func() {
			d.log.Info("metrics listening", zap.String("addr", metricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		go func() {
			d.log.Info("landing worker starting", zap.Int("repositories", len(d.cfg.Repositories)))
			if err := d.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("worker: %w", err)
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			stop()
			d.log.Error("component failed, shutting down", zap.Error(err))
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
		metricsSrv.Shutdown(shutdownCtx)
		return nil
	},
}

func init() {
	addRuntimeFlags(serveCmd)
	serveCmd.Flags().String("listen-addr", envOrDefault("LANDINGD_LISTEN_ADDR", ":8888"), "Address for the Public Request API to listen on")
	serveCmd.Flags().String("metrics-addr", envOrDefault("LANDINGD_METRICS_ADDR", ":9888"), "Address for the Prometheus metrics endpoint to listen on")
}
