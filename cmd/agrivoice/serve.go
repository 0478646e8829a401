package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amruthjakku/AgriVoice/internal/analytics"
	"github.com/amruthjakku/AgriVoice/internal/config"
	"github.com/amruthjakku/AgriVoice/internal/httpserver"
	"github.com/amruthjakku/AgriVoice/internal/pipeline"
	"github.com/amruthjakku/AgriVoice/internal/telephony"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var (
		addr            string
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, telephony webhooks and session pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddress = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *cfg, shutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address (overrides HTTP_ADDRESS)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "how long in-flight sessions get to finish on shutdown")
	return cmd
}

// serve runs until ctx is cancelled, then drains HTTP, the pipeline and the
// event router in that order.
func serve(ctx context.Context, cfg config.Config, shutdownTimeout time.Duration) error {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer backend.Close()

	bus, err := openEvents(ctx, cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	ports, err := buildPorts(cfg)
	if err != nil {
		return err
	}
	p := pipeline.New(backend, ports, pipelineOptions(cfg, backend, bus))

	phone := telephony.New(telephony.Config{AccountSID: cfg.TwilioAccount, AuthToken: cfg.TwilioAuthToken}, p)
	srv := httpserver.New(httpserver.Deps{
		Sessions:      p,
		Analytics:     analytics.NewService(backend),
		Events:        bus,
		WatchInterval: cfg.PollInterval,
		Mount:         []func(*echo.Echo){phone.Register},
	})

	router, err := bus.NewAuditRouter()
	if err != nil {
		return err
	}

	// request contexts end when shutdown starts so long polls and watches return
	reqCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return router.Run(egCtx) })
	eg.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddress).Str("store", cfg.StoreBackend).Bool("real_apis", cfg.UseRealAPIs).Msg("agrivoice listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")
		shutdown(server, cancelRequests, p, shutdownTimeout)
		if err := router.Close(); err != nil {
			log.Error().Err(err).Msg("router close error")
		}
		log.Info().Msg("shutdown complete")
		return nil
	})
	return eg.Wait()
}

type drainer interface {
	Shutdown(ctx context.Context) error
}

// shutdown cancels in-flight requests, stops the HTTP server, then drains the
// pipeline. The server and the pipeline each get their own timeout.
func shutdown(server *http.Server, cancelRequests context.CancelFunc, p drainer, timeout time.Duration) {
	cancelRequests()

	httpCtx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := server.Shutdown(httpCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
	cancel()

	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("pipeline did not drain before the deadline")
	}
}
