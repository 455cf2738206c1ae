package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	alarmapp "alarm-engine/internal/alarms/application"
	alarmhttp "alarm-engine/internal/alarms/interfaces/http"
	"alarm-engine/internal/auth"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the acknowledge-timeout sweeper.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

// router builds the full HTTP handler chain.
func (a *app) router() (http.Handler, error) {
	handlerOpts := []alarmhttp.Option{
		alarmhttp.WithLogger(a.logger),
		alarmhttp.WithAuditLogger(a.auditLog),
	}
	if a.broker != nil {
		handlerOpts = append(handlerOpts, alarmhttp.WithStream(a.broker))
	}
	api, err := alarmhttp.NewHandler(a.services(), handlerOpts...)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if a.cfg.JWTSecret == "" {
		a.logger.Warn("AUTH_JWT_SECRET is empty; trusting identity headers")
	}
	authMiddleware := auth.NewMiddleware([]byte(a.cfg.JWTSecret), auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil))
	authMiddleware.Logger = a.logger
	return alarmhttp.LoggingMiddleware(authMiddleware.Wrap(mux), a.logger), nil
}

func (a *app) serve(ctx context.Context) error {
	handler, err := a.router()
	if err != nil {
		return err
	}

	var sweeper *alarmapp.AckTimeoutSweeper
	if a.cfg.SweeperSpec != "" {
		sweeper, err = alarmapp.NewAckTimeoutSweeper(a.alarmSvc, a.cfg.SweeperSpec, a.logger)
		if err != nil {
			return err
		}
		sweeper.Start()
	}
	if a.relay != nil {
		if err := a.relay.Start(a.cfg.Events.OutboxSpec); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", zap.String("addr", a.cfg.HTTPAddr), zap.String("storage", a.cfg.Storage))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = server.Shutdown(shutdownCtx)
		if sweeper != nil {
			sweeper.Stop(shutdownCtx)
		}
		a.relay.Stop(shutdownCtx)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
