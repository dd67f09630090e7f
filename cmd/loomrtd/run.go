package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/duskforge/loomrt/internal/actor"
	"github.com/duskforge/loomrt/internal/config"
	"github.com/duskforge/loomrt/internal/echo"
	"github.com/duskforge/loomrt/internal/failuresink"
	"github.com/duskforge/loomrt/internal/ingress"
	"github.com/duskforge/loomrt/internal/metrics"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the actor pool and TCP listener",
	}
	bindErr := config.BindFlags(cmd.Flags(), v)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	}
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	log := newLogger(cfg.LogLevel)
	sink := failuresink.New(log)

	poolOpts := []actor.Option{actor.WithLogger(log), actor.WithFailureSink(sink)}
	if cfg.Schedulers > 0 {
		poolOpts = append(poolOpts, actor.WithSchedulerCount(cfg.Schedulers))
	}
	pool := actor.NewPool(poolOpts...)
	defer pool.Dispose()

	log.Info().Int("schedulers", pool.SchedulerCount()).Msg("actor pool started")

	prop := echo.NewPropagator(pool, log)

	reg := prometheus.NewRegistry()
	metricsReg := metrics.New(reg, pool, sink)

	listenerCfg := ingress.ListenerConfig{
		Backlog:        cfg.Backlog,
		AllowMultiConn: cfg.AllowMultiConn,
		NagleEnabled:   cfg.NagleEnabled,
		PartialFrames:  cfg.PartialFrames,
		AcceptCooldown: cfg.AcceptCooldown,
	}
	listener := ingress.NewListener(prop, listenerCfg,
		ingress.WithLogger(log),
		ingress.WithFailureSink(sink),
		ingress.WithObserver(metricsReg),
	)
	listener.OnClientConnected(func(sess *ingress.Session) {
		log.Info().Str("remote", sess.RemoteAddr()).Msg("client connected")
	})
	listener.OnClientDisconnected(func(sess *ingress.Session) {
		log.Info().Str("remote", sess.RemoteAddr()).Msg("client disconnected")
		prop.Forget(sess)
	})

	if err := listener.Start(cfg.ListenAddr, cfg.ListenPort); err != nil {
		return err
	}
	defer listener.Stop()

	mux := http.NewServeMux()
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metricsReg.RefreshPool(pool)
		metricsHandler.ServeHTTP(w, r)
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sink.Record(err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return nil
}
