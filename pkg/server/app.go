// Package server owns the application lifecycle: candle stream intake,
// the evaluation orchestrator, the reconciliation schedule, the HTTP
// surface, and graceful shutdown.
package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	domrepo "VolBot/internal/domain/repository"
	"VolBot/internal/orchestrator"
	"VolBot/internal/reconcile"
	"VolBot/pkg/config"
	xhttp "VolBot/pkg/http"
	applogger "VolBot/pkg/logger"
)

// midnight in server local time, with seconds field
const dailyResetSpec = "0 0 0 * * *"

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	stream     domrepo.MarketStream
	orch       *orchestrator.Orchestrator
	reconciler *reconcile.Reconciler
	archive    domrepo.CandleArchive
	notifier   domrepo.Notifier

	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	resetCron   *cron.Cron
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	stream domrepo.MarketStream,
	orch *orchestrator.Orchestrator,
	reconciler *reconcile.Reconciler,
	archive domrepo.CandleArchive,
	notifier domrepo.Notifier,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		stream:     stream,
		orch:       orch,
		reconciler: reconciler,
		archive:    archive,
		notifier:   notifier,
	}
}

// SetHTTPHandler allows DI to inject the HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.orch.LoadUsers(ctx); err != nil {
		return err
	}
	a.orch.WarmStart(ctx)

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	if err := a.reconciler.Start(ctx); err != nil {
		return err
	}

	a.resetCron = cron.New(cron.WithSeconds())
	if _, err := a.resetCron.AddFunc(dailyResetSpec, a.orch.ResetDailyCounters); err != nil {
		return err
	}
	a.resetCron.Start()

	go a.consumeStream(ctx)
	a.log.Info("candle stream intake started",
		applogger.String("symbol", a.cfg.Binance.Symbol),
		applogger.String("interval", a.cfg.Binance.Interval))

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// consumeStream connects, subscribes and pumps candles into the
// orchestrator, reconnecting on stream failure until the context ends.
func (a *App) consumeStream(ctx context.Context) {
	for {
		if err := a.connectStream(ctx); err != nil {
			a.log.Error("stream connect failed, retrying", applogger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.cfg.Binance.ReconnectDelay):
				continue
			}
		}

		candles, errs := a.stream.Read(ctx)
	pump:
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-candles:
				if !ok {
					break pump
				}
				a.orch.OnCandle(ctx, *c)
			case err, ok := <-errs:
				if !ok {
					break pump
				}
				a.log.Error("stream read error, reconnecting", applogger.Error(err))
				break pump
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.Binance.ReconnectDelay):
		}
	}
}

func (a *App) connectStream(ctx context.Context) error {
	if a.stream.IsConnected() {
		return nil
	}
	if err := a.stream.Connect(ctx); err != nil {
		return err
	}
	return a.stream.Subscribe(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	if a.resetCron != nil {
		<-a.resetCron.Stop().Done()
	}
	a.reconciler.Stop()

	if err := a.stream.Close(); err != nil {
		a.log.Warn("stream close error", applogger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.log.Warn("candle archive close error", applogger.Error(err))
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.log.Warn("notifier close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
