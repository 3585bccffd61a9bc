//go:build wireinject
// +build wireinject

package di

import (
	"VolBot/pkg/config"
	"VolBot/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideSignalStore,
		ProvideDomainStore,
		ProvideCandleArchive,
		ProvideCandleMirror,
		ProvideNotifier,

		// Exchange connectivity
		ProvideExchange,
		ProvideStream,

		// Strategy
		ProvideStrategyConfig,
		ProvideEngine,
		ProvideWindow,

		// Use cases
		ProvideLifecycle,
		ProvideTrader,
		ProvideReconciler,
		ProvideOrchestrator,

		// HTTP surface
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
