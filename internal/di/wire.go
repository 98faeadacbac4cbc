//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"DeskCast/pkg/config"
	"DeskCast/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideCache,
		ProvideClickHouseClient,

		// Repositories
		ProvideFactSource,
		ProvideForecastStore,
		ProvideMetricsStore,
		ProvideRunLedger,
		ProvideEventPublisher,

		// Use cases
		ProvideAssembler,
		ProvidePipeline,
		ProvideETL,
		ProvideKPIProvider,
		ProvideDataset,
		ProvideScheduler,

		// Transport
		ProvideUpdatesHub,
		ProvideForecastHandler,
		ProvideHTTPServer,
		ProvideKafkaConsumer,

		ProvideApp,
	)
	return nil, nil, nil
}
