package di

import (
	"context"
	"fmt"
	"time"

	"DeskCast/internal/domain/repository"
	domsvc "DeskCast/internal/domain/service"
	"DeskCast/internal/handler/api"
	internalrepo "DeskCast/internal/repository"
	"DeskCast/internal/service/ratelimit"
	"DeskCast/internal/services/etl"
	"DeskCast/internal/services/features"
	"DeskCast/internal/services/forecast"
	"DeskCast/internal/services/kpi"
	"DeskCast/internal/usecase"
	"DeskCast/pkg/cache"
	pkgch "DeskCast/pkg/clickhouse"
	"DeskCast/pkg/config"
	xhttp "DeskCast/pkg/http"
	pkgkafka "DeskCast/pkg/kafka"
	applogger "DeskCast/pkg/logger"
	"DeskCast/pkg/metrics"
	"DeskCast/pkg/server"
)

// ProvideLogger builds the application logger. With Kafka enabled, repeated
// warnings and errors are aggregated onto the log topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if producer == nil {
		return l, func() {}, nil
	}
	l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          cfg.Kafka.LogTopic,
		Publisher:      producer,
	})
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideCache uses Redis when enabled and an in-process cache otherwise.
// Only the Redis backend makes the output lock visible to other hosts.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(1000), cache.WithMemoryCleanup(time.Minute))
		return mc, func() { _ = mc.Close() }, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	l.Info("redis cache connected", applogger.String("addr", cfg.Redis.Addr))
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideClickHouseClient connects and creates the schema, or returns nil when
// no host is configured.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if cfg.ClickHouse.Host == "" {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.Schema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", applogger.String("host", cfg.ClickHouse.Host), applogger.String("database", cfg.ClickHouse.Database))
	return client, func() { _ = client.Close() }, nil
}

// ProvideFactSource selects where the pipeline reads daily facts from.
func ProvideFactSource(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (repository.FactSource, error) {
	switch cfg.Source.Type {
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("fact source: clickhouse client not configured")
		}
		s := internalrepo.NewCHFactStore(ch, cfg.ClickHouse.Database)
		s.SetLogger(l)
		return s, nil
	default:
		return internalrepo.NewCSVFactStore(cfg.Source.Path, l), nil
	}
}

// ProvideForecastStore creates the CSV artifact store guarded by the cache lock.
func ProvideForecastStore(cfg *config.Config, c cache.Service, l *applogger.Logger) *internalrepo.CSVForecastStore {
	return internalrepo.NewCSVForecastStore(cfg.Output.Path, cfg.Output.FallbackPath,
		internalrepo.WithLocker(c, cfg.Output.LockTTL),
		internalrepo.WithStoreLogger(l),
	)
}

func ProvideMetricsStore(cfg *config.Config) *internalrepo.CSVMetricsStore {
	return internalrepo.NewCSVMetricsStore(cfg.Output.MetricsPath)
}

// ProvideRunLedger opens the SQLite run ledger.
func ProvideRunLedger(cfg *config.Config) (repository.RunLedger, func(), error) {
	ledger, err := internalrepo.NewSQLiteLedger(cfg.Ledger.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("run ledger: %w", err)
	}
	return ledger, func() { _ = ledger.Close() }, nil
}

// ProvideEventPublisher returns nil when Kafka is disabled.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
}

// ProvideAssembler builds the forecasting engine from the forecast and calendar sections.
func ProvideAssembler(cfg *config.Config, m repository.Metrics, l *applogger.Logger) *forecast.Assembler {
	fc := cfg.Forecast
	engineCfg := forecast.NewConfig(
		forecast.WithModelID(fc.ModelID),
		forecast.WithHorizons(fc.Horizons...),
		forecast.WithEvalWindow(fc.EvalWindow),
		forecast.WithColdStartThreshold(fc.ColdStartThreshold),
		forecast.WithSafetyCeiling(fc.SafetyCeiling),
		forecast.WithP90Multiplier(fc.P90Multiplier),
		forecast.WithAccuracyTarget(fc.AccuracyTarget),
		forecast.WithGrid(forecast.Grid{
			LearningRates: fc.Grid.LearningRates,
			TreeCounts:    fc.Grid.TreeCounts,
			MaxDepths:     fc.Grid.MaxDepths,
		}, fc.Lambda),
		forecast.WithHolidays(features.NewHolidays(cfg.Holidays())),
	)
	return forecast.NewAssembler(engineCfg, forecast.WithLogger(l), forecast.WithMetrics(m))
}

// ProvidePipeline wires the batch run with its optional mirror, ledger and events.
func ProvidePipeline(
	cfg *config.Config,
	source repository.FactSource,
	engine *forecast.Assembler,
	store *internalrepo.CSVForecastStore,
	metricsStore *internalrepo.CSVMetricsStore,
	ledger repository.RunLedger,
	events repository.EventPublisher,
	ch *pkgch.Client,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Pipeline {
	opts := []usecase.PipelineOption{
		usecase.WithLedger(ledger),
		usecase.WithPipelineMetrics(m),
		usecase.WithPipelineLogger(l),
	}
	if events != nil {
		opts = append(opts, usecase.WithEventPublisher(events))
	}
	if cfg.Output.ClickHouse && ch != nil {
		mirror := internalrepo.NewCHOutputStore(ch, cfg.ClickHouse.Database)
		mirror.SetLogger(l)
		opts = append(opts, usecase.WithMirror(mirror))
	}
	return usecase.NewPipeline(source, engine, store, metricsStore, opts...)
}

// ProvideETL returns nil when no GLPI DSN is configured. The CSV fact table is
// the authoritative sink; ClickHouse mirrors it when enabled.
func ProvideETL(cfg *config.Config, ch *pkgch.Client, m repository.Metrics, l *applogger.Logger) (*usecase.ETL, func(), error) {
	if cfg.GLPI.DSN == "" {
		return nil, func() {}, nil
	}
	var mapping map[string]string
	if cfg.ETL.CategoryMapping != "" {
		var err error
		if mapping, err = etl.LoadMapping(cfg.ETL.CategoryMapping); err != nil {
			return nil, nil, err
		}
	}
	src, err := internalrepo.NewGLPITicketSource(cfg.GLPI.DSN, cfg.GLPI.QueryTimeout, l)
	if err != nil {
		return nil, nil, err
	}

	sinks := []repository.FactSink{internalrepo.NewCSVFactStore(cfg.Source.Path, l)}
	if cfg.ETL.ToClickHouse && ch != nil {
		chs := internalrepo.NewCHFactStore(ch, cfg.ClickHouse.Database)
		chs.SetLogger(l)
		sinks = append(sinks, chs)
	}

	transformer := etl.NewTransformer(
		etl.NewCategoryMapper(mapping, cfg.ETL.DefaultCategory),
		features.NewHolidays(cfg.Holidays()),
		l,
	)
	return usecase.NewETL(src, transformer, cfg.GLPI.HistoryMonths, m, l, sinks...), func() { _ = src.Close() }, nil
}

func ProvideKPIProvider(cfg *config.Config) domsvc.KPIProvider {
	return kpi.NewProvider(cfg)
}

// ProvideDataset builds the read model over the CSV artifacts.
func ProvideDataset(
	cfg *config.Config,
	store *internalrepo.CSVForecastStore,
	metricsStore *internalrepo.CSVMetricsStore,
	kpis domsvc.KPIProvider,
	c cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Dataset {
	return usecase.NewDataset(store,
		usecase.WithMetricsReader(metricsStore),
		usecase.WithKPIProvider(kpis),
		usecase.WithResponseCache(c, cfg.API.CacheTTL),
		usecase.WithDatasetLogger(l),
		usecase.WithDatasetMetrics(m),
	)
}

func ProvideUpdatesHub(dataset *usecase.Dataset, l *applogger.Logger) *api.UpdatesHub {
	return api.NewUpdatesHub(dataset, l)
}

func ProvideForecastHandler(
	cfg *config.Config,
	l *applogger.Logger,
	dataset *usecase.Dataset,
	hub *api.UpdatesHub,
	ledger repository.RunLedger,
) *api.ForecastHandler {
	return api.NewForecastHandler(l, dataset,
		api.WithRateLimiter(ratelimit.New(cfg.API.RateLimit.RPS, cfg.API.RateLimit.Burst)),
		api.WithUpdates(hub),
		api.WithRunLedger(ledger),
		api.WithSampleSize(cfg.API.SampleSize),
	)
}

// ProvideHTTPServer creates the Echo server for the read API.
func ProvideHTTPServer(cfg *config.Config, h *api.ForecastHandler, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l),
	)
}

// ProvideKafkaConsumer subscribes the dataset to run events, or returns nil
// when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, dataset *usecase.Dataset, m repository.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(RunIDHook(l))
	consumer.RegisterHandler(usecase.NewDatasetReloadHandler(cfg.Kafka.Topic, dataset, m))
	return consumer, nil
}

// ProvideScheduler runs the pipeline on the configured cron spec.
func ProvideScheduler(cfg *config.Config, p *usecase.Pipeline, l *applogger.Logger) (*usecase.Scheduler, error) {
	return usecase.NewScheduler(cfg.Schedule.Cron, p, l)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	pipeline *usecase.Pipeline,
	etlRun *usecase.ETL,
	dataset *usecase.Dataset,
	ledger repository.RunLedger,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	scheduler *usecase.Scheduler,
) *server.App {
	return server.New(cfg, l, server.Components{
		Pipeline:   pipeline,
		ETL:        etlRun,
		Dataset:    dataset,
		Ledger:     ledger,
		HTTPServer: httpServer,
		Consumer:   consumer,
		Scheduler:  scheduler,
	})
}
