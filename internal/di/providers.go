package di

import (
	"context"
	"fmt"
	"time"

	"VolBot/internal/domain/repository"
	"VolBot/internal/handler/api"
	"VolBot/internal/orchestrator"
	"VolBot/internal/reconcile"
	internalrepo "VolBot/internal/repository"
	"VolBot/internal/service/binance"
	"VolBot/internal/strategy"
	"VolBot/internal/usecase"
	"VolBot/internal/window"
	pkgcache "VolBot/pkg/cache"
	pkgch "VolBot/pkg/clickhouse"
	"VolBot/pkg/config"
	xhttp "VolBot/pkg/http"
	pkgkafka "VolBot/pkg/kafka"
	applogger "VolBot/pkg/logger"
	"VolBot/pkg/metrics"
	"VolBot/pkg/postgres"
	"VolBot/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	lc := &applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if lc.Level == "" {
		lc.Level = "info"
	}
	if lc.Format == "" {
		lc.Format = "console"
	}
	if lc.Output == "" {
		lc.Output = "stdout"
	}
	return applogger.New(lc)
}

// ProvideSignalStore connects to PostgreSQL and ensures the schema.
func ProvideSignalStore(cfg *config.Config) (*internalrepo.SignalStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, postgres.Config{
		URL:             cfg.Postgres.URL,
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	store := internalrepo.NewSignalStore(pool)
	if err := store.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return store, nil
}

// ProvideDomainStore exposes the concrete store through the domain contract.
func ProvideDomainStore(store *internalrepo.SignalStore) repository.SignalStore {
	return store
}

// ProvideCandleArchive creates the ClickHouse archive, or nil when disabled.
func ProvideCandleArchive(cfg *config.Config, log *applogger.Logger) (repository.CandleArchive, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	archive := internalrepo.NewCandleArchive(client)
	archive.SetLogger(log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archive.InitSchema(ctx); err != nil {
		_ = archive.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return archive, nil
}

// ProvideCandleMirror creates the candle cache: Redis when enabled,
// in-process memory otherwise.
func ProvideCandleMirror(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Redis.Enabled {
		return pkgcache.NewMemoryCache(), nil
	}
	redis, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return pkgcache.NewLayeredCache(redis), nil
}

// ProvideNotifier creates the Kafka trade report notifier, or nil when
// Kafka is disabled. A nil notifier disables report delivery only.
func ProvideNotifier(cfg *config.Config) (repository.Notifier, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaNotifier(producer, cfg.Kafka.ReportTopic), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideStrategyConfig builds the engine configuration, starting from the
// built-in defaults and overlaying YAML values.
func ProvideStrategyConfig(cfg *config.Config) strategy.Config {
	sc := strategy.Defaults()
	sc.Symbol = cfg.Binance.Symbol
	if cfg.Strategy.Commission > 0 {
		sc.Commission = cfg.Strategy.Commission
	}
	if cfg.Strategy.MinProfitMargin > 0 {
		sc.MinProfitMargin = cfg.Strategy.MinProfitMargin
	}
	if cfg.Strategy.MinWindow > 0 {
		sc.MinWindow = cfg.Strategy.MinWindow
	}
	if cfg.Strategy.LotStep > 0 {
		sc.LotStep = cfg.Strategy.LotStep
	}
	if cfg.Strategy.MinLot > 0 {
		sc.MinLot = cfg.Strategy.MinLot
	}
	if cfg.Strategy.StopLossATRMult > 0 {
		sc.StopLossATRMult = cfg.Strategy.StopLossATRMult
	}
	if cfg.Strategy.TakeProfitATRMult > 0 {
		sc.TakeProfitATRMult = cfg.Strategy.TakeProfitATRMult
	}
	if cfg.Strategy.HoldRSIMin > 0 {
		sc.HoldRSIMin = cfg.Strategy.HoldRSIMin
	}
	if cfg.Strategy.HoldRSIMax > 0 {
		sc.HoldRSIMax = cfg.Strategy.HoldRSIMax
	}
	if cfg.Strategy.HoldMaxVolRatio > 0 {
		sc.HoldMaxVolRatio = cfg.Strategy.HoldMaxVolRatio
	}
	if cfg.Strategy.MaxDailySignals > 0 {
		sc.MaxDailySignals = cfg.Strategy.MaxDailySignals
	}
	sc.PaperTrading = cfg.Strategy.PaperTrading
	return sc
}

// ProvideEngine creates the decision engine.
func ProvideEngine(sc strategy.Config) *strategy.Engine {
	return strategy.NewEngine(sc)
}

// ProvideWindow creates the shared candle window.
func ProvideWindow(cfg *config.Config) *window.Window {
	size := cfg.Strategy.WindowSize
	if size <= 0 {
		size = 100
	}
	ttl := cfg.Strategy.WindowTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return window.New(size, ttl, window.SystemClock{})
}

// ProvideExchange creates the Binance REST client.
func ProvideExchange(cfg *config.Config, log *applogger.Logger) repository.Exchange {
	keys := binance.Keyring{}
	for userID, k := range cfg.Binance.Keys {
		keys[userID] = binance.Credentials{APIKey: k.APIKey, SecretKey: k.SecretKey}
	}
	return binance.NewClient(cfg.Binance.RestURL, keys, xhttp.NewClient(), log)
}

// ProvideStream creates the Binance kline WebSocket stream.
func ProvideStream(cfg *config.Config, log *applogger.Logger) repository.MarketStream {
	interval := cfg.Binance.Interval
	if interval == "" {
		interval = "1m"
	}
	return binance.NewStream(
		cfg.Binance.WebSocketURL,
		cfg.Binance.Symbol,
		interval,
		cfg.Binance.ReconnectDelay,
		cfg.Binance.PingInterval,
		log,
	)
}

// ProvideLifecycle creates the closure checker.
func ProvideLifecycle(store repository.SignalStore, notifier repository.Notifier, m repository.Metrics, log *applogger.Logger) *usecase.Lifecycle {
	return usecase.NewLifecycle(store, notifier, m, log)
}

// ProvideTrader creates the per-user execution use case.
func ProvideTrader(engine *strategy.Engine, store repository.SignalStore, exchange repository.Exchange, lifecycle *usecase.Lifecycle, m repository.Metrics, log *applogger.Logger) *usecase.Trader {
	return usecase.NewTrader(engine, store, exchange, lifecycle, m, log)
}

// ProvideReconciler creates the order reconciliation loop.
func ProvideReconciler(cfg *config.Config, store repository.SignalStore, exchange repository.Exchange, lifecycle *usecase.Lifecycle, m repository.Metrics, log *applogger.Logger) *reconcile.Reconciler {
	rc := reconcile.DefaultConfig()
	if cfg.Reconcile.CronSpec != "" {
		rc.CronSpec = cfg.Reconcile.CronSpec
	}
	if cfg.Reconcile.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.Reconcile.MaxAttempts
	}
	if cfg.Reconcile.OrphanGrace > 0 {
		rc.OrphanGrace = cfg.Reconcile.OrphanGrace
	}
	return reconcile.New(rc, store, exchange, lifecycle, m, log, nil)
}

// ProvideOrchestrator creates the multi-tenant fan-out.
func ProvideOrchestrator(
	cfg *config.Config,
	win *window.Window,
	trader *usecase.Trader,
	store repository.SignalStore,
	archive repository.CandleArchive,
	mirror pkgcache.Service,
	m repository.Metrics,
	log *applogger.Logger,
) *orchestrator.Orchestrator {
	return orchestrator.New(cfg.Binance.Symbol, win, trader, store, archive, mirror, m, log, nil)
}

// ProvideHTTPHandler creates the API handler.
func ProvideHTTPHandler(
	log *applogger.Logger,
	store repository.SignalStore,
	orch *orchestrator.Orchestrator,
	stream repository.MarketStream,
	archive repository.CandleArchive,
) xhttp.Handler {
	return api.NewTradingHandler(log, store, orch, stream, archive)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	stream repository.MarketStream,
	orch *orchestrator.Orchestrator,
	reconciler *reconcile.Reconciler,
	archive repository.CandleArchive,
	notifier repository.Notifier,
	handler xhttp.Handler,
) *server.App {
	app := server.New(cfg, log, stream, orch, reconciler, archive, notifier)
	app.SetHTTPHandler(handler)

	// Aggregated error logs ride the same producer as trade reports.
	if kn, ok := notifier.(*internalrepo.KafkaNotifier); ok && cfg.Kafka.ErrorLogTopic != "" {
		log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.ErrorLogTopic,
			Publisher:      kn,
		})
	}
	return app
}
