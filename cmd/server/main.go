package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/terrain/internal/api"
	"github.com/annel0/terrain/internal/auth"
	"github.com/annel0/terrain/internal/cache"
	"github.com/annel0/terrain/internal/config"
	"github.com/annel0/terrain/internal/eventbus"
	"github.com/annel0/terrain/internal/logging"
	"github.com/annel0/terrain/internal/observability"
	"github.com/annel0/terrain/internal/storage"
	"github.com/annel0/terrain/internal/terrain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML-конфигурации (по умолчанию $TERRAIN_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	// Инициализируем систему логирования
	logging.SetLogDir(cfg.Logging.Dir)
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	if err := applyLogLevels(cfg.Logging); err != nil {
		log.Fatalf("❌ Ошибка настройки уровней логирования: %v", err)
	}

	logging.Info("🏔️  Запуск Terrain Heightmap Server...")
	logging.Debug("Инициализация системы логирования завершена")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТРАССИРОВКА ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled)
	if err != nil {
		logging.Warn("⚠️ Трассировка отключена: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === ХРАНИЛИЩЕ ===
	store, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
	}
	logging.Info("💾 Хранилище: %s", cfg.Storage.Backend)

	// === КЕШ ===
	hot, err := openCache(cfg.Cache, store)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения к кешу: %v", err)
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения к шине событий: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter := eventbus.NewMetricsExporter(bus, registry)
	exporter.Start(5 * time.Second)

	if _, err := eventbus.StartLoggingListener(bus, logging.GetEventBusLogger()); err != nil {
		logging.Warn("⚠️ Логирование событий недоступно: %v", err)
	}

	// === СЕРВИС ГЕНЕРАЦИИ ===
	svc, err := terrain.NewService(terrain.Options{
		Limits:     cfg.Generator,
		Store:      store,
		Cache:      hot,
		CacheTTL:   cfg.Cache.TTL,
		Bus:        bus,
		Registerer: registry,
		Logger:     logging.GetGeneratorLogger(),
	})
	if err != nil {
		log.Fatalf("❌ Ошибка создания сервиса: %v", err)
	}

	if _, err := svc.SubscribeInvalidations(ctx); err != nil {
		logging.Warn("⚠️ Межузловая инвалидация кеша недоступна: %v", err)
	}

	// === REST API ===
	var issuer *auth.Issuer
	if cfg.Auth.JWTSecret != "" {
		issuer, err = auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			log.Fatalf("❌ Ошибка настройки JWT: %v", err)
		}
	}

	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	restServer := api.NewRestServer(api.Config{
		Port:       restPort,
		Service:    svc,
		Issuer:     issuer,
		Registerer: registry,
		Gatherer:   registry,
		Logger:     logging.GetAPILogger(),
	})

	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ Ошибка REST API: %v", err)
			cancel()
		}
	}()

	logging.Info("✅ Все сервисы запущены и готовы принимать запросы")
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)
	if issuer != nil {
		logging.Info("   🔐 JWT аутентификация для DELETE активирована")
	}

	// Примеры использования REST API
	logging.Info("💡 Примеры использования REST API:")
	logging.Info("   curl -X POST http://localhost%s/api/heightmaps -H 'Content-Type: application/json' -d '{\"size\":257,\"seed_text\":\"hello\"}'", restPort)
	logging.Info("   curl http://localhost%s/api/heightmaps/<id>/png -o map.png", restPort)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logging.Debug("Ожидание сигналов завершения...")

	select {
	case sig := <-sigCh:
		logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
	case <-ctx.Done():
		logging.Info("📡 REST API остановлен, завершение работы...")
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()

	logging.Debug("Остановка REST API...")
	if err := restServer.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	exporter.Stop()
	cancel()

	if err := bus.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия шины событий: %v", err)
	}
	if err := hot.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия кеша: %v", err)
	}
	if err := store.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия хранилища: %v", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки трассировки: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

func applyLogLevels(cfg config.LoggingConfig) error {
	console, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	file, err := logging.ParseLevel(cfg.FileLevel)
	if err != nil {
		return err
	}

	logging.Default().SetLevels(console, file)
	for _, l := range []*logging.Logger{
		logging.GetGeneratorLogger(),
		logging.GetAPILogger(),
		logging.GetStorageLogger(),
		logging.GetCacheLogger(),
		logging.GetEventBusLogger(),
	} {
		l.SetLevels(console, file)
	}
	return nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "badger":
		return storage.NewBadgerStore(cfg.Path)
	case "file":
		return storage.NewFileStore(cfg.Path)
	case "maria":
		return storage.NewMariaStore(cfg.MariaDSN)
	default:
		return storage.NewMemoryStore(), nil
	}
}

// openCache выбирает Redis или локальный кеш поверх постоянного хранилища
func openCache(cfg config.CacheConfig, cold cache.ColdStorage) (cache.CacheRepo, error) {
	if !cfg.Enabled {
		logging.Info("🧊 Кеш: in-memory")
		return cache.NewMemoryCache(cache.CacheConfig{DefaultTTL: cfg.TTL}, cold), nil
	}

	logging.Info("🧊 Кеш: Redis %s", cfg.RedisURL)
	return cache.NewRedisCache(cache.CacheConfig{
		RedisURL:      cfg.RedisURL,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		DefaultTTL:    cfg.TTL,
	}, cold)
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if !cfg.Enabled {
		logging.Info("📨 Шина событий: in-memory")
		return eventbus.NewMemoryBus(1024), nil
	}

	logging.Info("📨 Шина событий: NATS JetStream %s (stream %s)", cfg.URL, cfg.Stream)
	return eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
}
