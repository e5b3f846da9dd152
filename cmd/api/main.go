package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"messhall/internal/access"
	"messhall/internal/api"
	"messhall/internal/bot"
	"messhall/internal/config"
	"messhall/internal/database"
	"messhall/internal/domain"
	"messhall/internal/events"
	"messhall/internal/google"
	"messhall/internal/logging"
	"messhall/internal/metrics"
	"messhall/internal/notify"
	"messhall/internal/report"
	"messhall/internal/repository"
	"messhall/internal/service"
	"messhall/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

type app struct {
	cfg        *config.Config
	logger     *zerolog.Logger
	db         *database.DB
	redis      *redis.Client
	bus        *events.EventBus
	limiter    domain.RateLimiter
	policy     *access.Policy
	bookings   *service.BookingService
	catalog    *service.CatalogService
	promotions *service.PromotionService
	recorder   *notify.Recorder
	exporter   *report.Exporter
	sheets     *worker.SheetsWorker
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, logger: logger, db: db, policy: access.Default()}
	a.redis = initRedis(ctx, cfg, logger)
	if a.redis != nil {
		defer repository.Close(a.redis)
	}
	memoryLimiter := repository.NewMemoryRateLimiter()
	a.limiter = initRateLimiter(a.redis, memoryLimiter, logger)
	a.bus = events.NewEventBus(logging.Component(logger, "events"))

	if err := a.initNotifications(); err != nil {
		return err
	}
	a.sheets = initSheetsWorker(ctx, cfg, db, a.redis, logger)
	a.initServices()

	if err := a.seedMenu(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	background(database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup")).Start)
	background(func(ctx context.Context) {
		every(ctx, 10*time.Minute, func() { memoryLimiter.Prune() })
	})
	background(func(ctx context.Context) {
		every(ctx, 24*time.Hour, func() { a.archiveReport(ctx) })
	})
	if a.sheets != nil {
		if _, err := a.sheets.RequeueFailed(ctx); err != nil {
			logger.Warn().Err(err).Msg("requeue failed sync tasks")
		}
		background(a.sheets.Start)
	}
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		background(func(ctx context.Context) { startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger) })
	}
	if tgBot, err := a.initBot(); err != nil {
		logger.Warn().Err(err).Msg("telegram bot init failed, continuing without bot")
	} else if tgBot != nil {
		background(tgBot.Start)
	}

	err = a.startServers(ctx)
	stop()
	wg.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, &logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	client := repository.NewRedisClient(cfg.Redis)
	if client == nil {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initRateLimiter prefers Redis so limits hold across replicas.
func initRateLimiter(client *redis.Client, memory *repository.MemoryRateLimiter, logger *zerolog.Logger) domain.RateLimiter {
	if client == nil {
		return memory
	}
	return repository.NewFailoverRateLimiter(repository.NewRedisRateLimiter(client), memory, logging.Component(logger, "rate_limiter"))
}

func (a *app) initNotifications() error {
	notifier, err := notify.NewTelegramNotifier(a.cfg.Notify, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("telegram notifier init failed, alerts stay in the database")
		notifier = nil
	}

	var sender domain.Notifier
	if notifier != nil {
		sender = notifier
	}
	a.recorder = notify.NewRecorder(a.db, sender, logging.Component(a.logger, "notify"))
	a.recorder.Subscribe(a.bus)
	return nil
}

func initSheetsWorker(ctx context.Context, cfg *config.Config, db *database.DB, client *redis.Client, logger *zerolog.Logger) *worker.SheetsWorker {
	if cfg.Google.CredentialsFile == "" || cfg.Google.BookingSpreadsheetID == "" {
		return nil
	}

	sheets, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile, cfg.Google.BookingSpreadsheetID, cfg.Google.SheetName, logging.Component(logger, "sheets"))
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheets.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	if err := sheets.EnsureHeader(ctx); err != nil {
		logger.Warn().Err(err).Msg("write sheet header")
	}
	if err := sheets.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("warm up sheet row cache")
	}
	go sheets.StartCacheRefresh(ctx, 10*time.Minute)

	logger.Info().Msg("google sheets connected")
	return worker.NewSheetsWorker(db, sheets, client, worker.DefaultRetryPolicy(), logger)
}

func (a *app) initServices() {
	var syncWorker domain.SyncWorker
	if a.sheets != nil {
		syncWorker = a.sheets
	}

	ledger := service.NewLedger(a.db, logging.Component(a.logger, "ledger"))
	a.bookings = service.NewBookingService(a.db, ledger, a.bus, syncWorker, a.limiter, a.cfg.Booking, logging.Component(a.logger, "bookings"))
	a.catalog = service.NewCatalogService(a.db, ledger, logging.Component(a.logger, "catalog"))
	a.promotions = service.NewPromotionService(a.db, a.bus, a.cfg.Roles, logging.Component(a.logger, "promotions"))
	a.exporter = report.NewExporter(a.bookings, a.cfg.Exports.Path, logging.Component(a.logger, "report"))
}

// seedMenu creates offerings for the current week and the configured number of following weeks.
func (a *app) seedMenu(ctx context.Context) error {
	if a.cfg.Menu.Path == "" {
		return nil
	}
	menu, err := service.LoadMenu(a.cfg.Menu.Path)
	if err != nil {
		return fmt.Errorf("load menu: %w", err)
	}

	week := service.WeekStart(time.Now())
	for i := 0; i < a.cfg.Menu.SeedWeeks; i++ {
		if _, err := a.catalog.SeedWeek(ctx, menu, week.AddDate(0, 0, 7*i)); err != nil {
			return fmt.Errorf("seed menu: %w", err)
		}
	}
	return nil
}

func (a *app) initBot() (*bot.Bot, error) {
	if !a.cfg.Bot.Enabled {
		return nil, nil
	}
	botAPI, err := tgbotapi.NewBotAPI(a.cfg.Notify.TelegramToken)
	if err != nil {
		return nil, err
	}
	return bot.NewBot(bot.NewBotWrapper(botAPI), bot.Services{
		Users:      a.db,
		Bookings:   a.bookings,
		Catalog:    a.catalog,
		Promotions: a.promotions,
	}, a.policy, a.limiter, a.cfg.Bot, a.logger), nil
}

func (a *app) startServers(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Bookings:      a.bookings,
		Catalog:       a.catalog,
		Promotions:    a.promotions,
		Notifications: a.recorder,
		Reports:       a.exporter,
		Users:         a.db,
		Health:        a.db.Ping,
	}, a.policy, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		var err error
		grpcServer, err = api.NewGRPCServer(cfg.API, api.NewMealService(a.catalog), logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	if cfg.API.HTTP.Enabled {
		go func() {
			if err := httpServer.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	logger.Info().Bool("http", cfg.API.HTTP.Enabled).Bool("grpc", cfg.API.GRPC.Enabled).Msg("API server started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("http server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if cfg.API.HTTP.Enabled {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("API server stopped")
	return runErr
}

// archiveReport writes the previous seven days to the exports directory.
func (a *app) archiveReport(ctx context.Context) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if _, err := a.exporter.Save(ctx, today.AddDate(0, 0, -7), today.AddDate(0, 0, -1)); err != nil {
		a.logger.Error().Err(err).Msg("archive booking report")
	}
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
