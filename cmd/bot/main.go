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

	"cubegift-bot/internal/api"
	"cubegift-bot/internal/config"
	"cubegift-bot/internal/database"
	"cubegift-bot/internal/handlers"
	"cubegift-bot/internal/logger"
	"cubegift-bot/internal/metrics"
	"cubegift-bot/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v3"
)

func main() {
	// Парсим флаги
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrationsPath := flag.String("migrations", "db/migrations", "path to migrations directory")
	flag.Parse()

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.IsMockMode())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrationsPath, zl); err != nil {
		zl.Fatal("bot stopped with error", zap.Error(err))
	}
	zl.Info("👋 bot stopped")
}

func run(ctx context.Context, cfg *config.Config, migrationsPath string, zl *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Хранилища: в памяти (APP_ENV=local) или Postgres
	var (
		pending service.PendingStore
		ledger  service.Ledger
	)
	if cfg.IsMockMode() {
		zl.Info("🧪 running in MOCK MODE, balances are kept in memory", zap.String("app_env", cfg.AppEnv))
		pending = database.NewMemoryPendingStore()
		ledger = database.NewMemoryLedger()
	} else {
		db, err := database.New(ctx, cfg.DatabaseURL, zl)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx, migrationsPath); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		zl.Info("✅ database migrations completed")

		pending = database.NewPostgresPendingStore(db)
		ledger = database.NewPostgresLedger(db)
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		pending = database.NewRedisPendingStore(rdb, cfg.Redis.KeyPrefix)
		zl.Info("pending payments stored in redis", zap.String("addr", cfg.Redis.Addr))
	}

	var journal service.Journal = database.NewMemoryJournal()
	if cfg.Journal.Path != "" {
		j, err := database.OpenJournal(ctx, cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j
	}

	// Настраиваем бота
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			fields := []zap.Field{zap.Error(err)}
			if c != nil && c.Sender() != nil {
				fields = append(fields, zap.Int64("user_id", c.Sender().ID))
			}
			zl.Error("update handling failed", fields...)
		},
	})
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	p := cfg.Payments
	issuer := service.NewInvoiceIssuer(pending, handlers.NewStarsProvider(bot), service.InvoicePolicy{
		MinAmount:     p.MinAmount,
		Currency:      p.Currency,
		ProviderToken: p.ProviderToken,
		Title:         p.Title,
		MaxTipAmount:  p.MaxTipAmount,
		SuggestedTips: p.SuggestedTips,
	}, m, zl)
	callbacks := service.NewCallbackHandler(pending, ledger, journal, m, zl)

	// Дозачисляем платежи, прерванные прошлым падением
	if n, err := callbacks.Recover(ctx); err != nil {
		zl.Error("journal recovery incomplete", zap.Int("recovered", n), zap.Error(err))
	}

	sweeper := service.NewSweeper(pending, service.SweeperConfig{
		Interval: p.SweepInterval,
		TTL:      p.PendingTTL,
	}, m, zl)
	sweeper.Start()
	defer sweeper.Stop()

	// Регистрируем обработчики
	h := handlers.New(issuer, callbacks, ledger, handlers.Settings{
		WebAppURL:     cfg.Telegram.WebAppURL,
		DefaultAmount: p.DefaultAmount,
		AdminIDs:      cfg.Telegram.AdminIDs,
	}, zl)
	h.Register(bot)
	h.RegisterAdmin(bot, sweeper)

	server := api.New(issuer, ledger, api.Config{
		BotToken:       cfg.Telegram.Token,
		InitDataMaxAge: p.InitDataMaxAge,
		DefaultAmount:  p.DefaultAmount,
		AllowOrigins:   cfg.API.AllowOrigins,
	}, m, reg, zl)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zl.Info("🎲 bot started",
			zap.String("username", bot.Me.Username),
			zap.String("currency", p.Currency),
			zap.String("web_app_url", cfg.Telegram.WebAppURL),
		)
		bot.Start()
		return nil
	})

	g.Go(func() error {
		return server.Listen(cfg.API.Listen)
	})

	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down")

		bot.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
