// Package scheduler содержит логику планировщика биллинговых циклов.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/credit-ledger/internal/cache"
	"github.com/magabrotheeeer/credit-ledger/internal/config"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/credit-ledger/internal/services/balance"
	billingservice "github.com/magabrotheeeer/credit-ledger/internal/services/billing"
	"github.com/magabrotheeeer/credit-ledger/internal/storage/repository"
)

// App представляет приложение планировщика биллинга.
type App struct {
	billingService *billingservice.Service
	conn           *amqp.Connection
	ch             *amqp.Channel
	interval       time.Duration
	logger         *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, ch, err := rabbitmq.Connect(cfg.AddressRabbit)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	if err := waitForDB(db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	engine := balance.New(db, cacheRedis, logger, cfg.AllowNegativeBalance, cfg.DefaultCreditRate)
	billingService := billingservice.New(db, engine, logger, cfg.RolloverCeiling)

	return &App{
		billingService: billingService,
		conn:           conn,
		ch:             ch,
		interval:       cfg.SchedulerInterval,
		logger:         logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", "error", err)
		}
	}
}

// Run запускает периодический прогон биллинговых циклов.
// Каждый тик начисляет кредиты всем подпискам с наступившей датой
// биллинга; повторный прогон того же периода идемпотентен.
func (a *App) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			a.runOnce(ctx)
		case <-ctx.Done():
			a.logger.Info("shutting down billing scheduler")

			if err := a.ch.Close(); err != nil {
				a.logger.Error("failed to close channel", slog.Any("err", err))
			}

			if err := a.conn.Close(); err != nil {
				a.logger.Error("failed to close connection", slog.Any("err", err))
			}

			return nil
		}
	}
}

func (a *App) runOnce(ctx context.Context) {
	billed, err := a.billingService.RunBillingCycle(ctx, time.Now().UTC(), a.ch)
	if err != nil {
		a.logger.Error("billing cycle run failed", slog.Any("err", err))
		return
	}
	a.logger.Info("billing cycle run finished", slog.Int("billed", billed))
}
