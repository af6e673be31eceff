// Package creditledger собирает HTTP-приложение кредитного леджера:
// хранилище, кэш, брокер событий, сервисы и маршруты.
package creditledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/credit-ledger/internal/cache"
	"github.com/magabrotheeeer/credit-ledger/internal/config"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/jwt"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/credit-ledger/internal/migrations"
	"github.com/magabrotheeeer/credit-ledger/internal/paymentprovider"
	adminservice "github.com/magabrotheeeer/credit-ledger/internal/services/admin"
	"github.com/magabrotheeeer/credit-ledger/internal/services/balance"
	billingservice "github.com/magabrotheeeer/credit-ledger/internal/services/billing"
	disputeservice "github.com/magabrotheeeer/credit-ledger/internal/services/dispute"
	purchaseservice "github.com/magabrotheeeer/credit-ledger/internal/services/purchase"
	"github.com/magabrotheeeer/credit-ledger/internal/storage/repository"
)

// App инкапсулирует HTTP-сервер и его зависимости.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	rabbit *amqp.Connection
}

// New создает приложение: подключает PostgreSQL, Redis и RabbitMQ,
// прогоняет миграции и регистрирует маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, "./migrations"); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	rabbitConn, rabbitCh, err := rabbitmq.Connect(cfg.AddressRabbit)
	if err != nil {
		return nil, err
	}

	maker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	providerClient := paymentprovider.NewClient(cfg.ShopID, cfg.SecretKey)

	engine := balance.New(db, cacheRedis, logger, cfg.AllowNegativeBalance, cfg.DefaultCreditRate)
	billingSvc := billingservice.New(db, engine, logger, cfg.RolloverCeiling)
	purchaseSvc := purchaseservice.New(db, engine, providerClient, logger, cfg.DefaultCreditRate)
	disputeSvc := disputeservice.New(db, logger).
		WithChannel(rabbitCh).
		WithBalanceInvalidator(engine)
	adminSvc := adminservice.New(db, engine, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, maker, &Services{
		Engine:   engine,
		Billing:  billingSvc,
		Purchase: purchaseSvc,
		Dispute:  disputeSvc,
		Admin:    adminSvc,
		Storage:  db,
		Cache:    cacheRedis,
	}, cfg.WebhookSecret)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		rabbit: rabbitConn,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.db.DB.Close()
		_ = a.rabbit.Close()
		return err
	}
}
