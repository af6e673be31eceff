// Package creditledger предоставляет маршруты для основного приложения.
package creditledger

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/credit-ledger/internal/cache"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/admin/addcredits"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/admin/pauseservice"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/admin/removecredits"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/admin/resumeservice"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/credits/getbalance"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/credits/getsummary"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/credits/listtransactions"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/dispute/appeal"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/dispute/resolve"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/dispute/review"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/dispute/submit"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/health"
	packageslist "github.com/magabrotheeeer/credit-ledger/internal/http/handlers/packages/list"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/purchase/create"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/purchase/validate"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/purchase/webhook"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/subscription/pause"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/subscription/resume"
	"github.com/magabrotheeeer/credit-ledger/internal/http/handlers/subscription/subscribe"
	"github.com/magabrotheeeer/credit-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/jwt"
	adminservice "github.com/magabrotheeeer/credit-ledger/internal/services/admin"
	"github.com/magabrotheeeer/credit-ledger/internal/services/balance"
	billingservice "github.com/magabrotheeeer/credit-ledger/internal/services/billing"
	disputeservice "github.com/magabrotheeeer/credit-ledger/internal/services/dispute"
	purchaseservice "github.com/magabrotheeeer/credit-ledger/internal/services/purchase"
	"github.com/magabrotheeeer/credit-ledger/internal/storage/repository"
)

// Services собирает сервисный слой приложения для регистрации маршрутов.
type Services struct {
	Engine   *balance.Engine
	Billing  *billingservice.Service
	Purchase *purchaseservice.Service
	Dispute  *disputeservice.Service
	Admin    *adminservice.Service
	Storage  *repository.Storage
	Cache    *cache.Cache
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, maker jwt.Maker, svc *Services, webhookSecret string) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(maker, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))

			r.Get("/credits", getbalance.New(logger, svc.Engine).ServeHTTP)
			r.Get("/credits/summary", getsummary.New(logger, svc.Engine).ServeHTTP)
			r.Get("/credits/transactions", listtransactions.New(logger, svc.Engine).ServeHTTP)
			r.Post("/credits/validate", validate.New(logger, svc.Purchase).ServeHTTP)
			r.Post("/credits/purchase", create.New(logger, svc.Purchase).ServeHTTP)

			r.Get("/packages", packageslist.New(logger, svc.Purchase).ServeHTTP)

			r.Post("/subscriptions", subscribe.New(logger, svc.Billing).ServeHTTP)
			r.Post("/subscriptions/pause", pause.New(logger, svc.Billing).ServeHTTP)
			r.Post("/subscriptions/resume", resume.New(logger, svc.Billing).ServeHTTP)
			r.Post("/subscriptions/cancel", cancel.New(logger, svc.Billing).ServeHTTP)

			r.Post("/disputes", submit.New(logger, svc.Dispute).ServeHTTP)
			r.Post("/disputes/{id}/appeal", appeal.New(logger, svc.Dispute).ServeHTTP)

			// Привилегированные операции
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireAdmin(logger))
				r.Post("/admin/credits/add", addcredits.New(logger, svc.Admin).ServeHTTP)
				r.Post("/admin/credits/remove", removecredits.New(logger, svc.Admin).ServeHTTP)
				r.Post("/admin/credits/pause", pauseservice.New(logger, svc.Admin).ServeHTTP)
				r.Post("/admin/credits/resume", resumeservice.New(logger, svc.Admin).ServeHTTP)
				r.Post("/admin/disputes/{id}/review", review.New(logger, svc.Dispute).ServeHTTP)
				r.Post("/admin/disputes/{id}/resolve", resolve.New(logger, svc.Dispute).ServeHTTP)
			})
		})

		// Webhook endpoint (без аутентификации, подпись HMAC)
		r.Post("/payments/webhook", webhook.New(logger, svc.Purchase, webhookSecret).ServeHTTP)
	})

	r.Get("/health", health.New(logger, svc.Storage, svc.Cache).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
