// Package health реализует проверку работоспособности сервиса.
package health

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/credit-ledger/internal/cache"
	"github.com/magabrotheeeer/credit-ledger/internal/http/response"
	"github.com/magabrotheeeer/credit-ledger/internal/storage/repository"
)

// Handler отвечает на запросы проверки готовности.
type Handler struct {
	log     *slog.Logger
	storage *repository.Storage
	cache   *cache.Cache
}

// New создает новый Handler с переданными зависимостями.
func New(log *slog.Logger, storage *repository.Storage, cache *cache.Cache) *Handler {
	return &Handler{
		log:     log,
		storage: storage,
		cache:   cache,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"
	database := "ok"
	status := http.StatusOK
	if err := repository.CheckDatabaseReady(h.storage); err != nil {
		database = "unavailable"
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"status":   "ok",
		"database": database,
	}))
}
