// Package list реализует HTTP-обработчик получения каталога
// активных тарифных пакетов.
package list

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/credit-ledger/internal/http/response"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// Handler управляет HTTP-запросами каталога пакетов.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс источника каталога.
type Service interface {
	ListPackages(ctx context.Context) ([]*models.Package, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Получить список тарифных пакетов
// @Description Возвращает активные пакеты с месячными лимитами кредитов и ценами.
// @Tags Packages
// @Produce  json
// @Success 200 {object} response.Response "Список пакетов"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /packages [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.packages.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	packages, err := h.service.ListPackages(r.Context())
	if err != nil {
		log.Error("failed to list packages", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not load packages"))
		return
	}

	log.Info("packages listed", slog.Int("count", len(packages)))
	render.JSON(w, r, response.StatusOKWithData(packages))
}
