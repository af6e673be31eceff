// Package getbalance реализует HTTP-обработчик получения баланса кредитов.
//
// Handler извлекает UID аккаунта из контекста, запрашивает баланс и сводку
// подписки через движок баланса и возвращает их в JSON-формате.
package getbalance

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/credit-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/credit-ledger/internal/http/response"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// Handler управляет HTTP-запросами на получение баланса.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Движок баланса
}

// Service описывает интерфейс бизнес-логики чтения баланса.
type Service interface {
	GetBalance(ctx context.Context, userUID string) (*models.BalanceInfo, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Получить баланс кредитов
// @Description Возвращает текущий баланс, статус аккаунта и сводку подписки.
// @Tags Credits
// @Produce  json
// @Success 200 {object} response.Response "Баланс аккаунта"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Аккаунт не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /credits [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.credits.getbalance"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("user uid not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	info, err := h.service.GetBalance(r.Context(), userUID)
	if errors.Is(err, models.ErrAccountNotFound) {
		log.Error("account not found", sl.UID(userUID))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("account not found"))
		return
	}
	if err != nil {
		log.Error("failed to get balance", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get balance"))
		return
	}

	log.Info("balance returned", sl.UID(userUID), slog.Int("balance", info.Balance))
	render.JSON(w, r, response.StatusOKWithData(info))
}
