// Package resume реализует HTTP-обработчик возобновления подписки.
package resume

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

// Handler управляет HTTP-запросами возобновления подписки.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс биллингового сервиса подписок.
type Service interface {
	Resume(ctx context.Context, userUID string) (*models.Subscription, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Возобновить подписку
// @Description Возвращает приостановленную подписку в статус active. Биллинговый цикл продолжается с ближайшей даты начисления.
// @Tags Subscriptions
// @Produce  json
// @Success 200 {object} response.Response "Обновлённая подписка"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Failure 409 {object} response.ErrorResponse "Недопустимый переход статуса"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /subscriptions/resume [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.resume"
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

	sub, err := h.service.Resume(r.Context(), userUID)
	switch {
	case errors.Is(err, models.ErrNoActiveSubscription):
		log.Info("subscription not found", sl.UID(userUID))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("subscription not found"))
		return
	case errors.Is(err, models.ErrInvalidTransition):
		log.Info("resume rejected", sl.UID(userUID), sl.Err(err))
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("subscription cannot be resumed"))
		return
	case err != nil:
		log.Error("failed to resume subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not resume subscription"))
		return
	}

	log.Info("subscription resumed", sl.UID(userUID))
	render.JSON(w, r, response.StatusOKWithData(sub))
}
