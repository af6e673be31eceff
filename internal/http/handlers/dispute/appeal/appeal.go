// Package appeal реализует HTTP-обработчик апелляции отклонённого диспута.
package appeal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/credit-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/credit-ledger/internal/http/response"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// Handler управляет HTTP-запросами апелляции диспута.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс сервиса диспутов.
type Service interface {
	Appeal(ctx context.Context, userUID string, id int) (*models.Dispute, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Обжаловать отклонённый диспут
// @Description Переводит собственный отклонённый диспут в статус appealed для повторного рассмотрения.
// @Tags Disputes
// @Produce  json
// @Param id path int true "Идентификатор диспута"
// @Success 200 {object} response.Response "Обновлённый диспут"
// @Failure 400 {object} response.ErrorResponse "Некорректный идентификатор или чужой диспут"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Диспут нельзя обжаловать"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /disputes/{id}/appeal [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.dispute.appeal"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		log.Error("invalid dispute id", slog.String("raw", chi.URLParam(r, "id")))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid dispute id"))
		return
	}

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("user uid not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	dispute, err := h.service.Appeal(r.Context(), userUID, id)
	if errors.Is(err, models.ErrInvalidTransition) {
		log.Info("appeal rejected", slog.Int("dispute_id", id), sl.Err(err))
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("only rejected disputes can be appealed"))
		return
	}
	if err != nil {
		log.Error("failed to appeal dispute", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("could not appeal dispute"))
		return
	}

	log.Info("dispute appealed", sl.UID(userUID), slog.Int("dispute_id", id))
	render.JSON(w, r, response.StatusOKWithData(dispute))
}
