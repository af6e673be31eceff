// Package resolve реализует HTTP-обработчик резолюции диспута
// администратором, включая возврат кредитов.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/credit-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/credit-ledger/internal/http/response"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// Handler управляет HTTP-запросами резолюции диспута.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс сервиса диспутов.
type Service interface {
	Resolve(ctx context.Context, id int, adminUID string, req models.DummyResolveRequest) (*models.Dispute, int, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// resolveResponse — тело ответа с итоговым диспутом и суммой возврата.
type resolveResponse struct {
	Dispute        *models.Dispute `json:"dispute"`
	RefundedAmount int             `json:"refunded_amount"`
}

// ServeHTTP godoc
// @Summary Разрешить диспут
// @Description Закрывает диспут с указанной резолюцией. Возврат кредитов и смена статуса применяются атомарно; повторная резолюция отклоняется.
// @Tags Disputes
// @Accept  json
// @Produce  json
// @Param id path int true "Идентификатор диспута"
// @Param request body models.DummyResolveRequest true "Резолюция и сумма возврата"
// @Success 200 {object} response.Response "Закрытый диспут и сумма возврата"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или идентификатор"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Требуется роль администратора"
// @Failure 409 {object} response.ErrorResponse "Диспут уже разрешён"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /admin/disputes/{id}/resolve [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.dispute.resolve"
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

	var req models.DummyResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	adminUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || adminUID == "" {
		log.Error("user uid not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	dispute, refunded, err := h.service.Resolve(r.Context(), id, adminUID, req)
	switch {
	case errors.Is(err, models.ErrAlreadyResolved):
		log.Info("dispute already resolved", slog.Int("dispute_id", id))
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("dispute already resolved"))
		return
	case errors.Is(err, models.ErrInvalidAmount):
		log.Error("invalid resolution amount", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("invalid resolution amount"))
		return
	case err != nil:
		log.Error("failed to resolve dispute", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not resolve dispute"))
		return
	}

	log.Info("dispute resolved", slog.Int("dispute_id", id),
		slog.String("resolution", req.Resolution), slog.Int("refunded", refunded))
	render.JSON(w, r, response.StatusOKWithData(resolveResponse{
		Dispute:        dispute,
		RefundedAmount: refunded,
	}))
}
