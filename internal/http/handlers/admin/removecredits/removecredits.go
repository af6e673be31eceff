// Package removecredits реализует привилегированный HTTP-обработчик
// снятия кредитов с баланса пользователя администратором.
package removecredits

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/credit-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/credit-ledger/internal/http/response"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// Handler управляет HTTP-запросами административного снятия кредитов.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс административных операций.
type Service interface {
	RemoveCredits(ctx context.Context, adminUID string, req models.DummyAdminCreditsRequest) (*models.AdminOpResult, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Снять кредиты с баланса пользователя
// @Description Привилегированное списание кредитов. Может увести баланс в минус, если это разрешено конфигурацией.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param request body models.DummyAdminCreditsRequest true "Пользователь, сумма и причина"
// @Success 200 {object} response.Response "Результат операции"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Требуется роль администратора"
// @Failure 404 {object} response.ErrorResponse "Аккаунт не найден"
// @Failure 409 {object} response.ErrorResponse "Недостаточно кредитов"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /admin/credits/remove [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.removecredits"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyAdminCreditsRequest
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

	result, err := h.service.RemoveCredits(r.Context(), adminUID, req)
	switch {
	case errors.Is(err, models.ErrAccountNotFound):
		log.Info("account not found", sl.UID(req.UserUID))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("credit account not found"))
		return
	case errors.Is(err, models.ErrInsufficientCredits):
		log.Info("insufficient credits", sl.UID(req.UserUID))
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("insufficient credits"))
		return
	case err != nil:
		log.Error("failed to remove credits", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not remove credits"))
		return
	}

	log.Info("credits removed", sl.UID(req.UserUID),
		slog.Int("amount", req.Amount), slog.String("admin_uid", adminUID))
	render.JSON(w, r, response.StatusOKWithData(result))
}
