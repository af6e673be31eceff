// Package create реализует HTTP-обработчик создания покупки кредитов.
//
// Без платёжного референса в запросе создаётся платёж во внешнем шлюзе,
// и кредиты зачислит вебхук подтверждения. С референсом зачисление
// происходит сразу.
package create

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
	purchaseservice "github.com/magabrotheeeer/credit-ledger/internal/services/purchase"
)

// Handler управляет HTTP-запросами на покупку кредитов.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс процессора покупок.
type Service interface {
	Create(ctx context.Context, userUID string, req models.DummyPurchaseRequest) (*purchaseservice.Result, error)
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
// @Summary Купить кредиты
// @Description Без payment_ref создаёт платёж во внешнем шлюзе и возвращает его со статусом pending; зачисление произойдёт после подтверждения вебхуком. С payment_ref кредиты зачисляются сразу, в ответе созданная транзакция и новый баланс.
// @Tags Purchases
// @Accept  json
// @Produce  json
// @Param request body models.DummyPurchaseRequest true "Данные покупки"
// @Success 200 {object} response.Response "Созданный платёж или зачисленная транзакция"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Платёж уже зачислен"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера или шлюза"
// @Security BearerAuth
// @Router /credits/purchase [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.purchase.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyPurchaseRequest
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

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("user uid not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	result, err := h.service.Create(r.Context(), userUID, req)
	if errors.Is(err, models.ErrDuplicatePayment) {
		log.Warn("payment already settled", sl.UID(userUID))
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("payment already settled"))
		return
	}
	if err != nil {
		log.Error("failed to create purchase", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not create purchase"))
		return
	}

	if result.Transaction != nil {
		log.Info("purchase settled", sl.UID(userUID), slog.String("transaction_id", result.Transaction.ID))
	} else {
		log.Info("purchase created", sl.UID(userUID), slog.String("payment_id", result.Payment.ID))
	}
	render.JSON(w, r, response.StatusOKWithData(result))
}
