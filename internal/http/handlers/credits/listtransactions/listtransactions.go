// Package listtransactions реализует HTTP-обработчик постраничного просмотра
// истории транзакций аккаунта с фильтрацией по виду и периоду.
package listtransactions

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/credit-ledger/internal/http/middlewarectx"
	"github.com/magabrotheeeer/credit-ledger/internal/http/response"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// Handler управляет HTTP-запросами на просмотр истории транзакций.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики выборки транзакций.
type Service interface {
	ListTransactions(ctx context.Context, userUID string, page, pageSize int, filter models.EntryFilter) ([]*models.Transaction, int, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary История транзакций
// @Description Возвращает страницу истории транзакций аккаунта, новые записи первыми. Поддерживает фильтры по виду транзакции и датам.
// @Tags Credits
// @Produce  json
// @Param page query int false "Номер страницы, с 1"
// @Param page_size query int false "Размер страницы, по умолчанию 20"
// @Param kind query string false "Вид транзакции: service, subscription, admin, dispute, purchase"
// @Param from query string false "Начало периода, RFC 3339"
// @Param to query string false "Конец периода, RFC 3339"
// @Success 200 {object} response.Response "Страница транзакций"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /credits/transactions [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.credits.listtransactions"
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

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}
	pageSize, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil || pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	var filter models.EntryFilter
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filter.Kind = &kind
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid from date"))
			return
		}
		filter.From = &t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid to date"))
			return
		}
		filter.To = &t
	}

	entries, total, err := h.service.ListTransactions(r.Context(), userUID, page, pageSize, filter)
	if err != nil {
		log.Error("failed to list transactions", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list transactions"))
		return
	}

	log.Info("transactions listed", sl.UID(userUID), slog.Int("count", len(entries)))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"transactions": entries,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
	}))
}
