// Package webhook реализует приём уведомлений платёжного шлюза.
//
// Handler проверяет подпись HMAC-SHA256 в заголовке X-Api-Signature,
// и по событию payment.succeeded зачисляет купленные кредиты. Повторная
// доставка того же платежа идемпотентна: дубликат получает 200 OK,
// чтобы шлюз прекратил ретраи.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
	"github.com/magabrotheeeer/credit-ledger/internal/paymentprovider"
)

// Service описывает интерфейс зачисления подтверждённой покупки.
type Service interface {
	Settle(ctx context.Context, userUID string, amount int, description, paymentRef string, amountUSD int) (*models.Transaction, int, error)
}

// Handler обрабатывает вебхуки платёжного шлюза.
type Handler struct {
	log           *slog.Logger // Логгер для записи информации и ошибок
	service       Service
	webhookSecret string // Секрет для проверки подписи
}

// New создает новый Handler с переданными логгером, сервисом и секретом.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
	}
}

// Проверка подписи webhook (X-Api-Signature)
func (h *Handler) verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.purchase.webhook"
	log := h.log.With(slog.String("op", op))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Api-Signature")
	if signature == "" || !h.verifySignature(h.webhookSecret, body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload paymentprovider.WebhookEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	const paymentSucceeded = "payment.succeeded"
	if strings.ToLower(payload.Event) != paymentSucceeded {
		log.Info("ignored webhook event", slog.String("event", payload.Event))
		w.WriteHeader(http.StatusOK)
		return
	}

	userUID := payload.Object.Metadata["user_uid"]
	credits, err := strconv.Atoi(payload.Object.Metadata["credits"])
	if userUID == "" || err != nil || credits <= 0 {
		log.Error("webhook payload is missing purchase metadata",
			slog.String("payment_id", payload.Object.ID))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	amountUSD, err := valueToCents(payload.Object.Amount.Value)
	if err != nil {
		log.Error("invalid amount in webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	_, _, err = h.service.Settle(r.Context(), userUID, credits,
		"credit purchase", payload.Object.ID, amountUSD)
	if errors.Is(err, models.ErrDuplicatePayment) {
		log.Info("duplicate payment delivery ignored", slog.String("payment_id", payload.Object.ID))
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		log.Error("failed to settle purchase", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Info("webhook processed successfully",
		slog.String("event", payload.Event), slog.String("payment_id", payload.Object.ID))
	w.WriteHeader(http.StatusOK)
}

// valueToCents разбирает сумму вида "49.00" в центы.
func valueToCents(value string) (int, error) {
	parts := strings.SplitN(value, ".", 2)
	dollars, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	cents := 0
	if len(parts) == 2 {
		if len(parts[1]) != 2 {
			return 0, fmt.Errorf("invalid amount %q", value)
		}
		if cents, err = strconv.Atoi(parts[1]); err != nil {
			return 0, fmt.Errorf("invalid amount %q", value)
		}
	}
	return dollars*100 + cents, nil
}
