package models

import "time"

// Статусы диспута.
const (
	DisputePending     = "pending"
	DisputeUnderReview = "under_review"
	DisputeResolved    = "resolved"
	DisputeRejected    = "rejected"
	DisputeAppealed    = "appealed"
)

// Варианты резолюции диспута.
const (
	ResolutionFullRefund    = "full_refund"
	ResolutionPartialRefund = "partial_refund"
	ResolutionExplanation   = "explanation"
	ResolutionRejected      = "rejected"
)

// Dispute — обращение пользователя по поводу прошлой транзакции.
// TransactionID может быть nil: часть диспутов касается отсутствующих
// транзакций. Диспуты никогда не удаляются, только меняют статус.
// Резолюция применяется не более одного раза; возврат кредитов порождает
// ровно одну компенсирующую запись леджера вида dispute.
type Dispute struct {
	ID              int        `json:"id"`
	UserUID         string     `json:"user_uid"`
	TransactionID   *string    `json:"transaction_id,omitempty"`
	Reason          string     `json:"reason"`
	Description     string     `json:"description"`
	RequestedAmount *int       `json:"requested_amount,omitempty"`
	Status          string     `json:"status"`
	Resolution      *string    `json:"resolution,omitempty"`
	ResolvedAmount  *int       `json:"resolved_amount,omitempty"`
	AdminUID        *string    `json:"admin_uid,omitempty"`
	AdminNotes      string     `json:"admin_notes,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// DummyDisputeRequest используется для приёма запроса на создание диспута.
type DummyDisputeRequest struct {
	TransactionID   string `json:"transaction_id,omitempty" validate:"omitempty,uuid"`
	Reason          string `json:"reason" validate:"required"`
	Description     string `json:"description" validate:"required"`
	RequestedAmount int    `json:"requested_amount,omitempty" validate:"omitempty,gt=0"`
}

// DummyReviewRequest — запрос администратора на взятие диспута в работу
// либо прямое отклонение.
type DummyReviewRequest struct {
	Status string `json:"status" validate:"required,oneof=under_review rejected"`
	Notes  string `json:"notes,omitempty"`
}

// DummyResolveRequest — запрос администратора на резолюцию диспута.
type DummyResolveRequest struct {
	Resolution     string `json:"resolution" validate:"required,oneof=full_refund partial_refund explanation rejected"`
	ResolvedAmount int    `json:"resolved_amount,omitempty" validate:"omitempty,gt=0"`
	Notes          string `json:"notes,omitempty"`
}
