package models

import (
	"errors"
	"time"
)

var (
	// ErrPaymentNotFound платёж не зарегистрирован или уже использован
	ErrPaymentNotFound = errors.New("pending payment not found")
	// ErrDuplicatePayload payload уже зарегистрирован
	ErrDuplicatePayload = errors.New("duplicate invoice payload")
	// ErrNonPositiveAmount зачисление должно быть положительным
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

// PendingPayment выставленный, но ещё не оплаченный счёт
type PendingPayment struct {
	Payload   string    `db:"payload" json:"payload"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Amount    int64     `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PaymentState состояние платежа по payload
type PaymentState string

const (
	StateIssued               PaymentState = "issued"
	StateAwaitingConfirmation PaymentState = "awaiting_confirmation"
	StateCredited             PaymentState = "credited"
	StateExpired              PaymentState = "expired"
	StateRejected             PaymentState = "rejected"
)

// JournalEntry запись об использованном платеже, который ещё может быть не зачислен
type JournalEntry struct {
	Payload    string
	UserID     int64
	Amount     int64
	ChargeID   string
	ConsumedAt time.Time
}

// Invoice счёт, отправленный пользователю
type Invoice struct {
	Payload     string
	UserID      int64
	Amount      int64
	Title       string
	Description string
	Currency    string
	CreatedAt   time.Time
}

// SuccessfulPayment событие успешной оплаты от Telegram
type SuccessfulPayment struct {
	UserID   int64
	Payload  string
	ChargeID string
	Currency string
	Total    int64
}

// PreCheckout запрос подтверждения перед оплатой
type PreCheckout struct {
	QueryID  string
	UserID   int64
	Payload  string
	Currency string
	Total    int64
}

// CreditResult результат зачисления
type CreditResult struct {
	State    PaymentState
	UserID   int64
	Amount   int64
	Balance  int64
	ChargeID string
}

// WebAppMessage сообщение из Mini App
type WebAppMessage struct {
	Type   string `json:"type"`
	Amount *int64 `json:"amount,omitempty"`
}

const (
	WebAppTypePayment        = "payment"
	WebAppTypeBalanceRequest = "balance_request"
)
