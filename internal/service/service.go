package service

import (
	"context"
	"errors"
	"time"

	"cubegift-bot/internal/models"
)

var (
	ErrAuthentication     = errors.New("init data authentication failed")
	ErrInvalidAmount      = errors.New("invalid purchase amount")
	ErrIssuance           = errors.New("invoice issuance failed")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrLedgerFault        = errors.New("ledger update failed")
)

// PendingStore хранилище выставленных счетов. Consume и Expire атомарны:
// каждый payload достаётся ровно одному вызывающему.
type PendingStore interface {
	Register(ctx context.Context, p models.PendingPayment) error
	Lookup(ctx context.Context, payload string) (*models.PendingPayment, error)
	Consume(ctx context.Context, payload string) (*models.PendingPayment, error)
	Expire(ctx context.Context, olderThan time.Duration) (int, error)
}

// Ledger единственное место изменения балансов
type Ledger interface {
	Credit(ctx context.Context, userID, amount int64) (int64, error)
	Balance(ctx context.Context, userID int64) (int64, error)
}

// Journal журнал использованных, но ещё не зачисленных платежей
type Journal interface {
	Record(ctx context.Context, e models.JournalEntry) error
	MarkCredited(ctx context.Context, payload string) error
	Uncredited(ctx context.Context) ([]models.JournalEntry, error)
}
