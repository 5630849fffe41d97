package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cubegift-bot/internal/metrics"
	"cubegift-bot/internal/models"

	"go.uber.org/zap"
)

// CallbackHandler обрабатывает pre_checkout_query и successful_payment
type CallbackHandler struct {
	pending PendingStore
	ledger  Ledger
	journal Journal
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	// живые платежи держат RLock от Record до MarkCredited, Recover берёт Lock
	creditMu sync.RWMutex
}

// NewCallbackHandler создаёт CallbackHandler
func NewCallbackHandler(pending PendingStore, ledger Ledger, journal Journal, m *metrics.Metrics, log *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		pending: pending,
		ledger:  ledger,
		journal: journal,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// OnPreCheckout возвращает true, если счёт можно оплатить:
// payload корректен и ожидающий платёж ещё не истёк.
func (h *CallbackHandler) OnPreCheckout(ctx context.Context, q models.PreCheckout) bool {
	if _, err := ParsePayload(q.Payload); err != nil {
		h.decline(q, "malformed_payload", err)
		return false
	}

	if _, err := h.pending.Lookup(ctx, q.Payload); err != nil {
		reason := "not_found"
		if !errors.Is(err, models.ErrPaymentNotFound) {
			reason = "store_error"
		}
		h.decline(q, reason, err)
		return false
	}

	h.metrics.PreCheckouts.WithLabelValues("approved").Inc()
	return true
}

func (h *CallbackHandler) decline(q models.PreCheckout, reason string, err error) {
	h.metrics.PreCheckouts.WithLabelValues("declined_" + reason).Inc()
	h.log.Warn("pre-checkout declined",
		zap.String("query_id", q.QueryID),
		zap.Int64("user_id", q.UserID),
		zap.String("payload", q.Payload),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

// OnSuccessfulPayment зачисляет сумму из использованной записи, а не из события.
// Повторная доставка того же payload получает ErrVerificationFailed.
func (h *CallbackHandler) OnSuccessfulPayment(ctx context.Context, p models.SuccessfulPayment) (*models.CreditResult, error) {
	if _, err := ParsePayload(p.Payload); err != nil {
		h.metrics.VerificationFailure.WithLabelValues("malformed").Inc()
		h.log.Warn("payment rejected: malformed payload",
			zap.Int64("user_id", p.UserID),
			zap.String("payload", p.Payload),
			zap.String("charge_id", p.ChargeID),
		)
		return &models.CreditResult{State: models.StateRejected, UserID: p.UserID, ChargeID: p.ChargeID},
			fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	record, err := h.pending.Consume(ctx, p.Payload)
	if err != nil {
		reason := "not_found"
		if !errors.Is(err, models.ErrPaymentNotFound) {
			reason = "store_error"
		}
		h.metrics.VerificationFailure.WithLabelValues(reason).Inc()
		h.log.Warn("payment verification failed",
			zap.Int64("user_id", p.UserID),
			zap.String("payload", p.Payload),
			zap.String("charge_id", p.ChargeID),
			zap.Error(err),
		)
		return &models.CreditResult{State: models.StateRejected, UserID: p.UserID, ChargeID: p.ChargeID},
			fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	h.creditMu.RLock()
	defer h.creditMu.RUnlock()

	entry := models.JournalEntry{
		Payload:    record.Payload,
		UserID:     record.UserID,
		Amount:     record.Amount,
		ChargeID:   p.ChargeID,
		ConsumedAt: h.now(),
	}
	if err := h.journal.Record(ctx, entry); err != nil {
		// без записи в журнале зачисление всё равно выполняется, но не переживёт падение процесса
		h.log.Error("failed to journal consumed payment",
			zap.String("payload", record.Payload),
			zap.Error(err),
		)
	}

	result, err := h.credit(ctx, entry)
	if err != nil {
		return result, err
	}

	if record.UserID != p.UserID {
		h.log.Warn("payment made by a different user than the invoice owner",
			zap.Int64("owner_id", record.UserID),
			zap.Int64("payer_id", p.UserID),
			zap.String("payload", record.Payload),
		)
	}

	return result, nil
}

func (h *CallbackHandler) credit(ctx context.Context, e models.JournalEntry) (*models.CreditResult, error) {
	balance, err := h.ledger.Credit(ctx, e.UserID, e.Amount)
	if err != nil {
		h.metrics.LedgerFaults.Inc()
		h.log.Error("ledger credit failed",
			zap.Int64("user_id", e.UserID),
			zap.Int64("amount", e.Amount),
			zap.String("payload", e.Payload),
			zap.Error(err),
		)
		return &models.CreditResult{State: models.StateAwaitingConfirmation, UserID: e.UserID, Amount: e.Amount, ChargeID: e.ChargeID},
			fmt.Errorf("%w: %v", ErrLedgerFault, err)
	}

	if err := h.journal.MarkCredited(ctx, e.Payload); err != nil {
		h.log.Error("failed to mark journal entry credited",
			zap.String("payload", e.Payload),
			zap.Error(err),
		)
	}

	h.metrics.Credits.Inc()
	h.metrics.CreditedAmount.Observe(float64(e.Amount))
	h.log.Info("payment credited",
		zap.Int64("user_id", e.UserID),
		zap.Int64("amount", e.Amount),
		zap.Int64("balance", balance),
		zap.String("charge_id", e.ChargeID),
	)

	return &models.CreditResult{
		State:    models.StateCredited,
		UserID:   e.UserID,
		Amount:   e.Amount,
		Balance:  balance,
		ChargeID: e.ChargeID,
	}, nil
}

// Recover зачисляет платежи, использованные до падения процесса, но не зачисленные
// и не обрабатываемые прямо сейчас.
func (h *CallbackHandler) Recover(ctx context.Context) (int, error) {
	h.creditMu.Lock()
	defer h.creditMu.Unlock()

	entries, err := h.journal.Uncredited(ctx)
	if err != nil {
		return 0, fmt.Errorf("read journal: %w", err)
	}

	recovered := 0
	for _, e := range entries {
		if _, err := h.credit(ctx, e); err != nil {
			return recovered, err
		}
		recovered++
	}

	if recovered > 0 {
		h.log.Info("recovered uncredited payments", zap.Int("count", recovered))
	}
	return recovered, nil
}
