package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cubegift-bot/internal/metrics"
	"cubegift-bot/internal/models"

	"go.uber.org/zap"
)

// InvoicePolicy параметры выставления счетов
type InvoicePolicy struct {
	MinAmount     int64
	Currency      string
	ProviderToken string
	Title         string
	MaxTipAmount  int
	SuggestedTips []int
}

// InvoiceIssuer регистрирует ожидающий платёж и запрашивает счёт у провайдера
type InvoiceIssuer struct {
	pending  PendingStore
	provider InvoiceProvider
	policy   InvoicePolicy
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewInvoiceIssuer создаёт InvoiceIssuer
func NewInvoiceIssuer(pending PendingStore, provider InvoiceProvider, policy InvoicePolicy, m *metrics.Metrics, log *zap.Logger) *InvoiceIssuer {
	return &InvoiceIssuer{
		pending:  pending,
		provider: provider,
		policy:   policy,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// MinAmount минимальная сумма пополнения
func (s *InvoiceIssuer) MinAmount() int64 {
	return s.policy.MinAmount
}

// Issue выставляет счёт на amount звёзд. Запись о платеже регистрируется до
// обращения к провайдеру и удаляется, если провайдер вернул ошибку.
func (s *InvoiceIssuer) Issue(ctx context.Context, userID, amount int64) (*models.Invoice, error) {
	if amount <= 0 || amount < s.policy.MinAmount {
		s.metrics.IssuanceFailures.WithLabelValues("invalid_amount").Inc()
		return nil, fmt.Errorf("%w: %d (minimum %d)", ErrInvalidAmount, amount, s.policy.MinAmount)
	}

	createdAt := s.now()
	payload := BuildPayload(amount, userID, createdAt)

	record := models.PendingPayment{
		Payload:   payload,
		UserID:    userID,
		Amount:    amount,
		CreatedAt: createdAt,
	}
	if err := s.pending.Register(ctx, record); err != nil {
		if errors.Is(err, models.ErrDuplicatePayload) {
			// payload содержит случайный nonce, повтор означает сломанный генератор
			s.log.DPanic("duplicate invoice payload", zap.String("payload", payload))
		}
		s.metrics.IssuanceFailures.WithLabelValues("register").Inc()
		return nil, fmt.Errorf("%w: register pending payment: %v", ErrIssuance, err)
	}

	invoice := &models.Invoice{
		Payload:     payload,
		UserID:      userID,
		Amount:      amount,
		Title:       s.policy.Title,
		Description: fmt.Sprintf("Пополнение на %d игровых единиц", amount),
		Currency:    s.policy.Currency,
		CreatedAt:   createdAt,
	}

	req := InvoiceRequest{
		ChatID:         userID,
		Title:          invoice.Title,
		Description:    invoice.Description,
		Payload:        payload,
		Currency:       invoice.Currency,
		ProviderToken:  s.policy.ProviderToken,
		Prices:         []LabeledPrice{{Label: "Игровая валюта", Amount: amount}},
		MaxTipAmount:   s.policy.MaxTipAmount,
		SuggestedTips:  s.policy.SuggestedTips,
		StartParameter: fmt.Sprintf("cube_gift_%d", amount),
	}

	if err := s.provider.SendInvoice(ctx, req); err != nil {
		if _, rbErr := s.pending.Consume(ctx, payload); rbErr != nil && !errors.Is(rbErr, models.ErrPaymentNotFound) {
			s.log.Error("failed to roll back pending payment",
				zap.String("payload", payload),
				zap.Error(rbErr),
			)
		}
		s.metrics.IssuanceFailures.WithLabelValues("provider").Inc()
		s.log.Error("invoice creation failed",
			zap.Int64("user_id", userID),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	s.metrics.InvoicesIssued.Inc()
	s.log.Info("invoice created",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("payload", payload),
	)

	return invoice, nil
}
