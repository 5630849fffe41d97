package handlers

import (
	"context"
	"fmt"

	"cubegift-bot/internal/service"

	tele "gopkg.in/telebot.v3"
)

// Sender часть *tele.Bot, нужная для отправки счетов
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// StarsProvider отправляет счета в Telegram Stars через Bot API
type StarsProvider struct {
	sender Sender
}

// NewStarsProvider создаёт провайдер поверх бота
func NewStarsProvider(sender Sender) *StarsProvider {
	return &StarsProvider{sender: sender}
}

// SendInvoice отправляет счёт в личный чат пользователя
func (p *StarsProvider) SendInvoice(ctx context.Context, req service.InvoiceRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prices := make([]tele.Price, 0, len(req.Prices))
	for _, price := range req.Prices {
		prices = append(prices, tele.Price{Label: price.Label, Amount: int(price.Amount)})
	}

	invoice := &tele.Invoice{
		Title:               req.Title,
		Description:         req.Description,
		Payload:             req.Payload,
		Currency:            req.Currency,
		Prices:              prices,
		Token:               req.ProviderToken,
		Start:               req.StartParameter,
		MaxTipAmount:        req.MaxTipAmount,
		SuggestedTipAmounts: req.SuggestedTips,
	}

	if _, err := p.sender.Send(&tele.User{ID: req.ChatID}, invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}
