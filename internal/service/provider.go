package service

import "context"

// InvoiceProvider внешний платёжный провайдер (Telegram Stars)
type InvoiceProvider interface {
	SendInvoice(ctx context.Context, req InvoiceRequest) error
}

// LabeledPrice позиция счёта
type LabeledPrice struct {
	Label  string
	Amount int64
}

// InvoiceRequest запрос на выставление счёта.
// Для цифровых товаров в XTR ProviderToken может быть пустым.
type InvoiceRequest struct {
	ChatID         int64
	Title          string
	Description    string
	Payload        string
	Currency       string
	ProviderToken  string
	Prices         []LabeledPrice
	MaxTipAmount   int
	SuggestedTips  []int
	StartParameter string
}
