package mocks

import (
	"context"

	"cubegift-bot/internal/service"

	"github.com/stretchr/testify/mock"
)

type InvoiceProvider struct {
	mock.Mock
}

func (p *InvoiceProvider) SendInvoice(ctx context.Context, req service.InvoiceRequest) error {
	args := p.Called(ctx, req)
	return args.Error(0)
}
