package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type Ledger struct {
	mock.Mock
}

func (l *Ledger) Credit(ctx context.Context, userID, amount int64) (int64, error) {
	args := l.Called(ctx, userID, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (l *Ledger) Balance(ctx context.Context, userID int64) (int64, error) {
	args := l.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}
