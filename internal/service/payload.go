package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const payloadPrefix = "stars"

// ErrMalformedPayload payload не соответствует формату stars_{amount}_{user}_{timestamp}
var ErrMalformedPayload = errors.New("malformed invoice payload")

// InvoicePayload структурные поля payload счёта
type InvoicePayload struct {
	Amount    int64
	UserID    int64
	CreatedAt time.Time
	Nonce     string
}

// BuildPayload формирует уникальный payload. Nonce добавляется к timestamp через "-",
// чтобы два счёта в одну секунду на одну сумму не совпали.
func BuildPayload(amount, userID int64, createdAt time.Time) string {
	return fmt.Sprintf("%s_%d_%d_%d-%s", payloadPrefix, amount, userID, createdAt.Unix(), uuid.NewString())
}

// ParsePayload разбирает payload, принимает и старый формат без nonce
func ParsePayload(payload string) (*InvoicePayload, error) {
	parts := strings.Split(payload, "_")
	if len(parts) != 4 || parts[0] != payloadPrefix {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPayload, payload)
	}

	amount, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || amount <= 0 {
		return nil, fmt.Errorf("%w: bad amount %q", ErrMalformedPayload, parts[1])
	}

	userID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad user id %q", ErrMalformedPayload, parts[2])
	}

	stamp, nonce, _ := strings.Cut(parts[3], "-")
	sec, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedPayload, parts[3])
	}

	return &InvoicePayload{
		Amount:    amount,
		UserID:    userID,
		CreatedAt: time.Unix(sec, 0),
		Nonce:     nonce,
	}, nil
}
