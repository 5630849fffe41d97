package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cubegift-bot/internal/models"
)

// MemoryPendingStore ожидающие платежи в памяти процесса (mock-режим и тесты)
type MemoryPendingStore struct {
	mu       sync.Mutex
	payments map[string]models.PendingPayment
	now      func() time.Time
}

// NewMemoryPendingStore создаёт пустое хранилище
func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		payments: make(map[string]models.PendingPayment),
		now:      time.Now,
	}
}

// Register сохраняет платёж, payload должен быть новым
func (s *MemoryPendingStore) Register(_ context.Context, p models.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.Payload]; exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicatePayload, p.Payload)
	}
	s.payments[p.Payload] = p
	return nil
}

// Lookup возвращает платёж без удаления
func (s *MemoryPendingStore) Lookup(_ context.Context, payload string) (*models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[payload]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	return &p, nil
}

// Consume находит и удаляет платёж под одной блокировкой
func (s *MemoryPendingStore) Consume(_ context.Context, payload string) (*models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[payload]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	delete(s.payments, payload)
	return &p, nil
}

// Expire удаляет платежи, созданные не позже now-olderThan
func (s *MemoryPendingStore) Expire(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for payload, p := range s.payments {
		if !p.CreatedAt.After(cutoff) {
			delete(s.payments, payload)
			removed++
		}
	}
	return removed, nil
}

// Len количество ожидающих платежей
func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

type account struct {
	mu      sync.Mutex
	balance int64
}

// MemoryLedger балансы в памяти; зачисления одному пользователю сериализуются его блокировкой
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[int64]*account
}

// NewMemoryLedger создаёт пустой журнал балансов
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[int64]*account)}
}

func (l *MemoryLedger) account(userID int64) *account {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[userID]
	if !ok {
		a = &account{}
		l.accounts[userID] = a
	}
	return a
}

// Credit увеличивает баланс и возвращает новое значение
func (l *MemoryLedger) Credit(_ context.Context, userID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", models.ErrNonPositiveAmount, amount)
	}

	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.balance += amount
	return a.balance, nil
}

// Balance возвращает баланс, 0 для неизвестного пользователя
func (l *MemoryLedger) Balance(_ context.Context, userID int64) (int64, error) {
	l.mu.Lock()
	a, ok := l.accounts[userID]
	l.mu.Unlock()
	if !ok {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

// MemoryJournal журнал зачислений без долговременного хранения
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]models.JournalEntry
	order   []string
}

// NewMemoryJournal создаёт журнал в памяти
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]models.JournalEntry)}
}

func (j *MemoryJournal) Record(_ context.Context, e models.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.entries[e.Payload]; exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicatePayload, e.Payload)
	}
	j.entries[e.Payload] = e
	j.order = append(j.order, e.Payload)
	return nil
}

func (j *MemoryJournal) MarkCredited(_ context.Context, payload string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.entries, payload)
	for i, p := range j.order {
		if p == payload {
			j.order = append(j.order[:i], j.order[i+1:]...)
			break
		}
	}
	return nil
}

func (j *MemoryJournal) Uncredited(_ context.Context) ([]models.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]models.JournalEntry, 0, len(j.order))
	for _, p := range j.order {
		out = append(out, j.entries[p])
	}
	return out, nil
}
