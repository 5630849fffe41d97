package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cubegift-bot/internal/database"
	"cubegift-bot/internal/metrics"
	"cubegift-bot/internal/mocks"
	"cubegift-bot/internal/models"
	"cubegift-bot/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type paymentFlow struct {
	store     *database.MemoryPendingStore
	ledger    *database.MemoryLedger
	journal   *database.MemoryJournal
	issuer    *service.InvoiceIssuer
	callbacks *service.CallbackHandler
}

func newPaymentFlow(t *testing.T) *paymentFlow {
	t.Helper()

	provider := &mocks.InvoiceProvider{}
	provider.On("SendInvoice", mock.Anything, mock.Anything).Return(nil)

	f := &paymentFlow{
		store:   database.NewMemoryPendingStore(),
		ledger:  database.NewMemoryLedger(),
		journal: database.NewMemoryJournal(),
	}
	m := metrics.Nop()
	f.issuer = service.NewInvoiceIssuer(f.store, provider, testPolicy(10), m, zap.NewNop())
	f.callbacks = service.NewCallbackHandler(f.store, f.ledger, f.journal, m, zap.NewNop())
	return f
}

func TestCallbackHandler_SuccessfulPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("issue then pay credits once", func(t *testing.T) {
		f := newPaymentFlow(t)

		invoice, err := f.issuer.Issue(ctx, 42, 100)
		require.NoError(t, err)

		result, err := f.callbacks.OnSuccessfulPayment(ctx, models.SuccessfulPayment{
			UserID: 42, Payload: invoice.Payload, ChargeID: "ch_1", Currency: "XTR", Total: 100,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StateCredited, result.State)
		assert.Equal(t, int64(100), result.Balance)
		assert.Equal(t, "ch_1", result.ChargeID)

		balance, err := f.ledger.Balance(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)

		_, err = f.store.Lookup(ctx, invoice.Payload)
		assert.ErrorIs(t, err, models.ErrPaymentNotFound)

		// повторная доставка того же события
		result, err = f.callbacks.OnSuccessfulPayment(ctx, models.SuccessfulPayment{
			UserID: 42, Payload: invoice.Payload, ChargeID: "ch_1", Currency: "XTR", Total: 100,
		})
		assert.ErrorIs(t, err, service.ErrVerificationFailed)
		assert.Equal(t, models.StateRejected, result.State)

		balance, err = f.ledger.Balance(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})

	t.Run("credit uses stored amount, not reported total", func(t *testing.T) {
		f := newPaymentFlow(t)

		invoice, err := f.issuer.Issue(ctx, 42, 100)
		require.NoError(t, err)

		// чаевые увеличивают total, но не зачисление
		result, err := f.callbacks.OnSuccessfulPayment(ctx, models.SuccessfulPayment{
			UserID: 42, Payload: invoice.Payload, ChargeID: "ch_2", Total: 400,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(100), result.Amount)
		assert.Equal(t, int64(100), result.Balance)
	})

	t.Run("credit goes to invoice owner", func(t *testing.T) {
		f := newPaymentFlow(t)

		invoice, err := f.issuer.Issue(ctx, 42, 50)
		require.NoError(t, err)

		result, err := f.callbacks.OnSuccessfulPayment(ctx, models.SuccessfulPayment{
			UserID: 77, Payload: invoice.Payload, ChargeID: "ch_3",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), result.UserID)

		owner, _ := f.ledger.Balance(ctx, 42)
		payer, _ := f.ledger.Balance(ctx, 77)
		assert.Equal(t, int64(50), owner)
		assert.Zero(t, payer)
	})

	t.Run("expired record is rejected", func(t *testing.T) {
		f := newPaymentFlow(t)

		payload := service.BuildPayload(100, 42, time.Now().Add(-48*time.Hour))
		require.NoError(t, f.store.Register(ctx, models.PendingPayment{
			Payload: payload, UserID: 42, Amount: 100, CreatedAt: time.Now().Add(-48 * time.Hour),
		}))
		removed, err := f.store.Expire(ctx, 24*time.Hour)
		require.NoError(t, err)
		require.Equal(t, 1, removed)

		result, err := f.callbacks.OnSuccessfulPayment(ctx, models.SuccessfulPayment{
			UserID: 42, Payload: payload, ChargeID: "ch_4",
		})
		assert.ErrorIs(t, err, service.ErrVerificationFailed)
		assert.Equal(t, models.StateRejected, result.State)

		balance, _ := f.ledger.Balance(ctx, 42)
		assert.Zero(t, balance)
	})

	t.Run("malformed payload is rejected", func(t *testing.T) {
		f := newPaymentFlow(t)

		for _, payload := range []string{"", "stars_abc", "coins_100_42_1700000000", "stars_100_42"} {
			result, err := f.callbacks.OnSuccessfulPayment(ctx, models.SuccessfulPayment{
				UserID: 42, Payload: payload, ChargeID: "ch_5",
			})
			assert.ErrorIs(t, err, service.ErrVerificationFailed, payload)
			assert.Equal(t, models.StateRejected, result.State, payload)
		}

		entries, err := f.journal.Uncredited(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("concurrent duplicate deliveries credit once", func(t *testing.T) {
		f := newPaymentFlow(t)

		invoice, err := f.issuer.Issue(ctx, 42, 100)
		require.NoError(t, err)

		var credited atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := f.callbacks.OnSuccessfulPayment(ctx, models.SuccessfulPayment{
					UserID: 42, Payload: invoice.Payload, ChargeID: "ch_6",
				})
				if err == nil && result.State == models.StateCredited {
					credited.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), credited.Load())
		balance, _ := f.ledger.Balance(ctx, 42)
		assert.Equal(t, int64(100), balance)
	})
}

func TestCallbackHandler_LedgerFault(t *testing.T) {
	ctx := context.Background()

	store := database.NewMemoryPendingStore()
	journal := database.NewMemoryJournal()
	ledger := &mocks.Ledger{}
	callbacks := service.NewCallbackHandler(store, ledger, journal, metrics.Nop(), zap.NewNop())

	payload := service.BuildPayload(100, 42, time.Now())
	require.NoError(t, store.Register(ctx, models.PendingPayment{
		Payload: payload, UserID: 42, Amount: 100, CreatedAt: time.Now(),
	}))

	ledger.On("Credit", mock.Anything, int64(42), int64(100)).Return(int64(0), errors.New("connection reset")).Once()

	result, err := callbacks.OnSuccessfulPayment(ctx, models.SuccessfulPayment{
		UserID: 42, Payload: payload, ChargeID: "ch_7",
	})
	assert.ErrorIs(t, err, service.ErrLedgerFault)
	assert.Equal(t, models.StateAwaitingConfirmation, result.State)

	// запись уже использована, но осталась в журнале
	_, err = store.Lookup(ctx, payload)
	assert.ErrorIs(t, err, models.ErrPaymentNotFound)

	entries, err := journal.Uncredited(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ch_7", entries[0].ChargeID)

	ledger.On("Credit", mock.Anything, int64(42), int64(100)).Return(int64(100), nil).Once()

	recovered, err := callbacks.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	entries, err = journal.Uncredited(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// второй Recover ничего не делает
	recovered, err = callbacks.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)
	ledger.AssertExpectations(t)
}

// gatedLedger задерживает первое зачисление до закрытия release
type gatedLedger struct {
	*database.MemoryLedger
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *gatedLedger) Credit(ctx context.Context, userID, amount int64) (int64, error) {
	l.once.Do(func() {
		close(l.entered)
		<-l.release
	})
	return l.MemoryLedger.Credit(ctx, userID, amount)
}

func TestCallbackHandler_RecoverDuringLivePayment(t *testing.T) {
	ctx := context.Background()

	store := database.NewMemoryPendingStore()
	journal := database.NewMemoryJournal()
	ledger := &gatedLedger{
		MemoryLedger: database.NewMemoryLedger(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	callbacks := service.NewCallbackHandler(store, ledger, journal, metrics.Nop(), zap.NewNop())

	payload := service.BuildPayload(100, 42, time.Now())
	require.NoError(t, store.Register(ctx, models.PendingPayment{
		Payload: payload, UserID: 42, Amount: 100, CreatedAt: time.Now(),
	}))

	liveErr := make(chan error, 1)
	go func() {
		_, err := callbacks.OnSuccessfulPayment(ctx, models.SuccessfulPayment{
			UserID: 42, Payload: payload, ChargeID: "ch_9",
		})
		liveErr <- err
	}()
	<-ledger.entered

	type recoverResult struct {
		n   int
		err error
	}
	recovered := make(chan recoverResult, 1)
	go func() {
		n, err := callbacks.Recover(ctx)
		recovered <- recoverResult{n, err}
	}()

	// Recover ждёт, пока живое зачисление не завершится
	assert.Never(t, func() bool { return len(recovered) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(ledger.release)
	require.NoError(t, <-liveErr)

	res := <-recovered
	require.NoError(t, res.err)
	assert.Zero(t, res.n)

	balance, err := ledger.Balance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	entries, err := journal.Uncredited(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCallbackHandler_PreCheckout(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFlow(t)

	invoice, err := f.issuer.Issue(ctx, 42, 100)
	require.NoError(t, err)

	assert.True(t, f.callbacks.OnPreCheckout(ctx, models.PreCheckout{
		QueryID: "q1", UserID: 42, Payload: invoice.Payload, Currency: "XTR", Total: 100,
	}))

	// pre-checkout не использует запись
	_, err = f.store.Lookup(ctx, invoice.Payload)
	assert.NoError(t, err)

	assert.False(t, f.callbacks.OnPreCheckout(ctx, models.PreCheckout{
		QueryID: "q2", UserID: 42, Payload: "garbage",
	}))
	assert.False(t, f.callbacks.OnPreCheckout(ctx, models.PreCheckout{
		QueryID: "q3", UserID: 42, Payload: service.BuildPayload(100, 42, time.Now()),
	}))

	_, err = f.callbacks.OnSuccessfulPayment(ctx, models.SuccessfulPayment{
		UserID: 42, Payload: invoice.Payload, ChargeID: "ch_8",
	})
	require.NoError(t, err)

	assert.False(t, f.callbacks.OnPreCheckout(ctx, models.PreCheckout{
		QueryID: "q4", UserID: 42, Payload: invoice.Payload,
	}))
}
