package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"cubegift-bot/internal/api"
	"cubegift-bot/internal/database"
	"cubegift-bot/internal/metrics"
	"cubegift-bot/internal/mocks"
	"cubegift-bot/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const botToken = "123456:TEST-token"

func initData(t *testing.T, userID int64) string {
	t.Helper()

	fields := map[string]string{
		"auth_date": "1700000000",
		"query_id":  "q1",
		"user":      `{"id":` + strconv.FormatInt(userID, 10) + `,"first_name":"Alice"}`,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(fields[k]))
	}
	parts = append(parts, "hash="+service.SignInitData(fields, botToken))
	return strings.Join(parts, "&")
}

type testServer struct {
	server   *api.Server
	store    *database.MemoryPendingStore
	ledger   *database.MemoryLedger
	provider *mocks.InvoiceProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := zap.NewNop()

	ts := &testServer{
		store:    database.NewMemoryPendingStore(),
		ledger:   database.NewMemoryLedger(),
		provider: &mocks.InvoiceProvider{},
	}
	issuer := service.NewInvoiceIssuer(ts.store, ts.provider, service.InvoicePolicy{MinAmount: 10, Currency: "XTR"}, m, log)
	ts.server = api.New(issuer, ts.ledger, api.Config{
		BotToken:      botToken,
		DefaultAmount: 100,
	}, m, reg, log)
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()

	resp, err := ts.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]interface{}{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(body, &out))
	}
	return resp.StatusCode, out
}

func purchase(body, auth string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/purchase", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("X-Telegram-Init-Data", auth)
	}
	return req
}

func TestPurchase(t *testing.T) {
	t.Run("creates invoice for authenticated user", func(t *testing.T) {
		ts := newTestServer(t)
		ts.provider.On("SendInvoice", mock.Anything, mock.MatchedBy(func(req service.InvoiceRequest) bool {
			return req.ChatID == 42 && req.Prices[0].Amount == 150
		})).Return(nil)

		status, body := ts.do(t, purchase(`{"type":"payment","amount":150}`, initData(t, 42)))
		assert.Equal(t, http.StatusCreated, status)
		assert.Equal(t, float64(150), body["amount"])
		assert.True(t, strings.HasPrefix(body["payload"].(string), "stars_150_42_"))
		assert.Equal(t, 1, ts.store.Len())
	})

	t.Run("default amount", func(t *testing.T) {
		ts := newTestServer(t)
		ts.provider.On("SendInvoice", mock.Anything, mock.Anything).Return(nil)

		status, body := ts.do(t, purchase(`{"type":"payment"}`, initData(t, 42)))
		assert.Equal(t, http.StatusCreated, status)
		assert.Equal(t, float64(100), body["amount"])
	})

	t.Run("authorization header", func(t *testing.T) {
		ts := newTestServer(t)
		ts.provider.On("SendInvoice", mock.Anything, mock.Anything).Return(nil)

		req := purchase(`{"type":"payment","amount":20}`, "")
		req.Header.Set("Authorization", "tma "+initData(t, 42))
		status, _ := ts.do(t, req)
		assert.Equal(t, http.StatusCreated, status)
	})

	t.Run("missing or forged init data", func(t *testing.T) {
		ts := newTestServer(t)

		status, _ := ts.do(t, purchase(`{"type":"payment","amount":150}`, ""))
		assert.Equal(t, http.StatusUnauthorized, status)

		forged := strings.Replace(initData(t, 42), "%22id%22%3A42", "%22id%22%3A43", 1)
		status, _ = ts.do(t, purchase(`{"type":"payment","amount":150}`, forged))
		assert.Equal(t, http.StatusUnauthorized, status)

		assert.Equal(t, 0, ts.store.Len())
		ts.provider.AssertNotCalled(t, "SendInvoice", mock.Anything, mock.Anything)
	})

	t.Run("amount below minimum", func(t *testing.T) {
		ts := newTestServer(t)

		status, body := ts.do(t, purchase(`{"type":"payment","amount":5}`, initData(t, 42)))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, float64(10), body["min_amount"])
		assert.Equal(t, 0, ts.store.Len())
	})

	t.Run("provider failure", func(t *testing.T) {
		ts := newTestServer(t)
		ts.provider.On("SendInvoice", mock.Anything, mock.Anything).Return(errors.New("telegram down"))

		status, _ := ts.do(t, purchase(`{"type":"payment","amount":50}`, initData(t, 42)))
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, 0, ts.store.Len())
	})

	t.Run("other message types are ignored", func(t *testing.T) {
		ts := newTestServer(t)

		status, body := ts.do(t, purchase(`{"type":"spin"}`, initData(t, 42)))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ignored", body["status"])
		assert.Equal(t, 0, ts.store.Len())
	})

	t.Run("malformed body", func(t *testing.T) {
		ts := newTestServer(t)

		status, _ := ts.do(t, purchase(`{"type":`, initData(t, 42)))
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestBalance(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.ledger.Credit(context.Background(), 42, 300)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set("X-Telegram-Init-Data", initData(t, 42))
	status, body := ts.do(t, req)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(42), body["user_id"])
	assert.Equal(t, float64(300), body["balance"])

	status, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/balance", nil))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestStaleInitData(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	issuer := service.NewInvoiceIssuer(database.NewMemoryPendingStore(), &mocks.InvoiceProvider{}, service.InvoicePolicy{MinAmount: 10}, m, zap.NewNop())
	server := api.New(issuer, database.NewMemoryLedger(), api.Config{
		BotToken:       botToken,
		InitDataMaxAge: time.Hour,
	}, m, reg, zap.NewNop())

	// auth_date из 2023 года
	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set("X-Telegram-Init-Data", initData(t, 42))
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	resp, err := ts.server.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "cubegift_invoices_issued_total")
}
