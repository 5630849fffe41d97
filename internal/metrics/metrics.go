package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics счётчики платёжного потока
type Metrics struct {
	InvoicesIssued      prometheus.Counter
	IssuanceFailures    *prometheus.CounterVec
	PreCheckouts        *prometheus.CounterVec
	Credits             prometheus.Counter
	CreditedAmount      prometheus.Histogram
	VerificationFailure *prometheus.CounterVec
	LedgerFaults        prometheus.Counter
	ExpiredPayments     prometheus.Counter
	AuthFailures        prometheus.Counter
}

// New регистрирует метрики в reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InvoicesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "cubegift_invoices_issued_total",
			Help: "Total number of Stars invoices sent to users",
		}),
		IssuanceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cubegift_invoice_failures_total",
			Help: "Invoice requests rejected or failed",
		}, []string{"reason"}),
		PreCheckouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cubegift_pre_checkout_total",
			Help: "Answered pre-checkout queries",
		}, []string{"result"}),
		Credits: f.NewCounter(prometheus.CounterOpts{
			Name: "cubegift_credits_total",
			Help: "Successful balance credits",
		}),
		CreditedAmount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cubegift_credited_amount",
			Help:    "Credited amounts in Stars",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 10_000},
		}),
		VerificationFailure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cubegift_verification_failures_total",
			Help: "Successful-payment events that did not match a pending payment",
		}, []string{"reason"}),
		LedgerFaults: f.NewCounter(prometheus.CounterOpts{
			Name: "cubegift_ledger_faults_total",
			Help: "Credits that failed after the pending payment was consumed",
		}),
		ExpiredPayments: f.NewCounter(prometheus.CounterOpts{
			Name: "cubegift_expired_payments_total",
			Help: "Pending payments removed by the expiry sweeper",
		}),
		AuthFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "cubegift_init_data_failures_total",
			Help: "Mini App requests with invalid init data",
		}),
	}
}

// Nop метрики на отдельном реестре, для тестов и CLI
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
