package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// LedgerMetrics counts ledger business events.
type LedgerMetrics struct {
	payments        prometheus.Counter
	collected       prometheus.Counter
	invoicesCreated *prometheus.CounterVec
	conversions     *prometheus.CounterVec
	drift           prometheus.Gauge
}

// NewLedgerMetrics registers the ledger collectors on registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		payments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bizdesk_payments_total",
			Help: "Payments recorded against invoices.",
		}),
		collected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bizdesk_payments_amount_total",
			Help: "Sum of recorded payment amounts.",
		}),
		invoicesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bizdesk_invoices_created_total",
			Help: "Invoices issued, by source (direct or quotation).",
		}, []string{"source"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bizdesk_quotations_converted_total",
			Help: "Quotations converted to invoices, by whether a client was created.",
		}, []string{"client_created"}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bizdesk_client_balance_drift",
			Help: "Clients whose stored balances disagreed with their ledger at the last reconciliation.",
		}),
	}
	registerer.MustRegister(m.payments, m.collected, m.invoicesCreated, m.conversions, m.drift)
	return m
}

func (m *LedgerMetrics) PaymentRecorded(amount decimal.Decimal) {
	m.payments.Inc()
	f, _ := amount.Float64()
	m.collected.Add(f)
}

func (m *LedgerMetrics) InvoiceCreated(source string) {
	m.invoicesCreated.WithLabelValues(source).Inc()
}

func (m *LedgerMetrics) QuotationConverted(clientCreated bool) {
	m.conversions.WithLabelValues(strconv.FormatBool(clientCreated)).Inc()
}

func (m *LedgerMetrics) BalanceDrift(clients int) {
	m.drift.Set(float64(clients))
}
