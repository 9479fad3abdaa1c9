package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики саги подтверждения продажи.
type SagaMetrics struct {
	// Счётчики шагов саги
	salesCreated   prometheus.Counter
	salesConfirmed prometheus.Counter
	salesRejected  prometheus.Counter
	stockFailed    *prometheus.CounterVec
	taxRecorded    prometheus.Counter

	// Гистограмма времени обработки событий по обработчикам
	handlerDuration *prometheus.HistogramVec

	// Gauge для продаж, ожидающих завершения саги
	pendingSales prometheus.Gauge
}

// NewSagaMetrics создаёт новый экземпляр метрик саги.
func NewSagaMetrics() *SagaMetrics {
	return newSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		salesCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "agroms_sales_created_total",
			Help: "Total number of sales created (sagas started)",
		}),
		salesConfirmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "agroms_sales_confirmed_total",
			Help: "Total number of sales confirmed by stock decrement",
		}),
		salesRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "agroms_sales_rejected_total",
			Help: "Total number of sales rejected by stock reservation",
		}),
		stockFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "agroms_stock_reservation_failures_total",
			Help: "Total number of stock reservation failures grouped by reason",
		}, []string{"reason"}),
		taxRecorded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "agroms_tax_records_total",
			Help: "Total number of tax records posted from sale events",
		}),
		handlerDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "agroms_event_handler_duration_seconds",
			Help:    "Duration of event handler execution in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"handler"}),
		pendingSales: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "agroms_pending_sales",
			Help: "Number of sales currently awaiting saga completion",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSaleCreated увеличивает счётчик созданных продаж.
func (m *SagaMetrics) RecordSaleCreated() {
	m.salesCreated.Inc()
	m.pendingSales.Inc()
}

// RecordSaleConfirmed увеличивает счётчик подтверждённых продаж.
func (m *SagaMetrics) RecordSaleConfirmed() {
	m.salesConfirmed.Inc()
	m.pendingSales.Dec()
}

// RecordSaleRejected увеличивает счётчик отклонённых продаж.
func (m *SagaMetrics) RecordSaleRejected() {
	m.salesRejected.Inc()
	m.pendingSales.Dec()
}

// RecordStockFailure увеличивает счётчик отказов склада по причине.
func (m *SagaMetrics) RecordStockFailure(reason string) {
	m.stockFailed.WithLabelValues(reason).Inc()
}

// RecordTaxRecorded увеличивает счётчик налоговых записей.
func (m *SagaMetrics) RecordTaxRecorded() {
	m.taxRecorded.Inc()
}

// RecordHandlerDuration записывает время обработки события.
func (m *SagaMetrics) RecordHandlerDuration(handler string, duration time.Duration) {
	m.handlerDuration.WithLabelValues(handler).Observe(duration.Seconds())
}
