// Package metrics exposes Prometheus instrumentation for the exchange.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the exchange collectors. A nil *Metrics is a valid no-op
// receiver so instrumentation can be disabled cleanly.
type Metrics struct {
	OrdersPlaced   *prometheus.CounterVec
	OrdersRejected *prometheus.CounterVec
	OrdersCanceled *prometheus.CounterVec
	Fills          *prometheus.CounterVec
	Volume         *prometheus.CounterVec
	OpenOrders     *prometheus.GaugeVec
	BestBid        *prometheus.GaugeVec
	BestAsk        *prometheus.GaugeVec
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_orders_placed_total",
			Help: "Orders accepted, by market and final status.",
		}, []string{"market", "status"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_orders_rejected_total",
			Help: "Orders rejected before any mutation, by market.",
		}, []string{"market"}),
		OrdersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_orders_cancelled_total",
			Help: "Orders cancelled, by market.",
		}, []string{"market"}),
		Fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_fills_total",
			Help: "Fills executed, by market.",
		}, []string{"market"}),
		Volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_volume_total",
			Help: "Cumulative traded notional in quote units, by market.",
		}, []string{"market"}),
		OpenOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meridian_open_orders",
			Help: "Orders currently resting, by market.",
		}, []string{"market"}),
		BestBid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meridian_best_bid",
			Help: "Best bid price, by market.",
		}, []string{"market"}),
		BestAsk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meridian_best_ask",
			Help: "Best ask price, by market.",
		}, []string{"market"}),
	}
	reg.MustRegister(
		m.OrdersPlaced, m.OrdersRejected, m.OrdersCanceled,
		m.Fills, m.Volume, m.OpenOrders, m.BestBid, m.BestAsk,
	)
	return m
}

// RecordPlace records an accepted order and its fills.
func (m *Metrics) RecordPlace(market, status string, fills int, volume int64) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(market, status).Inc()
	m.Fills.WithLabelValues(market).Add(float64(fills))
	m.Volume.WithLabelValues(market).Add(float64(volume))
}

// RecordReject records a rejected order.
func (m *Metrics) RecordReject(market string) {
	if m == nil {
		return
	}
	m.OrdersRejected.WithLabelValues(market).Inc()
}

// RecordCancel records a cancellation.
func (m *Metrics) RecordCancel(market string) {
	if m == nil {
		return
	}
	m.OrdersCanceled.WithLabelValues(market).Inc()
}

// RecordDepth updates the book gauges.
func (m *Metrics) RecordDepth(market string, openOrders int, bestBid, bestAsk int64) {
	if m == nil {
		return
	}
	m.OpenOrders.WithLabelValues(market).Set(float64(openOrders))
	m.BestBid.WithLabelValues(market).Set(float64(bestBid))
	m.BestAsk.WithLabelValues(market).Set(float64(bestAsk))
}

// Serve starts a /metrics endpoint on addr.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
