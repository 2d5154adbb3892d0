package prom

import (
	"fmt"
	"sync"

	xhttp "github.com/nimasrn/voucher-gateway/pkg/http"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemOrders    = "orders"
	SystemReconcile = "reconcile"
	SystemProvider  = "provider"
	SystemNotify    = "notify"
)

const (
	MetricOrdersCreated           = "created_total"
	MetricSettlements             = "settlements_total"
	MetricReconcileAttempts       = "attempts_total"
	MetricReconcilePending        = "pending_transactions"
	MetricProviderRequestDuration = "request_duration_seconds"
	MetricProviderOutcomes        = "outcomes_total"
	MetricNotifySends             = "sends_total"
)

const (
	TypeCounterVec   = "counterVec"
	TypeHistogramVec = "histogramVec"
	TypeGaugeVec     = "gaugeVec"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

type metricDef struct {
	kind      string
	subsystem string
	name      string
	labels    []string
}

var gatewayMetrics = []metricDef{
	{TypeCounterVec, SystemOrders, MetricOrdersCreated, []string{"provider", "status"}},
	{TypeCounterVec, SystemOrders, MetricSettlements, []string{"provider", "status", "trigger"}},
	{TypeCounterVec, SystemReconcile, MetricReconcileAttempts, []string{"provider", "result"}},
	{TypeGaugeVec, SystemReconcile, MetricReconcilePending, []string{"provider"}},
	{TypeHistogramVec, SystemProvider, MetricProviderRequestDuration, []string{"provider", "endpoint"}},
	{TypeCounterVec, SystemProvider, MetricProviderOutcomes, []string{"provider", "status"}},
	{TypeCounterVec, SystemNotify, MetricNotifySends, []string{"channel", "result"}},
}

// Create registers the gateway metrics. Until it is called every Add* helper
// is a no-op, which keeps tests and tools free of a registry.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = prometheus.Labels{"env": env, "instance": host}
	namespace = nameSpace

	for _, d := range gatewayMetrics {
		if err := CreateMetric(d.kind, d.subsystem, d.name, d.labels...); err != nil {
			return err
		}
	}

	MetricSystemEnabled = true
	return nil
}

func CreateMetric(metricType, metricSubsystem, metricName string, labelsValues ...string) error {
	switch metricType {
	case TypeCounterVec:
		return createCounterVec(metricSubsystem, metricName, labelsValues)
	case TypeHistogramVec:
		return createHistogramVec(metricSubsystem, metricName, labelsValues)
	case TypeGaugeVec:
		return createGaugeVec(metricSubsystem, metricName, labelsValues)
	}
	return fmt.Errorf("metric type %s is not defined", metricType)
}

func ListenAndServer(addr string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "addr", addr, "url", url)
	if err := s.ListenAndServe(addr); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
		Buckets:     []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
	}, labels)
	return prometheus.Register(MetricCollectionHistogramVec[subsystem+name])
}

func createGaugeVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionGaugeVec[subsystem+name])
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

// Domain helpers.

func IncOrderCreated(provider, status string) {
	IncCounterVec(SystemOrders, MetricOrdersCreated, provider, status)
}

func IncSettlement(provider, status, trigger string) {
	IncCounterVec(SystemOrders, MetricSettlements, provider, status, trigger)
}

func IncReconcileAttempt(provider, result string) {
	IncCounterVec(SystemReconcile, MetricReconcileAttempts, provider, result)
}

func SetPendingTransactions(provider string, n int) {
	SetGaugeVec(SystemReconcile, MetricReconcilePending, float64(n), provider)
}

func AddProviderRequestDuration(seconds float64, provider, endpoint string) {
	AddHistogramVec(SystemProvider, MetricProviderRequestDuration, seconds, provider, endpoint)
}

func IncProviderOutcome(provider, status string) {
	IncCounterVec(SystemProvider, MetricProviderOutcomes, provider, status)
}

func IncNotifySend(channel, result string) {
	IncCounterVec(SystemNotify, MetricNotifySends, channel, result)
}
