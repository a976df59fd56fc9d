package phone

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics собирает показатели телефона для Prometheus.
type Metrics struct {
	callsTotal           prometheus.Counter
	callsActive          prometheus.Gauge
	callSetupSeconds     prometheus.Histogram
	registrationFailures prometheus.Counter
	stateTransitions     *prometheus.CounterVec
}

// newMetrics регистрирует метрики в reg. При nil-реестре метрики
// продолжают работать, но никуда не экспортируются.
func newMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		callsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sip",
			Subsystem: "phone",
			Name:      "calls_total",
			Help:      "Количество исходящих вызовов",
		}),
		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sip",
			Subsystem: "phone",
			Name:      "calls_active",
			Help:      "Количество активных вызовов",
		}),
		callSetupSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sip",
			Subsystem: "phone",
			Name:      "call_setup_seconds",
			Help:      "Длительность установления вызова до отправки запроса",
			Buckets:   prometheus.DefBuckets,
		}),
		registrationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sip",
			Subsystem: "phone",
			Name:      "registration_failures_total",
			Help:      "Количество отказов в регистрации",
		}),
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sip",
			Subsystem: "phone",
			Name:      "state_transitions_total",
			Help:      "Переходы автомата состояний по целевому состоянию",
		}, []string{"state"}),
	}
}
