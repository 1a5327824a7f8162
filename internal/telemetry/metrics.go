package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики оркестратора. Регистрируются в глобальном реестре,
// отдаются через promhttp на /metrics.
var (
	// ExecutionsStarted — число запущенных executions.
	ExecutionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "articulo_executions_started_total",
		Help: "Total workflow executions started",
	})

	// ExecutionsCompleted — число успешно завершённых executions.
	ExecutionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "articulo_executions_completed_total",
		Help: "Total workflow executions completed successfully",
	})

	// ExecutionsFailed — число упавших executions, по виду ошибки.
	ExecutionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "articulo_executions_failed_total",
		Help: "Total workflow executions failed, by error kind",
	}, []string{"kind"})

	// ActiveExecutions — число executions, которые процесс ведёт прямо сейчас.
	ActiveExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "articulo_active_executions",
		Help: "Executions currently driven by this process",
	})

	// StepDuration — длительность вызовов обработчиков шагов.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "articulo_step_duration_seconds",
		Help:    "Step handler invocation duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	// WSSubscribers — число открытых websocket-подписок.
	WSSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "articulo_ws_subscribers",
		Help: "Open websocket progress subscriptions",
	})
)
