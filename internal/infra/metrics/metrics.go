package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SyncOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "schedule_sync_duration_seconds",
		Help:    "Длительность цикла чтение-изменение-замена",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	ConflictRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_conflict_rejections_total",
		Help: "Отказы из-за слишком близкого времени",
	}, []string{"operation"})

	ScheduleEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "schedule_entries",
		Help: "Количество записей в каноническом списке",
	}, []string{"status"})

	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deliveries_total",
		Help: "Результаты отправки записей",
	}, []string{"kind", "result"})

	DeliveryLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "delivery_lag_seconds",
		Help:    "Задержка между плановым и фактическим временем отправки",
		Buckets: []float64{1, 5, 15, 30, 60, 90, 120, 180, 300},
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SyncOperationDuration,
		ConflictRejections,
		ScheduleEntries,
		DeliveriesTotal,
		DeliveryLag,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// Handler возвращает обработчик /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	st := status(err)
	NetworkRequestDuration.WithLabelValues(component, operation, target, st).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(component, operation, target, st).Inc()
}

// ObserveSyncOperation записывает длительность операции синхронизации.
func ObserveSyncOperation(operation string, start time.Time, err error) {
	SyncOperationDuration.WithLabelValues(operation, status(err)).Observe(time.Since(start).Seconds())
}

// ObserveConflict увеличивает счётчик отказов по времени.
func ObserveConflict(operation string) {
	ConflictRejections.WithLabelValues(operation).Inc()
}

// ObserveDelivery записывает результат отправки и задержку относительно плана.
func ObserveDelivery(kind string, scheduledAt time.Time, err error) {
	DeliveriesTotal.WithLabelValues(kind, status(err)).Inc()
	if err == nil && !scheduledAt.IsZero() {
		DeliveryLag.Observe(time.Since(scheduledAt).Seconds())
	}
}

// SetScheduleCounts обновляет размеры списка по статусам.
func SetScheduleCounts(pending, done int) {
	ScheduleEntries.WithLabelValues("pending").Set(float64(pending))
	ScheduleEntries.WithLabelValues("done").Set(float64(done))
}
