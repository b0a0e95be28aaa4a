package metricbundle

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsClient define la interfaz para recopilar métricas a través de
// OpenTelemetry. Abstrae al cliente de telemetría para evitar una dependencia
// cíclica entre paquetes y facilitar stubs en tests.
type MetricsClient interface {
	// GetOrCreateCounter crea o retorna un contador existente.
	GetOrCreateCounter(name, description string) (metric.Int64Counter, error)

	// GetOrCreateHistogram crea o retorna un histograma existente.
	GetOrCreateHistogram(name, description string) (metric.Float64Histogram, error)

	// RecordCounter incrementa un contador con un valor específico.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// RecordHistogram registra un valor en un histograma.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)
}

// BaseMetrics contiene contadores e histogramas comunes a todos los bundles.
type BaseMetrics struct {
	client    MetricsClient
	entity    string
	namespace string
}

// NewBaseMetrics crea una nueva instancia de BaseMetrics.
//
// Parámetros:
//   - client: implementación de MetricsClient para registrar métricas
//   - namespace: espacio de nombres para agrupar métricas (ej. "boel")
//   - entity: tipo de entidad que este bundle monitorea (ej. "sync", "http")
func NewBaseMetrics(client MetricsClient, namespace, entity string) *BaseMetrics {
	return &BaseMetrics{
		client:    client,
		entity:    entity,
		namespace: namespace,
	}
}

// RecordResult incrementa el contador de resultados para un evento específico.
//
// Atributos comunes a incluir:
//   - semconv.Metrics.Status.String("ok"/"error")
//   - semconv.Metrics.Action.String("reconcile"/"refresh"/...)
func (bm *BaseMetrics) RecordResult(ctx context.Context, attrs ...attribute.KeyValue) {
	if bm == nil || bm.client == nil {
		return
	}
	bm.client.RecordCounter(ctx, MetricName(bm.namespace, bm.entity, "result"), 1, attrs...)
}

// StartDurationTimer mide la duración de una operación y retorna una función
// que debe llamarse al finalizar para registrar el tiempo transcurrido.
//
// Ejemplo de uso:
//
//	done := metrics.StartDurationTimer(ctx, semconv.Metrics.Action.String("reconcile"))
//	// ... operación ...
//	done()
func (bm *BaseMetrics) StartDurationTimer(ctx context.Context, attrs ...attribute.KeyValue) func() {
	start := time.Now()
	return func() {
		if bm == nil || bm.client == nil {
			return
		}
		duration := time.Since(start).Seconds()
		bm.client.RecordHistogram(ctx, MetricName(bm.namespace, bm.entity, "duration"), duration, attrs...)
	}
}

// MetricName genera un nombre de métrica con formato estándar
// <namespace>.<entity>.<metric_type>.
func MetricName(namespace, entity, metricType string) string {
	return strings.Join([]string{namespace, entity, metricType}, ".")
}
