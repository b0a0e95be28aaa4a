package metricbundle

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// SyncMetrics métricas del pipeline de sincronización: admisión de webhooks,
// adquisición de locks, pasadas de reconciliación y lotes del scheduler.
type SyncMetrics struct {
	*BaseMetrics
}

// NewSyncMetrics inicializa el bundle de métricas de sincronización.
// Usa el namespace "boel" y la entidad "sync".
func NewSyncMetrics(client MetricsClient) *SyncMetrics {
	return &SyncMetrics{
		BaseMetrics: NewBaseMetrics(client, "boel", "sync"),
	}
}

// RecordWebhook contabiliza un webhook admitido o rechazado.
func (sm *SyncMetrics) RecordWebhook(ctx context.Context, accepted bool, attrs ...attribute.KeyValue) {
	if sm == nil || sm.client == nil {
		return
	}
	name := MetricName(sm.namespace, sm.entity, "webhooks")
	attrs = append(attrs, attribute.Bool("boel.accepted", accepted))
	sm.client.RecordCounter(ctx, name, 1, attrs...)
}

// RecordLockAttempt contabiliza un intento de adquisición del lock distribuido.
func (sm *SyncMetrics) RecordLockAttempt(ctx context.Context, outcome string, attrs ...attribute.KeyValue) {
	if sm == nil || sm.client == nil {
		return
	}
	name := MetricName(sm.namespace, sm.entity, "lock_attempts")
	attrs = append(attrs, attribute.String("boel.lock_outcome", outcome))
	sm.client.RecordCounter(ctx, name, 1, attrs...)
}

// RecordReconcile contabiliza el resultado de una pasada de reconciliación
// etiquetado por estado del reconciliador.
func (sm *SyncMetrics) RecordReconcile(ctx context.Context, state string, attrs ...attribute.KeyValue) {
	if sm == nil || sm.client == nil {
		return
	}
	name := MetricName(sm.namespace, sm.entity, "reconciles")
	attrs = append(attrs, attribute.String("boel.state", state))
	sm.client.RecordCounter(ctx, name, 1, attrs...)
}

// RecordStatusBatch registra el tamaño de un lote de actualización de
// processing status.
func (sm *SyncMetrics) RecordStatusBatch(ctx context.Context, size int64, attrs ...attribute.KeyValue) {
	if sm == nil || sm.client == nil {
		return
	}
	name := MetricName(sm.namespace, sm.entity, "status_batch")
	sm.client.RecordCounter(ctx, name, size, attrs...)
}

var (
	globalSyncMetrics   *SyncMetrics
	onceInitSyncMetrics sync.Once
)

// InitGlobalSyncBundle inicializa el bundle global de sincronización.
// Debe llamarse una sola vez al inicio de la aplicación.
func InitGlobalSyncBundle(client MetricsClient) {
	onceInitSyncMetrics.Do(func() {
		globalSyncMetrics = NewSyncMetrics(client)
	})
}

// GetGlobalSyncMetrics retorna el bundle global (nil si no inicializado; los
// métodos sobre nil son no-op).
func GetGlobalSyncMetrics() *SyncMetrics {
	return globalSyncMetrics
}
