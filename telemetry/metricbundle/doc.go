// Package metricbundle agrupa los instrumentos de métricas por dominio.
//
// Cada bundle extiende BaseMetrics (contador de resultados + histograma de
// duración) con los instrumentos propios de su dominio. El bundle de
// sincronización (SyncMetrics) cubre el pipeline webhook → reconciliación y
// el scheduler de processing status.
package metricbundle
