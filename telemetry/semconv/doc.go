// Package semconv define las convenciones semánticas de atributos
// OpenTelemetry usadas por el servicio de sincronización.
//
// Todos los logs, métricas y trazas deben usar estas claves en lugar de
// strings sueltos, para mantener consistencia entre componentes.
package semconv
