package semconv

import "go.opentelemetry.io/otel/attribute"

// HTTP define las convenciones semánticas para atributos relacionados con HTTP,
// tanto del endpoint de webhooks entrante como de las llamadas salientes al portal.
var HTTP = struct {
	// Method identifica el método HTTP de la petición (GET, POST, ...).
	Method attribute.Key

	// Path representa la ruta de la URL sin parámetros de consulta.
	Path attribute.Key

	// StatusCode almacena el código de estado HTTP de la respuesta.
	StatusCode attribute.Key

	// DurationMs registra la duración de la petición en milisegundos.
	DurationMs attribute.Key
}{
	Method:     attribute.Key("http.method"),
	Path:       attribute.Key("http.path"),
	StatusCode: attribute.Key("http.status_code"),
	DurationMs: attribute.Key("http.duration_ms"),
}

// Metrics define atributos de dimensionamiento de métricas.
var Metrics = struct {
	// Status indica el estado de la operación medida ("ok", "error", "retry").
	Status attribute.Key

	// Result representa el resultado final ("success", "failure", "partial").
	Result attribute.Key

	// Action identifica la acción realizada ("reconcile", "refresh", ...).
	Action attribute.Key

	// Service identifica el servicio que genera la métrica.
	Service attribute.Key
}{
	Status:  attribute.Key("metrics.status"),
	Result:  attribute.Key("metrics.result"),
	Action:  attribute.Key("metrics.action"),
	Service: attribute.Key("metrics.service"),
}
