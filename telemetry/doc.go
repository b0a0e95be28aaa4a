// Package telemetry provee el cliente unificado de observabilidad del
// servicio de sincronización: logs estructurados (log/slog con handler JSON),
// trazas y métricas OpenTelemetry exportadas vía OTLP.
//
// Uso típico:
//
//	tel, err := telemetry.New(ctx, "boel-sync", "production")
//	if err != nil { ... }
//	defer tel.Shutdown(ctx)
//
//	tel.Info(ctx, "Webhook accepted",
//	    semconv.Boel.DealID.Int64(12345),
//	    semconv.Boel.Event.String("ONCRMDEALUPDATE"),
//	)
package telemetry
