package semconv

import "go.opentelemetry.io/otel/attribute"

// Boel contiene atributos semánticos específicos del dominio de sincronización.
//
// # Identificadores
//
//   - boel.deal_id: identificador externo del deal en el CRM
//   - boel.entity_kind: tipo de entidad (deal/company/contact/lead/invoice/user)
//   - boel.event: nombre del evento de webhook (ONCRMDEALUPDATE, ...)
//   - boel.portal: dominio del portal emisor
//
// # Reconciliación
//
//   - boel.state: estado del reconciliador (frozen/failed/no_invoice/has_invoice)
//   - boel.stage: etapa del deal
//   - boel.lock_key: clave del lock distribuido
//   - boel.attempt: intento de adquisición de lock
//
// # Uso
//
//	tel.Info(ctx, "Reconcile pass finished",
//	    semconv.Boel.DealID.Int64(101),
//	    semconv.Boel.State.String("no_invoice"),
//	)
var Boel = boelAttributes{
	DealID:     attribute.Key("boel.deal_id"),
	EntityKind: attribute.Key("boel.entity_kind"),
	Event:      attribute.Key("boel.event"),
	Portal:     attribute.Key("boel.portal"),

	State:     attribute.Key("boel.state"),
	Stage:     attribute.Key("boel.stage"),
	Status:    attribute.Key("boel.status"),
	Source:    attribute.Key("boel.source"),
	LockKey:   attribute.Key("boel.lock_key"),
	Attempt:   attribute.Key("boel.attempt"),
	OwnerID:   attribute.Key("boel.owner_id"),
	InvoiceID: attribute.Key("boel.invoice_id"),
	FactKind:  attribute.Key("boel.fact_kind"),
	Fields:    attribute.Key("boel.fields"),
	Reason:    attribute.Key("boel.reason"),
	Batch:     attribute.Key("boel.batch"),
}

type boelAttributes struct {
	DealID     attribute.Key // identificador externo del deal
	EntityKind attribute.Key // tipo de entidad replicada
	Event      attribute.Key // evento de webhook
	Portal     attribute.Key // dominio del portal

	State     attribute.Key // estado del reconciliador
	Stage     attribute.Key // etapa del deal
	Status    attribute.Key // processing status
	Source    attribute.Key // fuente clasificada
	LockKey   attribute.Key // clave de lock distribuido
	Attempt   attribute.Key // intento de adquisición
	OwnerID   attribute.Key // responsable asignado
	InvoiceID attribute.Key // factura vinculada
	FactKind  attribute.Key // tipo de hecho publicado
	Fields    attribute.Key // cantidad de campos escritos
	Reason    attribute.Key // motivo de rechazo/bloqueo
	Batch     attribute.Key // tamaño de lote del scheduler
}
