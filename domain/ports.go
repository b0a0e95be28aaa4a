package domain

import (
	"context"
	"time"
)

// RemoteGateway acceso al CRM remoto (fuente de verdad).
//
// Implementación: internal/gateway.go sobre la API REST del portal.
// Los errores se clasifican por tipo: ErrCodeRemoteNotFound, ErrCodeRemoteAuth,
// ErrCodeRateLimited, ErrCodeTransport. La política de refresh de tokens y de
// backoff ante rate-limit vive en la implementación, no en los consumidores.
type RemoteGateway interface {
	// GetDeal obtiene un deal por su identificador externo.
	GetDeal(ctx context.Context, id int64) (*Deal, error)

	// UpdateDeal aplica un conjunto de campos a un deal remoto.
	// La entrega es at-least-once; el portal deduplica a su criterio.
	UpdateDeal(ctx context.Context, id int64, fields map[string]any) error

	// ListDeals obtiene una página de deals según filtro y selección.
	// Retorna el cursor de la página siguiente ("" si no hay más).
	ListDeals(ctx context.Context, filter map[string]any, sel []string, cursor string) ([]*Deal, string, error)

	GetCompany(ctx context.Context, id int64) (*Company, error)
	GetContact(ctx context.Context, id int64) (*Contact, error)
	GetLead(ctx context.Context, id int64) (*Lead, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	UpdateInvoice(ctx context.Context, id int64, fields map[string]any) error
	GetUser(ctx context.Context, id int64) (*User, error)

	// ListProducts obtiene las líneas de producto de un deal.
	ListProducts(ctx context.Context, dealID int64) ([]*ProductRow, error)
}

// DealRepository operaciones de persistencia local para Deal.
//
// Implementación PostgreSQL en internal/repository/deal_postgres.go.
type DealRepository interface {
	// Get obtiene la réplica por identificador externo.
	// Retorna (nil, false, nil) si aún no está materializada.
	Get(ctx context.Context, id int64) (*Deal, bool, error)

	// Create inserta una réplica nueva.
	// Retorna ErrCodeLocalConflict si la fila ya existe.
	Create(ctx context.Context, deal *Deal) error

	// Update actualiza una réplica existente.
	// Retorna ErrCodeLocalNotFound si la fila no existe.
	Update(ctx context.Context, deal *Deal) error

	// ListOpenForStatus retorna deals abiertos en las primeras etapas con
	// MovedAt conocido, para la reevaluación batch de processing status.
	ListOpenForStatus(ctx context.Context, stages []string) ([]*Deal, error)

	// BulkUpdateStatus aplica los nuevos processing status en un único commit.
	BulkUpdateStatus(ctx context.Context, statuses map[int64]ProcessingStatus) error
}

// EntityPort capacidad de réplica por tipo de entidad, según el patrón
// {fetchRemote, fetchLocal, createLocal, updateLocal}. Se instancia por tipo
// estáticamente (generics), sin reflexión en runtime.
type EntityPort[T Entity] interface {
	FetchRemote(ctx context.Context, id int64) (T, error)
	FetchLocal(ctx context.Context, id int64) (T, bool, error)
	CreateLocal(ctx context.Context, entity T) error
	UpdateLocal(ctx context.Context, entity T) error

	// Placeholder sintetiza el registro «borrado/desconocido» usado cuando
	// la entidad remota no puede obtenerse o la creación es cíclica.
	Placeholder(id int64) T
}

// Fact hecho de negocio publicado hacia el colaborador de mensajería.
type Fact struct {
	ID         string
	Kind       string // p.ej. "invoice.handoff", "invoice.retract"
	DealID     int64
	InvoiceID  int64
	Payload    map[string]any
	OccurredAt time.Time
}

// Publisher publica hechos hacia el consumidor downstream (fire-and-forget
// para el reconciliador; la durabilidad la aporta el outbox).
type Publisher interface {
	Publish(ctx context.Context, fact *Fact) error
}

// Notifier envía notificaciones best-effort a usuarios del CRM.
// Los fallos se loguean y nunca abortan una reconciliación.
type Notifier interface {
	Send(ctx context.Context, userID int64, text string) error
}
