package internal

import (
	"context"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

// LocalStore mitad local de un puerto de entidad (implementada en
// internal/repository).
type LocalStore[T domain.Entity] interface {
	Get(ctx context.Context, id int64) (T, bool, error)
	Create(ctx context.Context, entity T) error
	Update(ctx context.Context, entity T) error
}

// replicaPort puerto de réplica que combina el gateway remoto con el almacén
// local de un tipo de entidad. Se instancia por tipo estáticamente, sin
// reflexión.
type replicaPort[T domain.Entity] struct {
	fetch       func(ctx context.Context, id int64) (T, error)
	store       LocalStore[T]
	placeholder func(id int64) T
}

func (p *replicaPort[T]) FetchRemote(ctx context.Context, id int64) (T, error) {
	return p.fetch(ctx, id)
}

func (p *replicaPort[T]) FetchLocal(ctx context.Context, id int64) (T, bool, error) {
	return p.store.Get(ctx, id)
}

func (p *replicaPort[T]) CreateLocal(ctx context.Context, entity T) error {
	return p.store.Create(ctx, entity)
}

func (p *replicaPort[T]) UpdateLocal(ctx context.Context, entity T) error {
	return p.store.Update(ctx, entity)
}

func (p *replicaPort[T]) Placeholder(id int64) T {
	return p.placeholder(id)
}

// EntityStores almacenes locales de las entidades relacionadas a un deal.
type EntityStores struct {
	Companies LocalStore[*domain.Company]
	Contacts  LocalStore[*domain.Contact]
	Leads     LocalStore[*domain.Lead]
	Invoices  LocalStore[*domain.Invoice]
}

// NewEntityPorts construye los puertos de réplica sobre el gateway remoto y
// los almacenes locales.
func NewEntityPorts(remote domain.RemoteGateway, stores EntityStores) EntityPorts {
	return EntityPorts{
		Companies: &replicaPort[*domain.Company]{
			fetch: remote.GetCompany,
			store: stores.Companies,
			placeholder: func(id int64) *domain.Company {
				return &domain.Company{ID: id, Deleted: true}
			},
		},
		Contacts: &replicaPort[*domain.Contact]{
			fetch: remote.GetContact,
			store: stores.Contacts,
			placeholder: func(id int64) *domain.Contact {
				return &domain.Contact{ID: id, Deleted: true}
			},
		},
		Leads: &replicaPort[*domain.Lead]{
			fetch: remote.GetLead,
			store: stores.Leads,
			placeholder: func(id int64) *domain.Lead {
				return &domain.Lead{ID: id, Deleted: true}
			},
		},
		Invoices: &replicaPort[*domain.Invoice]{
			fetch: remote.GetInvoice,
			store: stores.Invoices,
			placeholder: func(id int64) *domain.Invoice {
				return &domain.Invoice{ID: id, Deleted: true}
			},
		},
	}
}

// PortalUserDirectory directorio de usuarios sobre el gateway remoto.
type PortalUserDirectory struct {
	remote domain.RemoteGateway
}

// NewPortalUserDirectory crea el directorio.
func NewPortalUserDirectory(remote domain.RemoteGateway) *PortalUserDirectory {
	return &PortalUserDirectory{remote: remote}
}

// IsActiveManager implementa UserDirectory. Un usuario inexistente upstream
// cuenta como inactivo.
func (d *PortalUserDirectory) IsActiveManager(ctx context.Context, id int64) (bool, error) {
	user, err := d.remote.GetUser(ctx, id)
	if err != nil {
		if domain.IsRemoteNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return user.Active, nil
}
