package internal

import (
	"context"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

type guardKey struct {
	kind domain.EntityKind
	id   int64
}

// CreationGuard conjunto por-pasada de entidades en curso de materialización.
//
// Rompe los ciclos de creación (deal → lead faltante → empresa faltante →
// ... → deal): una entrada reentrante corta a placeholder en lugar de
// recursar. Objeto explícito pasado por el grafo de llamadas; nunca estado
// global. No es seguro para uso concurrente: vive dentro de una pasada.
type CreationGuard struct {
	inFlight map[guardKey]struct{}
}

// NewCreationGuard crea un guard vacío.
func NewCreationGuard() *CreationGuard {
	return &CreationGuard{inFlight: make(map[guardKey]struct{})}
}

func (g *CreationGuard) enter(kind domain.EntityKind, id int64) bool {
	key := guardKey{kind: kind, id: id}
	if _, exists := g.inFlight[key]; exists {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

func (g *CreationGuard) leave(kind domain.EntityKind, id int64) {
	delete(g.inFlight, guardKey{kind: kind, id: id})
}

// Materialize obtiene la réplica local de una entidad, creándola desde el
// remoto si aún no existe.
//
// Casos degradados, ambos materializan un placeholder en lugar de fallar:
//   - la entidad está siendo materializada más arriba en la misma pasada
//     (creación cíclica);
//   - el remoto responde not-found (entidad borrada upstream).
//
// Un conflicto local en el create (otra pasada ganó la carrera) se convierte
// en update.
func Materialize[T domain.Entity](ctx context.Context, guard *CreationGuard, port domain.EntityPort[T], id int64) (T, error) {
	var zero T
	if id <= 0 {
		return zero, domain.NewError(domain.ErrCodeValidation, "entity id must be positive").
			WithDetail("id", id)
	}

	local, found, err := port.FetchLocal(ctx, id)
	if err != nil {
		return zero, err
	}
	if found {
		return local, nil
	}

	kind := port.Placeholder(id).EntityKind()
	if !guard.enter(kind, id) {
		placeholder := port.Placeholder(id)
		if err := upsertLocal(ctx, port, placeholder); err != nil {
			return zero, domain.WrapError(domain.ErrCodeCyclicCreation, "persist cycle placeholder", err).
				WithDetail("kind", string(kind)).
				WithDetail("id", id)
		}
		return placeholder, nil
	}
	defer guard.leave(kind, id)

	remote, err := port.FetchRemote(ctx, id)
	if err != nil {
		if !domain.IsRemoteNotFound(err) {
			return zero, err
		}
		remote = port.Placeholder(id)
	}
	if err := upsertLocal(ctx, port, remote); err != nil {
		return zero, err
	}
	return remote, nil
}

func upsertLocal[T domain.Entity](ctx context.Context, port domain.EntityPort[T], entity T) error {
	err := port.CreateLocal(ctx, entity)
	if err == nil {
		return nil
	}
	if domain.IsLocalConflict(err) {
		return port.UpdateLocal(ctx, entity)
	}
	return err
}
