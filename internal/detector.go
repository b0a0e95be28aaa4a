package internal

import (
	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

// defaultVolatileFields campos derivados o de alta rotación excluidos del diff:
// compararlos sólo generaría escrituras de ida y vuelta sin valor de negocio.
var defaultVolatileFields = map[string]struct{}{
	"PROCESSING_STATUS": {}, // lo gobierna el scheduler, no el diff
	"CURRENT_STAGE_ID":  {}, // lo registra el propio reconciliador
}

// ChangeDetector computa el diff remoto/local de un deal excluyendo los campos
// volátiles configurados.
type ChangeDetector struct {
	volatile map[string]struct{}
}

// NewChangeDetector crea un detector con los campos volátiles por defecto más
// los extra indicados.
func NewChangeDetector(extraVolatile ...string) *ChangeDetector {
	volatile := make(map[string]struct{}, len(defaultVolatileFields)+len(extraVolatile))
	for field := range defaultVolatileFields {
		volatile[field] = struct{}{}
	}
	for _, field := range extraVolatile {
		volatile[field] = struct{}{}
	}
	return &ChangeDetector{volatile: volatile}
}

// Detect compara el deal remoto contra la réplica local.
//
// Determinista: dos llamadas sin escrituras intermedias retornan el mismo diff,
// y un deal idéntico a su réplica produce un diff vacío.
func (d *ChangeDetector) Detect(remote, local *domain.Deal) domain.FieldDiff {
	if local == nil {
		// Sin réplica todo campo remoto es diferencia.
		return domain.ComputeDiff(remote.Fields(), map[string]any{}, d.volatile)
	}
	return domain.ComputeDiff(remote.Fields(), local.Fields(), d.volatile)
}
