package domain

import "reflect"

// FieldValue par de valores de un campo que difiere entre el CRM y la réplica.
type FieldValue struct {
	External any // valor en el CRM remoto
	Internal any // valor en la réplica local
}

// FieldDiff diff campo a campo entre el estado remoto y el local.
//
// Alimenta dos usos: detectar que el lado remoto ya cambió un campo que el
// reconciliador también va a cambiar (merge) y detectar drift que debe
// escribirse de vuelta al remoto aunque ninguna regla de negocio lo haya
// disparado.
type FieldDiff map[string]FieldValue

// ComputeDiff compara dos representaciones campo→valor y retorna los campos
// que difieren, excluyendo el conjunto de campos volátiles/derivados.
//
// La comparación es determinista: dos llamadas sin escrituras intermedias
// producen el mismo diff.
func ComputeDiff(external, internal map[string]any, volatile map[string]struct{}) FieldDiff {
	diff := make(FieldDiff)
	for field, ext := range external {
		if _, skip := volatile[field]; skip {
			continue
		}
		in, ok := internal[field]
		if !ok {
			diff[field] = FieldValue{External: ext, Internal: nil}
			continue
		}
		if !reflect.DeepEqual(ext, in) {
			diff[field] = FieldValue{External: ext, Internal: in}
		}
	}
	for field, in := range internal {
		if _, skip := volatile[field]; skip {
			continue
		}
		if _, ok := external[field]; !ok {
			diff[field] = FieldValue{External: nil, Internal: in}
		}
	}
	return diff
}

// ExternalFields retorna los valores remotos del diff como mapa de actualización.
func (d FieldDiff) ExternalFields() map[string]any {
	fields := make(map[string]any, len(d))
	for k, v := range d {
		fields[k] = v.External
	}
	return fields
}

// InternalFields retorna los valores locales del diff como mapa de actualización.
func (d FieldDiff) InternalFields() map[string]any {
	fields := make(map[string]any, len(d))
	for k, v := range d {
		fields[k] = v.Internal
	}
	return fields
}
