package internal

// UpdateAccumulator acumula los campos a escribir de una pasada de
// reconciliación. Los estados encadenados aportan campos y la escritura
// combinada sale una sola vez al final del scope del lock.
//
// No es seguro para uso concurrente: vive dentro de una única pasada.
type UpdateAccumulator struct {
	fields map[string]any
}

// NewUpdateAccumulator crea un acumulador vacío.
func NewUpdateAccumulator() *UpdateAccumulator {
	return &UpdateAccumulator{fields: make(map[string]any)}
}

// Set registra un campo a escribir, pisando cualquier valor previo.
func (a *UpdateAccumulator) Set(field string, value any) {
	a.fields[field] = value
}

// SetIfAbsent registra un campo sólo si ningún estado previo lo aportó.
// Retorna true si el valor quedó registrado.
func (a *UpdateAccumulator) SetIfAbsent(field string, value any) bool {
	if _, exists := a.fields[field]; exists {
		return false
	}
	a.fields[field] = value
	return true
}

// Has indica si el campo ya fue aportado.
func (a *UpdateAccumulator) Has(field string) bool {
	_, exists := a.fields[field]
	return exists
}

// Len retorna la cantidad de campos acumulados.
func (a *UpdateAccumulator) Len() int { return len(a.fields) }

// Fields retorna una copia de los campos acumulados.
func (a *UpdateAccumulator) Fields() map[string]any {
	out := make(map[string]any, len(a.fields))
	for k, v := range a.fields {
		out[k] = v
	}
	return out
}

// Merge incorpora campos externos que ningún estado aportó. Se usa para
// arrastrar el drift detectado por el diff sin pisar decisiones de negocio.
func (a *UpdateAccumulator) Merge(fields map[string]any) {
	for k, v := range fields {
		a.SetIfAbsent(k, v)
	}
}
