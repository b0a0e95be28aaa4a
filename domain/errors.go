package domain

import (
	"errors"
	"fmt"
)

// ErrorCode código de error del dominio de sincronización.
type ErrorCode string

// Códigos de error estándar
const (
	// Errores de admisión de webhooks (nunca se reintentan)
	ErrCodeSecurity   ErrorCode = "SECURITY"
	ErrCodeValidation ErrorCode = "VALIDATION"

	// Errores de coordinación (esperables bajo contención)
	ErrCodeLockAcquisition ErrorCode = "LOCK_ACQUISITION"
	ErrCodeMaxRetries      ErrorCode = "MAX_RETRIES_EXCEEDED"

	// Errores del gateway remoto
	ErrCodeRemoteNotFound ErrorCode = "REMOTE_NOT_FOUND"
	ErrCodeRemoteAuth     ErrorCode = "REMOTE_AUTH"
	ErrCodeRateLimited    ErrorCode = "RATE_LIMITED"
	ErrCodeTransport      ErrorCode = "TRANSPORT"

	// Errores del almacén local
	ErrCodeLocalConflict ErrorCode = "LOCAL_CONFLICT"
	ErrCodeLocalNotFound ErrorCode = "LOCAL_NOT_FOUND"

	// Errores de materialización de entidades relacionadas
	ErrCodeCyclicCreation ErrorCode = "CYCLIC_CREATION"

	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// SyncError error del dominio de sincronización con contexto.
type SyncError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Wrapped error
}

// Error implementa la interfaz error.
func (e *SyncError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implementa la interfaz errors.Unwrap.
func (e *SyncError) Unwrap() error {
	return e.Wrapped
}

// WithDetail agrega un detalle al error.
func (e *SyncError) WithDetail(key string, value any) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Detail retorna un detalle previamente agregado (nil si no existe).
func (e *SyncError) Detail(key string) any {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// NewError crea un nuevo SyncError.
//
// Example:
//
//	err := domain.NewError(domain.ErrCodeValidation, "event not allowed")
func NewError(code ErrorCode, message string) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// WrapError envuelve un error existente con contexto de sincronización.
func WrapError(code ErrorCode, message string, wrapped error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Details: make(map[string]any),
		Wrapped: wrapped,
	}
}

// CodeOf extrae el ErrorCode de un error arbitrario.
// Retorna ErrCodeUnknown si la cadena no contiene un SyncError.
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeUnknown
}

// IsCode indica si la cadena de errores contiene un SyncError con el código dado.
func IsCode(err error, code ErrorCode) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == code
}

// IsRemoteNotFound indica «entidad borrada upstream»; el reconciliador
// responde con un placeholder en lugar de fallar.
func IsRemoteNotFound(err error) bool { return IsCode(err, ErrCodeRemoteNotFound) }

// IsLocalConflict indica que la fila ya existía en el almacén local.
func IsLocalConflict(err error) bool { return IsCode(err, ErrCodeLocalConflict) }

// IsLockContention indica fallo de adquisición del lock, reintentable por el
// emisor del webhook (HTTP 409).
func IsLockContention(err error) bool {
	return IsCode(err, ErrCodeLockAcquisition) || IsCode(err, ErrCodeMaxRetries)
}
