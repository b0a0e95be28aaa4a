// Package domain contiene los modelos, enums y contratos del dominio de
// sincronización: la réplica local de entidades CRM, la taxonomía de errores
// y las interfaces de capacidad (gateway remoto, repositorios locales,
// publicación de hechos y notificaciones).
//
// El paquete no realiza I/O. Las implementaciones viven en internal/ y en
// internal/repository/.
package domain
