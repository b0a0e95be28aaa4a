// Package etcd encapsula el acceso a etcd: lectura de configuración bajo el
// namespace /boel-sync/{env}/ y el lock advisory distribuido por entidad que
// serializa las reconciliaciones concurrentes de un mismo deal.
package etcd
