// Package internal contiene la lógica del servicio de sincronización:
// admisión de webhooks, el reconciliador de deals y sus colaboradores
// (detector de cambios, clasificador de fuente, asesor de etapa, acumulador
// de updates), el scheduler de processing status, el gateway REST al portal,
// el outbox de publicación y el servidor HTTP entrante.
package internal
