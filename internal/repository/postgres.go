// Package repository provee la persistencia PostgreSQL de la réplica local.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
	"github.com/VladimirNagibin/boel-production-sync-sub000/internal"
)

// pqUniqueViolation código de error de PostgreSQL para violación de unicidad.
const pqUniqueViolation = "23505"

var (
	_ domain.DealRepository                = (*DealRepo)(nil)
	_ internal.LocalStore[*domain.Company] = (*CompanyRepo)(nil)
	_ internal.LocalStore[*domain.Contact] = (*ContactRepo)(nil)
	_ internal.LocalStore[*domain.Lead]    = (*LeadRepo)(nil)
	_ internal.LocalStore[*domain.Invoice] = (*InvoiceRepo)(nil)
	_ internal.CompanyDirectory            = (*CompanyRepo)(nil)
)

// Open abre el pool de conexiones y verifica la conectividad.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PostgresFactory construye los repositorios PostgreSQL de la réplica.
type PostgresFactory struct {
	db *sql.DB

	// Repositorios inicializados lazy
	dealRepo    *DealRepo
	companyRepo *CompanyRepo
	contactRepo *ContactRepo
	leadRepo    *LeadRepo
	invoiceRepo *InvoiceRepo
}

// NewPostgresFactory crea el factory de repositorios.
//
// Uso:
//
//	db, err := repository.Open(ctx, dsn)
//	factory := repository.NewPostgresFactory(db)
//	deals := factory.DealRepository()
func NewPostgresFactory(db *sql.DB) *PostgresFactory {
	return &PostgresFactory{db: db}
}

// DealRepository retorna el repositorio de deals.
func (f *PostgresFactory) DealRepository() *DealRepo {
	if f.dealRepo == nil {
		f.dealRepo = &DealRepo{db: f.db}
	}
	return f.dealRepo
}

// CompanyRepository retorna el almacén local de empresas.
func (f *PostgresFactory) CompanyRepository() *CompanyRepo {
	if f.companyRepo == nil {
		f.companyRepo = &CompanyRepo{db: f.db}
	}
	return f.companyRepo
}

// ContactRepository retorna el almacén local de contactos.
func (f *PostgresFactory) ContactRepository() *ContactRepo {
	if f.contactRepo == nil {
		f.contactRepo = &ContactRepo{db: f.db}
	}
	return f.contactRepo
}

// LeadRepository retorna el almacén local de leads.
func (f *PostgresFactory) LeadRepository() *LeadRepo {
	if f.leadRepo == nil {
		f.leadRepo = &LeadRepo{db: f.db}
	}
	return f.leadRepo
}

// InvoiceRepository retorna el almacén local de facturas.
func (f *PostgresFactory) InvoiceRepository() *InvoiceRepo {
	if f.invoiceRepo == nil {
		f.invoiceRepo = &InvoiceRepo{db: f.db}
	}
	return f.invoiceRepo
}

// EntityStores arma el conjunto de almacenes que consumen los puertos de
// réplica.
func (f *PostgresFactory) EntityStores() internal.EntityStores {
	return internal.EntityStores{
		Companies: f.CompanyRepository(),
		Contacts:  f.ContactRepository(),
		Leads:     f.LeadRepository(),
		Invoices:  f.InvoiceRepository(),
	}
}

// EnsureSchema crea el esquema y las tablas de la réplica si no existen.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS boel`,
		`CREATE TABLE IF NOT EXISTS boel.deals (
			external_id       BIGINT PRIMARY KEY,
			title             TEXT NOT NULL DEFAULT '',
			amount            NUMERIC(18,2) NOT NULL DEFAULT 0,
			currency_id       TEXT NOT NULL DEFAULT '',
			probability       INTEGER,
			stage_id          TEXT NOT NULL DEFAULT '',
			current_stage_id  TEXT NOT NULL DEFAULT '',
			stage_semantic    TEXT NOT NULL DEFAULT '',
			processing_status TEXT NOT NULL DEFAULT 'NOT_DEFINED',
			creation_source   TEXT NOT NULL DEFAULT '',
			type_id           TEXT NOT NULL DEFAULT '',
			source_id         TEXT NOT NULL DEFAULT '',
			frozen            BOOLEAN NOT NULL DEFAULT FALSE,
			manual_source     BOOLEAN NOT NULL DEFAULT FALSE,
			assigned_by_id    BIGINT NOT NULL DEFAULT 0,
			company_id        BIGINT NOT NULL DEFAULT 0,
			contact_id        BIGINT NOT NULL DEFAULT 0,
			lead_id           BIGINT NOT NULL DEFAULT 0,
			invoice_id        BIGINT NOT NULL DEFAULT 0,
			category_id       BIGINT NOT NULL DEFAULT 0,
			main_activity     TEXT NOT NULL DEFAULT '',
			city              TEXT NOT NULL DEFAULT '',
			shipping_company  TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ,
			modified_at       TIMESTAMPTZ,
			moved_at          TIMESTAMPTZ,
			deleted           BOOLEAN NOT NULL DEFAULT FALSE,
			synced_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS deals_status_idx
			ON boel.deals (stage_semantic, stage_id) WHERE NOT deleted`,
		`CREATE TABLE IF NOT EXISTS boel.companies (
			external_id         BIGINT PRIMARY KEY,
			title               TEXT NOT NULL DEFAULT '',
			phone               TEXT NOT NULL DEFAULT '',
			email               TEXT NOT NULL DEFAULT '',
			main_activity       TEXT NOT NULL DEFAULT '',
			city                TEXT NOT NULL DEFAULT '',
			contracts           TEXT NOT NULL DEFAULT '',
			default_for_manager BIGINT NOT NULL DEFAULT 0,
			created_at          TIMESTAMPTZ,
			deleted             BOOLEAN NOT NULL DEFAULT FALSE,
			synced_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS boel.contacts (
			external_id BIGINT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			phone       TEXT NOT NULL DEFAULT '',
			email       TEXT NOT NULL DEFAULT '',
			company_id  BIGINT NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ,
			deleted     BOOLEAN NOT NULL DEFAULT FALSE,
			synced_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS boel.leads (
			external_id      BIGINT PRIMARY KEY,
			title            TEXT NOT NULL DEFAULT '',
			source_id        TEXT NOT NULL DEFAULT '',
			call_tracking_id TEXT NOT NULL DEFAULT '',
			origin_id        TEXT NOT NULL DEFAULT '',
			created_by_id    BIGINT NOT NULL DEFAULT 0,
			comments         TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ,
			deleted          BOOLEAN NOT NULL DEFAULT FALSE,
			synced_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS boel.invoices (
			external_id BIGINT PRIMARY KEY,
			deal_id     BIGINT NOT NULL DEFAULT 0,
			company_id  BIGINT NOT NULL DEFAULT 0,
			stage_id    TEXT NOT NULL DEFAULT '',
			exported    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ,
			deleted     BOOLEAN NOT NULL DEFAULT FALSE,
			synced_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation indica si el error es una violación de unicidad de pq.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// conflictError traduce una violación de unicidad a la taxonomía del dominio.
func conflictError(kind domain.EntityKind, id int64, err error) error {
	if isUniqueViolation(err) {
		return domain.WrapError(domain.ErrCodeLocalConflict, "replica row already exists", err).
			WithDetail("kind", string(kind)).
			WithDetail("id", id)
	}
	return err
}

// notFoundError construye el error de fila inexistente en un update.
func notFoundError(kind domain.EntityKind, id int64) error {
	return domain.NewError(domain.ErrCodeLocalNotFound, "replica row missing").
		WithDetail("kind", string(kind)).
		WithDetail("id", id)
}
