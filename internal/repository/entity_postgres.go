package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

// ============================================================================
// CompanyRepo
// ============================================================================

// CompanyRepo almacén local de empresas.
type CompanyRepo struct {
	db *sql.DB
}

const companyColumns = `external_id, title, phone, email, main_activity, city,
	contracts, default_for_manager, created_at, deleted`

// Get retorna la réplica de la empresa, (nil, false, nil) si no existe.
func (r *CompanyRepo) Get(ctx context.Context, id int64) (*domain.Company, bool, error) {
	query := `SELECT ` + companyColumns + ` FROM boel.companies WHERE external_id = $1`

	company, err := scanCompany(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get company %d: %w", id, err)
	}
	return company, true, nil
}

// Create inserta la réplica de la empresa.
func (r *CompanyRepo) Create(ctx context.Context, company *domain.Company) error {
	query := `
		INSERT INTO boel.companies (` + companyColumns + `, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`
	_, err := r.db.ExecContext(ctx, query,
		company.ID, company.Title, company.Phone, company.Email,
		company.MainActivity, company.City, company.Contracts,
		company.DefaultForManager, nullTime(company.CreatedAt), company.Deleted,
	)
	if err != nil {
		return conflictError(domain.KindCompany, company.ID, fmt.Errorf("create company %d: %w", company.ID, err))
	}
	return nil
}

// Update actualiza la réplica de la empresa.
func (r *CompanyRepo) Update(ctx context.Context, company *domain.Company) error {
	query := `
		UPDATE boel.companies SET
			title = $2, phone = $3, email = $4, main_activity = $5, city = $6,
			contracts = $7, default_for_manager = $8, created_at = $9,
			deleted = $10, synced_at = NOW()
		WHERE external_id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		company.ID, company.Title, company.Phone, company.Email,
		company.MainActivity, company.City, company.Contracts,
		company.DefaultForManager, nullTime(company.CreatedAt), company.Deleted,
	)
	if err != nil {
		return fmt.Errorf("update company %d: %w", company.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update company %d: %w", company.ID, err)
	}
	if affected == 0 {
		return notFoundError(domain.KindCompany, company.ID)
	}
	return nil
}

// DefaultForManager retorna la empresa por defecto del responsable indicado,
// (nil, false, nil) si no hay ninguna registrada.
func (r *CompanyRepo) DefaultForManager(ctx context.Context, managerID int64) (*domain.Company, bool, error) {
	query := `
		SELECT ` + companyColumns + `
		FROM boel.companies
		WHERE default_for_manager = $1 AND NOT deleted
		ORDER BY external_id
		LIMIT 1
	`
	company, err := scanCompany(r.db.QueryRowContext(ctx, query, managerID))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("default company for manager %d: %w", managerID, err)
	}
	return company, true, nil
}

func scanCompany(row rowScanner) (*domain.Company, error) {
	var (
		company   domain.Company
		createdAt sql.NullTime
	)
	err := row.Scan(
		&company.ID, &company.Title, &company.Phone, &company.Email,
		&company.MainActivity, &company.City, &company.Contracts,
		&company.DefaultForManager, &createdAt, &company.Deleted,
	)
	if err != nil {
		return nil, err
	}
	company.CreatedAt = createdAt.Time
	return &company, nil
}

// ============================================================================
// ContactRepo
// ============================================================================

// ContactRepo almacén local de contactos.
type ContactRepo struct {
	db *sql.DB
}

// Get retorna la réplica del contacto, (nil, false, nil) si no existe.
func (r *ContactRepo) Get(ctx context.Context, id int64) (*domain.Contact, bool, error) {
	query := `
		SELECT external_id, name, phone, email, company_id, created_at, deleted
		FROM boel.contacts WHERE external_id = $1
	`
	var (
		contact   domain.Contact
		createdAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&contact.ID, &contact.Name, &contact.Phone, &contact.Email,
		&contact.CompanyID, &createdAt, &contact.Deleted,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get contact %d: %w", id, err)
	}
	contact.CreatedAt = createdAt.Time
	return &contact, true, nil
}

// Create inserta la réplica del contacto.
func (r *ContactRepo) Create(ctx context.Context, contact *domain.Contact) error {
	query := `
		INSERT INTO boel.contacts
			(external_id, name, phone, email, company_id, created_at, deleted, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := r.db.ExecContext(ctx, query,
		contact.ID, contact.Name, contact.Phone, contact.Email,
		contact.CompanyID, nullTime(contact.CreatedAt), contact.Deleted,
	)
	if err != nil {
		return conflictError(domain.KindContact, contact.ID, fmt.Errorf("create contact %d: %w", contact.ID, err))
	}
	return nil
}

// Update actualiza la réplica del contacto.
func (r *ContactRepo) Update(ctx context.Context, contact *domain.Contact) error {
	query := `
		UPDATE boel.contacts SET
			name = $2, phone = $3, email = $4, company_id = $5, created_at = $6,
			deleted = $7, synced_at = NOW()
		WHERE external_id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		contact.ID, contact.Name, contact.Phone, contact.Email,
		contact.CompanyID, nullTime(contact.CreatedAt), contact.Deleted,
	)
	if err != nil {
		return fmt.Errorf("update contact %d: %w", contact.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update contact %d: %w", contact.ID, err)
	}
	if affected == 0 {
		return notFoundError(domain.KindContact, contact.ID)
	}
	return nil
}

// ============================================================================
// LeadRepo
// ============================================================================

// LeadRepo almacén local de leads.
type LeadRepo struct {
	db *sql.DB
}

// Get retorna la réplica del lead, (nil, false, nil) si no existe.
func (r *LeadRepo) Get(ctx context.Context, id int64) (*domain.Lead, bool, error) {
	query := `
		SELECT external_id, title, source_id, call_tracking_id, origin_id,
			created_by_id, comments, created_at, deleted
		FROM boel.leads WHERE external_id = $1
	`
	var (
		lead      domain.Lead
		createdAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&lead.ID, &lead.Title, &lead.SourceID, &lead.CallTrackingID,
		&lead.OriginID, &lead.CreatedByID, &lead.Comments, &createdAt, &lead.Deleted,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get lead %d: %w", id, err)
	}
	lead.CreatedAt = createdAt.Time
	return &lead, true, nil
}

// Create inserta la réplica del lead.
func (r *LeadRepo) Create(ctx context.Context, lead *domain.Lead) error {
	query := `
		INSERT INTO boel.leads
			(external_id, title, source_id, call_tracking_id, origin_id,
			 created_by_id, comments, created_at, deleted, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`
	_, err := r.db.ExecContext(ctx, query,
		lead.ID, lead.Title, lead.SourceID, lead.CallTrackingID, lead.OriginID,
		lead.CreatedByID, lead.Comments, nullTime(lead.CreatedAt), lead.Deleted,
	)
	if err != nil {
		return conflictError(domain.KindLead, lead.ID, fmt.Errorf("create lead %d: %w", lead.ID, err))
	}
	return nil
}

// Update actualiza la réplica del lead.
func (r *LeadRepo) Update(ctx context.Context, lead *domain.Lead) error {
	query := `
		UPDATE boel.leads SET
			title = $2, source_id = $3, call_tracking_id = $4, origin_id = $5,
			created_by_id = $6, comments = $7, created_at = $8, deleted = $9,
			synced_at = NOW()
		WHERE external_id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		lead.ID, lead.Title, lead.SourceID, lead.CallTrackingID, lead.OriginID,
		lead.CreatedByID, lead.Comments, nullTime(lead.CreatedAt), lead.Deleted,
	)
	if err != nil {
		return fmt.Errorf("update lead %d: %w", lead.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lead %d: %w", lead.ID, err)
	}
	if affected == 0 {
		return notFoundError(domain.KindLead, lead.ID)
	}
	return nil
}

// ============================================================================
// InvoiceRepo
// ============================================================================

// InvoiceRepo almacén local de facturas.
type InvoiceRepo struct {
	db *sql.DB
}

// Get retorna la réplica de la factura, (nil, false, nil) si no existe.
func (r *InvoiceRepo) Get(ctx context.Context, id int64) (*domain.Invoice, bool, error) {
	query := `
		SELECT external_id, deal_id, company_id, stage_id, exported, created_at, deleted
		FROM boel.invoices WHERE external_id = $1
	`
	var (
		invoice   domain.Invoice
		createdAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&invoice.ID, &invoice.DealID, &invoice.CompanyID, &invoice.StageID,
		&invoice.Exported, &createdAt, &invoice.Deleted,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get invoice %d: %w", id, err)
	}
	invoice.CreatedAt = createdAt.Time
	return &invoice, true, nil
}

// Create inserta la réplica de la factura.
func (r *InvoiceRepo) Create(ctx context.Context, invoice *domain.Invoice) error {
	query := `
		INSERT INTO boel.invoices
			(external_id, deal_id, company_id, stage_id, exported, created_at, deleted, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := r.db.ExecContext(ctx, query,
		invoice.ID, invoice.DealID, invoice.CompanyID, invoice.StageID,
		invoice.Exported, nullTime(invoice.CreatedAt), invoice.Deleted,
	)
	if err != nil {
		return conflictError(domain.KindInvoice, invoice.ID, fmt.Errorf("create invoice %d: %w", invoice.ID, err))
	}
	return nil
}

// Update actualiza la réplica de la factura.
func (r *InvoiceRepo) Update(ctx context.Context, invoice *domain.Invoice) error {
	query := `
		UPDATE boel.invoices SET
			deal_id = $2, company_id = $3, stage_id = $4, exported = $5,
			created_at = $6, deleted = $7, synced_at = NOW()
		WHERE external_id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		invoice.ID, invoice.DealID, invoice.CompanyID, invoice.StageID,
		invoice.Exported, nullTime(invoice.CreatedAt), invoice.Deleted,
	)
	if err != nil {
		return fmt.Errorf("update invoice %d: %w", invoice.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invoice %d: %w", invoice.ID, err)
	}
	if affected == 0 {
		return notFoundError(domain.KindInvoice, invoice.ID)
	}
	return nil
}
