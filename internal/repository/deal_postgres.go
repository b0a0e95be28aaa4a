package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

// ============================================================================
// DealRepo
// ============================================================================

// DealRepo persistencia PostgreSQL de la réplica de deals.
type DealRepo struct {
	db *sql.DB
}

const dealColumns = `external_id, title, amount, currency_id, probability,
	stage_id, current_stage_id, stage_semantic, processing_status,
	creation_source, type_id, source_id, frozen, manual_source,
	assigned_by_id, company_id, contact_id, lead_id, invoice_id, category_id,
	main_activity, city, shipping_company,
	created_at, modified_at, moved_at, deleted`

// Get implementa domain.DealRepository.
func (r *DealRepo) Get(ctx context.Context, id int64) (*domain.Deal, bool, error) {
	query := `SELECT ` + dealColumns + ` FROM boel.deals WHERE external_id = $1`

	deal, err := scanDeal(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get deal %d: %w", id, err)
	}
	return deal, true, nil
}

// Create implementa domain.DealRepository.
func (r *DealRepo) Create(ctx context.Context, deal *domain.Deal) error {
	query := `
		INSERT INTO boel.deals (` + dealColumns + `, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, NOW())
	`
	_, err := r.db.ExecContext(ctx, query, dealArgs(deal)...)
	if err != nil {
		return conflictError(domain.KindDeal, deal.ID, fmt.Errorf("create deal %d: %w", deal.ID, err))
	}
	return nil
}

// Update implementa domain.DealRepository.
func (r *DealRepo) Update(ctx context.Context, deal *domain.Deal) error {
	query := `
		UPDATE boel.deals SET
			title = $2, amount = $3, currency_id = $4, probability = $5,
			stage_id = $6, current_stage_id = $7, stage_semantic = $8,
			processing_status = $9, creation_source = $10, type_id = $11,
			source_id = $12, frozen = $13, manual_source = $14,
			assigned_by_id = $15, company_id = $16, contact_id = $17,
			lead_id = $18, invoice_id = $19, category_id = $20,
			main_activity = $21, city = $22, shipping_company = $23,
			created_at = $24, modified_at = $25, moved_at = $26,
			deleted = $27, synced_at = NOW()
		WHERE external_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, dealArgs(deal)...)
	if err != nil {
		return fmt.Errorf("update deal %d: %w", deal.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update deal %d: %w", deal.ID, err)
	}
	if affected == 0 {
		return notFoundError(domain.KindDeal, deal.ID)
	}
	return nil
}

// ListOpenForStatus implementa domain.DealRepository. Retorna deals abiertos
// en las etapas indicadas con MovedAt conocido, ordenados por identificador.
func (r *DealRepo) ListOpenForStatus(ctx context.Context, stages []string) ([]*domain.Deal, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM boel.deals
		WHERE stage_semantic = $1
		  AND stage_id = ANY($2)
		  AND moved_at IS NOT NULL
		  AND NOT deleted
		ORDER BY external_id
	`
	rows, err := r.db.QueryContext(ctx, query, string(domain.SemanticProspective), pq.Array(stages))
	if err != nil {
		return nil, fmt.Errorf("list open deals: %w", err)
	}
	defer rows.Close()

	var deals []*domain.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal row: %w", err)
		}
		deals = append(deals, deal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deal rows: %w", err)
	}
	return deals, nil
}

// BulkUpdateStatus implementa domain.DealRepository. Todos los cambios se
// aplican en una única transacción.
func (r *DealRepo) BulkUpdateStatus(ctx context.Context, statuses map[int64]domain.ProcessingStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE boel.deals SET processing_status = $2, synced_at = NOW()
		WHERE external_id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare status update: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, string(statuses[id])); err != nil {
			return fmt.Errorf("update status of deal %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// ============================================================================
// Helpers de scan
// ============================================================================

// rowScanner abstrae *sql.Row y *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*domain.Deal, error) {
	var (
		deal        domain.Deal
		amount      string
		probability sql.NullInt64
		semantic    string
		status      string
		creation    string
		dealType    string
		source      string
		createdAt   sql.NullTime
		modifiedAt  sql.NullTime
		movedAt     sql.NullTime
	)
	err := row.Scan(
		&deal.ID, &deal.Title, &amount, &deal.CurrencyID, &probability,
		&deal.StageID, &deal.CurrentStageID, &semantic, &status,
		&creation, &dealType, &source, &deal.Frozen, &deal.SourceSetManually,
		&deal.AssignedByID, &deal.CompanyID, &deal.ContactID, &deal.LeadID,
		&deal.InvoiceID, &deal.CategoryID,
		&deal.MainActivity, &deal.City, &deal.ShippingCompany,
		&createdAt, &modifiedAt, &movedAt, &deal.Deleted,
	)
	if err != nil {
		return nil, err
	}

	deal.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if probability.Valid {
		p := int(probability.Int64)
		deal.Probability = &p
	}
	deal.StageSemantic = domain.StageSemantic(semantic)
	deal.Status = domain.ProcessingStatus(status)
	deal.CreationSource = domain.CreationSource(creation)
	deal.TypeID = domain.DealType(dealType)
	deal.SourceID = domain.DealSource(source)
	deal.CreatedAt = createdAt.Time
	deal.ModifiedAt = modifiedAt.Time
	deal.MovedAt = movedAt.Time
	return &deal, nil
}

func dealArgs(deal *domain.Deal) []any {
	var probability sql.NullInt64
	if deal.Probability != nil {
		probability = sql.NullInt64{Int64: int64(*deal.Probability), Valid: true}
	}
	return []any{
		deal.ID, deal.Title, deal.Amount.String(), deal.CurrencyID, probability,
		deal.StageID, deal.CurrentStageID, string(deal.StageSemantic), string(deal.Status),
		string(deal.CreationSource), string(deal.TypeID), string(deal.SourceID),
		deal.Frozen, deal.SourceSetManually,
		deal.AssignedByID, deal.CompanyID, deal.ContactID, deal.LeadID,
		deal.InvoiceID, deal.CategoryID,
		deal.MainActivity, deal.City, deal.ShippingCompany,
		nullTime(deal.CreatedAt), nullTime(deal.ModifiedAt), nullTime(deal.MovedAt),
		deal.Deleted,
	}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
