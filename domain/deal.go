package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StageSemantic clasificación gruesa de la posición del deal en su ciclo de vida.
type StageSemantic string

const (
	SemanticProspective StageSemantic = "P" // en curso
	SemanticSuccess     StageSemantic = "S" // ganado
	SemanticFail        StageSemantic = "F" // perdido (terminal para progresión)
)

// ProcessingStatus estado SLA de procesamiento de un deal abierto.
type ProcessingStatus string

const (
	StatusNotDefined ProcessingStatus = "NOT_DEFINED"
	StatusOK         ProcessingStatus = "OK"
	StatusAtRisk     ProcessingStatus = "AT_RISK"
	StatusOverdue    ProcessingStatus = "OVERDUE"
)

// CreationSource indica si el deal fue creado por un flujo automático o manual.
type CreationSource string

const (
	CreationAuto   CreationSource = "AUTO"
	CreationManual CreationSource = "MANUAL"
)

// DealType tipo base del deal según el responsable asignado.
type DealType string

const (
	TypeDirectSales  DealType = "SALE"
	TypeForeignTrade DealType = "FOREIGN"
)

// DealSource origen del deal inferido por el clasificador.
type DealSource string

const (
	SourceMarketplace    DealSource = "MARKETPLACE"
	SourceOnlineForm     DealSource = "ONLINE_FORM"
	SourceSiteOrder      DealSource = "SITE_ORDER"
	SourceCall           DealSource = "CALL"
	SourceIncomingCall   DealSource = "INCOMING_CALL"
	SourceEmail          DealSource = "EMAIL"
	SourceWebsite        DealSource = "WEBSITE"
	SourceOnlineSales    DealSource = "ONLINE_SALES"
	SourceNewClient      DealSource = "NEW_CLIENT"
	SourceExistingClient DealSource = "EXISTING_CLIENT"
)

// Deal réplica del registro central de negocio sincronizado con el CRM.
//
// Invariantes:
//   - ID es positivo y único (identificador externo del CRM).
//   - Amount nunca es negativo.
//   - Probability, si está presente, está en [0,100].
//   - StageSemantic == SemanticFail es terminal para progresión de etapa.
type Deal struct {
	ID                int64
	Title             string
	Amount            decimal.Decimal
	CurrencyID        string
	Probability       *int
	StageID           string
	CurrentStageID    string // última etapa registrada por el reconciliador
	StageSemantic     StageSemantic
	Status            ProcessingStatus
	CreationSource    CreationSource
	TypeID            DealType
	SourceID          DealSource
	Frozen            bool
	SourceSetManually bool

	AssignedByID int64
	CompanyID    int64
	ContactID    int64
	LeadID       int64
	InvoiceID    int64
	CategoryID   int64

	// Campos de avance de etapa; pueden adoptarse desde entidades relacionadas.
	MainActivity    string
	City            string
	ShippingCompany string

	CreatedAt  time.Time
	ModifiedAt time.Time
	MovedAt    time.Time // movido a la etapa actual

	Deleted bool // placeholder de entidad borrada upstream
}

// EntityID retorna el identificador externo.
func (d *Deal) EntityID() int64 { return d.ID }

// EntityKind retorna el tipo de entidad.
func (d *Deal) EntityKind() EntityKind { return KindDeal }

// Validate verifica los invariantes básicos del deal.
func (d *Deal) Validate() error {
	if d.ID <= 0 {
		return NewError(ErrCodeValidation, "deal id must be positive")
	}
	if d.Amount.IsNegative() {
		return NewError(ErrCodeValidation, "deal amount must be non-negative").
			WithDetail("amount", d.Amount.String())
	}
	if d.Probability != nil && (*d.Probability < 0 || *d.Probability > 100) {
		return NewError(ErrCodeValidation, "probability out of range").
			WithDetail("probability", *d.Probability)
	}
	return nil
}

// IsFailed indica si el deal está en semántica terminal de fallo.
func (d *Deal) IsFailed() bool { return d.StageSemantic == SemanticFail }

// IsOpen indica si el deal sigue en curso.
func (d *Deal) IsOpen() bool { return d.StageSemantic == SemanticProspective }

// Fields retorna la representación campo→valor usada para el diff remoto/local
// y para los comandos de actualización hacia el CRM. Las claves siguen la
// nomenclatura del portal.
func (d *Deal) Fields() map[string]any {
	fields := map[string]any{
		"TITLE":              d.Title,
		"OPPORTUNITY":        d.Amount.String(),
		"CURRENCY_ID":        d.CurrencyID,
		"STAGE_ID":           d.StageID,
		"STAGE_SEMANTIC_ID":  string(d.StageSemantic),
		"PROCESSING_STATUS":  string(d.Status),
		"CREATION_SOURCE":    string(d.CreationSource),
		"TYPE_ID":            string(d.TypeID),
		"SOURCE_ID":          string(d.SourceID),
		"IS_FROZEN":          boolFlag(d.Frozen),
		"IS_MANUAL_SOURCE":   boolFlag(d.SourceSetManually),
		"ASSIGNED_BY_ID":     d.AssignedByID,
		"COMPANY_ID":         d.CompanyID,
		"CONTACT_ID":         d.ContactID,
		"LEAD_ID":            d.LeadID,
		"INVOICE_ID":         d.InvoiceID,
		"CATEGORY_ID":        d.CategoryID,
		"MAIN_ACTIVITY":      d.MainActivity,
		"CITY":               d.City,
		"SHIPPING_COMPANY":   d.ShippingCompany,
		"CURRENT_STAGE_ID":   d.CurrentStageID,
	}
	if d.Probability != nil {
		fields["PROBABILITY"] = *d.Probability
	}
	return fields
}

func boolFlag(v bool) string {
	if v {
		return "Y"
	}
	return "N"
}
