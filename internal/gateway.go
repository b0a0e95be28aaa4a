package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/semconv"
)

// PortalClientOptions opciones del cliente REST del portal.
type PortalClientOptions struct {
	// BaseURL URL del endpoint REST del portal, p.ej.
	// https://example.bitrix24.ru/rest/1/abcdef
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string

	// Reintentos internos ante rate-limit / errores 5xx transitorios.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// PortalClient gateway REST hacia el CRM remoto (fuente de verdad).
//
// Implementa domain.RemoteGateway y domain.Notifier. Clasifica los fallos por
// tipo (not-found, auth, rate-limited, transport); la política de reintento
// ante rate-limit vive aquí, no en los consumidores.
type PortalClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	tel        *telemetry.Client
}

// NewPortalClient crea el cliente REST del portal.
func NewPortalClient(opts PortalClientOptions, tel *telemetry.Client) *PortalClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &PortalClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		tel:        tel,
	}
}

// call ejecuta un método REST del portal con el payload dado y decodifica el
// campo "result" de la respuesta en out (out puede ser nil).
func (c *PortalClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return domain.WrapError(domain.ErrCodeTransport, "marshal portal request", err)
	}

	delay := c.baseDelay
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return domain.WrapError(domain.ErrCodeTransport, "portal call cancelled", ctx.Err())
			case <-timer.C:
			}
			if delay *= 2; delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		retryable, err := c.doCall(ctx, method, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		c.tel.Warn(ctx, "Portal call retrying",
			attribute.String("method", method),
			semconv.Boel.Attempt.Int(attempt),
			attribute.String("error", err.Error()),
		)
	}
	return lastErr
}

// doCall ejecuta un intento único. Retorna retryable=true para rate-limit y
// errores 5xx transitorios.
func (c *PortalClient) doCall(ctx context.Context, method string, body []byte, out any) (bool, error) {
	url := fmt.Sprintf("%s/%s.json", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, domain.WrapError(domain.ErrCodeTransport, "build portal request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, domain.WrapError(domain.ErrCodeTransport, "portal request failed", err).
			WithDetail("method", method)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return true, domain.WrapError(domain.ErrCodeTransport, "read portal response", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, domain.NewError(domain.ErrCodeRemoteNotFound, "entity not found upstream").
			WithDetail("method", method)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, domain.NewError(domain.ErrCodeRemoteAuth, "portal rejected credentials").
			WithDetail("status", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, domain.NewError(domain.ErrCodeRateLimited, "portal rate limit").
			WithDetail("method", method)
	case resp.StatusCode >= 500:
		return true, domain.NewError(domain.ErrCodeTransport, "portal server error").
			WithDetail("status", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, domain.NewError(domain.ErrCodeTransport, "unexpected portal status").
			WithDetail("status", resp.StatusCode)
	}

	var envelope struct {
		Result    json.RawMessage `json:"result"`
		Error     string          `json:"error"`
		ErrorDesc string          `json:"error_description"`
		Next      json.RawMessage `json:"next"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return false, domain.WrapError(domain.ErrCodeTransport, "decode portal envelope", err)
	}
	if envelope.Error != "" {
		return false, mapPortalError(envelope.Error, envelope.ErrorDesc)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return false, domain.WrapError(domain.ErrCodeTransport, "decode portal result", err)
		}
	}
	return false, nil
}

func mapPortalError(code, description string) error {
	switch strings.ToUpper(code) {
	case "NOT_FOUND", "ERROR_NOT_FOUND":
		return domain.NewError(domain.ErrCodeRemoteNotFound, "entity not found upstream").
			WithDetail("description", description)
	case "EXPIRED_TOKEN", "INVALID_TOKEN", "INVALID_CREDENTIALS":
		return domain.NewError(domain.ErrCodeRemoteAuth, "portal token invalid").
			WithDetail("description", description)
	case "QUERY_LIMIT_EXCEEDED":
		return domain.NewError(domain.ErrCodeRateLimited, "portal query limit exceeded").
			WithDetail("description", description)
	default:
		return domain.NewError(domain.ErrCodeTransport, "portal error").
			WithDetail("code", code).
			WithDetail("description", description)
	}
}

// ---------- Tipos de cable ----------

// portalTime acepta timestamps RFC3339 del portal, incluida la cadena vacía.
type portalTime struct {
	time.Time
}

func (t *portalTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("parse portal time %q: %w", raw, err)
	}
	t.Time = parsed
	return nil
}

// portalInt acepta enteros serializados como número o como string.
type portalInt int64

func (n *portalInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parse portal int %q: %w", raw, err)
	}
	*n = portalInt(v)
	return nil
}

type dealWire struct {
	ID              portalInt  `json:"ID"`
	Title           string     `json:"TITLE"`
	Opportunity     string     `json:"OPPORTUNITY"`
	CurrencyID      string     `json:"CURRENCY_ID"`
	Probability     *int       `json:"PROBABILITY"`
	StageID         string     `json:"STAGE_ID"`
	CurrentStageID  string     `json:"CURRENT_STAGE_ID"`
	StageSemantic   string     `json:"STAGE_SEMANTIC_ID"`
	Status          string     `json:"PROCESSING_STATUS"`
	CreationSource  string     `json:"CREATION_SOURCE"`
	TypeID          string     `json:"TYPE_ID"`
	SourceID        string     `json:"SOURCE_ID"`
	Frozen          string     `json:"IS_FROZEN"`
	ManualSource    string     `json:"IS_MANUAL_SOURCE"`
	AssignedByID    portalInt  `json:"ASSIGNED_BY_ID"`
	CompanyID       portalInt  `json:"COMPANY_ID"`
	ContactID       portalInt  `json:"CONTACT_ID"`
	LeadID          portalInt  `json:"LEAD_ID"`
	InvoiceID       portalInt  `json:"INVOICE_ID"`
	CategoryID      portalInt  `json:"CATEGORY_ID"`
	MainActivity    string     `json:"MAIN_ACTIVITY"`
	City            string     `json:"CITY"`
	ShippingCompany string     `json:"SHIPPING_COMPANY"`
	DateCreate      portalTime `json:"DATE_CREATE"`
	DateModify      portalTime `json:"DATE_MODIFY"`
	MovedTime       portalTime `json:"MOVED_TIME"`
}

func (w *dealWire) toDomain() (*domain.Deal, error) {
	amount := decimal.Zero
	if w.Opportunity != "" {
		parsed, err := decimal.NewFromString(w.Opportunity)
		if err != nil {
			return nil, domain.WrapError(domain.ErrCodeTransport, "parse deal amount", err).
				WithDetail("opportunity", w.Opportunity)
		}
		amount = parsed
	}
	deal := &domain.Deal{
		ID:                int64(w.ID),
		Title:             w.Title,
		Amount:            amount,
		CurrencyID:        w.CurrencyID,
		Probability:       w.Probability,
		StageID:           w.StageID,
		CurrentStageID:    w.CurrentStageID,
		StageSemantic:     domain.StageSemantic(w.StageSemantic),
		Status:            domain.ProcessingStatus(w.Status),
		CreationSource:    domain.CreationSource(w.CreationSource),
		TypeID:            domain.DealType(w.TypeID),
		SourceID:          domain.DealSource(w.SourceID),
		Frozen:            w.Frozen == "Y",
		SourceSetManually: w.ManualSource == "Y",
		AssignedByID:      int64(w.AssignedByID),
		CompanyID:         int64(w.CompanyID),
		ContactID:         int64(w.ContactID),
		LeadID:            int64(w.LeadID),
		InvoiceID:         int64(w.InvoiceID),
		CategoryID:        int64(w.CategoryID),
		MainActivity:      w.MainActivity,
		City:              w.City,
		ShippingCompany:   w.ShippingCompany,
		CreatedAt:         w.DateCreate.Time,
		ModifiedAt:        w.DateModify.Time,
		MovedAt:           w.MovedTime.Time,
	}
	if deal.Status == "" {
		deal.Status = domain.StatusNotDefined
	}
	return deal, deal.Validate()
}

// GetDeal obtiene un deal del portal.
func (c *PortalClient) GetDeal(ctx context.Context, id int64) (*domain.Deal, error) {
	var wire dealWire
	if err := c.call(ctx, "crm.deal.get", map[string]any{"id": id}, &wire); err != nil {
		return nil, err
	}
	return wire.toDomain()
}

// UpdateDeal aplica campos a un deal remoto. Entrega at-least-once.
func (c *PortalClient) UpdateDeal(ctx context.Context, id int64, fields map[string]any) error {
	return c.call(ctx, "crm.deal.update", map[string]any{"id": id, "fields": fields}, nil)
}

// ListDeals obtiene una página de deals. El cursor es el offset serializado.
func (c *PortalClient) ListDeals(ctx context.Context, filter map[string]any, sel []string, cursor string) ([]*domain.Deal, string, error) {
	start := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", domain.WrapError(domain.ErrCodeTransport, "bad list cursor", err)
		}
		start = parsed
	}

	var wires []dealWire
	params := map[string]any{"filter": filter, "select": sel, "start": start}
	if err := c.call(ctx, "crm.deal.list", params, &wires); err != nil {
		return nil, "", err
	}

	deals := make([]*domain.Deal, 0, len(wires))
	for i := range wires {
		deal, err := wires[i].toDomain()
		if err != nil {
			return nil, "", err
		}
		deals = append(deals, deal)
	}

	next := ""
	if len(wires) == portalPageSize {
		next = strconv.Itoa(start + portalPageSize)
	}
	return deals, next, nil
}

// portalPageSize tamaño de página fijo del portal.
const portalPageSize = 50

type companyWire struct {
	ID                portalInt  `json:"ID"`
	Title             string     `json:"TITLE"`
	Phone             string     `json:"PHONE"`
	Email             string     `json:"EMAIL"`
	MainActivity      string     `json:"MAIN_ACTIVITY"`
	City              string     `json:"CITY"`
	Contracts         string     `json:"CONTRACTS"`
	DefaultForManager portalInt  `json:"DEFAULT_FOR_MANAGER"`
	DateCreate        portalTime `json:"DATE_CREATE"`
}

// GetCompany obtiene una empresa del portal.
func (c *PortalClient) GetCompany(ctx context.Context, id int64) (*domain.Company, error) {
	var wire companyWire
	if err := c.call(ctx, "crm.company.get", map[string]any{"id": id}, &wire); err != nil {
		return nil, err
	}
	return &domain.Company{
		ID:                int64(wire.ID),
		Title:             wire.Title,
		Phone:             wire.Phone,
		Email:             wire.Email,
		MainActivity:      wire.MainActivity,
		City:              wire.City,
		Contracts:         wire.Contracts,
		DefaultForManager: int64(wire.DefaultForManager),
		CreatedAt:         wire.DateCreate.Time,
	}, nil
}

type contactWire struct {
	ID         portalInt  `json:"ID"`
	Name       string     `json:"NAME"`
	Phone      string     `json:"PHONE"`
	Email      string     `json:"EMAIL"`
	CompanyID  portalInt  `json:"COMPANY_ID"`
	DateCreate portalTime `json:"DATE_CREATE"`
}

// GetContact obtiene un contacto del portal.
func (c *PortalClient) GetContact(ctx context.Context, id int64) (*domain.Contact, error) {
	var wire contactWire
	if err := c.call(ctx, "crm.contact.get", map[string]any{"id": id}, &wire); err != nil {
		return nil, err
	}
	return &domain.Contact{
		ID:        int64(wire.ID),
		Name:      wire.Name,
		Phone:     wire.Phone,
		Email:     wire.Email,
		CompanyID: int64(wire.CompanyID),
		CreatedAt: wire.DateCreate.Time,
	}, nil
}

type leadWire struct {
	ID             portalInt  `json:"ID"`
	Title          string     `json:"TITLE"`
	SourceID       string     `json:"SOURCE_ID"`
	CallTrackingID string     `json:"CALL_TRACKING_ID"`
	OriginID       string     `json:"ORIGIN_ID"`
	CreatedByID    portalInt  `json:"CREATED_BY_ID"`
	Comments       string     `json:"COMMENTS"`
	DateCreate     portalTime `json:"DATE_CREATE"`
}

// GetLead obtiene un lead del portal.
func (c *PortalClient) GetLead(ctx context.Context, id int64) (*domain.Lead, error) {
	var wire leadWire
	if err := c.call(ctx, "crm.lead.get", map[string]any{"id": id}, &wire); err != nil {
		return nil, err
	}
	return &domain.Lead{
		ID:             int64(wire.ID),
		Title:          wire.Title,
		SourceID:       wire.SourceID,
		CallTrackingID: wire.CallTrackingID,
		OriginID:       wire.OriginID,
		CreatedByID:    int64(wire.CreatedByID),
		Comments:       wire.Comments,
		CreatedAt:      wire.DateCreate.Time,
	}, nil
}

type invoiceWire struct {
	ID         portalInt  `json:"ID"`
	DealID     portalInt  `json:"UF_DEAL_ID"`
	CompanyID  portalInt  `json:"UF_COMPANY_ID"`
	StageID    string     `json:"STATUS_ID"`
	Exported   string     `json:"UF_EXPORTED"`
	DateCreate portalTime `json:"DATE_CREATE"`
}

// GetInvoice obtiene una factura del portal.
func (c *PortalClient) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	var wire invoiceWire
	if err := c.call(ctx, "crm.invoice.get", map[string]any{"id": id}, &wire); err != nil {
		return nil, err
	}
	return &domain.Invoice{
		ID:        int64(wire.ID),
		DealID:    int64(wire.DealID),
		CompanyID: int64(wire.CompanyID),
		StageID:   wire.StageID,
		Exported:  wire.Exported == "Y",
		CreatedAt: wire.DateCreate.Time,
	}, nil
}

// UpdateInvoice aplica campos a una factura remota.
func (c *PortalClient) UpdateInvoice(ctx context.Context, id int64, fields map[string]any) error {
	return c.call(ctx, "crm.invoice.update", map[string]any{"id": id, "fields": fields}, nil)
}

type userWire struct {
	ID           portalInt `json:"ID"`
	Name         string    `json:"NAME"`
	Active       string    `json:"ACTIVE"`
	SupervisorID portalInt `json:"UF_HEAD"`
}

// GetUser obtiene un usuario del portal.
func (c *PortalClient) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var wires []userWire
	if err := c.call(ctx, "user.get", map[string]any{"ID": id}, &wires); err != nil {
		return nil, err
	}
	if len(wires) == 0 {
		return nil, domain.NewError(domain.ErrCodeRemoteNotFound, "user not found upstream").
			WithDetail("id", id)
	}
	wire := wires[0]
	return &domain.User{
		ID:           int64(wire.ID),
		Name:         wire.Name,
		Active:       wire.Active == "Y" || wire.Active == "true",
		SupervisorID: int64(wire.SupervisorID),
	}, nil
}

type productRowWire struct {
	ID       portalInt `json:"ID"`
	OwnerID  portalInt `json:"OWNER_ID"`
	Name     string    `json:"PRODUCT_NAME"`
	Price    string    `json:"PRICE"`
	Quantity float64   `json:"QUANTITY"`
}

// ListProducts obtiene las líneas de producto de un deal.
func (c *PortalClient) ListProducts(ctx context.Context, dealID int64) ([]*domain.ProductRow, error) {
	var wires []productRowWire
	if err := c.call(ctx, "crm.deal.productrows.get", map[string]any{"id": dealID}, &wires); err != nil {
		return nil, err
	}
	rows := make([]*domain.ProductRow, 0, len(wires))
	for _, wire := range wires {
		rows = append(rows, &domain.ProductRow{
			ID:       int64(wire.ID),
			DealID:   int64(wire.OwnerID),
			Name:     wire.Name,
			Price:    wire.Price,
			Quantity: wire.Quantity,
		})
	}
	return rows, nil
}

// Send implementa domain.Notifier sobre las notificaciones del portal.
// Best-effort: el llamador decide si el fallo es fatal (nunca lo es para la
// reconciliación).
func (c *PortalClient) Send(ctx context.Context, userID int64, text string) error {
	return c.call(ctx, "im.notify.system.add", map[string]any{
		"USER_ID": userID,
		"MESSAGE": text,
	}, nil)
}
