package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
	"github.com/VladimirNagibin/boel-production-sync-sub000/etcd"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/metricbundle"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/semconv"
)

// reconState estado de la máquina del reconciliador, computado fresco en cada
// pasada desde el snapshot remoto vivo.
type reconState string

const (
	stateFrozen     reconState = "frozen"
	stateFailed     reconState = "failed"
	stateNoInvoice  reconState = "no_invoice"
	stateHasInvoice reconState = "has_invoice"
)

// ReconcilerConfig parámetros de negocio del reconciliador.
type ReconcilerConfig struct {
	// Stages identificadores de etapa del pipeline, ordenados 1..5.
	Stages []string

	// InitialStage etapa inicial verdadera del pipeline.
	InitialStage string

	// SpuriousSiteStage combinación espuria etapa/responsable que la
	// integración del sitio produce en deals nuevos; se normaliza a
	// InitialStage.
	SpuriousSiteStage string

	// InvoiceFailStage etapa canónica de factura fallida.
	InvoiceFailStage string

	// DefaultShippingEntity entidad de envío que habilita el lookup de
	// empresa por defecto del responsable.
	DefaultShippingEntity string

	// SiteBotOwnerID usuario técnico del sitio.
	SiteBotOwnerID int64
}

// lockCoordinator scope de exclusión mutua por clave (etcd.Locker en
// producción).
type lockCoordinator interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// CompanyDirectory lookup de la empresa por defecto de un responsable.
type CompanyDirectory interface {
	DefaultForManager(ctx context.Context, managerID int64) (*domain.Company, bool, error)
}

// EntityPorts puertos de réplica de las entidades relacionadas a un deal.
type EntityPorts struct {
	Companies domain.EntityPort[*domain.Company]
	Contacts  domain.EntityPort[*domain.Contact]
	Leads     domain.EntityPort[*domain.Lead]
	Invoices  domain.EntityPort[*domain.Invoice]
}

// ReconContext contexto de una pasada de reconciliación: snapshots, diff,
// acumulador, guard de creación y cache de entidades relacionadas. Se crea al
// entrar al pipeline y se descarta al salir, sea cual sea el resultado.
type ReconContext struct {
	Remote *domain.Deal
	Local  *domain.Deal // nil si la réplica no está materializada
	Diff   domain.FieldDiff
	Acc    *UpdateAccumulator
	Guard  *CreationGuard

	company *domain.Company
	contact *domain.Contact
	lead    *domain.Lead
	invoice *domain.Invoice

	products        []*domain.ProductRow
	productsFetched bool
}

func newReconContext(remote, local *domain.Deal) *ReconContext {
	return &ReconContext{
		Remote: remote,
		Local:  local,
		Acc:    NewUpdateAccumulator(),
		Guard:  NewCreationGuard(),
	}
}

// DealReconciler orquesta el pipeline webhook → estado reconciliado.
type DealReconciler struct {
	remote     domain.RemoteGateway
	deals      domain.DealRepository
	ports      EntityPorts
	locker     lockCoordinator
	detector   *ChangeDetector
	classifier *SourceClassifier
	advisor    *StageAdvisor
	companies  CompanyDirectory
	publisher  domain.Publisher
	notifier   domain.Notifier

	cfg     ReconcilerConfig
	tel     *telemetry.Client
	metrics *metricbundle.SyncMetrics
}

// NewDealReconciler crea el reconciliador.
func NewDealReconciler(
	remote domain.RemoteGateway,
	deals domain.DealRepository,
	ports EntityPorts,
	locker lockCoordinator,
	detector *ChangeDetector,
	classifier *SourceClassifier,
	advisor *StageAdvisor,
	companies CompanyDirectory,
	publisher domain.Publisher,
	notifier domain.Notifier,
	cfg ReconcilerConfig,
	tel *telemetry.Client,
	metrics *metricbundle.SyncMetrics,
) *DealReconciler {
	return &DealReconciler{
		remote:     remote,
		deals:      deals,
		ports:      ports,
		locker:     locker,
		detector:   detector,
		classifier: classifier,
		advisor:    advisor,
		companies:  companies,
		publisher:  publisher,
		notifier:   notifier,
		cfg:        cfg,
		tel:        tel,
		metrics:    metrics,
	}
}

// HandleWebhook ejecuta una pasada de reconciliación bajo el lock del deal.
//
// El scope del lock es: fetch remoto+local → lógica de estado → escritura
// combinada. El reconciliador nunca sostiene más de un lock de deal a la vez.
func (r *DealReconciler) HandleWebhook(ctx context.Context, payload *WebhookPayload) error {
	key := etcd.LockKey(domain.KindDeal, payload.DealID)
	return r.locker.WithLock(ctx, key, func(ctx context.Context) error {
		return r.Reconcile(ctx, payload.DealID)
	})
}

// Reconcile corre la máquina de estados para un deal. Debe invocarse ya bajo
// el lock del deal.
func (r *DealReconciler) Reconcile(ctx context.Context, id int64) error {
	err := r.reconcile(ctx, id)
	if err != nil {
		// Nada se traga en silencio: toda falla de pasada queda logueada con
		// el deal y se propaga; el lock se libera en el scope de WithLock.
		r.tel.Error(ctx, "Reconciliation pass failed", err,
			semconv.Boel.DealID.Int64(id),
		)
	}
	return err
}

func (r *DealReconciler) reconcile(ctx context.Context, id int64) error {
	remote, err := r.remote.GetDeal(ctx, id)
	if err != nil {
		if domain.IsRemoteNotFound(err) {
			return r.materializeDeletedDeal(ctx, id)
		}
		return err
	}

	local, found, err := r.deals.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		local = nil
	}

	rc := newReconContext(remote, local)
	if local != nil {
		rc.Diff = r.detector.Detect(remote, local)
	}

	state := r.selectState(rc)
	r.tel.Debug(ctx, "Reconciliation state selected",
		semconv.Boel.DealID.Int64(id),
		semconv.Boel.State.String(string(state)),
	)

	switch state {
	case stateFrozen:
		// Sólo drift: el flush genérico escribe los campos divergentes de
		// vuelta al remoto; ninguna lógica de etapa corre.
	case stateFailed:
		err = r.handleFailed(ctx, rc)
	case stateNoInvoice:
		err = r.handleNoInvoice(ctx, rc)
	case stateHasInvoice:
		err = r.handleHasInvoice(ctx, rc)
	}
	if err != nil {
		return err
	}

	if err := r.flush(ctx, rc); err != nil {
		return err
	}
	r.metrics.RecordReconcile(ctx, string(state), semconv.Boel.DealID.Int64(id))
	return nil
}

// selectState evalúa las condiciones de entrada en orden fijo; gana el primer
// match.
func (r *DealReconciler) selectState(rc *ReconContext) reconState {
	switch {
	case rc.Local != nil && rc.Local.Frozen:
		return stateFrozen
	case rc.Remote.IsFailed():
		return stateFailed
	case rc.Remote.InvoiceID == 0:
		return stateNoInvoice
	default:
		return stateHasInvoice
	}
}

// materializeDeletedDeal persiste el placeholder de un deal borrado upstream.
func (r *DealReconciler) materializeDeletedDeal(ctx context.Context, id int64) error {
	r.tel.Warn(ctx, "Deal deleted upstream, materializing placeholder",
		semconv.Boel.DealID.Int64(id),
	)
	placeholder := &domain.Deal{ID: id, Deleted: true, Status: domain.StatusNotDefined}
	if err := r.deals.Update(ctx, placeholder); err != nil {
		if !domain.IsCode(err, domain.ErrCodeLocalNotFound) {
			return err
		}
		if err := r.deals.Create(ctx, placeholder); err != nil && !domain.IsLocalConflict(err) {
			return err
		}
	}
	return nil
}

// ---------- Estados ----------

func (r *DealReconciler) handleFailed(ctx context.Context, rc *ReconContext) error {
	cls := r.classify(ctx, rc)
	r.applyClassification(rc, cls)

	if rc.Remote.StageID != rc.Remote.CurrentStageID {
		rc.Acc.Set("CURRENT_STAGE_ID", rc.Remote.StageID)
	}

	if rc.Remote.InvoiceID == 0 {
		return nil
	}
	invoice, err := r.invoiceFor(ctx, rc)
	if err != nil {
		return err
	}
	if invoice == nil || invoice.Deleted || invoice.StageID == r.cfg.InvoiceFailStage {
		return nil
	}

	if err := r.remote.UpdateInvoice(ctx, invoice.ID, map[string]any{"STATUS_ID": r.cfg.InvoiceFailStage}); err != nil {
		return err
	}
	invoice.StageID = r.cfg.InvoiceFailStage
	if err := r.ports.Invoices.UpdateLocal(ctx, invoice); err != nil {
		return err
	}

	if invoice.Exported {
		r.publish(ctx, &domain.Fact{
			ID:        uuid.NewString(),
			Kind:      "invoice.retract",
			DealID:    rc.Remote.ID,
			InvoiceID: invoice.ID,
			Payload: map[string]any{
				"reason": "deal failed",
				"stage":  r.cfg.InvoiceFailStage,
			},
			OccurredAt: time.Now().UTC(),
		})
	}
	return nil
}

func (r *DealReconciler) handleNoInvoice(ctx context.Context, rc *ReconContext) error {
	remote := rc.Remote

	// Normalización de orden de sitio nueva: la integración crea el deal en
	// una combinación espuria etapa/responsable.
	if r.cfg.SpuriousSiteStage != "" &&
		remote.StageID == r.cfg.SpuriousSiteStage &&
		remote.AssignedByID == r.cfg.SiteBotOwnerID {
		rc.Acc.Set("STAGE_ID", r.cfg.InitialStage)
	}

	cls := r.classify(ctx, rc)
	r.applyClassification(rc, cls)

	target, err := r.classifier.ReassignTarget(ctx, remote, cls, rc.Local != nil)
	if err != nil {
		return err
	}
	if target != 0 {
		rc.Acc.Set("ASSIGNED_BY_ID", target)
	}

	if _, err := r.productsFor(ctx, rc); err != nil {
		return err
	}

	if cls.Source == domain.SourceSiteOrder {
		r.handleSiteOrder(rc)
	}

	company, adopted, err := r.resolveCompany(ctx, rc)
	if err != nil {
		return err
	}
	advice := r.advisor.Advise(StageInputs{
		Deal:           remote,
		Company:        company,
		CompanyAdopted: adopted,
		Contact:        rc.contact,
		Products:       rc.products,
	}, rc.Acc)

	// La completitud de datos sólo frena avances prematuros; nunca fuerza un
	// ascenso.
	current := stageIndex(r.cfg.Stages, remote.StageID)
	if current > 0 && advice.Stage < current {
		rc.Acc.Set("STAGE_ID", r.cfg.Stages[advice.Stage-1])
		r.notify(ctx, remote.AssignedByID, fmt.Sprintf(
			"Deal %d moved back to stage %d: %s", remote.ID, advice.Stage, advice.Blocked,
		))
	}
	return nil
}

// handleSiteOrder casos especiales de deals originados en órdenes del sitio:
// el título se normaliza al número de orden cuando la integración lo omitió.
func (r *DealReconciler) handleSiteOrder(rc *ReconContext) {
	title := rc.Remote.Title
	if rc.lead != nil {
		if m := orderIDMarkerRe.FindString(rc.lead.Title); m != "" {
			title = m
		}
	}
	if title == "" {
		title = fmt.Sprintf("Order #%d", rc.Remote.ID)
	}
	if title != rc.Remote.Title {
		rc.Acc.SetIfAbsent("TITLE", title)
	}
}

func (r *DealReconciler) handleHasInvoice(ctx context.Context, rc *ReconContext) error {
	invoice, err := r.invoiceFor(ctx, rc)
	if err != nil {
		return err
	}
	if invoice == nil || invoice.Deleted {
		return nil
	}

	// Consistencia deal-empresa: la empresa de la factura manda.
	if invoice.CompanyID != 0 && invoice.CompanyID != rc.Remote.CompanyID {
		rc.Acc.Set("COMPANY_ID", invoice.CompanyID)
	}

	// Referencia de factura recién conocida: handoff al consumidor downstream.
	if rc.Local == nil || rc.Local.InvoiceID != rc.Remote.InvoiceID {
		r.publish(ctx, &domain.Fact{
			ID:        uuid.NewString(),
			Kind:      "invoice.handoff",
			DealID:    rc.Remote.ID,
			InvoiceID: invoice.ID,
			Payload: map[string]any{
				"company_id": invoice.CompanyID,
				"stage":      invoice.StageID,
			},
			OccurredAt: time.Now().UTC(),
		})
	}
	return nil
}

// ---------- Colaboradores de pasada ----------

func (r *DealReconciler) classify(ctx context.Context, rc *ReconContext) Classification {
	lead, err := r.leadFor(ctx, rc)
	if err != nil {
		r.tel.Warn(ctx, "Lead not resolvable for classification",
			semconv.Boel.DealID.Int64(rc.Remote.ID),
			attribute.String("error", err.Error()),
		)
	}
	company, err := r.companyFor(ctx, rc)
	if err != nil {
		r.tel.Warn(ctx, "Company not resolvable for classification",
			semconv.Boel.DealID.Int64(rc.Remote.ID),
			attribute.String("error", err.Error()),
		)
	}
	return r.classifier.Classify(ctx, rc.Remote, lead, company)
}

// applyClassification vuelca la clasificación al acumulador. Un source fijado
// a mano en el CRM nunca se pisa.
func (r *DealReconciler) applyClassification(rc *ReconContext, cls Classification) {
	if !rc.Remote.SourceSetManually && cls.Source != rc.Remote.SourceID {
		rc.Acc.Set("SOURCE_ID", string(cls.Source))
	}
	if cls.Type != rc.Remote.TypeID {
		rc.Acc.Set("TYPE_ID", string(cls.Type))
	}
	if cls.CreationSource != rc.Remote.CreationSource {
		rc.Acc.Set("CREATION_SOURCE", string(cls.CreationSource))
	}
}

// resolveCompany resuelve la empresa del deal: directa, vía el contacto, o la
// empresa por defecto del responsable cuando la entidad de envío es la
// configurada por defecto.
func (r *DealReconciler) resolveCompany(ctx context.Context, rc *ReconContext) (*domain.Company, bool, error) {
	if rc.Remote.CompanyID > 0 {
		company, err := r.companyFor(ctx, rc)
		return company, false, err
	}

	contact, err := r.contactFor(ctx, rc)
	if err != nil {
		return nil, false, err
	}
	if contact != nil && contact.CompanyID > 0 {
		company, err := Materialize[*domain.Company](ctx, rc.Guard, r.ports.Companies, contact.CompanyID)
		if err != nil {
			return nil, false, err
		}
		rc.company = company
		return company, true, nil
	}

	if r.companies != nil &&
		r.cfg.DefaultShippingEntity != "" &&
		normalizeFirm(rc.Remote.ShippingCompany) == normalizeFirm(r.cfg.DefaultShippingEntity) {
		company, found, err := r.companies.DefaultForManager(ctx, rc.Remote.AssignedByID)
		if err != nil {
			return nil, false, err
		}
		if found {
			rc.company = company
			return company, true, nil
		}
	}
	return nil, false, nil
}

func (r *DealReconciler) companyFor(ctx context.Context, rc *ReconContext) (*domain.Company, error) {
	if rc.company != nil {
		return rc.company, nil
	}
	if rc.Remote.CompanyID <= 0 {
		return nil, nil
	}
	company, err := Materialize[*domain.Company](ctx, rc.Guard, r.ports.Companies, rc.Remote.CompanyID)
	if err != nil {
		return nil, err
	}
	rc.company = company
	return company, nil
}

func (r *DealReconciler) contactFor(ctx context.Context, rc *ReconContext) (*domain.Contact, error) {
	if rc.contact != nil {
		return rc.contact, nil
	}
	if rc.Remote.ContactID <= 0 {
		return nil, nil
	}
	contact, err := Materialize[*domain.Contact](ctx, rc.Guard, r.ports.Contacts, rc.Remote.ContactID)
	if err != nil {
		return nil, err
	}
	rc.contact = contact
	return contact, nil
}

func (r *DealReconciler) leadFor(ctx context.Context, rc *ReconContext) (*domain.Lead, error) {
	if rc.lead != nil {
		return rc.lead, nil
	}
	if rc.Remote.LeadID <= 0 {
		return nil, nil
	}
	lead, err := Materialize[*domain.Lead](ctx, rc.Guard, r.ports.Leads, rc.Remote.LeadID)
	if err != nil {
		return nil, err
	}
	rc.lead = lead
	return lead, nil
}

func (r *DealReconciler) invoiceFor(ctx context.Context, rc *ReconContext) (*domain.Invoice, error) {
	if rc.invoice != nil {
		return rc.invoice, nil
	}
	if rc.Remote.InvoiceID <= 0 {
		return nil, nil
	}
	invoice, err := Materialize[*domain.Invoice](ctx, rc.Guard, r.ports.Invoices, rc.Remote.InvoiceID)
	if err != nil {
		return nil, err
	}
	rc.invoice = invoice
	return invoice, nil
}

func (r *DealReconciler) productsFor(ctx context.Context, rc *ReconContext) ([]*domain.ProductRow, error) {
	if rc.productsFetched {
		return rc.products, nil
	}
	products, err := r.remote.ListProducts(ctx, rc.Remote.ID)
	if err != nil {
		return nil, err
	}
	rc.products = products
	rc.productsFetched = true
	return products, nil
}

func (r *DealReconciler) publish(ctx context.Context, fact *domain.Fact) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, fact); err != nil {
		r.tel.Error(ctx, "Failed to publish fact", err,
			semconv.Boel.DealID.Int64(fact.DealID),
			semconv.Boel.FactKind.String(fact.Kind),
		)
	}
}

func (r *DealReconciler) notify(ctx context.Context, userID int64, text string) {
	if r.notifier == nil || userID == 0 {
		return
	}
	// Best-effort: un fallo de notificación nunca aborta la reconciliación.
	if err := r.notifier.Send(ctx, userID, text); err != nil {
		r.tel.Warn(ctx, "Failed to notify owner",
			semconv.Boel.OwnerID.Int64(userID),
			attribute.String("error", err.Error()),
		)
	}
}

// ---------- Escritura combinada ----------

// flush realiza la escritura combinada única de la pasada: primero los campos
// acumulados más el drift no cubierto hacia el remoto, después el upsert de la
// réplica local.
func (r *DealReconciler) flush(ctx context.Context, rc *ReconContext) error {
	if len(rc.Diff) == 0 && rc.Acc.Len() == 0 {
		return nil
	}

	fields := rc.Acc.Fields()
	drift := make(map[string]any)
	for field, values := range rc.Diff {
		if _, covered := fields[field]; covered {
			continue
		}
		if values.Internal == nil {
			continue
		}
		fields[field] = values.Internal
		drift[field] = values.Internal
	}

	if len(fields) > 0 {
		if err := r.remote.UpdateDeal(ctx, rc.Remote.ID, fields); err != nil {
			return err
		}
		r.tel.Info(ctx, "Combined write applied",
			semconv.Boel.DealID.Int64(rc.Remote.ID),
			semconv.Boel.Fields.Int(len(fields)),
		)
	}

	// La réplica local parte del snapshot remoto y absorbe, en este orden, el
	// drift reaplicado y las decisiones de negocio.
	next := *rc.Remote
	applyDealFields(&next, drift)
	applyDealFields(&next, rc.Acc.Fields())

	if rc.Local != nil {
		if err := r.deals.Update(ctx, &next); err != nil {
			if !domain.IsCode(err, domain.ErrCodeLocalNotFound) {
				return err
			}
			return r.deals.Create(ctx, &next)
		}
		return nil
	}
	if err := r.deals.Create(ctx, &next); err != nil {
		if !domain.IsLocalConflict(err) {
			return err
		}
		return r.deals.Update(ctx, &next)
	}
	return nil
}

func stageIndex(stages []string, stageID string) int {
	for i, stage := range stages {
		if stage == stageID {
			return i + 1
		}
	}
	return 0
}

// applyDealFields vuelca un mapa campo→valor con claves del portal sobre la
// réplica.
func applyDealFields(deal *domain.Deal, fields map[string]any) {
	for field, value := range fields {
		switch field {
		case "TITLE":
			deal.Title = asString(value)
		case "OPPORTUNITY":
			if amount, err := decimal.NewFromString(asString(value)); err == nil {
				deal.Amount = amount
			}
		case "CURRENCY_ID":
			deal.CurrencyID = asString(value)
		case "STAGE_ID":
			deal.StageID = asString(value)
		case "CURRENT_STAGE_ID":
			deal.CurrentStageID = asString(value)
		case "STAGE_SEMANTIC_ID":
			deal.StageSemantic = domain.StageSemantic(asString(value))
		case "PROCESSING_STATUS":
			deal.Status = domain.ProcessingStatus(asString(value))
		case "CREATION_SOURCE":
			deal.CreationSource = domain.CreationSource(asString(value))
		case "TYPE_ID":
			deal.TypeID = domain.DealType(asString(value))
		case "SOURCE_ID":
			deal.SourceID = domain.DealSource(asString(value))
		case "IS_FROZEN":
			deal.Frozen = asString(value) == "Y"
		case "IS_MANUAL_SOURCE":
			deal.SourceSetManually = asString(value) == "Y"
		case "ASSIGNED_BY_ID":
			deal.AssignedByID = asInt64(value)
		case "COMPANY_ID":
			deal.CompanyID = asInt64(value)
		case "CONTACT_ID":
			deal.ContactID = asInt64(value)
		case "LEAD_ID":
			deal.LeadID = asInt64(value)
		case "INVOICE_ID":
			deal.InvoiceID = asInt64(value)
		case "CATEGORY_ID":
			deal.CategoryID = asInt64(value)
		case "MAIN_ACTIVITY":
			deal.MainActivity = asString(value)
		case "CITY":
			deal.City = asString(value)
		case "SHIPPING_COMPANY":
			deal.ShippingCompany = asString(value)
		case "PROBABILITY":
			p := int(asInt64(value))
			deal.Probability = &p
		}
	}
}

func asString(value any) string {
	s, _ := value.(string)
	return s
}

func asInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
