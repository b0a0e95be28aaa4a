package internal

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

// ---------- Stubs ----------

type stubRemote struct {
	deals     map[int64]*domain.Deal
	invoices  map[int64]*domain.Invoice
	companies map[int64]*domain.Company
	contacts  map[int64]*domain.Contact
	leads     map[int64]*domain.Lead
	products  map[int64][]*domain.ProductRow

	dealUpdates    []map[string]any
	invoiceUpdates []map[string]any
}

func newStubRemote() *stubRemote {
	return &stubRemote{
		deals:     make(map[int64]*domain.Deal),
		invoices:  make(map[int64]*domain.Invoice),
		companies: make(map[int64]*domain.Company),
		contacts:  make(map[int64]*domain.Contact),
		leads:     make(map[int64]*domain.Lead),
		products:  make(map[int64][]*domain.ProductRow),
	}
}

func (s *stubRemote) GetDeal(ctx context.Context, id int64) (*domain.Deal, error) {
	deal, ok := s.deals[id]
	if !ok {
		return nil, domain.NewError(domain.ErrCodeRemoteNotFound, "deal not found upstream")
	}
	copied := *deal
	return &copied, nil
}

func (s *stubRemote) UpdateDeal(ctx context.Context, id int64, fields map[string]any) error {
	s.dealUpdates = append(s.dealUpdates, fields)
	return nil
}

func (s *stubRemote) ListDeals(ctx context.Context, filter map[string]any, sel []string, cursor string) ([]*domain.Deal, string, error) {
	return nil, "", nil
}

func (s *stubRemote) GetCompany(ctx context.Context, id int64) (*domain.Company, error) {
	if c, ok := s.companies[id]; ok {
		return c, nil
	}
	return nil, domain.NewError(domain.ErrCodeRemoteNotFound, "company not found upstream")
}

func (s *stubRemote) GetContact(ctx context.Context, id int64) (*domain.Contact, error) {
	if c, ok := s.contacts[id]; ok {
		return c, nil
	}
	return nil, domain.NewError(domain.ErrCodeRemoteNotFound, "contact not found upstream")
}

func (s *stubRemote) GetLead(ctx context.Context, id int64) (*domain.Lead, error) {
	if l, ok := s.leads[id]; ok {
		return l, nil
	}
	return nil, domain.NewError(domain.ErrCodeRemoteNotFound, "lead not found upstream")
}

func (s *stubRemote) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	if i, ok := s.invoices[id]; ok {
		return i, nil
	}
	return nil, domain.NewError(domain.ErrCodeRemoteNotFound, "invoice not found upstream")
}

func (s *stubRemote) UpdateInvoice(ctx context.Context, id int64, fields map[string]any) error {
	s.invoiceUpdates = append(s.invoiceUpdates, fields)
	return nil
}

func (s *stubRemote) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return &domain.User{ID: id, Active: true}, nil
}

func (s *stubRemote) ListProducts(ctx context.Context, dealID int64) ([]*domain.ProductRow, error) {
	return s.products[dealID], nil
}

type stubDealRepo struct {
	rows map[int64]*domain.Deal
}

func newStubDealRepo() *stubDealRepo {
	return &stubDealRepo{rows: make(map[int64]*domain.Deal)}
}

func (r *stubDealRepo) Get(ctx context.Context, id int64) (*domain.Deal, bool, error) {
	deal, ok := r.rows[id]
	if !ok {
		return nil, false, nil
	}
	copied := *deal
	return &copied, true, nil
}

func (r *stubDealRepo) Create(ctx context.Context, deal *domain.Deal) error {
	if _, exists := r.rows[deal.ID]; exists {
		return domain.NewError(domain.ErrCodeLocalConflict, "deal row already exists")
	}
	r.rows[deal.ID] = deal
	return nil
}

func (r *stubDealRepo) Update(ctx context.Context, deal *domain.Deal) error {
	if _, exists := r.rows[deal.ID]; !exists {
		return domain.NewError(domain.ErrCodeLocalNotFound, "deal row missing")
	}
	r.rows[deal.ID] = deal
	return nil
}

func (r *stubDealRepo) ListOpenForStatus(ctx context.Context, stages []string) ([]*domain.Deal, error) {
	var out []*domain.Deal
	for _, deal := range r.rows {
		out = append(out, deal)
	}
	return out, nil
}

func (r *stubDealRepo) BulkUpdateStatus(ctx context.Context, statuses map[int64]domain.ProcessingStatus) error {
	for id, status := range statuses {
		if deal, ok := r.rows[id]; ok {
			deal.Status = status
		}
	}
	return nil
}

// stubEntityPort puerto genérico con remoto y almacén local en memoria.
type stubEntityPort[T domain.Entity] struct {
	remote      map[int64]T
	local       map[int64]T
	placeholder func(id int64) T
}

func newStubEntityPort[T domain.Entity](placeholder func(id int64) T) *stubEntityPort[T] {
	return &stubEntityPort[T]{
		remote:      make(map[int64]T),
		local:       make(map[int64]T),
		placeholder: placeholder,
	}
}

func (p *stubEntityPort[T]) FetchRemote(ctx context.Context, id int64) (T, error) {
	if entity, ok := p.remote[id]; ok {
		return entity, nil
	}
	var zero T
	return zero, domain.NewError(domain.ErrCodeRemoteNotFound, "entity not found upstream")
}

func (p *stubEntityPort[T]) FetchLocal(ctx context.Context, id int64) (T, bool, error) {
	entity, ok := p.local[id]
	return entity, ok, nil
}

func (p *stubEntityPort[T]) CreateLocal(ctx context.Context, entity T) error {
	if _, exists := p.local[entity.EntityID()]; exists {
		return domain.NewError(domain.ErrCodeLocalConflict, "row already exists")
	}
	p.local[entity.EntityID()] = entity
	return nil
}

func (p *stubEntityPort[T]) UpdateLocal(ctx context.Context, entity T) error {
	p.local[entity.EntityID()] = entity
	return nil
}

func (p *stubEntityPort[T]) Placeholder(id int64) T { return p.placeholder(id) }

type stubPublisher struct {
	facts []*domain.Fact
}

func (p *stubPublisher) Publish(ctx context.Context, fact *domain.Fact) error {
	p.facts = append(p.facts, fact)
	return nil
}

type stubNotifier struct {
	sent []string
	to   []int64
}

func (n *stubNotifier) Send(ctx context.Context, userID int64, text string) error {
	n.to = append(n.to, userID)
	n.sent = append(n.sent, text)
	return nil
}

type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ---------- Fixture ----------

type reconFixture struct {
	remote    *stubRemote
	deals     *stubDealRepo
	companies *stubEntityPort[*domain.Company]
	contacts  *stubEntityPort[*domain.Contact]
	leads     *stubEntityPort[*domain.Lead]
	invoices  *stubEntityPort[*domain.Invoice]
	publisher *stubPublisher
	notifier  *stubNotifier

	reconciler *DealReconciler
}

func newReconFixture() *reconFixture {
	f := &reconFixture{
		remote: newStubRemote(),
		deals:  newStubDealRepo(),
		companies: newStubEntityPort(func(id int64) *domain.Company {
			return &domain.Company{ID: id, Deleted: true}
		}),
		contacts: newStubEntityPort(func(id int64) *domain.Contact {
			return &domain.Contact{ID: id, Deleted: true}
		}),
		leads: newStubEntityPort(func(id int64) *domain.Lead {
			return &domain.Lead{ID: id, Deleted: true}
		}),
		invoices: newStubEntityPort(func(id int64) *domain.Invoice {
			return &domain.Invoice{ID: id, Deleted: true}
		}),
		publisher: &stubPublisher{},
		notifier:  &stubNotifier{},
	}

	classifier := NewSourceClassifier(ClassifierConfig{
		ForeignTradeOwnerID: 77,
		SiteBotOwnerID:      5,
		ExistingClientDays:  14,
	}, nil, nil)

	f.reconciler = NewDealReconciler(
		f.remote,
		f.deals,
		EntityPorts{
			Companies: f.companies,
			Contacts:  f.contacts,
			Leads:     f.leads,
			Invoices:  f.invoices,
		},
		passLocker{},
		NewChangeDetector(),
		classifier,
		NewStageAdvisor(AdvisorConfig{}),
		nil,
		f.publisher,
		f.notifier,
		ReconcilerConfig{
			Stages:           []string{"C1:NEW", "C1:STAGE_2", "C1:STAGE_3", "C1:STAGE_4", "C1:FINAL"},
			InitialStage:     "C1:NEW",
			InvoiceFailStage: "D:FAILED",
		},
		nil,
		nil,
	)
	return f
}

// ---------- Escenarios ----------

func TestReconcileFrozenWritesOnlyDriftedField(t *testing.T) {
	f := newReconFixture()

	remote := &domain.Deal{
		ID:            4242,
		Title:         "renamed upstream",
		Amount:        decimal.NewFromInt(100),
		StageID:       "C1:STAGE_3",
		StageSemantic: domain.SemanticProspective,
		Frozen:        true,
	}
	local := *remote
	local.Title = "frozen title"
	f.remote.deals[4242] = remote
	f.deals.rows[4242] = &local

	err := f.reconciler.Reconcile(context.Background(), 4242)
	require.NoError(t, err)

	// Un único campo de drift reescrito al remoto, verbatim desde la réplica.
	require.Len(t, f.remote.dealUpdates, 1)
	assert.Equal(t, map[string]any{"TITLE": "frozen title"}, f.remote.dealUpdates[0])

	// Sin lógica de etapa: ni notificaciones ni hechos publicados.
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.publisher.facts)
}

func TestReconcileFailedMovesExportedInvoiceAndRetracts(t *testing.T) {
	f := newReconFixture()

	f.remote.deals[4242] = &domain.Deal{
		ID:             4242,
		Title:          "lost deal",
		StageID:        "C1:STAGE_4",
		CurrentStageID: "C1:STAGE_3",
		StageSemantic:  domain.SemanticFail,
		InvoiceID:      33,
		AssignedByID:   17,
	}
	f.invoices.local[33] = &domain.Invoice{
		ID:       33,
		DealID:   4242,
		StageID:  "N:NEW",
		Exported: true,
	}

	err := f.reconciler.Reconcile(context.Background(), 4242)
	require.NoError(t, err)

	// La factura se mueve a la etapa canónica de fallo, remoto y local.
	require.Len(t, f.remote.invoiceUpdates, 1)
	assert.Equal(t, map[string]any{"STATUS_ID": "D:FAILED"}, f.remote.invoiceUpdates[0])
	assert.Equal(t, "D:FAILED", f.invoices.local[33].StageID)

	// La factura ya estaba exportada: se emite la retracción.
	require.Len(t, f.publisher.facts, 1)
	assert.Equal(t, "invoice.retract", f.publisher.facts[0].Kind)
	assert.Equal(t, int64(33), f.publisher.facts[0].InvoiceID)

	// current-stage registrado.
	require.Len(t, f.remote.dealUpdates, 1)
	assert.Equal(t, "C1:STAGE_4", f.remote.dealUpdates[0]["CURRENT_STAGE_ID"])
}

func TestReconcileFailedInvoiceAlreadyFailedIsIdempotent(t *testing.T) {
	f := newReconFixture()

	f.remote.deals[4242] = &domain.Deal{
		ID:             4242,
		StageID:        "C1:STAGE_4",
		CurrentStageID: "C1:STAGE_4",
		StageSemantic:  domain.SemanticFail,
		InvoiceID:      33,
	}
	f.invoices.local[33] = &domain.Invoice{
		ID: 33, DealID: 4242, StageID: "D:FAILED", Exported: true,
	}

	err := f.reconciler.Reconcile(context.Background(), 4242)
	require.NoError(t, err)

	assert.Empty(t, f.remote.invoiceUpdates)
	assert.Empty(t, f.publisher.facts, "no retract on an already failed invoice")
}

func TestReconcileNoInvoiceDowngradesIncompleteStage(t *testing.T) {
	f := newReconFixture()

	f.remote.deals[4242] = &domain.Deal{
		ID:            4242,
		Title:         "deal in stage 3",
		StageID:       "C1:STAGE_3",
		StageSemantic: domain.SemanticProspective,
		AssignedByID:  17,
		CompanyID:     900,
	}
	f.companies.local[900] = &domain.Company{
		ID: 900, Phone: "+7 900", MainActivity: "heating", City: "Tver",
	}
	f.deals.rows[4242] = &domain.Deal{
		ID: 4242, StageID: "C1:STAGE_3", StageSemantic: domain.SemanticProspective,
		AssignedByID: 17, CompanyID: 900, Title: "deal in stage 3",
	}
	// Sin líneas de producto: el asesor frena en la etapa 2.

	err := f.reconciler.Reconcile(context.Background(), 4242)
	require.NoError(t, err)

	require.Len(t, f.remote.dealUpdates, 1)
	update := f.remote.dealUpdates[0]
	assert.Equal(t, "C1:STAGE_2", update["STAGE_ID"])

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, int64(17), f.notifier.to[0])
	assert.Contains(t, f.notifier.sent[0], "no product line items")

	assert.Equal(t, "C1:STAGE_2", f.deals.rows[4242].StageID)
}

func TestReconcileNoInvoiceNeverForcesUpgrade(t *testing.T) {
	f := newReconFixture()

	f.remote.deals[4242] = &domain.Deal{
		ID:              4242,
		Title:           "complete but early",
		StageID:         "C1:NEW",
		StageSemantic:   domain.SemanticProspective,
		AssignedByID:    17,
		CompanyID:       900,
		MainActivity:    "heating",
		City:            "Tver",
		ShippingCompany: "Boel Trade",
	}
	f.companies.local[900] = &domain.Company{
		ID: 900, Phone: "+7 900",
		Contracts: "Contract No. 1 dated 01.01.2024 - Boel Trade LLC",
	}
	f.remote.products[4242] = []*domain.ProductRow{{ID: 1, Name: "boiler"}}
	f.deals.rows[4242] = f.remote.deals[4242]

	err := f.reconciler.Reconcile(context.Background(), 4242)
	require.NoError(t, err)

	for _, update := range f.remote.dealUpdates {
		_, moved := update["STAGE_ID"]
		assert.False(t, moved, "data completeness must not auto-advance the stage")
	}
	assert.Empty(t, f.notifier.sent)
}

func TestReconcileSpuriousSiteStageIsNormalized(t *testing.T) {
	f := newReconFixture()
	f.reconciler.cfg.SpuriousSiteStage = "C1:PREPARATION"
	f.reconciler.cfg.SiteBotOwnerID = 5

	f.remote.deals[4242] = &domain.Deal{
		ID:            4242,
		Title:         "Order #10482",
		StageID:       "C1:PREPARATION",
		StageSemantic: domain.SemanticProspective,
		AssignedByID:  5,
	}

	err := f.reconciler.Reconcile(context.Background(), 4242)
	require.NoError(t, err)

	require.NotEmpty(t, f.remote.dealUpdates)
	assert.Equal(t, "C1:NEW", f.remote.dealUpdates[0]["STAGE_ID"])
}

func TestReconcileHasInvoiceAlignsCompanyAndHandsOff(t *testing.T) {
	f := newReconFixture()

	f.remote.deals[4242] = &domain.Deal{
		ID:            4242,
		Title:         "invoiced deal",
		StageID:       "C1:STAGE_4",
		StageSemantic: domain.SemanticProspective,
		InvoiceID:     33,
		CompanyID:     900,
	}
	f.invoices.local[33] = &domain.Invoice{
		ID: 33, DealID: 4242, CompanyID: 901, StageID: "N:PAID",
	}

	err := f.reconciler.Reconcile(context.Background(), 4242)
	require.NoError(t, err)

	// La empresa de la factura manda sobre la del deal.
	require.Len(t, f.remote.dealUpdates, 1)
	assert.Equal(t, int64(901), f.remote.dealUpdates[0]["COMPANY_ID"])
	assert.Equal(t, int64(901), f.deals.rows[4242].CompanyID)

	// Referencia de factura recién conocida: handoff downstream.
	require.Len(t, f.publisher.facts, 1)
	assert.Equal(t, "invoice.handoff", f.publisher.facts[0].Kind)
}

func TestReconcileRemoteNotFoundMaterializesPlaceholder(t *testing.T) {
	f := newReconFixture()

	err := f.reconciler.Reconcile(context.Background(), 999)
	require.NoError(t, err)

	row, ok := f.deals.rows[999]
	require.True(t, ok)
	assert.True(t, row.Deleted)
}

func TestHandleWebhookRunsUnderDealLock(t *testing.T) {
	f := newReconFixture()
	f.remote.deals[4242] = &domain.Deal{
		ID: 4242, StageID: "C1:NEW", StageSemantic: domain.SemanticProspective,
	}

	err := f.reconciler.HandleWebhook(context.Background(), &WebhookPayload{
		Event:  "ONCRMDEALUPDATE",
		DealID: 4242,
	})
	require.NoError(t, err)
}
