package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

// stubCompanyPort puerto de empresa con remoto y almacén local en memoria.
type stubCompanyPort struct {
	remote map[int64]*domain.Company
	local  map[int64]*domain.Company

	remoteCalls int
	createErr   error

	// onFetchRemote hook para simular recursión durante la materialización.
	onFetchRemote func(ctx context.Context, id int64)
}

func newStubCompanyPort() *stubCompanyPort {
	return &stubCompanyPort{
		remote: make(map[int64]*domain.Company),
		local:  make(map[int64]*domain.Company),
	}
}

func (p *stubCompanyPort) FetchRemote(ctx context.Context, id int64) (*domain.Company, error) {
	p.remoteCalls++
	if p.onFetchRemote != nil {
		p.onFetchRemote(ctx, id)
	}
	company, ok := p.remote[id]
	if !ok {
		return nil, domain.NewError(domain.ErrCodeRemoteNotFound, "company not found upstream")
	}
	return company, nil
}

func (p *stubCompanyPort) FetchLocal(ctx context.Context, id int64) (*domain.Company, bool, error) {
	company, ok := p.local[id]
	return company, ok, nil
}

func (p *stubCompanyPort) CreateLocal(ctx context.Context, company *domain.Company) error {
	if p.createErr != nil {
		return p.createErr
	}
	if _, exists := p.local[company.ID]; exists {
		return domain.NewError(domain.ErrCodeLocalConflict, "company row already exists")
	}
	p.local[company.ID] = company
	return nil
}

func (p *stubCompanyPort) UpdateLocal(ctx context.Context, company *domain.Company) error {
	if _, exists := p.local[company.ID]; !exists {
		return domain.NewError(domain.ErrCodeLocalNotFound, "company row missing")
	}
	p.local[company.ID] = company
	return nil
}

func (p *stubCompanyPort) Placeholder(id int64) *domain.Company {
	return &domain.Company{ID: id, Deleted: true}
}

func TestMaterializeReturnsExistingLocal(t *testing.T) {
	port := newStubCompanyPort()
	port.local[900] = &domain.Company{ID: 900, Title: "cached"}

	company, err := Materialize[*domain.Company](context.Background(), NewCreationGuard(), port, 900)
	require.NoError(t, err)
	assert.Equal(t, "cached", company.Title)
	assert.Zero(t, port.remoteCalls, "local hit must not touch the remote")
}

func TestMaterializeCreatesFromRemote(t *testing.T) {
	port := newStubCompanyPort()
	port.remote[900] = &domain.Company{ID: 900, Title: "Boel Trade"}

	company, err := Materialize[*domain.Company](context.Background(), NewCreationGuard(), port, 900)
	require.NoError(t, err)
	assert.Equal(t, "Boel Trade", company.Title)
	assert.Contains(t, port.local, int64(900))
}

func TestMaterializeRemoteNotFoundYieldsPlaceholder(t *testing.T) {
	port := newStubCompanyPort()

	company, err := Materialize[*domain.Company](context.Background(), NewCreationGuard(), port, 901)
	require.NoError(t, err)
	assert.True(t, company.Deleted)
	assert.True(t, port.local[901].Deleted, "placeholder must be persisted")
}

func TestMaterializeCreateConflictBecomesUpdate(t *testing.T) {
	port := newStubCompanyPort()
	port.remote[900] = &domain.Company{ID: 900, Title: "fresh"}
	port.local[900] = &domain.Company{ID: 900, Title: "stale"}
	port.createErr = domain.NewError(domain.ErrCodeLocalConflict, "company row already exists")

	// Simula la carrera: el FetchLocal inicial no ve la fila.
	stale := port.local
	port.local = map[int64]*domain.Company{}
	port.onFetchRemote = func(ctx context.Context, id int64) { port.local = stale }

	company, err := Materialize[*domain.Company](context.Background(), NewCreationGuard(), port, 900)
	require.NoError(t, err)
	assert.Equal(t, "fresh", company.Title)
	assert.Equal(t, "fresh", port.local[900].Title)
}

func TestMaterializeCycleShortCircuitsToPlaceholder(t *testing.T) {
	port := newStubCompanyPort()
	guard := NewCreationGuard()

	// El fetch remoto de la empresa dispara, dentro de la misma pasada, una
	// nueva materialización de la misma empresa.
	var nested *domain.Company
	port.onFetchRemote = func(ctx context.Context, id int64) {
		inner, err := Materialize[*domain.Company](ctx, guard, port, id)
		require.NoError(t, err)
		nested = inner
	}
	port.remote[900] = &domain.Company{ID: 900, Title: "real"}

	company, err := Materialize[*domain.Company](context.Background(), guard, port, 900)
	require.NoError(t, err)

	require.NotNil(t, nested)
	assert.True(t, nested.Deleted, "re-entrant request must get a placeholder, not recurse")
	assert.Equal(t, "real", company.Title)
	assert.Equal(t, 1, port.remoteCalls)
}

func TestMaterializeRejectsNonPositiveID(t *testing.T) {
	port := newStubCompanyPort()

	_, err := Materialize[*domain.Company](context.Background(), NewCreationGuard(), port, 0)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeValidation))
}
