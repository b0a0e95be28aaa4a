package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

func advisorInputs() StageInputs {
	return StageInputs{
		Deal: &domain.Deal{
			ID:              1,
			MainActivity:    "heating",
			City:            "Tver",
			ShippingCompany: "Boel Trade",
		},
		Company: &domain.Company{
			ID:        900,
			Phone:     "+7 900 000-00-00",
			Contracts: "Contract No. 1 dated 01.01.2024 - Boel Trade LLC",
		},
		Products: []*domain.ProductRow{{ID: 1, Name: "boiler"}},
	}
}

func TestAdviseFullDataReachesTopStage(t *testing.T) {
	advisor := NewStageAdvisor(AdvisorConfig{})
	advice := advisor.Advise(advisorInputs(), NewUpdateAccumulator())

	assert.Equal(t, 5, advice.Stage)
	assert.Empty(t, advice.Blocked)
}

func TestAdviseMonotonicGating(t *testing.T) {
	advisor := NewStageAdvisor(AdvisorConfig{})

	cases := []struct {
		name   string
		mutate func(in *StageInputs)
		want   int
	}{
		{
			"no communication channel", func(in *StageInputs) {
				in.Company.Phone = ""
				in.Company.Email = ""
				in.Contact = nil
			}, 1,
		},
		{
			"no products", func(in *StageInputs) {
				in.Products = nil
			}, 2,
		},
		{
			"no activity anywhere", func(in *StageInputs) {
				in.Deal.MainActivity = ""
				in.Company.MainActivity = ""
			}, 2,
		},
		{
			"no city anywhere", func(in *StageInputs) {
				in.Deal.City = ""
				in.Company.City = ""
			}, 2,
		},
		{
			"no shipping company", func(in *StageInputs) {
				in.Deal.ShippingCompany = ""
			}, 3,
		},
		{
			"no matching contract", func(in *StageInputs) {
				in.Company.Contracts = "Contract No. 9 dated 01.01.2024 - Severstal"
			}, 4,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := advisorInputs()
			tc.mutate(&in)

			advice := advisor.Advise(in, NewUpdateAccumulator())
			assert.Equal(t, tc.want, advice.Stage)
			assert.NotEmpty(t, advice.Blocked)
		})
	}
}

func TestAdviseCompanyUnresolvableStopsAtThree(t *testing.T) {
	advisor := NewStageAdvisor(AdvisorConfig{})
	in := advisorInputs()
	in.Deal.MainActivity = "heating"
	in.Deal.City = "Tver"
	in.Company = nil
	in.Contact = &domain.Contact{ID: 10, Phone: "+7 900"}

	advice := advisor.Advise(in, NewUpdateAccumulator())
	assert.Equal(t, 3, advice.Stage)
}

func TestAdviseAdoptedFallbacksAreAccumulated(t *testing.T) {
	advisor := NewStageAdvisor(AdvisorConfig{})
	in := advisorInputs()
	in.Deal.MainActivity = ""
	in.Deal.City = ""
	in.Company.MainActivity = "metallurgy"
	in.Company.City = "Cherepovets"
	in.CompanyAdopted = true

	acc := NewUpdateAccumulator()
	advice := advisor.Advise(in, acc)

	assert.Equal(t, 5, advice.Stage)
	fields := acc.Fields()
	assert.Equal(t, "metallurgy", fields["MAIN_ACTIVITY"])
	assert.Equal(t, "Cherepovets", fields["CITY"])
	assert.Equal(t, int64(900), fields["COMPANY_ID"])
}

func TestAdviseNoContractExemption(t *testing.T) {
	advisor := NewStageAdvisor(AdvisorConfig{
		NoContractEntities: []string{"Self Pickup LLC"},
	})
	in := advisorInputs()
	in.Deal.ShippingCompany = "Self Pickup"
	in.Company.Contracts = ""

	advice := advisor.Advise(in, NewUpdateAccumulator())
	assert.Equal(t, 5, advice.Stage)
}

func TestAdviseOfferExemptionRequiresOffer(t *testing.T) {
	advisor := NewStageAdvisor(AdvisorConfig{
		OfferEntities: []string{"Severstal"},
	})
	in := advisorInputs()
	in.Deal.ShippingCompany = "Severstal"

	// Sin oferta registrada no alcanza.
	in.Company.Contracts = ""
	advice := advisor.Advise(in, NewUpdateAccumulator())
	assert.Equal(t, 4, advice.Stage)

	// Con oferta, la exención de prepago habilita la etapa final.
	in.Company.Contracts = "offer №3 - Severstal"
	advice = advisor.Advise(in, NewUpdateAccumulator())
	assert.Equal(t, 5, advice.Stage)
}
