package internal

import (
	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

// AdvisorConfig parámetros de progresión de etapa.
type AdvisorConfig struct {
	// DefaultShippingEntity entidad de envío que habilita el lookup de
	// empresa por defecto del responsable.
	DefaultShippingEntity string

	// NoContractEntities entidades de envío exentas de contrato.
	NoContractEntities []string

	// OfferEntities entidades de envío bajo prepago que aceptan una oferta
	// en lugar de un contrato firmado.
	OfferEntities []string
}

// StageInputs datos resueltos de la pasada con los que el asesor decide.
//
// Company es la empresa resuelta (directa, vía contacto o empresa por defecto
// del responsable). CompanyAdopted indica que no vino del propio deal y debe
// persistirse si el gate 3→4 la consume.
type StageInputs struct {
	Deal           *domain.Deal
	Company        *domain.Company
	CompanyAdopted bool
	Contact        *domain.Contact
	Products       []*domain.ProductRow
}

// StageAdvice resultado del asesor.
type StageAdvice struct {
	// Stage máxima etapa admisible (1..5).
	Stage int

	// Blocked condición no cumplida que frenó la etapa siguiente
	// ("" cuando Stage == 5).
	Blocked string
}

// maxStage tope de la progresión por completitud de datos.
const maxStage = 5

// StageAdvisor computa la máxima etapa que un deal puede ocupar legítimamente
// según la completitud de sus datos. Corta en la primera condición no
// cumplida; nunca fuerza un ascenso.
type StageAdvisor struct {
	cfg AdvisorConfig
}

// NewStageAdvisor crea el asesor de etapa.
func NewStageAdvisor(cfg AdvisorConfig) *StageAdvisor {
	return &StageAdvisor{cfg: cfg}
}

// Advise evalúa los gates 1→2..4→5 en orden.
//
// Efecto colateral: todo valor adoptado desde una entidad relacionada
// (actividad, ciudad, empresa) se registra en el acumulador para persistirse,
// no sólo usarse de forma transitoria.
func (a *StageAdvisor) Advise(in StageInputs, acc *UpdateAccumulator) StageAdvice {
	deal := in.Deal

	// 1→2: algún canal de comunicación en empresa o contacto.
	hasChannel := (in.Company != nil && in.Company.HasChannel()) ||
		(in.Contact != nil && in.Contact.HasChannel())
	if !hasChannel {
		return StageAdvice{Stage: 1, Blocked: "no communication channel on company or contact"}
	}

	// 2→3: al menos una línea de producto, actividad y ciudad resolubles.
	if len(in.Products) == 0 {
		return StageAdvice{Stage: 2, Blocked: "no product line items"}
	}
	activity := deal.MainActivity
	if activity == "" && in.Company != nil {
		activity = in.Company.MainActivity
		if activity != "" {
			acc.SetIfAbsent("MAIN_ACTIVITY", activity)
		}
	}
	if activity == "" {
		return StageAdvice{Stage: 2, Blocked: "main activity not resolvable"}
	}
	city := deal.City
	if city == "" && in.Company != nil {
		city = in.Company.City
		if city != "" {
			acc.SetIfAbsent("CITY", city)
		}
	}
	if city == "" {
		return StageAdvice{Stage: 2, Blocked: "city not resolvable"}
	}

	// 3→4: empresa resoluble y entidad de envío definida.
	if in.Company == nil || in.Company.Deleted {
		return StageAdvice{Stage: 3, Blocked: "company not resolvable"}
	}
	if in.CompanyAdopted {
		acc.SetIfAbsent("COMPANY_ID", in.Company.ID)
	}
	if deal.ShippingCompany == "" {
		return StageAdvice{Stage: 3, Blocked: "shipping company not set"}
	}

	// 4→5: contrato firmado con la entidad de envío, o una exención.
	if !a.agreementSatisfied(in.Company, deal.ShippingCompany) {
		return StageAdvice{Stage: 4, Blocked: "no signed contract with shipping company"}
	}

	return StageAdvice{Stage: maxStage}
}

func (a *StageAdvisor) agreementSatisfied(company *domain.Company, shipping string) bool {
	if containsFirm(a.cfg.NoContractEntities, shipping) {
		return true
	}
	if _, ok := FindAgreement(company.Contracts, shipping, ContractSigned); ok {
		return true
	}
	if containsFirm(a.cfg.OfferEntities, shipping) {
		_, ok := FindAgreement(company.Contracts, shipping, ContractOffer)
		return ok
	}
	return false
}

func containsFirm(firms []string, name string) bool {
	for _, firm := range firms {
		if normalizeFirm(firm) == normalizeFirm(name) && normalizeFirm(name) != "" {
			return true
		}
	}
	return false
}
