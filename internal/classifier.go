package internal

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/semconv"
)

// ClassifierConfig parámetros del clasificador de fuente.
type ClassifierConfig struct {
	// ForeignTradeOwnerID responsable cuyo portafolio es comercio exterior.
	ForeignTradeOwnerID int64

	// SiteBotOwnerID usuario técnico que crea deals desde el sitio.
	SiteBotOwnerID int64

	// ExistingClientDays antigüedad mínima de la empresa, en días, para
	// clasificar como cliente existente.
	ExistingClientDays int
}

// Classification resultado del clasificador: primer match de la lista de
// decisión.
type Classification struct {
	CreationSource domain.CreationSource
	Type           domain.DealType
	Source         domain.DealSource
}

// UserDirectory consulta de usuarios del CRM para la regla de reasignación.
type UserDirectory interface {
	// IsActiveManager indica si el usuario existe y está activo.
	IsActiveManager(ctx context.Context, id int64) (bool, error)
}

// SourceClassifier infiere (creationSource, type, source) de un deal a partir
// de sus atributos, su lead de origen y su empresa.
type SourceClassifier struct {
	cfg   ClassifierConfig
	users UserDirectory
	tel   *telemetry.Client
}

// NewSourceClassifier crea el clasificador.
func NewSourceClassifier(cfg ClassifierConfig, users UserDirectory, tel *telemetry.Client) *SourceClassifier {
	if cfg.ExistingClientDays <= 0 {
		cfg.ExistingClientDays = 14
	}
	return &SourceClassifier{cfg: cfg, users: users, tel: tel}
}

// Marcadores de texto sobre el lead. Los títulos vienen del CRM tal cual los
// escribió la integración o el operador.
var (
	marketplaceMarkerRe  = regexp.MustCompile(`(?i)\b(ozon|wildberries|marketplace)\b`)
	campaignMarkerRe     = regexp.MustCompile(`(?i)\b(campaign|promo|advert)\b`)
	orderIDMarkerRe      = regexp.MustCompile(`(?i)\border\s*(?:no\.?|№|#)?\s*\d+`)
	callMentionRe        = regexp.MustCompile(`(?i)\bcall\b`)
	incomingCallMarkerRe = regexp.MustCompile(`(?i)\bincoming\s+call\b`)
	chatMarkerRe         = regexp.MustCompile(`(?i)\b(chat|widget)\b`)
	utmMarkerRe          = regexp.MustCompile(`(?i)\butm_(source|medium|campaign|term|content)=`)
)

// leadSourceWebForm valor de SourceID del CRM para leads de formulario web.
const leadSourceWebForm = "WEB"

// Classify evalúa la lista de decisión de arriba hacia abajo y retorna el
// primer match.
//
// lead y company pueden ser nil (no vinculados o no materializables).
func (c *SourceClassifier) Classify(ctx context.Context, deal *domain.Deal, lead *domain.Lead, company *domain.Company) Classification {
	baseType := domain.TypeDirectSales
	if deal.AssignedByID == c.cfg.ForeignTradeOwnerID && c.cfg.ForeignTradeOwnerID != 0 {
		baseType = domain.TypeForeignTrade
	}

	if lead != nil && !lead.Deleted {
		if cls, ok := c.classifyByLead(lead, baseType); ok {
			c.tel.Debug(ctx, "Deal classified by lead",
				semconv.Boel.DealID.Int64(deal.ID),
				semconv.Boel.Source.String(string(cls.Source)),
				attribute.Int64("lead_id", lead.ID),
			)
			return cls
		}
	}

	// Fallback por antigüedad de la empresa.
	source := domain.SourceNewClient
	if company != nil && !company.Deleted && !company.CreatedAt.IsZero() {
		age := deal.CreatedAt.Sub(company.CreatedAt)
		if age > time.Duration(c.cfg.ExistingClientDays)*24*time.Hour {
			source = domain.SourceExistingClient
		}
	}
	return Classification{
		CreationSource: domain.CreationManual,
		Type:           baseType,
		Source:         source,
	}
}

func (c *SourceClassifier) classifyByLead(lead *domain.Lead, baseType domain.DealType) (Classification, bool) {
	auto := func(source domain.DealSource) (Classification, bool) {
		return Classification{
			CreationSource: domain.CreationAuto,
			Type:           baseType,
			Source:         source,
		}, true
	}

	switch {
	case marketplaceMarkerRe.MatchString(lead.Title):
		return auto(domain.SourceMarketplace)
	case campaignMarkerRe.MatchString(lead.Title):
		return auto(domain.SourceOnlineSales)
	case strings.EqualFold(lead.SourceID, leadSourceWebForm):
		return auto(domain.SourceOnlineForm)
	case orderIDMarkerRe.MatchString(lead.Title):
		return auto(domain.SourceSiteOrder)
	case lead.CallTrackingID != "":
		if callMentionRe.MatchString(lead.Title) {
			return auto(domain.SourceIncomingCall)
		}
		return auto(domain.SourceCall)
	case incomingCallMarkerRe.MatchString(lead.Title):
		return auto(domain.SourceIncomingCall)
	case lead.OriginID != "":
		return auto(domain.SourceEmail)
	case c.cfg.SiteBotOwnerID != 0 && lead.CreatedByID == c.cfg.SiteBotOwnerID:
		return auto(domain.SourceWebsite)
	case chatMarkerRe.MatchString(lead.Title):
		return auto(domain.SourceWebsite)
	case utmMarkerRe.MatchString(lead.Comments):
		return auto(domain.SourceWebsite)
	default:
		return Classification{}, false
	}
}

// ReassignTarget aplica la regla de reasignación de responsable.
//
// Retorna el id del nuevo responsable, o 0 si el actual se conserva.
// localExists indica si la réplica local ya estaba materializada antes de
// esta pasada.
func (c *SourceClassifier) ReassignTarget(ctx context.Context, deal *domain.Deal, cls Classification, localExists bool) (int64, error) {
	if c.cfg.SiteBotOwnerID == 0 || deal.AssignedByID == c.cfg.SiteBotOwnerID {
		return 0, nil
	}

	if cls.CreationSource == domain.CreationAuto && cls.Source == domain.SourceOnlineSales && !localExists {
		return c.cfg.SiteBotOwnerID, nil
	}

	if c.users == nil {
		return 0, nil
	}
	active, err := c.users.IsActiveManager(ctx, deal.AssignedByID)
	if err != nil {
		return 0, err
	}
	if !active {
		c.tel.Info(ctx, "Reassigning deal from inactive manager",
			semconv.Boel.DealID.Int64(deal.ID),
			semconv.Boel.OwnerID.Int64(deal.AssignedByID),
		)
		return c.cfg.SiteBotOwnerID, nil
	}
	return 0, nil
}
