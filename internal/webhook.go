package internal

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/metricbundle"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/semconv"
)

// WebhookConfig configuración de admisión de webhooks.
type WebhookConfig struct {
	// AllowedEvents nombres de evento admitidos (p.ej. ONCRMDEALUPDATE).
	AllowedEvents []string

	// TokenPortals mapea token de aplicación → dominio de portal esperado.
	TokenPortals map[string]string

	// MaxAge antigüedad máxima admitida del timestamp embebido.
	MaxAge time.Duration
}

// maxClockSkew desfase de reloj tolerado para timestamps adelantados.
const maxClockSkew = time.Minute

// WebhookPayload notificación validada y tipada.
type WebhookPayload struct {
	Event     string
	DealID    int64
	Portal    string
	Timestamp time.Time

	// Raw cuerpo anidado completo, por si un handler necesita campos extra.
	Raw map[string]any
}

// WebhookGateway valida y tipa las notificaciones entrantes del portal.
//
// Sin efectos colaterales más allá del logging: todo rechazo ocurre antes de
// tomar ningún lock.
type WebhookGateway struct {
	cfg     WebhookConfig
	tel     *telemetry.Client
	metrics *metricbundle.SyncMetrics
	clock   func() time.Time
}

// NewWebhookGateway crea el gateway de webhooks.
func NewWebhookGateway(cfg WebhookConfig, tel *telemetry.Client, metrics *metricbundle.SyncMetrics) *WebhookGateway {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 300 * time.Second
	}
	return &WebhookGateway{
		cfg:     cfg,
		tel:     tel,
		metrics: metrics,
		clock:   time.Now,
	}
}

// Process parsea y valida un cuerpo form-encoded aplanado.
//
// Orden de validación:
//  1. evento en el allow-list (ValidationError)
//  2. token de aplicación mapea al portal esperado (SecurityError)
//  3. timestamp dentro de la ventana de frescura (SecurityError)
func (g *WebhookGateway) Process(ctx context.Context, form url.Values) (*WebhookPayload, error) {
	body := NestForm(form)

	event, _ := stringAt(body, "event")
	if event == "" {
		g.reject(ctx, "", "missing event")
		return nil, domain.NewError(domain.ErrCodeValidation, "missing event name")
	}
	if !g.eventAllowed(event) {
		g.reject(ctx, event, "event not allowed")
		return nil, domain.NewError(domain.ErrCodeValidation, "event not allowed").
			WithDetail("event", event)
	}

	token, _ := stringAt(body, "auth", "application_token")
	portal, _ := stringAt(body, "auth", "domain")
	expected, known := g.cfg.TokenPortals[token]
	if !known || expected != portal {
		g.reject(ctx, event, "token/portal mismatch")
		return nil, domain.NewError(domain.ErrCodeSecurity, "application token does not match portal").
			WithDetail("portal", portal)
	}

	tsRaw, _ := stringAt(body, "ts")
	tsUnix, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		g.reject(ctx, event, "bad timestamp")
		return nil, domain.NewError(domain.ErrCodeSecurity, "malformed timestamp").
			WithDetail("ts", tsRaw)
	}
	ts := time.Unix(tsUnix, 0)
	age := g.clock().Sub(ts)
	if age > g.cfg.MaxAge {
		g.reject(ctx, event, "stale payload")
		return nil, domain.NewError(domain.ErrCodeSecurity, "payload too old").
			WithDetail("age", age.String()).
			WithDetail("max_age", g.cfg.MaxAge.String())
	}
	// Un timestamp adelantado más allá del desfase de reloj tolerado es tan
	// sospechoso como uno vencido.
	if age < -maxClockSkew {
		g.reject(ctx, event, "future payload")
		return nil, domain.NewError(domain.ErrCodeSecurity, "payload timestamp in the future").
			WithDetail("age", age.String()).
			WithDetail("max_skew", maxClockSkew.String())
	}

	idRaw, _ := stringAt(body, "data", "FIELDS", "ID")
	dealID, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil || dealID <= 0 {
		g.reject(ctx, event, "bad deal id")
		return nil, domain.NewError(domain.ErrCodeValidation, "missing or invalid deal id").
			WithDetail("id", idRaw)
	}

	g.metrics.RecordWebhook(ctx, true, semconv.Boel.Event.String(event))
	g.tel.Info(ctx, "Webhook accepted",
		semconv.Boel.Event.String(event),
		semconv.Boel.DealID.Int64(dealID),
		semconv.Boel.Portal.String(portal),
	)

	return &WebhookPayload{
		Event:     event,
		DealID:    dealID,
		Portal:    portal,
		Timestamp: ts,
		Raw:       body,
	}, nil
}

func (g *WebhookGateway) eventAllowed(event string) bool {
	for _, allowed := range g.cfg.AllowedEvents {
		if strings.EqualFold(allowed, event) {
			return true
		}
	}
	return false
}

func (g *WebhookGateway) reject(ctx context.Context, event, reason string) {
	g.metrics.RecordWebhook(ctx, false, semconv.Boel.Reason.String(reason))
	g.tel.Warn(ctx, "Webhook rejected",
		semconv.Boel.Event.String(event),
		semconv.Boel.Reason.String(reason),
	)
}

// NestForm convierte un cuerpo aplanado clave[sub][sub2]=valor en mapas
// anidados. Las claves repetidas conservan el primer valor.
func NestForm(form url.Values) map[string]any {
	root := make(map[string]any)
	for key, values := range form {
		if len(values) == 0 {
			continue
		}
		path := splitFormKey(key)
		if len(path) == 0 {
			continue
		}
		node := root
		for i, segment := range path {
			if i == len(path)-1 {
				if _, exists := node[segment]; !exists {
					node[segment] = values[0]
				}
				break
			}
			child, exists := node[segment].(map[string]any)
			if !exists {
				child = make(map[string]any)
				node[segment] = child
			}
			node = child
		}
	}
	return root
}

// splitFormKey descompone "a[b][c]" en ["a","b","c"].
func splitFormKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return []string{key}
	}
	path := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return nil
		}
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			return nil
		}
		path = append(path, rest[1:close])
		rest = rest[close+1:]
	}
	return path
}

// stringAt navega el cuerpo anidado y retorna el valor string en la ruta dada.
func stringAt(body map[string]any, path ...string) (string, bool) {
	node := any(body)
	for _, segment := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return "", false
		}
		node, ok = m[segment]
		if !ok {
			return "", false
		}
	}
	s, ok := node.(string)
	return s, ok
}
