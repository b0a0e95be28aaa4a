package internal

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/VladimirNagibin/boel-production-sync-sub000/etcd"
)

// Config configuración completa del servicio.
type Config struct {
	Environment string
	HTTPAddr    string

	PortalBaseURL   string
	PortalUserAgent string

	DatabaseDSN string

	OutboxPath          string
	FactSinkURL         string
	OutboxDrainInterval time.Duration

	SchedulerInterval time.Duration

	Webhook    WebhookConfig
	Lock       etcd.LockConfig
	Classifier ClassifierConfig
	Advisor    AdvisorConfig
	Reconciler ReconcilerConfig
	Scheduler  SchedulerConfig
}

// VarSource fuente de configuración centralizada (etcd.Client en producción).
type VarSource interface {
	GetVarWithDefault(ctx context.Context, key, defaultValue string) (string, error)
}

// LoadConfig resuelve la configuración: etcd primero, variable de entorno
// después, default al final. src puede ser nil (sólo entorno y defaults).
func LoadConfig(ctx context.Context, src VarSource) (*Config, error) {
	get := func(key, envName, def string) string {
		fallback := def
		if env := os.Getenv(envName); env != "" {
			fallback = env
		}
		if src == nil {
			return fallback
		}
		value, err := src.GetVarWithDefault(ctx, key, fallback)
		if err != nil || value == "" {
			return fallback
		}
		return value
	}

	cfg := &Config{
		Environment:     get("config/environment", "BOEL_ENV", "development"),
		HTTPAddr:        get("config/http_addr", "BOEL_HTTP_ADDR", ":8080"),
		PortalBaseURL:   get("config/portal_base_url", "BOEL_PORTAL_BASE_URL", ""),
		PortalUserAgent: get("config/portal_user_agent", "BOEL_PORTAL_USER_AGENT", "boel-sync"),
		DatabaseDSN:     get("config/database_dsn", "BOEL_DATABASE_DSN", ""),
		OutboxPath:      get("config/outbox_path", "BOEL_OUTBOX_PATH", "boel-outbox.db"),
		FactSinkURL:     get("config/fact_sink_url", "BOEL_FACT_SINK_URL", ""),
	}
	cfg.OutboxDrainInterval = parseDuration(get("config/outbox_drain_interval", "BOEL_OUTBOX_DRAIN_INTERVAL", "10s"), 10*time.Second)
	cfg.SchedulerInterval = parseDuration(get("config/scheduler_interval", "BOEL_SCHEDULER_INTERVAL", "1h"), time.Hour)

	cfg.Webhook = WebhookConfig{
		AllowedEvents: parseList(get("webhook/allowed_events", "BOEL_ALLOWED_EVENTS", "ONCRMDEALUPDATE,ONCRMDEALADD")),
		TokenPortals:  parseTokenTable(get("webhook/token_portals", "BOEL_TOKEN_PORTALS", "")),
		MaxAge:        parseDuration(get("webhook/max_age", "BOEL_WEBHOOK_MAX_AGE", "300s"), 300*time.Second),
	}

	lock := etcd.DefaultLockConfig()
	lock.TTL = parseDuration(get("lock/ttl", "BOEL_LOCK_TTL", "30s"), lock.TTL)
	lock.MaxRetries = parseInt(get("lock/max_retries", "BOEL_LOCK_MAX_RETRIES", "3"), lock.MaxRetries)
	lock.BaseDelay = parseDuration(get("lock/base_delay", "BOEL_LOCK_BASE_DELAY", "200ms"), lock.BaseDelay)
	lock.MaxDelay = parseDuration(get("lock/max_delay", "BOEL_LOCK_MAX_DELAY", "5s"), lock.MaxDelay)
	lock.Jitter = parseFloat(get("lock/jitter", "BOEL_LOCK_JITTER", "0.2"), lock.Jitter)
	cfg.Lock = lock

	cfg.Classifier = ClassifierConfig{
		ForeignTradeOwnerID: parseInt64(get("owners/foreign_trade", "BOEL_FOREIGN_TRADE_OWNER", "0"), 0),
		SiteBotOwnerID:      parseInt64(get("owners/site_bot", "BOEL_SITE_BOT_OWNER", "0"), 0),
		ExistingClientDays:  parseInt(get("classifier/existing_client_days", "BOEL_EXISTING_CLIENT_DAYS", "14"), 14),
	}

	cfg.Advisor = AdvisorConfig{
		DefaultShippingEntity: get("advisor/default_shipping_entity", "BOEL_DEFAULT_SHIPPING_ENTITY", ""),
		NoContractEntities:    parseList(get("advisor/no_contract_entities", "BOEL_NO_CONTRACT_ENTITIES", "")),
		OfferEntities:         parseList(get("advisor/offer_entities", "BOEL_OFFER_ENTITIES", "")),
	}

	stages := parseList(get("reconciler/stages", "BOEL_STAGES", "C1:NEW,C1:STAGE_2,C1:STAGE_3,C1:STAGE_4,C1:FINAL"))
	cfg.Reconciler = ReconcilerConfig{
		Stages:                stages,
		InitialStage:          get("reconciler/initial_stage", "BOEL_INITIAL_STAGE", firstOrEmpty(stages)),
		SpuriousSiteStage:     get("reconciler/spurious_site_stage", "BOEL_SPURIOUS_SITE_STAGE", ""),
		InvoiceFailStage:      get("reconciler/invoice_fail_stage", "BOEL_INVOICE_FAIL_STAGE", "D:FAILED"),
		DefaultShippingEntity: cfg.Advisor.DefaultShippingEntity,
		SiteBotOwnerID:        cfg.Classifier.SiteBotOwnerID,
	}

	scheduler := DefaultSchedulerConfig()
	if len(stages) >= 4 {
		scheduler.Stages = stages[:4]
	} else {
		scheduler.Stages = stages
	}
	scheduler.AtRiskAfter = parseInt(get("scheduler/at_risk_after", "BOEL_AT_RISK_AFTER", "2"), 2)
	scheduler.OverdueAfter = parseInt(get("scheduler/overdue_after", "BOEL_OVERDUE_AFTER", "3"), 3)
	scheduler.ChunkSize = parseInt(get("scheduler/chunk_size", "BOEL_CHUNK_SIZE", "50"), 50)
	scheduler.DigestRecipients = parseInt64List(get("scheduler/digest_recipients", "BOEL_DIGEST_RECIPIENTS", ""))
	scheduler.Location = parseLocation(get("scheduler/timezone", "BOEL_SCHEDULER_TZ", ""))
	cfg.Scheduler = scheduler

	return cfg, nil
}

func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseTokenTable parsea "token=portal,token2=portal2" a un mapa.
func parseTokenTable(raw string) map[string]string {
	table := make(map[string]string)
	for _, pair := range parseList(raw) {
		token, portal, ok := strings.Cut(pair, "=")
		if !ok || token == "" || portal == "" {
			continue
		}
		table[token] = portal
	}
	return table
}

func parseInt64List(raw string) []int64 {
	var out []int64
	for _, part := range parseList(raw) {
		if v, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return def
}

func parseInt(raw string, def int) int {
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	return def
}

func parseInt64(raw string, def int64) int64 {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}
	return def
}

func parseFloat(raw string, def float64) float64 {
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	return def
}

// parseLocation resuelve un nombre IANA de zona horaria; vacío o desconocido
// cae a UTC.
func parseLocation(raw string) *time.Location {
	if strings.TrimSpace(raw) == "" {
		return time.UTC
	}
	if loc, err := time.LoadLocation(raw); err == nil {
		return loc
	}
	return time.UTC
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
