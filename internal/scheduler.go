package internal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/metricbundle"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/semconv"
)

// SchedulerConfig parámetros de la reevaluación batch de processing status.
type SchedulerConfig struct {
	// Stages primeras etapas del pipeline sujetas a SLA.
	Stages []string

	// AtRiskAfter días hábiles en la etapa actual a partir de los cuales el
	// deal queda en riesgo.
	AtRiskAfter int

	// OverdueAfter días hábiles a partir de los cuales el deal está vencido.
	OverdueAfter int

	// ChunkSize tamaño de los lotes de comandos hacia el remoto.
	ChunkSize int

	// DigestRecipients destinatarios fijos del resumen de vencidos (además de
	// responsables y supervisores).
	DigestRecipients []int64

	// Location zona horaria del negocio para el corte de día calendario.
	// nil equivale a UTC.
	Location *time.Location
}

// DefaultSchedulerConfig retorna la configuración por defecto del scheduler.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		AtRiskAfter:  2,
		OverdueAfter: 3,
		ChunkSize:    50,
	}
}

// StatusReport resultado de una corrida batch.
type StatusReport struct {
	Updated int
	AtRisk  int
	Overdue int
}

// ProcessingStatusScheduler recomputa el estado SLA de los deals abiertos y
// despacha el resumen de vencidos.
type ProcessingStatusScheduler struct {
	remote   domain.RemoteGateway
	deals    domain.DealRepository
	notifier domain.Notifier

	cfg     SchedulerConfig
	tel     *telemetry.Client
	metrics *metricbundle.SyncMetrics
}

// NewProcessingStatusScheduler crea el scheduler.
func NewProcessingStatusScheduler(
	remote domain.RemoteGateway,
	deals domain.DealRepository,
	notifier domain.Notifier,
	cfg SchedulerConfig,
	tel *telemetry.Client,
	metrics *metricbundle.SyncMetrics,
) *ProcessingStatusScheduler {
	if cfg.AtRiskAfter <= 0 {
		cfg.AtRiskAfter = 2
	}
	if cfg.OverdueAfter <= cfg.AtRiskAfter {
		cfg.OverdueAfter = cfg.AtRiskAfter + 1
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	return &ProcessingStatusScheduler{
		remote:   remote,
		deals:    deals,
		notifier: notifier,
		cfg:      cfg,
		tel:      tel,
		metrics:  metrics,
	}
}

// StatusFor computa el estado SLA de un deal al instante dado.
func (s *ProcessingStatusScheduler) StatusFor(deal *domain.Deal, asOf time.Time) domain.ProcessingStatus {
	if deal.MovedAt.IsZero() {
		return domain.StatusNotDefined
	}
	days := workingDaysBetween(deal.MovedAt, asOf, s.cfg.Location)
	switch {
	case days > s.cfg.OverdueAfter:
		return domain.StatusOverdue
	case days > s.cfg.AtRiskAfter:
		return domain.StatusAtRisk
	default:
		return domain.StatusOK
	}
}

// Run reevalúa todos los deals abiertos de las primeras etapas cuyo MovedAt
// se conoce. Los cambios salen en lotes hacia el remoto y en un único commit
// local.
func (s *ProcessingStatusScheduler) Run(ctx context.Context, asOf time.Time) (StatusReport, error) {
	deals, err := s.deals.ListOpenForStatus(ctx, s.cfg.Stages)
	if err != nil {
		return StatusReport{}, err
	}

	var report StatusReport
	changes := make(map[int64]domain.ProcessingStatus)
	for _, deal := range deals {
		if !deal.IsOpen() || deal.Deleted || deal.MovedAt.IsZero() {
			continue
		}
		status := s.StatusFor(deal, asOf)
		switch status {
		case domain.StatusAtRisk:
			report.AtRisk++
		case domain.StatusOverdue:
			report.Overdue++
		}
		if status != deal.Status {
			changes[deal.ID] = status
		}
	}
	report.Updated = len(changes)
	if len(changes) == 0 {
		s.tel.Info(ctx, "Processing status pass found no changes",
			semconv.Boel.Batch.Int(len(deals)),
		)
		return report, nil
	}

	if err := s.pushRemote(ctx, changes); err != nil {
		return StatusReport{}, err
	}
	if err := s.deals.BulkUpdateStatus(ctx, changes); err != nil {
		return StatusReport{}, err
	}

	s.metrics.RecordStatusBatch(ctx, int64(len(changes)))
	s.tel.Info(ctx, "Processing status pass applied",
		semconv.Boel.Batch.Int(len(changes)),
		attribute.Int("at_risk", report.AtRisk),
		attribute.Int("overdue", report.Overdue),
	)
	return report, nil
}

// pushRemote envía los comandos de actualización en chunks concurrentes de
// tamaño fijo.
func (s *ProcessingStatusScheduler) pushRemote(ctx context.Context, changes map[int64]domain.ProcessingStatus) error {
	ids := make([]int64, 0, len(changes))
	for id := range changes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(ids); start += s.cfg.ChunkSize {
		end := start + s.cfg.ChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		g.Go(func() error {
			for _, id := range chunk {
				fields := map[string]any{"PROCESSING_STATUS": string(changes[id])}
				if err := s.remote.UpdateDeal(ctx, id, fields); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// RefreshOne reevalúa un único deal de forma síncrona (camino on-demand).
func (s *ProcessingStatusScheduler) RefreshOne(ctx context.Context, id int64, asOf time.Time) (domain.ProcessingStatus, error) {
	deal, found, err := s.deals.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", domain.NewError(domain.ErrCodeLocalNotFound, "deal replica not materialized").
			WithDetail("id", id)
	}

	status := s.StatusFor(deal, asOf)
	if status == deal.Status {
		return status, nil
	}
	fields := map[string]any{"PROCESSING_STATUS": string(status)}
	if err := s.remote.UpdateDeal(ctx, id, fields); err != nil {
		return "", err
	}
	if err := s.deals.BulkUpdateStatus(ctx, map[int64]domain.ProcessingStatus{id: status}); err != nil {
		return "", err
	}
	return status, nil
}

// SendOverdueDigest arma y despacha el resumen de deals vencidos agrupado por
// responsable, con copia al supervisor de cada uno. Degrada a mensajes
// explícitos en lugar de callar.
func (s *ProcessingStatusScheduler) SendOverdueDigest(ctx context.Context, asOf time.Time) error {
	deals, err := s.deals.ListOpenForStatus(ctx, s.cfg.Stages)
	if err != nil {
		s.broadcast(ctx, "Overdue digest: no data available")
		return err
	}

	byOwner := make(map[int64][]*domain.Deal)
	for _, deal := range deals {
		if !deal.IsOpen() || deal.Deleted || deal.MovedAt.IsZero() {
			continue
		}
		if s.StatusFor(deal, asOf) == domain.StatusOverdue {
			byOwner[deal.AssignedByID] = append(byOwner[deal.AssignedByID], deal)
		}
	}

	if len(byOwner) == 0 {
		s.broadcast(ctx, "Overdue digest: no overdue deals")
		return nil
	}

	owners := make([]int64, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	for _, owner := range owners {
		text := formatOverdueDigest(byOwner[owner], asOf, s.cfg.OverdueAfter, s.cfg.Location)
		s.send(ctx, owner, text)

		user, err := s.remote.GetUser(ctx, owner)
		if err != nil {
			s.tel.Warn(ctx, "Supervisor lookup failed for digest",
				semconv.Boel.OwnerID.Int64(owner),
				attribute.String("error", err.Error()),
			)
			continue
		}
		if user.SupervisorID != 0 {
			s.send(ctx, user.SupervisorID, text)
		}
	}
	return nil
}

func formatOverdueDigest(deals []*domain.Deal, asOf time.Time, overdueAfter int, loc *time.Location) string {
	sort.Slice(deals, func(i, j int) bool { return deals[i].ID < deals[j].ID })

	var b strings.Builder
	fmt.Fprintf(&b, "Overdue deals (more than %d working days in stage):\n", overdueAfter)
	for _, deal := range deals {
		fmt.Fprintf(&b, "- deal %d %q: %d working days in %s\n",
			deal.ID, deal.Title, workingDaysBetween(deal.MovedAt, asOf, loc), deal.StageID)
	}
	return b.String()
}

func (s *ProcessingStatusScheduler) broadcast(ctx context.Context, text string) {
	for _, recipient := range s.cfg.DigestRecipients {
		s.send(ctx, recipient, text)
	}
}

func (s *ProcessingStatusScheduler) send(ctx context.Context, userID int64, text string) {
	if s.notifier == nil || userID == 0 {
		return
	}
	if err := s.notifier.Send(ctx, userID, text); err != nil {
		s.tel.Warn(ctx, "Failed to send digest",
			semconv.Boel.OwnerID.Int64(userID),
			attribute.String("error", err.Error()),
		)
	}
}

// workingDaysBetween cuenta los días hábiles completos entre dos instantes,
// excluyendo sábados y domingos. Retorna 0 si to no es posterior a from.
// Ambos instantes se normalizan a loc antes de truncar a días: el corte de
// día calendario depende de la zona del negocio, no de la zona con la que
// viajó el timestamp.
func workingDaysBetween(from, to time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	from = from.In(loc)
	to = to.In(loc)
	if !to.After(from) {
		return 0
	}
	days := 0
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)
	for day.Before(end) {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}
