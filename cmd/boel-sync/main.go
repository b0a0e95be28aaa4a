// boel-sync: servicio de sincronización y reconciliación de deals del CRM.
//
// Arranque:
//  1. Cliente etcd (configuración centralizada + locks distribuidos).
//  2. Configuración (etcd → entorno → defaults).
//  3. Telemetría OTel y bundle de métricas.
//  4. PostgreSQL (réplica local) y gateway REST del portal.
//  5. Reconciliador, scheduler de processing status, outbox y servidor HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VladimirNagibin/boel-production-sync-sub000/etcd"
	"github.com/VladimirNagibin/boel-production-sync-sub000/internal"
	"github.com/VladimirNagibin/boel-production-sync-sub000/internal/repository"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/metricbundle"
)

const serviceName = "boel-sync"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	environment := envOrDefault("BOEL_ENV", "development")

	// etcd primero: la configuración del resto del servicio vive ahí.
	etcdClient, err := etcd.New(
		etcd.WithEndpoints(etcdEndpoints()...),
		etcd.WithApp(serviceName),
		etcd.WithEnv(environment),
		etcd.WithTimeout(5*time.Second),
	)
	if err != nil {
		return fmt.Errorf("conectando a etcd: %w", err)
	}
	defer func() { _ = etcdClient.Close() }()

	cfg, err := internal.LoadConfig(ctx, etcdClient)
	if err != nil {
		return fmt.Errorf("cargando configuración: %w", err)
	}

	var telOpts []telemetry.Option
	if endpoint := os.Getenv("BOEL_OTLP_ENDPOINT"); endpoint != "" {
		telOpts = append(telOpts, telemetry.WithOTLPEndpoint(endpoint))
	}
	tel, err := telemetry.New(ctx, serviceName, cfg.Environment, telOpts...)
	if err != nil {
		return fmt.Errorf("inicializando telemetría: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "error cerrando telemetría: %v\n", err)
		}
	}()

	metricbundle.InitGlobalSyncBundle(tel)
	metrics := metricbundle.GetGlobalSyncMetrics()

	db, err := repository.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("conectando a postgres: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := repository.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("preparando esquema: %w", err)
	}
	factory := repository.NewPostgresFactory(db)

	portal := internal.NewPortalClient(internal.PortalClientOptions{
		BaseURL:   cfg.PortalBaseURL,
		UserAgent: cfg.PortalUserAgent,
	}, tel)

	sink := internal.NewHTTPFactSink(cfg.FactSinkURL, nil)
	outbox, err := internal.NewOutbox(cfg.OutboxPath, sink, tel)
	if err != nil {
		return fmt.Errorf("abriendo outbox: %w", err)
	}
	defer func() { _ = outbox.Close() }()

	locker := etcd.NewLocker(etcdClient, cfg.Lock, tel, metrics)
	detector := internal.NewChangeDetector()
	classifier := internal.NewSourceClassifier(cfg.Classifier, internal.NewPortalUserDirectory(portal), tel)
	advisor := internal.NewStageAdvisor(cfg.Advisor)
	ports := internal.NewEntityPorts(portal, factory.EntityStores())

	reconciler := internal.NewDealReconciler(
		portal,
		factory.DealRepository(),
		ports,
		locker,
		detector,
		classifier,
		advisor,
		factory.CompanyRepository(),
		outbox,
		portal,
		cfg.Reconciler,
		tel,
		metrics,
	)

	scheduler := internal.NewProcessingStatusScheduler(
		portal,
		factory.DealRepository(),
		portal,
		cfg.Scheduler,
		tel,
		metrics,
	)

	webhooks := internal.NewWebhookGateway(cfg.Webhook, tel, metrics)
	server := internal.NewServer(cfg.HTTPAddr, webhooks, reconciler, scheduler, tel)

	tel.Info(ctx, "boel-sync started")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx)
	})
	group.Go(func() error {
		return outbox.Run(groupCtx, cfg.OutboxDrainInterval)
	})
	group.Go(func() error {
		return runSchedulerLoop(groupCtx, scheduler, cfg.SchedulerInterval, tel)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	tel.Info(context.Background(), "boel-sync stopped")
	return nil
}

// runSchedulerLoop dispara la reevaluación batch de processing status y el
// digest de deals vencidos en cada tick.
func runSchedulerLoop(ctx context.Context, scheduler *internal.ProcessingStatusScheduler, interval time.Duration, tel *telemetry.Client) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()
			if _, err := scheduler.Run(ctx, now); err != nil {
				tel.Error(ctx, "processing status sweep failed", err)
				continue
			}
			if err := scheduler.SendOverdueDigest(ctx, now); err != nil {
				tel.Error(ctx, "overdue digest failed", err)
			}
		}
	}
}

func etcdEndpoints() []string {
	raw := envOrDefault("BOEL_ETCD_ENDPOINTS", "localhost:2379")
	parts := strings.Split(raw, ",")
	endpoints := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			endpoints = append(endpoints, trimmed)
		}
	}
	return endpoints
}

func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
