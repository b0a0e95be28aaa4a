package etcd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/metricbundle"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/semconv"
)

// LockConfig parámetros de adquisición del lock distribuido.
type LockConfig struct {
	// TTL vida del lock; un holder caído no puede bloquear un deal para siempre.
	TTL time.Duration

	// MaxRetries reintentos de adquisición antes de rendirse.
	MaxRetries int

	// BaseDelay espera inicial entre reintentos.
	BaseDelay time.Duration

	// MaxDelay techo de la espera entre reintentos.
	MaxDelay time.Duration

	// Jitter factor de aleatorización en [0,1) aplicado a cada espera.
	Jitter float64
}

// DefaultLockConfig retorna la configuración por defecto del lock.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:        30 * time.Second,
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Jitter:     0.2,
	}
}

// lockStore operaciones atómicas del backend del lock (facilita mocking).
//
// El invariante «como mucho un lock válido por clave» descansa en que
// tryAcquire sea un conditional-set atómico.
type lockStore interface {
	// tryAcquire intenta establecer el lock sólo si la clave no existe.
	tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// release libera el lock sólo si el token coincide con el del holder.
	release(ctx context.Context, key, token string) error

	// remainingTTL retorna el TTL restante del holder actual (0 si no hay holder).
	remainingTTL(ctx context.Context, key string) (time.Duration, error)
}

// Locker coordina el lock advisory por entidad sobre etcd.
//
// Garantiza exclusión mutua por clave entre llamadores concurrentes,
// incluyendo instancias de proceso distintas, mientras el backend provea
// conditional-set atómico (transacciones etcd sobre CreateRevision).
type Locker struct {
	store   lockStore
	cfg     LockConfig
	tel     *telemetry.Client
	metrics *metricbundle.SyncMetrics

	sleep func(ctx context.Context, d time.Duration) error // inyectable para tests
}

// NewLocker crea un coordinador de locks sobre un cliente etcd.
func NewLocker(client *Client, cfg LockConfig, tel *telemetry.Client, metrics *metricbundle.SyncMetrics) *Locker {
	return &Locker{
		store: &etcdLockStore{
			cli:    client.GetRawClient(),
			prefix: client.NamespacePrefix() + "locks/",
			leases: make(map[string]clientv3.LeaseID),
		},
		cfg:     cfg,
		tel:     tel,
		metrics: metrics,
		sleep:   sleepCtx,
	}
}

// LockKey construye la clave de lock para una entidad.
func LockKey(kind domain.EntityKind, id int64) string {
	return fmt.Sprintf("%s/%d", kind, id)
}

// WithLock ejecuta fn bajo el lock de la clave dada.
//
// La adquisición reintenta con backoff exponencial
// min(BaseDelay*2^intento, MaxDelay) más jitter opcional, hasta MaxRetries.
// Al agotar los reintentos retorna ErrCodeMaxRetries con el TTL restante del
// holder actual en el detalle "remaining_ttl".
//
// El lock se libera incondicionalmente a la salida del scope: éxito, fallo de
// negocio o panic.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	policy := newBackoffPolicy(l.cfg)

	for attempt := 0; ; attempt++ {
		acquired, err := l.store.tryAcquire(ctx, key, token, l.cfg.TTL)
		if err != nil {
			return domain.WrapError(domain.ErrCodeLockAcquisition, "lock backend unavailable", err).
				WithDetail("key", key)
		}
		if acquired {
			l.metrics.RecordLockAttempt(ctx, "acquired",
				semconv.Boel.LockKey.String(key),
				semconv.Boel.Attempt.Int(attempt),
			)
			break
		}

		l.metrics.RecordLockAttempt(ctx, "contended",
			semconv.Boel.LockKey.String(key),
			semconv.Boel.Attempt.Int(attempt),
		)
		if attempt >= l.cfg.MaxRetries {
			remaining, ttlErr := l.store.remainingTTL(ctx, key)
			if ttlErr != nil {
				l.tel.Warn(ctx, "Failed to query holder TTL",
					semconv.Boel.LockKey.String(key),
					attribute.String("error", ttlErr.Error()),
				)
			}
			l.metrics.RecordLockAttempt(ctx, "exhausted", semconv.Boel.LockKey.String(key))
			return domain.NewError(domain.ErrCodeMaxRetries, "lock retries exhausted").
				WithDetail("key", key).
				WithDetail("attempts", attempt+1).
				WithDetail("remaining_ttl", remaining)
		}

		delay := policy.NextBackOff()
		l.tel.Debug(ctx, "Lock contended, backing off",
			semconv.Boel.LockKey.String(key),
			semconv.Boel.Attempt.Int(attempt),
			attribute.Int64("delay_ms", delay.Milliseconds()),
		)
		if err := l.sleep(ctx, delay); err != nil {
			return domain.WrapError(domain.ErrCodeLockAcquisition, "lock wait cancelled", err).
				WithDetail("key", key)
		}
	}

	defer func() {
		// La liberación usa un contexto propio: el scope puede salir con el
		// contexto del request ya cancelado y el lock debe soltarse igual.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.store.release(releaseCtx, key, token); err != nil {
			l.tel.Warn(releaseCtx, "Failed to release lock, TTL will expire it",
				semconv.Boel.LockKey.String(key),
				attribute.String("error", err.Error()),
			)
		}
	}()

	return fn(ctx)
}

// RemainingTTL extrae el TTL restante del holder desde un error de reintentos
// agotados. Retorna (0, false) si el error no lo transporta.
func RemainingTTL(err error) (time.Duration, bool) {
	se, ok := err.(*domain.SyncError)
	if !ok || se.Code != domain.ErrCodeMaxRetries {
		return 0, false
	}
	ttl, ok := se.Detail("remaining_ttl").(time.Duration)
	return ttl, ok
}

// newBackoffPolicy construye la política exponencial de reintentos.
// Sin jitter, la secuencia de esperas es no-decreciente hasta MaxDelay.
func newBackoffPolicy(cfg LockConfig) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.Multiplier = 2
	bo.MaxInterval = cfg.MaxDelay
	bo.RandomizationFactor = cfg.Jitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ---------- Backend etcd ----------

// etcdLockStore implementa lockStore sobre leases y transacciones etcd.
type etcdLockStore struct {
	cli    *clientv3.Client
	prefix string

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID
}

func (s *etcdLockStore) tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	lease, err := s.cli.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return false, fmt.Errorf("grant lease: %w", err)
	}

	fullKey := s.prefix + key
	txn, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(fullKey), "=", 0)).
		Then(clientv3.OpPut(fullKey, token, clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil {
		_, _ = s.cli.Revoke(ctx, lease.ID)
		return false, fmt.Errorf("lock txn: %w", err)
	}
	if !txn.Succeeded {
		_, _ = s.cli.Revoke(ctx, lease.ID)
		return false, nil
	}

	s.mu.Lock()
	s.leases[key] = lease.ID
	s.mu.Unlock()
	return true, nil
}

func (s *etcdLockStore) release(ctx context.Context, key, token string) error {
	fullKey := s.prefix + key
	txn, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(fullKey), "=", token)).
		Then(clientv3.OpDelete(fullKey)).
		Commit()
	if err != nil {
		return fmt.Errorf("unlock txn: %w", err)
	}
	if !txn.Succeeded {
		return fmt.Errorf("lock not held by this token")
	}

	s.mu.Lock()
	leaseID, ok := s.leases[key]
	delete(s.leases, key)
	s.mu.Unlock()
	if ok {
		if _, err := s.cli.Revoke(ctx, leaseID); err != nil {
			return fmt.Errorf("revoke lease: %w", err)
		}
	}
	return nil
}

func (s *etcdLockStore) remainingTTL(ctx context.Context, key string) (time.Duration, error) {
	resp, err := s.cli.Get(ctx, s.prefix+key)
	if err != nil {
		return 0, fmt.Errorf("get lock key: %w", err)
	}
	if len(resp.Kvs) == 0 || resp.Kvs[0].Lease == 0 {
		return 0, nil
	}
	ttlResp, err := s.cli.TimeToLive(ctx, clientv3.LeaseID(resp.Kvs[0].Lease))
	if err != nil {
		return 0, fmt.Errorf("lease ttl: %w", err)
	}
	if ttlResp.TTL < 0 {
		return 0, nil
	}
	return time.Duration(ttlResp.TTL) * time.Second, nil
}
