package internal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/semconv"
)

// FactSink destino final de los hechos publicados (el colaborador de
// mensajería).
type FactSink interface {
	Deliver(ctx context.Context, fact *domain.Fact) error
}

var bucketPending = []byte("facts_pending")

// outboxEntry registro durable de un hecho pendiente de entrega.
type outboxEntry struct {
	Fact      *domain.Fact `json:"fact"`
	Attempts  int          `json:"attempts"`
	NextRetry time.Time    `json:"next_retry"`
}

// Outbox publisher durable sobre bbolt.
//
// Publish sólo persiste: la entrega corre en el drenaje de fondo, de modo que
// el reconciliador nunca bloquea en el colaborador de mensajería y ningún
// hecho se pierde ante un reinicio.
type Outbox struct {
	db   *bbolt.DB
	sink FactSink
	tel  *telemetry.Client

	retryBackoff time.Duration
}

// NewOutbox abre (o crea) el outbox en la ruta dada.
func NewOutbox(path string, sink FactSink, tel *telemetry.Client) (*Outbox, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPending)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init outbox bucket: %w", err)
	}
	return &Outbox{
		db:           db,
		sink:         sink,
		tel:          tel,
		retryBackoff: 30 * time.Second,
	}, nil
}

// Close cierra el archivo del outbox.
func (o *Outbox) Close() error { return o.db.Close() }

// Publish implementa domain.Publisher: persiste el hecho y retorna.
func (o *Outbox) Publish(ctx context.Context, fact *domain.Fact) error {
	entry := outboxEntry{Fact: fact}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal fact: %w", err)
	}
	return o.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(outboxKey(seq), payload)
	})
}

// Pending retorna la cantidad de hechos aún no entregados.
func (o *Outbox) Pending() (int, error) {
	count := 0
	err := o.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return count, err
}

// Drain intenta entregar todos los hechos pendientes cuyo reintento venció.
// Retorna la cantidad entregada.
func (o *Outbox) Drain(ctx context.Context) (int, error) {
	type pending struct {
		key   []byte
		entry outboxEntry
	}

	var batch []pending
	err := o.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			var entry outboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			batch = append(batch, pending{key: append([]byte(nil), k...), entry: entry})
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	delivered := 0
	now := time.Now()
	for _, item := range batch {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if item.entry.NextRetry.After(now) {
			continue
		}

		if err := o.sink.Deliver(ctx, item.entry.Fact); err != nil {
			o.tel.Warn(ctx, "Fact delivery failed, will retry",
				semconv.Boel.FactKind.String(item.entry.Fact.Kind),
				attribute.Int("attempts", item.entry.Attempts+1),
				attribute.String("error", err.Error()),
			)
			if err := o.reschedule(item.key, item.entry); err != nil {
				return delivered, err
			}
			continue
		}

		err := o.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketPending).Delete(item.key)
		})
		if err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Run drena periódicamente hasta que el contexto se cancele.
func (o *Outbox) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.Drain(ctx); err != nil && ctx.Err() == nil {
				o.tel.Error(ctx, "Outbox drain failed", err)
			}
		}
	}
}

func (o *Outbox) reschedule(key []byte, entry outboxEntry) error {
	entry.Attempts++
	entry.NextRetry = time.Now().Add(o.retryBackoff)
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return o.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).Put(key, payload)
	})
}

func outboxKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
