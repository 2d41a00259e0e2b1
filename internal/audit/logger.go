// Package audit records every mediation decision durably. Transaction
// writes are batched through a bounded queue and a dedicated flush worker
// so the request path pays only for an enqueue; config changes and system
// events take a synchronous path.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/agentguard/internal/domain"
	"github.com/tjfontaine/agentguard/internal/storage"
)

const (
	// DefaultBatchSize triggers an immediate flush when reached.
	DefaultBatchSize = 500
	// DefaultFlushInterval bounds how long an entry sits unflushed.
	DefaultFlushInterval = 2 * time.Second
	// queueDepth bounds the enqueue buffer. When full, entries are
	// dropped with a log line rather than blocking the request path.
	queueDepth = 4096
)

// Sink is the storage surface the logger writes to.
type Sink interface {
	storage.TransactionStore
	storage.EventStore
}

// Logger is the batched transaction recorder. Rows inserted with
// INSERT OR IGNORE are idempotent by id, so a retried batch never
// duplicates. The unflushed tail is lost on abnormal termination; that
// small durability window is the accepted price of batching.
type Logger struct {
	store  Sink
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	queue chan domain.Transaction
	stop  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// Option configures a Logger.
type Option func(*Logger)

// WithBatchSize overrides the flush-triggering batch size.
func WithBatchSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithFlushInterval overrides the idle flush timer.
func WithFlushInterval(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.flushInterval = d
		}
	}
}

// NewLogger creates and starts the flush worker.
func NewLogger(store Sink, logger *slog.Logger, opts ...Option) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		store:         store,
		logger:        logger,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		queue:         make(chan domain.Transaction, queueDepth),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wg.Add(1)
	go l.run()
	return l
}

// NewTransactionID mints an id for a transaction record.
func NewTransactionID() string {
	return "txn_" + uuid.New().String()
}

// Record enqueues a transaction. It never blocks beyond the channel send;
// with a full queue the entry is dropped and counted against us in logs.
func (l *Logger) Record(t domain.Transaction) {
	if t.ID == "" {
		t.ID = NewTransactionID()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	select {
	case l.queue <- t:
	default:
		l.logger.Error("audit queue full, dropping transaction",
			slog.String("transaction_id", t.ID))
	}
}

// run is the flush worker: flush at batch size, on the idle timer, and
// once more on shutdown.
func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	var pending []domain.Transaction

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := l.flushBatch(pending); err != nil {
			// Keep the batch; idempotent ids make the retry safe.
			l.logger.Error("audit flush failed, retaining batch",
				slog.Int("size", len(pending)), slog.String("error", err.Error()))
			return
		}
		pending = pending[:0]
	}

	for {
		select {
		case t := <-l.queue:
			pending = append(pending, sanitize(t))
			if len(pending) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.stop:
			// Drain whatever made it into the queue, then final flush.
			for {
				select {
				case t := <-l.queue:
					pending = append(pending, sanitize(t))
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Logger) flushBatch(batch []domain.Transaction) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return l.store.InsertTransactions(ctx, batch)
}

// Close stops the worker and blocks until the final flush completes.
// Part of graceful shutdown; entries recorded after Close are dropped.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.stop)
		l.wg.Wait()
	})
}

// ConfigChange synchronously records an administrative action with a
// tamper-evident checksum over its fields.
func (l *Logger) ConfigChange(ctx context.Context, operator, action, resourceType, resourceID, before, after, ip string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	c := &domain.ConfigChange{
		Operator:     operator,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Before:       before,
		After:        after,
		IPAddress:    ip,
		Checksum:     Checksum(now, action, resourceID, before, after),
	}
	if err := l.store.InsertConfigChange(ctx, c); err != nil {
		return fmt.Errorf("audit: config change: %w", err)
	}
	return nil
}

// SystemEvent synchronously records a coarse lifecycle or alert event.
func (l *Logger) SystemEvent(ctx context.Context, eventType string, severity domain.Severity, message string, details map[string]any) {
	ev := &domain.SystemEvent{
		Type:     eventType,
		Severity: severity,
		Message:  message,
		Details:  details,
	}
	if err := l.store.InsertSystemEvent(ctx, ev); err != nil {
		l.logger.Error("audit: system event write failed",
			slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

// Checksum is the SHA-256 hex digest over a config change's fields.
func Checksum(timestamp, action, resourceID, before, after string) string {
	h := sha256.Sum256([]byte(timestamp + action + resourceID + before + after))
	return hex.EncodeToString(h[:])
}
