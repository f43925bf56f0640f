package webhook

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/example/business-ledger/internal/ledger"
)

// TransactionSource loads the transaction an outbox message refers to.
// ledger.PostgresStore and ledger.SQLiteStore satisfy it.
type TransactionSource interface {
	TransactionByID(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error)
}

// DispatcherConfig bounds the worker pool and the retry schedule. Zero fields
// take the DefaultDispatcherConfig value.
type DispatcherConfig struct {
	Workers             int
	PerOwnerConcurrency int64
	BatchSize           int
	MaxAttempts         int
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	PollInterval        time.Duration
	// Lease must outlast one delivery attempt. A fan-out renews it before
	// each endpoint.
	Lease               time.Duration
}

// DefaultDispatcherConfig returns the settings ledgerd ships with.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:             8,
		PerOwnerConcurrency: 2,
		BatchSize:           32,
		MaxAttempts:         5,
		BackoffBase:         10 * time.Second,
		BackoffMax:          10 * time.Minute,
		PollInterval:        2 * time.Second,
		Lease:               5 * time.Minute,
	}
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	d := DefaultDispatcherConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.PerOwnerConcurrency <= 0 {
		c.PerOwnerConcurrency = d.PerOwnerConcurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Lease <= 0 {
		c.Lease = d.Lease
	}
	return c
}

// Dispatcher drains the outbox through a Notifier.
type Dispatcher struct {
	store    Store
	txs      TransactionSource
	notifier *Notifier
	cfg      DispatcherConfig
	logger   *slog.Logger
	now      func() time.Time
	wake     chan struct{}

	mu     sync.Mutex
	owners map[uuid.UUID]*semaphore.Weighted
}

// NewDispatcher builds a dispatcher. Call Run to start draining.
func NewDispatcher(store Store, txs TransactionSource, notifier *Notifier, cfg DispatcherConfig, opts ...Option) *Dispatcher {
	o := buildOptions(opts)
	return &Dispatcher{
		store:    store,
		txs:      txs,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   o.logger,
		now:      o.now,
		wake:     make(chan struct{}, 1),
		owners:   make(map[uuid.UUID]*semaphore.Weighted),
	}
}

// Wake asks Run to poll now instead of at the next tick. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run polls the outbox until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("webhook dispatcher started",
		"workers", d.cfg.Workers,
		"per_owner_concurrency", d.cfg.PerOwnerConcurrency,
		"max_attempts", d.cfg.MaxAttempts,
	)
	for {
		for {
			n, err := d.DrainOnce(ctx)
			if err != nil && ctx.Err() == nil {
				d.logger.Error("failed to claim outbox messages", "error", err)
			}
			// A full batch means more may be waiting.
			if err != nil || n < d.cfg.BatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			d.logger.Info("webhook dispatcher stopped")
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DrainOnce claims one batch of due messages and processes it to completion.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	msgs, err := d.store.ClaimDue(ctx, d.now().UTC(), d.cfg.Lease, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for _, m := range msgs {
		g.Go(func() error {
			sem := d.ownerSemaphore(m.OwnerID)
			if err := sem.Acquire(ctx, 1); err != nil {
				// Shutting down; the lease expires and another pass picks it up.
				return nil
			}
			defer sem.Release(1)
			d.process(ctx, m)
			return nil
		})
	}
	_ = g.Wait()
	return len(msgs), nil
}

func (d *Dispatcher) ownerSemaphore(owner uuid.UUID) *semaphore.Weighted {
	d.mu.Lock()
	defer d.mu.Unlock()
	sem, ok := d.owners[owner]
	if !ok {
		sem = semaphore.NewWeighted(d.cfg.PerOwnerConcurrency)
		d.owners[owner] = sem
	}
	return sem
}

func (d *Dispatcher) process(ctx context.Context, m *OutboxMessage) {
	log := d.logger.With("outbox_id", m.ID, "transaction_id", m.TransactionID, "owner_id", m.OwnerID)

	tx, err := d.txs.TransactionByID(ctx, m.TransactionID)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		log.Error("outbox message references a missing transaction")
		d.complete(ctx, log, m, "transaction not found")
		return
	}
	if err != nil {
		log.Error("failed to load transaction for webhook", "error", err)
		d.fail(ctx, log, m, err.Error())
		return
	}

	if m.EndpointID == nil {
		d.fanOut(ctx, log, m, tx)
		return
	}
	d.retry(ctx, log, m, tx)
}

// fanOut makes the first attempt to each active endpoint. Failed endpoints,
// and endpoints not reached before shutdown, continue as retry messages.
func (d *Dispatcher) fanOut(ctx context.Context, log *slog.Logger, m *OutboxMessage, tx *ledger.Transaction) {
	endpoints, err := d.store.ActiveEndpoints(ctx, m.OwnerID)
	if err != nil {
		log.Error("failed to load webhook endpoints", "error", err)
		d.fail(ctx, log, m, err.Error())
		return
	}

	for _, e := range endpoints {
		if ctx.Err() != nil {
			d.enqueueRetry(ctx, log, m, e.ID, 0, d.now().UTC())
			continue
		}
		d.renewLease(ctx, log, m)

		res := d.send(ctx, e, tx, 1)
		if res.Delivered() || d.cfg.MaxAttempts <= 1 {
			continue
		}
		d.enqueueRetry(ctx, log, m, e.ID, 1, d.now().UTC().Add(d.backoff(1)))
	}
	d.complete(ctx, log, m, "")
}

func (d *Dispatcher) enqueueRetry(ctx context.Context, log *slog.Logger, m *OutboxMessage, endpointID uuid.UUID, attempts int, next time.Time) {
	retry := &OutboxMessage{
		ID:            uuid.New(),
		OwnerID:       m.OwnerID,
		TransactionID: m.TransactionID,
		EndpointID:    &endpointID,
		Attempts:      attempts,
		NextAttemptAt: next,
		CreatedAt:     d.now().UTC(),
	}
	if err := d.store.EnqueueRetry(context.WithoutCancel(ctx), retry); err != nil {
		log.Error("failed to enqueue webhook retry", "endpoint_id", endpointID, "error", err)
	}
}

func (d *Dispatcher) renewLease(ctx context.Context, log *slog.Logger, m *OutboxMessage) {
	until := d.now().UTC().Add(d.cfg.Lease)
	if err := d.store.ExtendLease(context.WithoutCancel(ctx), m.ID, until); err != nil {
		log.Warn("failed to extend outbox lease", "error", err)
	}
}

// send makes one attempt that shutdown does not cut short. The HTTP client
// timeout bounds it; Lease caps it when the client has none.
func (d *Dispatcher) send(ctx context.Context, e *Endpoint, tx *ledger.Transaction, attempt int) DeliveryResult {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Lease)
	defer cancel()
	return d.notifier.SendOne(sendCtx, e, tx, attempt)
}

func (d *Dispatcher) retry(ctx context.Context, log *slog.Logger, m *OutboxMessage, tx *ledger.Transaction) {
	log = log.With("endpoint_id", *m.EndpointID)

	e, err := d.store.Endpoint(ctx, m.OwnerID, *m.EndpointID)
	switch {
	case errors.Is(err, ErrEndpointNotFound):
		d.complete(ctx, log, m, "endpoint not found")
		return
	case err != nil:
		log.Error("failed to load webhook endpoint", "error", err)
		d.fail(ctx, log, m, err.Error())
		return
	case !e.IsActive:
		d.complete(ctx, log, m, "endpoint deactivated")
		return
	}

	attempt := m.Attempts + 1
	res := d.send(ctx, e, tx, attempt)
	switch {
	case res.Delivered():
		d.complete(ctx, log, m, "")
	case attempt >= d.cfg.MaxAttempts:
		log.Warn("webhook delivery abandoned", "attempts", attempt, "error", res.Err)
		d.complete(ctx, log, m, res.Err)
	default:
		d.reschedule(ctx, log, m, attempt, res.Err)
	}
}

// fail counts a processing error as an attempt, so a message that can never
// succeed still stops after MaxAttempts.
func (d *Dispatcher) fail(ctx context.Context, log *slog.Logger, m *OutboxMessage, lastError string) {
	attempts := m.Attempts + 1
	if attempts >= d.cfg.MaxAttempts {
		log.Warn("outbox message abandoned", "attempts", attempts, "error", lastError)
		d.complete(ctx, log, m, lastError)
		return
	}
	d.reschedule(ctx, log, m, attempts, lastError)
}

func (d *Dispatcher) complete(ctx context.Context, log *slog.Logger, m *OutboxMessage, lastError string) {
	if err := d.store.Complete(context.WithoutCancel(ctx), m.ID, lastError, d.now().UTC()); err != nil {
		log.Error("failed to complete outbox message", "error", err)
	}
}

func (d *Dispatcher) reschedule(ctx context.Context, log *slog.Logger, m *OutboxMessage, attempts int, lastError string) {
	next := d.now().UTC().Add(d.backoff(max(attempts, 1)))
	if err := d.store.Reschedule(context.WithoutCancel(ctx), m.ID, attempts, next, lastError); err != nil {
		log.Error("failed to reschedule outbox message", "error", err)
	}
}

// backoff returns BackoffBase * 2^(n-1), capped at BackoffMax.
func (d *Dispatcher) backoff(n int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffMax {
			return d.cfg.BackoffMax
		}
	}
	if delay > d.cfg.BackoffMax {
		return d.cfg.BackoffMax
	}
	return delay
}
