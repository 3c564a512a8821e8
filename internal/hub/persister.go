package hub

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/overlaykit/chathub/internal/chat"
	"github.com/overlaykit/chathub/internal/store"
	"github.com/overlaykit/chathub/internal/telemetry"
)

// persister performs paid message writes off the hub's critical path.
// Failed writes are retried with backoff and, if still failing, retained
// in memory and surfaced through the degraded-mode gauge instead of being
// dropped.
type persister struct {
	store store.PaidMessageStore
	queue chan persistOp
	log   *zerolog.Logger

	// pending holds ops whose retries were exhausted; reattempted on a
	// timer. Touched by the persister goroutine only.
	pending []persistOp

	done chan struct{}
}

const (
	persistQueueSize    = 1024
	pendingRetryPeriod  = 30 * time.Second
	persistMaxElapsed   = 10 * time.Second
	shutdownDrainBudget = 5 * time.Second
	// shutdownStaleAfter: ops that sat unserved this long only pile up
	// when the store has been failing; don't burn the drain budget on
	// them.
	shutdownStaleAfter = time.Minute
)

func newPersister(st store.PaidMessageStore, logger *zerolog.Logger) *persister {
	return &persister{
		store: st,
		queue: make(chan persistOp, persistQueueSize),
		log:   logger,
		done:  make(chan struct{}),
	}
}

// enqueue hands an op to the persister without blocking the hub. A full
// queue parks the op in pending via the degraded path.
func (p *persister) enqueue(op persistOp) {
	op.enqueuedAt = time.Now()
	select {
	case p.queue <- op:
	default:
		p.log.Warn().Msg("persist queue full, entering degraded mode")
		telemetry.DegradedMode.Set(1)
		// The run loop owns pending; route through the queue with a
		// blocking send from a detached goroutine as a last resort.
		go func() { p.queue <- op }()
	}
}

// run consumes the queue until ctx is cancelled, then flushes whatever is
// still pending so a clean shutdown loses nothing persistable.
func (p *persister) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(pendingRetryPeriod)
	defer ticker.Stop()

	for {
		select {
		case op := <-p.queue:
			p.apply(ctx, op)
		case <-ticker.C:
			p.flushPending(ctx)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

// wait blocks until the run loop has exited.
func (p *persister) wait() {
	<-p.done
}

// apply performs one op with exponential backoff. Exhausted retries move
// the op to pending and raise the degraded gauge.
func (p *persister) apply(ctx context.Context, op persistOp) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = persistMaxElapsed

	attempts := 0
	err := backoff.Retry(func() error {
		if attempts > 0 {
			telemetry.PersistRetries.Inc()
		}
		attempts++
		return p.applyOnce(ctx, op)
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		if ctx.Err() != nil {
			p.pending = append(p.pending, op)
			return
		}
		p.log.Error().Err(err).Str("id", opID(op)).Msg("paid message persistence failing, keeping in memory")
		p.pending = append(p.pending, op)
		telemetry.DegradedMode.Set(1)
		return
	}

	if op.deleteID == "" {
		telemetry.PaidPersisted.Inc()
	}
	if len(p.pending) == 0 {
		telemetry.DegradedMode.Set(0)
	}
}

func (p *persister) applyOnce(ctx context.Context, op persistOp) error {
	if op.deleteID != "" {
		return p.store.Delete(ctx, op.deleteID)
	}
	return p.store.Upsert(ctx, op.msg)
}

// flushPending reattempts parked ops once each, clearing degraded mode
// when the backlog empties.
func (p *persister) flushPending(ctx context.Context) {
	if len(p.pending) == 0 {
		return
	}

	var still []persistOp
	for _, op := range p.pending {
		if err := p.applyOnce(ctx, op); err != nil {
			still = append(still, op)
			continue
		}
		if op.deleteID == "" {
			telemetry.PaidPersisted.Inc()
		}
	}
	p.pending = still
	if len(p.pending) == 0 {
		p.log.Info().Msg("persistence backlog cleared, leaving degraded mode")
		telemetry.DegradedMode.Set(0)
	}
}

// drain flushes the queue and pending ops on shutdown with a bounded
// budget and a fresh context, since the run context is already cancelled.
func (p *persister) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainBudget)
	defer cancel()

	for {
		select {
		case op := <-p.queue:
			if time.Since(op.enqueuedAt) > shutdownStaleAfter {
				p.log.Warn().Str("id", opID(op)).Msg("skipping stale write at shutdown")
				continue
			}
			if err := p.applyOnce(ctx, op); err != nil {
				p.log.Warn().Err(err).Str("id", opID(op)).Msg("dropped paid message write at shutdown")
			}
		default:
			p.flushPending(ctx)
			return
		}
	}
}

func opID(op persistOp) string {
	if op.deleteID != "" {
		return op.deleteID
	}
	return op.msg.ID
}

// upsertOp and deleteOp are small constructors used by the hub.
func upsertOp(msg chat.Message) persistOp { return persistOp{msg: msg} }
func deleteOp(id string) persistOp        { return persistOp{deleteID: id} }
