package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/events"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/metrics"
	"github.com/cortexops/cortex/pkg/registry"
	"github.com/cortexops/cortex/pkg/storage"
	"github.com/cortexops/cortex/pkg/types"
)

// PredicateDispatcher delivers one predicate to one worker
type PredicateDispatcher interface {
	DispatchPredicate(ctx context.Context, worker *types.Worker, p *types.Predicate) error
}

// WorkerDriftSink receives behavioral deviation signals observed during
// predicate delivery: failed dispatches and acks that never arrived.
type WorkerDriftSink interface {
	OnWorkerFailedDispatch(dsn string)
	OnWorkerMissedAck(dsn string)
}

// PatchApplier records an acknowledged predicate on the acking worker.
// Returns whether the patch is applied after the call.
type PatchApplier interface {
	ApplyPatch(dsn string, p *types.Predicate) (bool, error)
}

// Broadcaster fans approved predicates out to the active worker fleet.
// Delivery is at-most-once per predicate identity: a repeated broadcast
// of the same ID returns the prior attempt record unchanged. Budget
// overruns queue in arrival order rather than dropping.
type Broadcaster struct {
	cfg        config.BroadcastConfig
	registry   *registry.Registry
	store      storage.Store
	dispatcher PredicateDispatcher
	broker     *events.Broker
	limiter    *rate.Limiter
	driftSink  WorkerDriftSink
	patches    PatchApplier

	// queue is the bounded FIFO for rate-limited broadcasts
	queue  chan *types.Predicate
	stopCh chan struct{}

	// mu serializes attempt record mutations; acks arrive concurrently
	// with dispatch bookkeeping.
	mu sync.Mutex
	// ackDeadlines bounds async ack collection per predicate
	ackDeadlines map[string]time.Time

	maxConcurrent int
}

// New creates a predicate broadcaster
func New(cfg config.BroadcastConfig, reg *registry.Registry, store storage.Store, dispatcher PredicateDispatcher, broker *events.Broker) *Broadcaster {
	perSecond := rate.Limit(float64(cfg.PredicatesPerMinute) / 60.0)
	return &Broadcaster{
		cfg:           cfg,
		registry:      reg,
		store:         store,
		dispatcher:    dispatcher,
		broker:        broker,
		limiter:       rate.NewLimiter(perSecond, cfg.Burst),
		queue:         make(chan *types.Predicate, cfg.QueueSize),
		stopCh:        make(chan struct{}),
		ackDeadlines:  make(map[string]time.Time),
		maxConcurrent: 16,
	}
}

// SetDriftSink wires the drift detector for delivery deviation signals
func (b *Broadcaster) SetDriftSink(sink WorkerDriftSink) {
	b.driftSink = sink
}

// SetPatchApplier wires the lifecycle manager so an acked predicate is
// recorded on the acking worker.
func (b *Broadcaster) SetPatchApplier(applier PatchApplier) {
	b.patches = applier
}

// Start begins draining the overflow queue
func (b *Broadcaster) Start() {
	go b.drainLoop()
}

// Stop stops the broadcaster
func (b *Broadcaster) Stop() {
	close(b.stopCh)
}

func (b *Broadcaster) publish(eventType events.EventType, predicateID, msg string) {
	if b.broker == nil {
		return
	}
	b.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  msg,
		Metadata: map[string]string{"predicate_id": predicateID},
	})
}

// updateAttempt applies fn to the stored attempt under the lock
func (b *Broadcaster) updateAttempt(predicateID string, fn func(*types.BroadcastAttempt) error) (*types.BroadcastAttempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	attempt, err := b.store.GetAttempt(predicateID)
	if err != nil {
		return nil, err
	}
	if err := fn(attempt); err != nil {
		return nil, err
	}
	if err := b.store.PutAttempt(attempt); err != nil {
		return nil, fmt.Errorf("failed to persist attempt: %w", err)
	}
	return attempt, nil
}

// Broadcast fans a predicate out to every Active worker. A predicate
// already broadcast returns its prior attempt unchanged. With the token
// budget exhausted the predicate is queued and ErrRateLimited returned;
// queued predicates are dispatched in arrival order once tokens
// replenish, never dropped.
func (b *Broadcaster) Broadcast(p *types.Predicate) (*types.BroadcastAttempt, error) {
	b.mu.Lock()
	if prior, err := b.store.GetAttempt(p.ID); err == nil {
		b.mu.Unlock()
		log.WithPredicateID(p.ID).Debug().Msg("Duplicate broadcast; returning prior attempt")
		return prior, nil
	}

	// Admission is decided before anything is persisted: a predicate
	// rejected for queue capacity leaves no record behind and can be
	// resubmitted once the queue drains.
	queued := false
	if !b.limiter.Allow() {
		select {
		case b.queue <- p:
			queued = true
		default:
			b.mu.Unlock()
			return nil, fmt.Errorf("broadcast queue at capacity: %w", types.ErrQueueFull)
		}
	}

	if err := b.store.CreatePredicate(p); err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("failed to persist predicate: %w", err)
	}

	attempt := &types.BroadcastAttempt{
		PredicateID: p.ID,
		Recipients:  make(map[string]bool),
		Acked:       make(map[string]time.Time),
		StartedAt:   time.Now(),
	}
	if err := b.store.PutAttempt(attempt); err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("failed to persist attempt: %w", err)
	}
	b.mu.Unlock()

	if queued {
		metrics.PredicatesQueuedTotal.Inc()
		b.publish(events.EventPredicateQueued, p.ID, "broadcast queued: token budget exhausted")
		log.WithPredicateID(p.ID).Info().Msg("Broadcast queued behind rate limit")
		return attempt, types.ErrRateLimited
	}

	return b.dispatch(p)
}

// Retry re-dispatches a predicate to the recipients that never acked.
// It is explicit, consumes budget like a broadcast, and is bound by the
// same identity rule: it increments the prior attempt, never creating a
// new one.
func (b *Broadcaster) Retry(predicateID string) (*types.BroadcastAttempt, error) {
	attempt, err := b.store.GetAttempt(predicateID)
	if err != nil {
		return nil, err
	}
	p, err := b.store.GetPredicate(predicateID)
	if err != nil {
		return nil, err
	}

	if attempt.Attempts > 0 && len(attempt.Unacked()) == 0 {
		return attempt, nil
	}

	if !b.limiter.Allow() {
		return attempt, types.ErrRateLimited
	}
	return b.dispatch(p)
}

// Attempt returns the recorded attempt for a predicate
func (b *Broadcaster) Attempt(predicateID string) (*types.BroadcastAttempt, error) {
	return b.store.GetAttempt(predicateID)
}

// RecordAck records a worker's delivery acknowledgement. Acks are
// collected asynchronously up to the bounded window; later ones are
// discarded. Recipients that never ack stay visible on the attempt.
// An accepted ack records the predicate as a patch on the acking
// worker; the returned bool reports whether the patch is applied.
func (b *Broadcaster) RecordAck(predicateID, dsn string) (bool, error) {
	b.mu.Lock()
	deadline, bounded := b.ackDeadlines[predicateID]
	b.mu.Unlock()
	if bounded && time.Now().After(deadline) {
		log.WithPredicateID(predicateID).Debug().
			Str("worker_dsn", dsn).
			Msg("Ack after collection window; discarded")
		return false, fmt.Errorf("ack window closed for %s: %w", predicateID, types.ErrStaleAck)
	}

	_, err := b.updateAttempt(predicateID, func(attempt *types.BroadcastAttempt) error {
		if !attempt.Recipients[dsn] {
			return fmt.Errorf("worker %s was not a recipient of %s: %w", dsn, predicateID, types.ErrNotFound)
		}
		if _, already := attempt.Acked[dsn]; !already {
			attempt.Acked[dsn] = time.Now()
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	metrics.BroadcastAcksTotal.Inc()
	b.publish(events.EventPredicateAcked, predicateID, "predicate acked by "+dsn)

	applied := false
	if b.patches != nil {
		p, err := b.store.GetPredicate(predicateID)
		if err != nil {
			return false, err
		}
		applied, err = b.patches.ApplyPatch(dsn, p)
		if err != nil {
			log.WithPredicateID(predicateID).Warn().
				Str("worker_dsn", dsn).Err(err).
				Msg("Patch not recorded on acking worker")
			return false, err
		}
	}
	return applied, nil
}

// dispatch fans the predicate out to the current Active worker set in
// parallel. A slow or unreachable worker never blocks delivery to the
// rest; each dispatch runs under its own timeout and a failure only
// leaves the worker unacked.
func (b *Broadcaster) dispatch(p *types.Predicate) (*types.BroadcastAttempt, error) {
	workers := b.registry.ActiveWorkers()

	attempt, err := b.updateAttempt(p.ID, func(a *types.BroadcastAttempt) error {
		a.Attempts++
		for _, w := range workers {
			a.Recipients[w.DSN] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.ackDeadlines[p.ID] = time.Now().Add(b.cfg.AckWindow)
	b.mu.Unlock()

	if b.driftSink != nil {
		time.AfterFunc(b.cfg.AckWindow, func() { b.reportUnacked(p.ID) })
	}

	logger := log.WithPredicateID(p.ID)
	logger.Info().
		Int("recipients", len(workers)).
		Int("attempt", attempt.Attempts).
		Msg("Broadcasting predicate")

	sem := make(chan struct{}, b.maxConcurrent)
	var wg sync.WaitGroup
	for _, w := range workers {
		if _, acked := attempt.Acked[w.DSN]; acked {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(worker *types.Worker) {
			defer wg.Done()
			defer func() { <-sem }()

			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DispatchTimeout)
			defer cancel()

			if err := b.dispatcher.DispatchPredicate(ctx, worker, p); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("dispatch to %s: %w", worker.DSN, types.ErrTimeout)
				}
				logger.Debug().Str("worker_dsn", worker.DSN).Err(err).Msg("Predicate dispatch failed")
				if b.driftSink != nil {
					b.driftSink.OnWorkerFailedDispatch(worker.DSN)
				}
			}
		}(w)
	}
	wg.Wait()

	metrics.PredicatesBroadcastTotal.Inc()
	b.publish(events.EventPredicateBroadcast, p.ID, "predicate broadcast to fleet")

	if result, err := b.store.GetAttempt(p.ID); err == nil {
		return result, nil
	}
	return attempt, nil
}

// reportUnacked feeds recipients that never acked within the window to
// the drift sink as missed-ack signals.
func (b *Broadcaster) reportUnacked(predicateID string) {
	attempt, err := b.store.GetAttempt(predicateID)
	if err != nil {
		return
	}
	for _, dsn := range attempt.Unacked() {
		b.driftSink.OnWorkerMissedAck(dsn)
	}
}

// drainLoop serves queued broadcasts in arrival order as tokens
// replenish.
func (b *Broadcaster) drainLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-b.stopCh
		cancel()
	}()

	for {
		select {
		case p := <-b.queue:
			if err := b.limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := b.dispatch(p); err != nil {
				log.WithPredicateID(p.ID).Error().Err(err).Msg("Queued broadcast failed")
			}
		case <-b.stopCh:
			return
		}
	}
}
