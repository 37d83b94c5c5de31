// Package scheduler runs one periodic evaluation loop per active instance.
// Loops tick independently; a loop whose previous evaluation is still in
// flight skips the tick instead of queueing it.
package scheduler

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"solana-strategy-engine/internal/observability"
)

// Evaluator is one instance's evaluation callback.
type Evaluator func(ctx context.Context) error

// Config holds scheduling parameters.
type Config struct {
	// TickInterval is the base evaluation period per instance.
	TickInterval time.Duration

	// StartJitter spreads loop starts over up to this duration so a
	// rehydrated fleet does not stampede the oracle and router at once.
	StartJitter time.Duration
}

// DefaultConfig returns production scheduling defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: 45 * time.Second,
		StartJitter:  15 * time.Second,
	}
}

type loop struct {
	cancel   context.CancelFunc
	done     chan struct{}
	inFlight sync.Mutex
	kind     string
}

// Scheduler owns the evaluation loops.
type Scheduler struct {
	cfg     Config
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	loops map[string]*loop
}

// New creates a scheduler. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		loops:   make(map[string]*loop),
	}
}

// Add starts the evaluation loop for an instance. Adding an id that is
// already scheduled is a no-op.
func (s *Scheduler) Add(kind, id string, eval Evaluator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.loops[id]; exists {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	l := &loop{cancel: cancel, done: make(chan struct{}), kind: kind}
	s.loops[id] = l
	if s.metrics != nil {
		s.metrics.ActiveInstances.WithLabelValues(kind).Inc()
	}

	s.wg.Add(1)
	go s.run(ctx, l, id, eval)
}

// Remove stops an instance's loop and waits for an in-flight evaluation to
// finish. Safe to call for ids that were never scheduled.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	l, ok := s.loops[id]
	if ok {
		delete(s.loops, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	l.cancel()
	<-l.done
	// Join the in-flight evaluation, if any.
	l.inFlight.Lock()
	l.inFlight.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveInstances.WithLabelValues(l.kind).Dec()
	}
}

// Shutdown stops every loop and joins all in-flight evaluations.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.loops {
		if s.metrics != nil {
			s.metrics.ActiveInstances.WithLabelValues(l.kind).Dec()
		}
		delete(s.loops, id)
	}
}

func (s *Scheduler) run(ctx context.Context, l *loop, id string, eval Evaluator) {
	defer s.wg.Done()
	defer close(l.done)

	if s.cfg.StartJitter > 0 {
		delay := time.Duration(rand.Int63n(int64(s.cfg.StartJitter)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	// First evaluation fires immediately after the jitter so a freshly
	// created instance does not sit idle for a full interval.
	s.fire(ctx, l, id, eval)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, l, id, eval)
		}
	}
}

// fire starts one evaluation unless the previous one is still in flight, in
// which case the tick is skipped rather than queued. The evaluation runs on a
// context detached from the loop's: Remove and Shutdown stop future ticks and
// join the evaluation, but never cancel it mid-trade, since a submitted
// transaction cannot be un-submitted.
func (s *Scheduler) fire(ctx context.Context, l *loop, id string, eval Evaluator) {
	if !l.inFlight.TryLock() {
		if s.metrics != nil {
			s.metrics.TicksSkipped.Inc()
		}
		log.Printf("[scheduler] instance %s: previous evaluation still running, skipping tick", id)
		return
	}

	evalCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer l.inFlight.Unlock()

		start := time.Now()
		if err := eval(evalCtx); err != nil {
			log.Printf("[scheduler] instance %s: evaluation failed: %v", id, err)
		}
		if s.metrics != nil {
			s.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}()
}
