// Package ringexec schedules dirty rings for re-pricing and emits
// profitable routes, bounded by a per-tick wall-clock budget and a
// capped parallel fan-out.
package ringexec

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/metrics"
)

const (
	// TickBudget bounds how long one refresh pass may run before it
	// defers remaining dirty rings to the next tick.
	TickBudget = 400 * time.Millisecond
	// MaxParallel bounds how many rings are simulated concurrently.
	MaxParallel = 16
	// TickInterval is how often the executor wakes to process dirty rings.
	TickInterval = 100 * time.Millisecond
	// cooldownBase is the base duration scaled by the exponential
	// cooldown factor when a ring misbehaves.
	cooldownBase = 30 * time.Second
)

// Config wires an Executor's static routing data.
type Config struct {
	Graph          *domain.Graph
	TradingMints   []domain.Mint
	MaxPathLength  int
	InAmounts      []uint64 // descending ladder
	MinGain        int64
}

// Executor owns every Ring derived from Config's trading mints and
// dispatches dirty ones for re-pricing on a fixed cadence.
type Executor struct {
	cfg Config
	log *zap.Logger
	mx  *metrics.Metrics

	ringsByEdge map[edgeKey][]*domain.Ring
	allRings    []*domain.Ring

	mu    sync.Mutex
	dirty map[string]*domain.Ring

	routes chan *domain.Route
}

type edgeKey struct {
	pool  domain.PoolKey
	input domain.Mint
}

// New builds an Executor, deriving every ring up to MaxPathLength hops
// from each configured trading mint.
func New(cfg Config, log *zap.Logger, mx *metrics.Metrics) *Executor {
	if len(cfg.InAmounts) == 0 {
		cfg.InAmounts = []uint64{1_000_000, 500_000, 100_000, 10_000}
	}
	sort.Slice(cfg.InAmounts, func(i, j int) bool { return cfg.InAmounts[i] > cfg.InAmounts[j] })

	ex := &Executor{
		cfg:         cfg,
		log:         log,
		mx:          mx,
		ringsByEdge: make(map[edgeKey][]*domain.Ring),
		dirty:       make(map[string]*domain.Ring),
		routes:      make(chan *domain.Route, 256),
	}

	for _, mint := range cfg.TradingMints {
		for _, cycle := range cfg.Graph.FindCycles(mint, cfg.MaxPathLength) {
			ring := domain.NewRing(mint, cycle)
			ex.allRings = append(ex.allRings, ring)
			for _, e := range cycle {
				pool, input := e.UniqueID()
				k := edgeKey{pool: pool, input: input}
				ex.ringsByEdge[k] = append(ex.ringsByEdge[k], ring)
			}
		}
	}
	return ex
}

// Routes returns the channel profitable routes are published on.
func (ex *Executor) Routes() <-chan *domain.Route { return ex.routes }

// RingCount returns how many rings were derived at construction time.
func (ex *Executor) RingCount() int { return len(ex.allRings) }

// MarkDirty is called whenever an edge is refreshed; every valid ring
// traversing that edge is queued for re-pricing. An invalid ring is not
// queued; if its cooldown deadline has passed, the deadline is cleared
// and the ring stays invalid.
func (ex *Executor) MarkDirty(e *domain.Edge) {
	pool, input := e.UniqueID()
	rings := ex.ringsByEdge[edgeKey{pool: pool, input: input}]

	ex.mu.Lock()
	defer ex.mu.Unlock()
	for _, r := range rings {
		if r.IsValid() {
			ex.dirty[r.RingID] = r
			continue
		}
		if r.CanResetCooldown(time.Now()) {
			r.ResetCooldown()
		}
	}
	if ex.mx != nil {
		ex.mx.DirtyRingQueue.Set(float64(len(ex.dirty)))
	}
}

// Run drives the periodic refresh loop until ctx is cancelled.
func (ex *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(ex.routes)
			return
		case <-ticker.C:
			ex.refreshSome(ctx)
		}
	}
}

// refreshSome snapshots the current dirty set (preserving any rings
// re-dirtied by a concurrent MarkDirty during processing), then
// re-prices each one through a bounded worker pool within TickBudget.
func (ex *Executor) refreshSome(ctx context.Context) {
	ex.mu.Lock()
	if len(ex.dirty) == 0 {
		ex.mu.Unlock()
		return
	}
	batch := ex.dirty
	ex.dirty = make(map[string]*domain.Ring)
	ex.mu.Unlock()

	deadline := time.Now().Add(TickBudget)

	type work struct{ ring *domain.Ring }
	workCh := make(chan work, len(batch))
	for _, r := range batch {
		workCh <- work{ring: r}
	}
	close(workCh)

	var wg sync.WaitGroup
	workers := MaxParallel
	if len(batch) < workers {
		workers = len(batch)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				if time.Now().After(deadline) {
					ex.log.Warn("ring executor tick budget exceeded, requeuing remaining rings")
					ex.requeue(w.ring)
					continue
				}
				ex.processRing(ctx, w.ring)
			}
		}()
	}
	wg.Wait()
}

func (ex *Executor) requeue(r *domain.Ring) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.dirty[r.RingID] = r
}

// processRing scans the descending in-amount ladder and emits the first
// rung whose gain exceeds MinGain and differs from the ring's last
// emitted gain (avoiding re-emitting the same route every tick). Every
// rung of the ladder shares one Snapshot so each edge is prepared at
// most once per ring per tick.
func (ex *Executor) processRing(ctx context.Context, r *domain.Ring) {
	snapshot := make(domain.Snapshot)
	var anyQuoted bool
	for _, amount := range ex.cfg.InAmounts {
		route, ok := r.BuildRouteSteps(ctx, snapshot, amount)
		if !ok {
			continue
		}
		anyQuoted = true
		gain := route.Gain()
		if gain > ex.cfg.MinGain && gain != r.CurrentGain() {
			r.SetCurrentGain(gain)
			if ex.mx != nil {
				ex.mx.RoutesEmitted.Inc()
			}
			select {
			case ex.routes <- route:
			default:
				ex.log.Warn("route channel full, dropping route", zap.String("ring", r.RingID))
			}
			return
		}
	}
	if !anyQuoted {
		r.SetValid(false)
		r.AddCooldown(time.Now(), cooldownBase)
		if ex.mx != nil {
			ex.mx.CooldownEvents.WithLabelValues("ring_no_quote").Inc()
		}
	}
}
