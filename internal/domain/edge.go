package domain

import (
	"context"
	"math"
	"sync"
	"time"
)

// cachedPricePoint is one entry of a warmed price curve: at input amount
// InAmount, the edge returns OutAmount and an implied per-unit Price.
type cachedPricePoint struct {
	InAmount  uint64
	OutAmount uint64
	Price     float64
}

// EdgeState is the interior mutable state of an Edge: its warmed price
// curve, validity, and cooldown bookkeeping. Reads and writes always go
// through Edge's RWMutex.
type EdgeState struct {
	cachedPrices    []cachedPricePoint
	valid           bool
	lastUpdate      time.Time
	lastUpdateSlot  uint64
	cooldownEvent   int
	cooldownUntil   time.Time
	hasCooldownDead bool
}

// IsValid reports whether the edge can currently be quoted. An edge with
// a live cooldown deadline is never valid, regardless of its warmed
// price curve, until an explicit Update clears the deadline.
func (s *EdgeState) IsValid() bool {
	if !s.valid {
		return false
	}
	if s.hasCooldownDead {
		return false
	}
	return true
}

// CachedPriceFor returns the cached price point whose reference input
// amount is the smallest one ≥ x, or the largest cached point if every
// cached point has a smaller input amount than x. It returns false if the
// edge is invalid or has no cached curve at all.
func (s *EdgeState) CachedPriceFor(x uint64) (cachedPricePoint, bool) {
	if !s.IsValid() || len(s.cachedPrices) == 0 {
		return cachedPricePoint{}, false
	}
	for _, p := range s.cachedPrices {
		if p.InAmount >= x {
			return p, true
		}
	}
	return s.cachedPrices[len(s.cachedPrices)-1], true
}

// ResetCooldown clears the cooldown deadline but deliberately does not
// reset the event counter: add_cooldown's exponential scaling is meant to
// escalate across repeated failures within a session, not just within a
// single live cooldown window. See DESIGN.md "ResetCooldown counter
// semantics".
func (s *EdgeState) ResetCooldown() {
	s.hasCooldownDead = false
	s.cooldownUntil = time.Time{}
}

// CanResetCooldown reports whether the live cooldown deadline, if any,
// has already passed.
func (s *EdgeState) CanResetCooldown(now time.Time) bool {
	return s.hasCooldownDead && !now.Before(s.cooldownUntil)
}

// AddCooldown escalates the cooldown: the event counter increments (it
// is not capped), the requested duration is scaled by round(c*1.2^c)
// where c is the counter capped at 10, and the resulting deadline is
// only ever pushed forward, never back.
func (s *EdgeState) AddCooldown(now time.Time, base time.Duration) {
	s.cooldownEvent++
	c := s.cooldownEvent
	if c > 10 {
		c = 10
	}
	cf := float64(c)
	factor := math.Round(cf * math.Pow(1.2, cf))
	scaled := time.Duration(factor) * base
	candidate := now.Add(scaled)
	if !s.hasCooldownDead || candidate.After(s.cooldownUntil) {
		s.cooldownUntil = candidate
	}
	s.hasCooldownDead = true
}

// Update replaces the warmed price curve and marks the edge valid at the
// given slot. It clears the cooldown deadline only if it has already
// passed.
func (s *EdgeState) Update(now time.Time, slot uint64, prices []cachedPricePoint) {
	s.lastUpdate = now
	s.lastUpdateSlot = slot
	s.cachedPrices = prices
	s.valid = true
	if s.CanResetCooldown(now) {
		s.ResetCooldown()
	}
}

// LastUpdateSlot returns the slot at which the edge's price curve was
// last refreshed.
func (s *EdgeState) LastUpdateSlot() uint64 { return s.lastUpdateSlot }

// Edge is one directed swap leg: swapping InputMint for OutputMint through
// one pool of one DEX. Its interior state is protected by an RWMutex so
// many ring simulations can read it concurrently while a single updater
// goroutine refreshes it.
type Edge struct {
	InputMint      Mint
	OutputMint     Mint
	InputSymbol    string
	OutputSymbol   string
	Dex            Dex
	ID             DexEdgeIdentifier
	AccountsNeeded []Mint

	mu    sync.RWMutex
	state EdgeState
}

// NewEdge builds an Edge in its zero (invalid, no cooldown) state.
func NewEdge(input, output Mint, dex Dex, id DexEdgeIdentifier) *Edge {
	return &Edge{
		InputMint:      input,
		OutputMint:     output,
		Dex:            dex,
		ID:             id,
		AccountsNeeded: id.AccountsNeeded(),
	}
}

// Key returns the pool this edge routes through.
func (e *Edge) Key() PoolKey { return e.ID.Pool() }

// UniqueID identifies an edge by the combination of pool and input mint,
// which is unique even when a pool exposes more than one directed edge
// (e.g. a two-sided AMM pool has exactly two edges sharing one Key()).
func (e *Edge) UniqueID() (PoolKey, Mint) { return e.Key(), e.InputMint }

// IsValid reports whether the edge can currently be used in a quote.
func (e *Edge) IsValid() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.IsValid()
}

// CachedPriceFor looks up the warmed price curve for an input amount.
func (e *Edge) CachedPriceFor(x uint64) (uint64, uint64, float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.state.CachedPriceFor(x)
	return p.InAmount, p.OutAmount, p.Price, ok
}

// LastUpdateSlot returns the slot the edge's price curve was last
// refreshed at.
func (e *Edge) LastUpdateSlot() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.LastUpdateSlot()
}

// AddCooldown escalates the edge's cooldown, taking it out of rotation.
func (e *Edge) AddCooldown(now time.Time, base time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.AddCooldown(now, base)
}

// ResetCooldown clears the cooldown deadline, whether or not it has
// passed; the event counter is kept.
func (e *Edge) ResetCooldown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.ResetCooldown()
}

// CanResetCooldown reports whether the edge's cooldown deadline has
// passed and is eligible to be cleared.
func (e *Edge) CanResetCooldown(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.CanResetCooldown(now)
}

// SnapshotKey identifies one (pool, input mint) edge within a per-tick
// prepared-edge Snapshot.
type SnapshotKey struct {
	Pool  PoolKey
	Input Mint
}

// Snapshot memoizes each edge's prepared, ready-to-quote DexEdge handle
// for the lifetime of one pricing pass (e.g. one ring's descending
// in-amount ladder), so Dex.Prepare is called at most once per edge per
// pass instead of once per ladder rung. A nil value records a prepare
// failure so it isn't retried within the same pass, mirroring the
// upstream router's snapshot.entry(...).or_insert_with(prepare).
type Snapshot map[SnapshotKey]DexEdge

// prepareFor resolves e's ready-to-quote DexEdge handle, consulting and
// populating snapshot so repeated calls within one pass reuse the same
// prepared handle.
func (e *Edge) prepareFor(ctx context.Context, snapshot Snapshot) (DexEdge, error) {
	key := SnapshotKey{Pool: e.Key(), Input: e.InputMint}
	if prepared, ok := snapshot[key]; ok {
		if prepared == nil {
			return nil, errNotQuotable
		}
		return prepared, nil
	}

	prepared, err := e.resolveDexEdge(ctx)
	if err != nil {
		snapshot[key] = nil
		return nil, err
	}
	snapshot[key] = prepared
	return prepared, nil
}

// resolveDexEdge asks the owning Dex to prepare e's identifier, falling
// back to using the identifier directly when it already implements
// DexEdge (the shape every test double and the simplest plugins use).
func (e *Edge) resolveDexEdge(ctx context.Context) (DexEdge, error) {
	if e.Dex != nil {
		return e.Dex.Prepare(ctx, e.ID)
	}
	if dexEdge, ok := e.ID.(DexEdge); ok {
		return dexEdge, nil
	}
	return nil, errNotQuotable
}

// refreshFromQuotes installs a freshly computed price curve (already
// sorted ascending by input amount) as the edge's warmed cache.
func (e *Edge) refreshFromQuotes(now time.Time, slot uint64, points []cachedPricePoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Update(now, slot, points)
}

// Refresh re-warms the price curve by quoting each of the given input
// amount ladder rungs against the underlying DEX edge, preparing the
// edge once and reusing that handle across every rung. It is the Go
// analogue of the Rust source's Edge::update, with the curve
// recomputation filled in rather than left as a TODO hook.
func (e *Edge) Refresh(ctx context.Context, now time.Time, slot uint64, ladder []uint64) error {
	dexEdge, err := e.resolveDexEdge(ctx)
	if err != nil {
		return err
	}
	points := make([]cachedPricePoint, 0, len(ladder))
	for _, amt := range ladder {
		q, err := dexEdge.Quote(amt)
		if err != nil {
			continue
		}
		var price float64
		if q.InAmount > 0 {
			price = float64(q.OutAmount) / float64(q.InAmount)
		}
		points = append(points, cachedPricePoint{InAmount: q.InAmount, OutAmount: q.OutAmount, Price: price})
	}
	e.refreshFromQuotes(now, slot, points)
	return nil
}

var errNotQuotable = quoteErr("domain: edge identifier does not implement DexEdge")

type quoteErr string

func (e quoteErr) Error() string { return string(e) }
