package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

// RingState is the interior mutable bookkeeping for a Ring: its last
// observed profitable gain, validity, and cooldown state. It mirrors
// EdgeState's cooldown mechanics exactly.
type RingState struct {
	currentGain     int64
	valid           bool
	cooldownEvent   int
	cooldownUntil   time.Time
	hasCooldownDead bool
}

func (s *RingState) IsValid() bool {
	if !s.valid {
		return false
	}
	return !s.hasCooldownDead
}

func (s *RingState) SetValid(v bool) { s.valid = v }

func (s *RingState) ResetCooldown() {
	s.hasCooldownDead = false
	s.cooldownUntil = time.Time{}
}

func (s *RingState) CanResetCooldown(now time.Time) bool {
	return s.hasCooldownDead && !now.Before(s.cooldownUntil)
}

// AddCooldown escalates the ring's cooldown using the same
// round(c*1.2^c) scaling as EdgeState.AddCooldown.
func (s *RingState) AddCooldown(now time.Time, base time.Duration) {
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

// CurrentGain returns the last recorded profitable gain, used to decide
// whether a newly computed ladder result is worth re-emitting.
func (s *RingState) CurrentGain() int64    { return s.currentGain }
func (s *RingState) SetCurrentGain(g int64) { s.currentGain = g }

// Ring is one cycle of edges, all denominated in TradingMint: swapping
// TradingMint through every edge in order returns to TradingMint.
type Ring struct {
	TradingMint Mint
	RingID      string
	Edges       []*Edge
	symbols     map[string]struct{}

	mu    sync.RWMutex
	state RingState
}

// NewRing builds a Ring from a cycle discovered by Graph.FindCycles,
// deriving a stable id and starting in the valid, uncooled state.
func NewRing(tradingMint Mint, edges []*Edge) *Ring {
	r := &Ring{
		TradingMint: tradingMint,
		Edges:       edges,
		symbols:     make(map[string]struct{}),
	}
	r.RingID = ringIDFromEdges(tradingMint, edges)
	r.state.SetValid(true)
	r.state.ResetCooldown()
	for _, e := range edges {
		if e.InputSymbol != "" {
			r.symbols[e.InputSymbol] = struct{}{}
		}
		if e.OutputSymbol != "" {
			r.symbols[e.OutputSymbol] = struct{}{}
		}
	}
	return r
}

// Symbols returns the distinct human-readable token symbols touched by
// this ring, for logging and table display. Empty if no symbol metadata
// was available when the ring was built.
func (r *Ring) Symbols() []string {
	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	return out
}

// ringIDFromEdges derives a stable id by hashing the trading mint followed
// by each edge's (pool, input mint) and output mint, in path order —
// matching the original Rust ring_id_hash_from_edges.
func ringIDFromEdges(tradingMint Mint, edges []*Edge) string {
	h := sha256.New()
	h.Write(tradingMint[:])
	for _, e := range edges {
		pool, input := e.UniqueID()
		h.Write(pool[:])
		h.Write(input[:])
		h.Write(e.OutputMint[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Ring) IsValid() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.IsValid()
}

func (r *Ring) SetValid(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.SetValid(v)
}

func (r *Ring) ResetCooldown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.ResetCooldown()
}

func (r *Ring) CanResetCooldown(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.CanResetCooldown(now)
}

func (r *Ring) AddCooldown(now time.Time, base time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.AddCooldown(now, base)
}

func (r *Ring) CurrentGain() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.CurrentGain()
}

func (r *Ring) SetCurrentGain(g int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.SetCurrentGain(g)
}

// DivergenceFactor bounds how far a leg's quoted output may diverge, in
// either direction, from the dumb, price-curve-only output estimate
// (quoted input times cached price) before the leg is considered
// unreliable and cooled down.
const DivergenceFactor = 3

// edgeCooldownBase is the cooldown duration passed to Edge.AddCooldown
// when a single leg fails during ring pricing: a prepare error, a quote
// error, a zero-output quote, or a divergent quote. It matches the original
// router's compute_out_amount, which cools the offending edge for 30s
// before scaling by the escalating event counter.
const edgeCooldownBase = 30 * time.Second

// saturatingMul3 computes DivergenceFactor*x, clamping to math.MaxUint64
// on overflow instead of wrapping, matching the Rust source's
// saturating_mul(3).
func saturatingMul3(x uint64) uint64 {
	const max = ^uint64(0)
	const factor = uint64(DivergenceFactor)
	if x > max/factor {
		return max
	}
	return x * factor
}

// BuildRouteSteps prices amount through every edge of the ring in order,
// preparing each edge at most once via snapshot, and returns the fully
// materialized Route. A leg that is already invalid aborts the ring for
// this amount without touching its cooldown. Any leg that fails to
// prepare, fails to quote, quotes a zero output, or diverges from its
// cached price estimate by more than DivergenceFactor adds a cooldown to
// that edge alone and aborts the whole ring for this amount, mirroring
// the original router's Ring::compute_out_amount.
func (r *Ring) BuildRouteSteps(ctx context.Context, snapshot Snapshot, amount uint64) (*Route, bool) {
	steps := make([]RouteStep, 0, len(r.Edges))
	current := amount
	var maxSlot uint64
	now := time.Now()

	for _, edge := range r.Edges {
		if !edge.IsValid() {
			return nil, false
		}

		dexEdge, err := edge.prepareFor(ctx, snapshot)
		if err != nil {
			edge.AddCooldown(now, edgeCooldownBase)
			return nil, false
		}

		_, _, cachedPrice, hasCache := edge.CachedPriceFor(current)

		q, err := dexEdge.Quote(current)
		if err != nil {
			edge.AddCooldown(now, edgeCooldownBase)
			return nil, false
		}
		if q.OutAmount == 0 {
			edge.AddCooldown(now, edgeCooldownBase)
			return nil, false
		}

		if hasCache && cachedPrice > 0 {
			dumbOut := uint64(math.Round(float64(q.InAmount) * cachedPrice))
			if dumbOut > saturatingMul3(q.OutAmount) || q.OutAmount > saturatingMul3(dumbOut) {
				edge.AddCooldown(now, edgeCooldownBase)
				return nil, false
			}
		}

		slot := edge.LastUpdateSlot()
		if slot > maxSlot {
			maxSlot = slot
		}

		steps = append(steps, RouteStep{
			Edge:      edge,
			InAmount:  current,
			OutAmount: q.OutAmount,
			FeeAmount: q.FeeAmount,
			FeeMint:   q.FeeMint,
			Slot:      slot,
		})
		current = q.OutAmount
	}

	return &Route{
		RingID:      r.RingID,
		TradingMint: r.TradingMint,
		Steps:       steps,
		InAmount:    amount,
		OutAmount:   current,
		Slot:        maxSlot,
	}, true
}

