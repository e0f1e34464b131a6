package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDexEdge is a DexEdge test double that returns a fixed output amount
// and can be toggled to simulate a zero-liquidity or erroring quote.
type fakeDexEdge struct {
	mockIdentifier
	outAmount uint64
	err       error
}

func (f fakeDexEdge) Quote(inAmount uint64) (Quote, error) {
	if f.err != nil {
		return Quote{}, f.err
	}
	return Quote{InAmount: inAmount, OutAmount: f.outAmount}, nil
}

func (f fakeDexEdge) SupportsExactOut() bool { return false }

func (f fakeDexEdge) QuoteExactOut(outAmount uint64) (Quote, error) {
	return Quote{}, nil
}

func TestEdgeState_CachedPriceFor_PicksSmallestAtOrAboveX(t *testing.T) {
	var s EdgeState
	now := time.Now()
	s.Update(now, 1, []cachedPricePoint{
		{InAmount: 100, OutAmount: 95, Price: 0.95},
		{InAmount: 1000, OutAmount: 900, Price: 0.9},
		{InAmount: 10000, OutAmount: 8500, Price: 0.85},
	})

	p, ok := s.CachedPriceFor(500)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), p.InAmount)
}

func TestEdgeState_CachedPriceFor_FallsBackToLargest(t *testing.T) {
	var s EdgeState
	now := time.Now()
	s.Update(now, 1, []cachedPricePoint{
		{InAmount: 100, OutAmount: 95, Price: 0.95},
		{InAmount: 1000, OutAmount: 900, Price: 0.9},
	})

	p, ok := s.CachedPriceFor(5000)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), p.InAmount)
}

func TestEdgeState_CachedPriceFor_EmptyOrInvalid(t *testing.T) {
	var s EdgeState
	_, ok := s.CachedPriceFor(100)
	assert.False(t, ok)

	s.Update(time.Now(), 1, nil)
	_, ok = s.CachedPriceFor(100)
	assert.False(t, ok)
}

func TestEdgeState_AddCooldown_ScalesByRoundedExpFactor(t *testing.T) {
	var s EdgeState
	now := time.Now()
	base := 30 * time.Second

	s.AddCooldown(now, base)
	assert.Equal(t, 1, s.cooldownEvent)
	// c=1: factor = round(1 * 1.2^1) = round(1.2) = 1
	assert.Equal(t, now.Add(base), s.cooldownUntil)

	s.AddCooldown(now, base)
	// c=2: factor = round(2 * 1.2^2) = round(2.88) = 3
	assert.Equal(t, now.Add(3*base), s.cooldownUntil)
}

func TestEdgeState_AddCooldown_SaturatesScalingAtTen(t *testing.T) {
	var s EdgeState
	now := time.Now()
	for i := 0; i < 20; i++ {
		s.AddCooldown(now, time.Second)
	}
	assert.Equal(t, 20, s.cooldownEvent)
	// c saturates at 10: factor = round(10 * 1.2^10) ≈ round(61.9) = 62
	assert.Equal(t, now.Add(62*time.Second), s.cooldownUntil)
}

func TestEdgeState_AddCooldown_NeverMovesDeadlineBackward(t *testing.T) {
	var s EdgeState
	now := time.Now()
	s.AddCooldown(now, time.Hour)
	far := s.cooldownUntil

	s.AddCooldown(now.Add(-time.Minute), time.Millisecond)
	assert.Equal(t, far, s.cooldownUntil)
}

func TestEdgeState_ResetCooldown_ClearsDeadlineButNotCounter(t *testing.T) {
	var s EdgeState
	now := time.Now()
	s.AddCooldown(now, time.Second)
	s.AddCooldown(now, time.Second)
	require.Equal(t, 2, s.cooldownEvent)

	s.ResetCooldown()
	assert.False(t, s.hasCooldownDead)
	assert.Equal(t, 2, s.cooldownEvent, "reset must not zero the escalation counter")
}

func TestEdgeState_IsValid_FalseWhileCooldownLive(t *testing.T) {
	var s EdgeState
	now := time.Now()
	s.Update(now, 1, []cachedPricePoint{{InAmount: 1, OutAmount: 1, Price: 1}})
	require.True(t, s.IsValid())

	s.AddCooldown(now, time.Hour)
	assert.False(t, s.IsValid())
}

func TestEdge_Refresh_WarmsCurveFromLadder(t *testing.T) {
	a, b := mustMint(t, 1), mustMint(t, 2)
	fd := fakeDexEdge{mockIdentifier: mockIdentifier{pool: mustPool(t, 1)}, outAmount: 950}
	e := NewEdge(a, b, nil, fd)

	err := e.Refresh(context.Background(), time.Now(), 42, []uint64{100, 1000})
	require.NoError(t, err)
	assert.True(t, e.IsValid())
	assert.Equal(t, uint64(42), e.LastUpdateSlot())

	_, out, _, ok := e.CachedPriceFor(50)
	require.True(t, ok)
	assert.Equal(t, uint64(950), out)
}
