package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRingEdge(t *testing.T, input, output Mint, pool PoolKey, dexEdge fakeDexEdge) *Edge {
	t.Helper()
	dexEdge.mockIdentifier = mockIdentifier{pool: pool}
	return NewEdge(input, output, nil, dexEdge)
}

func TestRing_BuildRouteSteps_HappyPathPopulatesAmountsAndSlot(t *testing.T) {
	a, b := mustMint(t, 1), mustMint(t, 2)
	e := mustRingEdge(t, a, b, mustPool(t, 1), fakeDexEdge{outAmount: 950})
	e.refreshFromQuotes(time.Now(), 7, []cachedPricePoint{{InAmount: 100, OutAmount: 950, Price: 9.5}})

	r := NewRing(a, []*Edge{e})
	route, ok := r.BuildRouteSteps(context.Background(), make(Snapshot), 100)
	require.True(t, ok)
	assert.Equal(t, uint64(950), route.OutAmount)
	assert.Equal(t, uint64(7), route.Slot)
	require.Len(t, route.Steps, 1)
	assert.Equal(t, uint64(100), route.Steps[0].InAmount)
}

func TestRing_BuildRouteSteps_InvalidEdgeAborts(t *testing.T) {
	a, b := mustMint(t, 1), mustMint(t, 2)
	e := mustRingEdge(t, a, b, mustPool(t, 1), fakeDexEdge{outAmount: 950})
	// Never refreshed: state.valid stays false.

	r := NewRing(a, []*Edge{e})
	_, ok := r.BuildRouteSteps(context.Background(), make(Snapshot), 100)
	assert.False(t, ok)
}

func TestRing_BuildRouteSteps_QuoteErrorCoolsDownTheEdge(t *testing.T) {
	a, b := mustMint(t, 1), mustMint(t, 2)
	e := mustRingEdge(t, a, b, mustPool(t, 1), fakeDexEdge{err: assertErr{}})
	e.refreshFromQuotes(time.Now(), 1, []cachedPricePoint{{InAmount: 100, OutAmount: 95, Price: 0.95}})
	require.True(t, e.IsValid())

	r := NewRing(a, []*Edge{e})
	_, ok := r.BuildRouteSteps(context.Background(), make(Snapshot), 100)
	assert.False(t, ok)
	assert.False(t, e.IsValid(), "a quote error must cool down the failing edge")
}

func TestRing_BuildRouteSteps_ZeroOutputCoolsDownTheEdge(t *testing.T) {
	a, b := mustMint(t, 1), mustMint(t, 2)
	e := mustRingEdge(t, a, b, mustPool(t, 1), fakeDexEdge{outAmount: 0})
	e.refreshFromQuotes(time.Now(), 1, []cachedPricePoint{{InAmount: 100, OutAmount: 95, Price: 0.95}})

	r := NewRing(a, []*Edge{e})
	_, ok := r.BuildRouteSteps(context.Background(), make(Snapshot), 100)
	assert.False(t, ok)
	assert.False(t, e.IsValid())
}

// TestRing_BuildRouteSteps_DivergenceCoolsDownOnlyTheOffendingEdge: a
// ring whose second edge quotes an out_amount more than 3x below the
// cached price estimate cools down only that edge, leaving the first
// (well-behaved) edge untouched.
func TestRing_BuildRouteSteps_DivergenceCoolsDownOnlyTheOffendingEdge(t *testing.T) {
	a, b, c := mustMint(t, 1), mustMint(t, 2), mustMint(t, 3)

	first := mustRingEdge(t, a, b, mustPool(t, 1), fakeDexEdge{outAmount: 100})
	first.refreshFromQuotes(time.Now(), 1, []cachedPricePoint{{InAmount: 100, OutAmount: 100, Price: 1.0}})

	// cachedPrice of 1.0 for input 100 means a quote is expected to
	// produce out_amount ~= in_amount; returning out_amount=1 against a
	// dumb estimated output of round(100*1.0)=100, which is > 3*1, is a
	// divergence.
	second := mustRingEdge(t, b, c, mustPool(t, 2), fakeDexEdge{outAmount: 1})
	second.refreshFromQuotes(time.Now(), 1, []cachedPricePoint{{InAmount: 100, OutAmount: 100, Price: 1.0}})

	r := NewRing(a, []*Edge{first, second})
	_, ok := r.BuildRouteSteps(context.Background(), make(Snapshot), 100)
	assert.False(t, ok)
	assert.True(t, first.IsValid(), "only the diverging edge should be cooled down")
	assert.False(t, second.IsValid())
}

func TestRing_BuildRouteSteps_ReusesSnapshotAcrossLadderRungs(t *testing.T) {
	a, b := mustMint(t, 1), mustMint(t, 2)
	counting := &countingDexEdge{mockIdentifier: mockIdentifier{pool: mustPool(t, 1)}, outAmount: 90}
	e := NewEdge(a, b, countingDex{edge: counting}, counting)
	e.refreshFromQuotes(time.Now(), 1, []cachedPricePoint{{InAmount: 100, OutAmount: 90, Price: 0.9}})

	r := NewRing(a, []*Edge{e})
	snapshot := make(Snapshot)
	_, ok := r.BuildRouteSteps(context.Background(), snapshot, 100)
	require.True(t, ok)
	_, ok = r.BuildRouteSteps(context.Background(), snapshot, 50)
	require.True(t, ok)

	assert.Equal(t, 1, counting.prepareCalls, "Prepare should be memoized across ladder rungs sharing one snapshot")
}

type assertErr struct{}

func (assertErr) Error() string { return "quote failed" }

// countingDexEdge counts how many times it is prepared, to verify
// Snapshot memoization.
type countingDexEdge struct {
	mockIdentifier
	outAmount    uint64
	prepareCalls int
}

func (c *countingDexEdge) Quote(inAmount uint64) (Quote, error) {
	return Quote{InAmount: inAmount, OutAmount: c.outAmount}, nil
}

func (c *countingDexEdge) SupportsExactOut() bool { return false }

func (c *countingDexEdge) QuoteExactOut(outAmount uint64) (Quote, error) {
	return Quote{}, nil
}

// countingDex implements Dex, delegating Prepare to count invocations.
type countingDex struct {
	edge *countingDexEdge
}

func (countingDex) Name() string                      { return "counting" }
func (countingDex) SubscriptionMode() DexSubscriptionMode { return SubscriptionAccounts }

func (d countingDex) Prepare(ctx context.Context, id DexEdgeIdentifier) (DexEdge, error) {
	d.edge.prepareCalls++
	return d.edge, nil
}
