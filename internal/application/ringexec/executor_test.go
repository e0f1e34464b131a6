package ringexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kalebmora/ringrouter/internal/domain"
)

type fakeIdentifier struct {
	pool domain.PoolKey
}

func (f fakeIdentifier) Pool() domain.PoolKey   { return f.pool }
func (f fakeIdentifier) AccountsNeeded() []domain.Mint { return nil }

type fakeDexEdge struct {
	fakeIdentifier
	outAmount uint64
}

func (f fakeDexEdge) Quote(inAmount uint64) (domain.Quote, error) {
	return domain.Quote{InAmount: inAmount, OutAmount: f.outAmount}, nil
}

func (f fakeDexEdge) SupportsExactOut() bool { return false }

func (f fakeDexEdge) QuoteExactOut(outAmount uint64) (domain.Quote, error) {
	return domain.Quote{}, nil
}

func mustMint(b byte) domain.Mint {
	var m domain.Mint
	m[0] = b
	return m
}

func mustPool(b byte) domain.PoolKey {
	var p domain.PoolKey
	p[0] = b
	return p
}

func buildTwoNodeExecutor(t *testing.T, outForward, outBackward uint64) (*Executor, *domain.Edge, *domain.Edge) {
	t.Helper()
	a, b := mustMint(1), mustMint(2)
	forward := domain.NewEdge(a, b, nil, fakeDexEdge{fakeIdentifier: fakeIdentifier{pool: mustPool(1)}, outAmount: outForward})
	backward := domain.NewEdge(b, a, nil, fakeDexEdge{fakeIdentifier: fakeIdentifier{pool: mustPool(2)}, outAmount: outBackward})

	graph := domain.NewGraph()
	graph.AddEdge(forward)
	graph.AddEdge(backward)

	ex := New(Config{
		Graph:         graph,
		TradingMints:  []domain.Mint{a},
		MaxPathLength: 2,
		InAmounts:     []uint64{1000},
		MinGain:       0,
	}, zap.NewNop(), nil)
	return ex, forward, backward
}

func TestExecutor_MarkDirty_QueuesOnlyRingsTouchingTheEdge(t *testing.T) {
	ex, forward, _ := buildTwoNodeExecutor(t, 1100, 1000)
	require.Equal(t, 1, ex.RingCount())

	ex.MarkDirty(forward)
	ex.mu.Lock()
	dirtyCount := len(ex.dirty)
	ex.mu.Unlock()
	assert.Equal(t, 1, dirtyCount)
}

func TestExecutor_RefreshSome_EmitsProfitableRoute(t *testing.T) {
	ex, forward, backward := buildTwoNodeExecutor(t, 1100, 1000)
	now := time.Now()
	forward.Refresh(context.Background(), now, 1, []uint64{1000})
	backward.Refresh(context.Background(), now, 1, []uint64{1000})

	ex.MarkDirty(forward)
	ex.refreshSome(context.Background())

	select {
	case route := <-ex.Routes():
		assert.Greater(t, route.Gain(), int64(0))
	default:
		t.Fatal("expected a profitable route to be emitted")
	}
}

func TestExecutor_ProcessRing_NoQuoteCoolsDownTheWholeRing(t *testing.T) {
	a, b := mustMint(1), mustMint(2)
	stale := domain.NewEdge(a, b, nil, fakeIdentifier{pool: mustPool(1)}) // never implements DexEdge

	graph := domain.NewGraph()
	graph.AddEdge(stale)
	ex := New(Config{
		Graph:         graph,
		TradingMints:  []domain.Mint{},
		MaxPathLength: 1,
		InAmounts:     []uint64{1000},
	}, zap.NewNop(), nil)

	ring := domain.NewRing(a, []*domain.Edge{stale})
	ex.processRing(context.Background(), ring)
	assert.False(t, ring.IsValid())
}
