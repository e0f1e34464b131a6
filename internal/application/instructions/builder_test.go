package instructions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/ports"
)

type fakeStore struct {
	existing map[domain.Mint]struct{}
}

func (s fakeStore) UpdateAccount(ports.AccountRecord) {}
func (s fakeStore) UpdateSlot(uint64)                  {}
func (s fakeStore) NewestSlot() uint64                 { return 0 }

func (s fakeStore) Account(pubkey domain.Mint) (ports.AccountRecord, bool) {
	_, ok := s.existing[pubkey]
	return ports.AccountRecord{}, ok
}

type fakeBuilder struct {
	plan SwapPlan
	err  error
}

func (b fakeBuilder) BuildSwap(ctx context.Context, step domain.RouteStep) (SwapPlan, error) {
	return b.plan, b.err
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

type fakeDex struct{ name string }

func (f fakeDex) Name() string                         { return f.name }
func (f fakeDex) SubscriptionMode() domain.DexSubscriptionMode { return domain.SubscriptionAccounts }
func (f fakeDex) Prepare(ctx context.Context, id domain.DexEdgeIdentifier) (domain.DexEdge, error) {
	return nil, nil
}

func twoHopRoute() *domain.Route {
	a, b, c := mustMint(1), mustMint(2), mustMint(3)
	edge1 := &domain.Edge{InputMint: a, OutputMint: b, Dex: fakeDex{name: "raydium"}}
	edge2 := &domain.Edge{InputMint: b, OutputMint: c, Dex: fakeDex{name: "raydium"}}
	return &domain.Route{
		RingID: "ring-1",
		Steps: []domain.RouteStep{
			{Edge: edge1, InAmount: 1000, OutAmount: 950},
			{Edge: edge2, InAmount: 950, OutAmount: 920},
		},
	}
}

func TestBuild_MergesEveryStepIntoOneCompositeSwap(t *testing.T) {
	route := twoHopRoute()
	builder := fakeBuilder{plan: SwapPlan{
		Swap:        Instruction("swap-payload"),
		ComputeUnit: 100_000,
	}}
	builders := map[string]DexInstructionBuilder{"raydium": builder}
	store := fakeStore{existing: map[domain.Mint]struct{}{}}

	plan, err := Build(context.Background(), route, builders, store)
	require.NoError(t, err)

	segments, err := SplitComposite(plan.Swap)
	require.NoError(t, err)
	require.Len(t, segments, 2, "one composite segment per route step")
	assert.Equal(t, Instruction("swap-payload"), segments[0])
	assert.Equal(t, Instruction("swap-payload"), segments[1])
	assert.Equal(t, uint32(200_000), plan.ComputeUnitEst)
}

func TestBuild_FiltersSetupInstructionsForExistingAccounts(t *testing.T) {
	route := twoHopRoute()
	existingATA := mustMint(9)
	newATA := mustMint(10)

	builder := fakeBuilder{plan: SwapPlan{
		Setup: []SetupInstruction{
			{Instruction: Instruction("create-existing"), Target: existingATA},
			{Instruction: Instruction("create-new"), Target: newATA},
		},
		Swap: Instruction("swap-payload"),
	}}
	builders := map[string]DexInstructionBuilder{"raydium": builder}
	store := fakeStore{existing: map[domain.Mint]struct{}{existingATA: {}}}

	plan, err := Build(context.Background(), route, builders, store)
	require.NoError(t, err)

	// Two steps, each contributing one non-existing setup instruction.
	assert.Len(t, plan.Setup, 2)
	for _, ix := range plan.Setup {
		assert.Equal(t, Instruction("create-new"), ix)
	}
}

func TestBuild_AggregatesCleanupAcrossSteps(t *testing.T) {
	route := twoHopRoute()
	builder := fakeBuilder{plan: SwapPlan{
		Swap:    Instruction("swap-payload"),
		Cleanup: []Instruction{Instruction("close-wsol")},
	}}
	builders := map[string]DexInstructionBuilder{"raydium": builder}
	store := fakeStore{existing: map[domain.Mint]struct{}{}}

	plan, err := Build(context.Background(), route, builders, store)
	require.NoError(t, err)
	assert.Len(t, plan.Cleanup, 2)
}

func TestBuild_MissingBuilderErrors(t *testing.T) {
	route := twoHopRoute()
	store := fakeStore{existing: map[domain.Mint]struct{}{}}
	_, err := Build(context.Background(), route, map[string]DexInstructionBuilder{}, store)
	assert.Error(t, err)
}

func TestSplitComposite_RoundTripsEmptyInput(t *testing.T) {
	segments, err := SplitComposite(nil)
	require.NoError(t, err)
	assert.Empty(t, segments)
}
