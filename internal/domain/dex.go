package domain

import "context"

// Quote is the result of pricing a fixed input amount through one edge.
type Quote struct {
	InAmount  uint64
	OutAmount uint64
	FeeAmount uint64
	FeeMint   Mint
}

// DexEdgeIdentifier is implemented by a DEX plugin to identify a single
// directed swap leg (one pool, one direction) in a way the plugin can use
// to fetch accounts and build instructions later.
type DexEdgeIdentifier interface {
	// Pool returns the liquidity pool this identifier routes through.
	Pool() PoolKey
	// AccountsNeeded lists the accounts the edge must have loaded before
	// it can be quoted or turned into a swap instruction.
	AccountsNeeded() []Mint
}

// DexEdge is the quoting contract a DEX plugin exposes for one directed
// edge. Implementations are expected to be cheap, synchronous and to read
// only from already-cached account data — no I/O happens here.
type DexEdge interface {
	DexEdgeIdentifier
	// Quote prices an exact input amount.
	Quote(inAmount uint64) (Quote, error)
	// SupportsExactOut reports whether QuoteExactOut is implemented for
	// this edge. Most AMM curves only support exact-in pricing; the ring
	// executor's descending in-amount ladder never calls QuoteExactOut
	// itself, but an instruction builder that needs to fill an exact
	// order size checks this first.
	SupportsExactOut() bool
	// QuoteExactOut prices an exact desired output amount, returning the
	// input amount required to produce it.
	QuoteExactOut(outAmount uint64) (Quote, error)
}

// DexSubscriptionMode describes how a DEX's accounts are tracked by the
// upstream account feed.
type DexSubscriptionMode int

const (
	// SubscriptionAccounts tracks a fixed, explicit set of account keys.
	SubscriptionAccounts DexSubscriptionMode = iota
	// SubscriptionPrograms tracks whole owning programs.
	SubscriptionPrograms
	// SubscriptionMixed tracks a combination of accounts, programs, and
	// token accounts owned by a set of authorities.
	SubscriptionMixed
	// SubscriptionDisabled means the DEX is configured but not actively
	// fed; its edges never become ready.
	SubscriptionDisabled
)

func (m DexSubscriptionMode) String() string {
	switch m {
	case SubscriptionAccounts:
		return "accounts"
	case SubscriptionPrograms:
		return "programs"
	case SubscriptionMixed:
		return "mixed"
	case SubscriptionDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// DexLifecycle is the readiness state machine every per-DEX updater walks
// through exactly once, in order, over its lifetime.
type DexLifecycle int

const (
	DexInitializing DexLifecycle = iota
	DexReady
	DexRunning
	DexShuttingDown
)

func (s DexLifecycle) String() string {
	switch s {
	case DexInitializing:
		return "initializing"
	case DexReady:
		return "ready"
	case DexRunning:
		return "running"
	case DexShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Dex groups every edge belonging to one on-chain venue (one AMM program,
// typically) and tracks how its accounts are subscribed to.
type Dex interface {
	// Name is a short human-readable identifier, used in logs and metrics.
	Name() string
	// SubscriptionMode reports how this DEX's accounts are fed.
	SubscriptionMode() DexSubscriptionMode
	// Prepare loads whatever account state an edge needs before quoting,
	// using the given context for cancellation of any I/O it performs,
	// and returns a ready-to-quote DexEdge handle. Callers memoize the
	// result per (pool, input mint) for the duration of one pricing pass
	// rather than calling Prepare again for every ladder rung.
	Prepare(ctx context.Context, edge DexEdgeIdentifier) (DexEdge, error)
}
