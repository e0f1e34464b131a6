// Package ports declares the small interfaces the application core
// depends on; adapters implement them against real collaborators (an RPC
// node, a relay endpoint, a database) or fakes for tests.
package ports

import (
	"context"
	"time"

	"github.com/kalebmora/ringrouter/internal/domain"
)

// AccountRecord is the latest observed state of one on-chain account.
// ChainStore keeps the higher slot, except that an unrooted record never
// displaces a rooted one; within a slot the higher write version wins,
// and at an equal write version a rooted record replaces an unrooted one.
type AccountRecord struct {
	Pubkey       domain.Mint
	Owner        domain.Mint
	Slot         uint64
	WriteVersion uint64
	Lamports     uint64
	Data         []byte
	Executable   bool
	RentEpoch    uint64
	Rooted       bool
}

// ChainStore holds the latest known state of every tracked account and
// the newest processed slot.
type ChainStore interface {
	UpdateAccount(rec AccountRecord)
	UpdateSlot(slot uint64)
	Account(pubkey domain.Mint) (AccountRecord, bool)
	NewestSlot() uint64
}

// FeedEvent is one message delivered by an AccountFeed: either an account
// write, a slot advance, or a metadata boundary marker.
type FeedEvent struct {
	Kind         FeedEventKind
	Account      AccountRecord
	Slot         uint64
	Program      domain.Mint
	InvalidAcct  domain.Mint
}

// FeedEventKind discriminates FeedEvent's payload.
type FeedEventKind int

const (
	FeedEventAccount FeedEventKind = iota
	FeedEventSlot
	FeedEventSnapshotStart
	FeedEventSnapshotEnd
	FeedEventInvalidAccount
)

// AccountFeed streams account/slot/metadata updates for a DEX's tracked
// keys. A production implementation wraps a Geyser/gRPC or websocket
// subscription; internal/adapters/feed/wsfeed provides a dev/test one.
type AccountFeed interface {
	Subscribe(ctx context.Context, dexName string) (<-chan FeedEvent, error)
}

// TokenMetadata resolves a mint to a human-readable symbol, used only
// for logging/reporting.
type TokenMetadata interface {
	Symbol(mint domain.Mint) (string, bool)
	Decimals(mint domain.Mint) (uint8, bool)
}

// BundleResult is what a relay responds with after accepting (or
// rejecting) a submitted bundle.
type BundleResult struct {
	RelayURL string
	BundleID string
	Err      error
	Latency  time.Duration
}

// BundleRelay submits a signed, serialized two-transaction bundle to one
// or more block-building relay endpoints.
type BundleRelay interface {
	SendBundle(ctx context.Context, txs [][]byte) []BundleResult
}

// AuditStore persists routes, submitted bundles, and relay responses for
// offline inspection. It is best-effort: failures are logged, never
// fatal to the routing hot path.
type AuditStore interface {
	SaveRoute(ctx context.Context, route *domain.Route) error
	SaveBundle(ctx context.Context, ringID string, txs [][]byte, results []BundleResult) error
	Close() error
}
