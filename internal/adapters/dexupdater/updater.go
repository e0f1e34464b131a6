// Package dexupdater drives one DEX's edges from Initializing through
// Ready, Running, and ShuttingDown, consuming an account feed and
// republishing dirtied edges for the ring executor to pick up.
package dexupdater

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/metrics"
	"github.com/kalebmora/ringrouter/internal/ports"
)

// ErrSlotLagFatal is returned from Run when the feed has lagged beyond
// MaxLag for longer than MaxLagDuration — a structural failure the
// orchestrator must escalate, not retry.
type ErrSlotLagFatal struct {
	Dex string
	Lag uint64
}

func (e *ErrSlotLagFatal) Error() string {
	return fmt.Sprintf("dexupdater: %s: sustained slot lag of %d slots exceeded the configured budget", e.Dex, e.Lag)
}

// Config controls one updater's readiness and lag-safeguard thresholds.
type Config struct {
	Dex                      domain.Dex
	Edges                    []*domain.Edge
	SubscriptionMode         domain.DexSubscriptionMode
	TrackedAccounts          map[domain.Mint]struct{}
	TrackedPrograms          map[domain.Mint]struct{}
	InitTimeout              time.Duration // defaults to 30 minutes
	MaxLag                   uint64        // defaults to 300
	MaxLagDuration           time.Duration // defaults to 60s
	InAmountLadder           []uint64
	RefreshBudget            time.Duration // defaults to 100ms
}

func (c *Config) setDefaults() {
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Minute
	}
	if c.MaxLag == 0 {
		c.MaxLag = 300
	}
	if c.MaxLagDuration == 0 {
		c.MaxLagDuration = 60 * time.Second
	}
	if c.RefreshBudget == 0 {
		c.RefreshBudget = 100 * time.Millisecond
	}
}

// Updater owns one DEX's readiness state and dirty-edge processing loop.
type Updater struct {
	cfg    Config
	log    *zap.Logger
	mx     *metrics.Metrics
	edgeByPK map[domain.Mint][]*domain.Edge // account pubkey -> edges needing it

	lifecycle domain.DexLifecycle

	receivedAccounts map[domain.Mint]struct{}
	dirtyPrograms    map[domain.Mint]struct{}
	dirtyTokenAccts  bool

	dirtyEdges     map[dirtyKey]*domain.Edge
	latestSlotProc uint64
	latestSlotPend uint64
	lagSince       time.Time
	hasLagSince    bool

	edgePriceCh chan *domain.Edge
}

type dirtyKey struct {
	pool  domain.PoolKey
	input domain.Mint
}

// New builds an Updater. edgePrices is the channel dirtied edges are
// published to once refreshed; the ring executor consumes it.
func New(cfg Config, log *zap.Logger, mx *metrics.Metrics, edgePrices chan *domain.Edge) *Updater {
	cfg.setDefaults()
	u := &Updater{
		cfg:              cfg,
		log:              log,
		mx:               mx,
		edgeByPK:         make(map[domain.Mint][]*domain.Edge),
		receivedAccounts: make(map[domain.Mint]struct{}),
		dirtyPrograms:    make(map[domain.Mint]struct{}),
		dirtyEdges:       make(map[dirtyKey]*domain.Edge),
		edgePriceCh:      edgePrices,
	}
	for _, e := range cfg.Edges {
		for _, acct := range e.AccountsNeeded {
			u.edgeByPK[acct] = append(u.edgeByPK[acct], e)
		}
	}
	return u
}

// Ready reports whether the updater has completed its startup sequence.
func (u *Updater) Ready() bool {
	return u.lifecycle == domain.DexReady || u.lifecycle == domain.DexRunning
}

// Lifecycle returns the updater's current state.
func (u *Updater) Lifecycle() domain.DexLifecycle { return u.lifecycle }

// EdgePrices returns the channel of edges this updater has just
// refreshed. The orchestrator drains it and calls ringexec.Executor's
// MarkDirty for each edge received.
func (u *Updater) EdgePrices() <-chan *domain.Edge { return u.edgePriceCh }

// Run drains feed events until ctx is cancelled or a structural failure
// (sustained slot lag) forces an early, reported exit.
func (u *Updater) Run(ctx context.Context, feed <-chan ports.FeedEvent) error {
	u.lifecycle = domain.DexInitializing
	name := u.cfg.Dex.Name()

	if u.cfg.SubscriptionMode == domain.SubscriptionDisabled {
		u.log.Info("dex subscription disabled, marking ready immediately", zap.String("dex", name))
		u.lifecycle = domain.DexReady
		return nil
	}

	refreshTicker := time.NewTicker(10 * time.Millisecond)
	defer refreshTicker.Stop()

	deadline := time.Now().Add(u.cfg.InitTimeout)

	for {
		select {
		case <-ctx.Done():
			u.lifecycle = domain.DexShuttingDown
			return nil

		case ev, ok := <-feed:
			if !ok {
				return nil
			}
			if err := u.handleEvent(ev); err != nil {
				return err
			}

		case <-refreshTicker.C:
			if !u.Ready() {
				if time.Now().After(deadline) {
					return fmt.Errorf("dexupdater: %s: did not become ready within %s", name, u.cfg.InitTimeout)
				}
				continue
			}
			u.lifecycle = domain.DexRunning
			u.refreshSome(ctx)
		}
	}
}

func (u *Updater) handleEvent(ev ports.FeedEvent) error {
	switch ev.Kind {
	case ports.FeedEventSlot:
		return u.onSlot(ev.Slot)
	case ports.FeedEventAccount:
		u.onAccount(ev.Account)
	case ports.FeedEventSnapshotEnd:
		u.dirtyPrograms[ev.Program] = struct{}{}
	case ports.FeedEventInvalidAccount:
		u.invalidate(ev.InvalidAcct)
	}
	return nil
}

// onSlot implements detect_and_handle_slot_lag: tracks how far behind
// the feed's reported slot the updater's processed slot is, and returns
// a fatal error once that lag has persisted beyond MaxLagDuration.
func (u *Updater) onSlot(slot uint64) error {
	u.latestSlotPend = slot
	var lag uint64
	if slot > u.latestSlotProc {
		lag = slot - u.latestSlotProc
	}
	if u.mx != nil {
		u.mx.SlotLag.WithLabelValues(u.cfg.Dex.Name()).Set(float64(lag))
	}

	if lag >= u.cfg.MaxLag {
		if !u.hasLagSince {
			u.lagSince = time.Now()
			u.hasLagSince = true
		} else if time.Since(u.lagSince) > u.cfg.MaxLagDuration {
			return &ErrSlotLagFatal{Dex: u.cfg.Dex.Name(), Lag: lag}
		}
	} else {
		u.hasLagSince = false
	}
	return nil
}

func (u *Updater) onAccount(rec ports.AccountRecord) {
	edges, tracked := u.edgeByPK[rec.Pubkey]
	if !tracked {
		return
	}
	for _, e := range edges {
		u.dirtyEdges[dirtyKey{pool: e.Key(), input: e.InputMint}] = e
	}
	u.receivedAccounts[rec.Pubkey] = struct{}{}
	u.checkReadiness()
}

func (u *Updater) invalidate(pubkey domain.Mint) {
	for _, e := range u.edgeByPK[pubkey] {
		e.AddCooldown(time.Now(), 30*time.Second)
	}
}

// checkReadiness mirrors the per-subscription-mode predicate from the
// original updater: Accounts mode needs every tracked account observed
// at least once; Programs mode needs every tracked program's snapshot
// boundary observed.
func (u *Updater) checkReadiness() {
	if u.Ready() {
		return
	}
	switch u.cfg.SubscriptionMode {
	case domain.SubscriptionAccounts:
		if supersetOf(u.receivedAccounts, u.cfg.TrackedAccounts) {
			u.lifecycle = domain.DexReady
		}
	case domain.SubscriptionPrograms:
		if supersetOf(u.dirtyPrograms, u.cfg.TrackedPrograms) {
			u.lifecycle = domain.DexReady
		}
	case domain.SubscriptionMixed:
		if supersetOf(u.receivedAccounts, u.cfg.TrackedAccounts) && supersetOf(u.dirtyPrograms, u.cfg.TrackedPrograms) {
			u.lifecycle = domain.DexReady
		}
	}
}

func supersetOf(have, want map[domain.Mint]struct{}) bool {
	for k := range want {
		if _, ok := have[k]; !ok {
			return false
		}
	}
	return true
}

// refreshSome re-warms every currently dirty edge, enforcing a wall-clock
// budget per pass and publishing each refreshed edge downstream before
// clearing it from the dirty set.
func (u *Updater) refreshSome(ctx context.Context) {
	if len(u.dirtyEdges) == 0 {
		u.latestSlotProc = u.latestSlotPend
		return
	}
	deadline := time.Now().Add(u.cfg.RefreshBudget)
	now := time.Now()

	for k, e := range u.dirtyEdges {
		if time.Now().After(deadline) {
			u.log.Warn("dex updater refresh budget exceeded, deferring remaining dirty edges",
				zap.String("dex", u.cfg.Dex.Name()), zap.Int("remaining", len(u.dirtyEdges)))
			break
		}
		if err := e.Refresh(ctx, now, u.latestSlotPend, u.cfg.InAmountLadder); err != nil {
			u.log.Debug("edge refresh failed", zap.Error(err))
			delete(u.dirtyEdges, k)
			continue
		}
		select {
		case u.edgePriceCh <- e:
		default:
			u.log.Warn("edge price channel full, dropping update", zap.String("dex", u.cfg.Dex.Name()))
		}
		delete(u.dirtyEdges, k)
	}
	u.latestSlotProc = u.latestSlotPend
}
