// Package orchestrator wires the chain store, per-DEX updaters, ring
// executor, and bundle sender together and supervises their lifetimes.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalebmora/ringrouter/internal/adapters/bundlesender"
	"github.com/kalebmora/ringrouter/internal/adapters/dexupdater"
	"github.com/kalebmora/ringrouter/internal/adapters/hotmints"
	"github.com/kalebmora/ringrouter/internal/application/instructions"
	"github.com/kalebmora/ringrouter/internal/application/ringexec"
	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/ports"
)

// Orchestrator owns every long-lived task's lifecycle and is the only
// place a structural failure (a DEX never reaching Ready, a sustained
// slot lag) gets escalated to a process-level shutdown.
type Orchestrator struct {
	log *zap.Logger

	updaters []*dexupdater.Updater
	feeds    map[*dexupdater.Updater]ports.AccountFeed
	executor *ringexec.Executor
	hotMints *hotmints.Cache
	sender   *bundlesender.Sender
	store    ports.ChainStore
	audit    ports.AuditStore
	builders map[string]instructions.DexInstructionBuilder
}

// New builds an Orchestrator from its already-constructed components.
func New(
	log *zap.Logger,
	updaters []*dexupdater.Updater,
	feeds map[*dexupdater.Updater]ports.AccountFeed,
	executor *ringexec.Executor,
	hotMints *hotmints.Cache,
	sender *bundlesender.Sender,
	store ports.ChainStore,
	audit ports.AuditStore,
	builders map[string]instructions.DexInstructionBuilder,
) *Orchestrator {
	return &Orchestrator{
		log: log, updaters: updaters, feeds: feeds, executor: executor,
		hotMints: hotMints, sender: sender, store: store, audit: audit, builders: builders,
	}
}

// Run starts every updater, the ring executor, and the route-consuming
// pipeline, and blocks until ctx is cancelled or any task returns a
// structural error.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, u := range o.updaters {
		u := u
		feed := o.feeds[u]
		g.Go(func() error {
			ch, err := feed.Subscribe(ctx, "updater")
			if err != nil {
				return fmt.Errorf("orchestrator: subscribe feed: %w", err)
			}
			if err := u.Run(ctx, ch); err != nil {
				var lagErr *dexupdater.ErrSlotLagFatal
				if asLagFatal(err, &lagErr) {
					o.log.Error("fatal slot lag, aborting", zap.String("dex", lagErr.Dex), zap.Uint64("lag", lagErr.Lag))
				}
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		o.executor.Run(ctx)
		return nil
	})

	for _, u := range o.updaters {
		u := u
		g.Go(func() error {
			o.drainEdgePrices(ctx, u)
			return nil
		})
	}

	g.Go(func() error {
		return o.consumeRoutes(ctx)
	})

	return g.Wait()
}

// drainEdgePrices forwards every edge one updater refreshes to the ring
// executor, marking each edge's rings dirty so the next tick re-prices
// them. This is the wiring spec.md's steady-state data flow depends on:
// without it, MarkDirty is never called from production code and no
// ring is ever queued for re-pricing.
func (o *Orchestrator) drainEdgePrices(ctx context.Context, u *dexupdater.Updater) {
	ch := u.EdgePrices()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			o.executor.MarkDirty(e)
		}
	}
}

// consumeRoutes drains the executor's profitable routes, builds and
// submits a bundle for each, and best-effort audits the result.
func (o *Orchestrator) consumeRoutes(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case route, ok := <-o.executor.Routes():
			if !ok {
				return nil
			}
			o.handleRoute(ctx, route)
		}
	}
}

func (o *Orchestrator) handleRoute(ctx context.Context, route *domain.Route) {
	attemptID := uuid.NewString()
	o.log.Info("handling profitable route", zap.String("attempt_id", attemptID), zap.String("ring", route.RingID), zap.Int64("gain", route.Gain()))

	if o.audit != nil {
		if err := o.audit.SaveRoute(ctx, route); err != nil {
			o.log.Warn("audit: save route failed", zap.Error(err))
		}
	}

	plan, err := instructions.Build(ctx, route, o.builders, o.store)
	if err != nil {
		o.log.Warn("instruction build failed", zap.String("ring", route.RingID), zap.Error(err))
		return
	}

	bundles, err := o.sender.Assemble(ctx, route, plan)
	if err != nil {
		o.log.Warn("bundle assembly failed", zap.String("ring", route.RingID), zap.Error(err))
		return
	}

	results := o.sender.SendAll(ctx, bundles)
	if o.audit != nil {
		txs := [][]byte{}
		if len(bundles) > 0 {
			txs = [][]byte{bundles[0].Tx1, bundles[0].Tx2}
		}
		if err := o.audit.SaveBundle(ctx, route.RingID, txs, results); err != nil {
			o.log.Warn("audit: save bundle failed", zap.Error(err))
		}
	}

	for _, r := range results {
		if r.Err != nil {
			o.log.Warn("bundle send failed", zap.String("ring", route.RingID), zap.String("relay", r.RelayURL), zap.Error(r.Err))
		} else {
			o.log.Info("bundle accepted", zap.String("ring", route.RingID), zap.String("relay", r.RelayURL), zap.String("bundle_id", r.BundleID))
		}
	}
}

func asLagFatal(err error, target **dexupdater.ErrSlotLagFatal) bool {
	e, ok := err.(*dexupdater.ErrSlotLagFatal)
	if ok {
		*target = e
	}
	return ok
}
