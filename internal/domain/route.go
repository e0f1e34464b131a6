package domain

// RouteStep is one leg of a materialized, priced Route.
type RouteStep struct {
	Edge      *Edge
	InAmount  uint64
	OutAmount uint64
	FeeAmount uint64
	FeeMint   Mint
	Slot      uint64
}

// Route is a fully priced, ready-to-execute cycle: swapping InAmount of
// TradingMint through every edge in Steps and receiving OutAmount back.
type Route struct {
	RingID      string
	TradingMint Mint
	Steps       []RouteStep
	InAmount    uint64
	OutAmount   uint64
	// Slot is the maximum LastUpdateSlot across every step's edge — the
	// newest slot at which any leg's price curve was refreshed.
	Slot uint64
}

// Gain returns OutAmount - InAmount. It is only meaningful for a route
// whose OutAmount is known to exceed InAmount; callers must check that
// before relying on this as a signed profit (it does not saturate).
func (r Route) Gain() int64 {
	return int64(r.OutAmount) - int64(r.InAmount)
}
