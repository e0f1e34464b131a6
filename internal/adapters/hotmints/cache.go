// Package hotmints tracks which mints are "hot" — worth prioritizing for
// price-warming and dirty-ring scheduling — via a small always-hot set
// plus a bounded recency cache over everything else.
package hotmints

import (
	"container/list"

	"github.com/kalebmora/ringrouter/internal/domain"
)

// Config controls the cache's fixed membership and capacity.
type Config struct {
	// AlwaysHot mints are permanent members; Add never evicts them and
	// they never need to be added.
	AlwaysHot []domain.Mint
	// KeepLatestCount bounds how many non-always-hot mints are retained.
	// Defaults to 100 if zero.
	KeepLatestCount int
}

// Cache is a touch-to-front LRU over recently dirtied mints, layered on
// top of a permanent always-hot set.
type Cache struct {
	maxCount  int
	alwaysHot map[domain.Mint]struct{}

	order    *list.List // front = most recently touched
	elements map[domain.Mint]*list.Element
}

// New builds a Cache from Config, defaulting KeepLatestCount to 100 when
// unset. An unset AlwaysHot leaves the always-hot set empty.
func New(cfg Config) *Cache {
	keep := cfg.KeepLatestCount
	if keep == 0 {
		keep = 100
	}
	hot := make(map[domain.Mint]struct{}, len(cfg.AlwaysHot))
	for _, m := range cfg.AlwaysHot {
		hot[m] = struct{}{}
	}
	return &Cache{
		maxCount:  keep,
		alwaysHot: hot,
		order:     list.New(),
		elements:  make(map[domain.Mint]*list.Element),
	}
}

// Add marks mint as recently touched. Always-hot mints are a no-op.
// Otherwise the mint moves to the front of the recency list, evicting
// the least-recently-touched non-always-hot mint if the cache is full.
func (c *Cache) Add(mint domain.Mint) {
	if _, ok := c.alwaysHot[mint]; ok {
		return
	}
	if el, ok := c.elements[mint]; ok {
		c.order.MoveToFront(el)
		return
	}
	if len(c.elements) >= c.maxCount {
		back := c.order.Back()
		if back != nil {
			c.order.Remove(back)
			delete(c.elements, back.Value.(domain.Mint))
		}
	}
	el := c.order.PushFront(mint)
	c.elements[mint] = el
}

// Get returns the union of the always-hot set and the current recency
// cache contents.
func (c *Cache) Get() []domain.Mint {
	out := make([]domain.Mint, 0, len(c.alwaysHot)+len(c.elements))
	for m := range c.alwaysHot {
		out = append(out, m)
	}
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(domain.Mint))
	}
	return out
}
