package cache

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	models "github.com/PierreRoudaut/checkout-api/model"
)

const cartKeyFormat = "[cart][%s]"

func cartKey(id string) string { return fmt.Sprintf(cartKeyFormat, id) }

// CartStore holds live carts with sliding expiration. Only natural TTL expiry
// fires the registered handler; explicit removal never does, because callers
// of Remove have already released reservations themselves.
//
// Expiry is a two-step claim: the handler receives the cart id and the
// generation the timer fired for, and must call RemoveExpired with both to
// actually evict the entry. A Put that raced the timer bumps the generation
// and makes the claim fail, so the handler can order eviction with its own
// cart-level locking and never releases under a refreshed cart.
type CartStore interface {
	Get(cartID string) (models.Cart, bool)
	Put(cart models.Cart)
	Remove(cartID string)
	RemoveExpired(cartID string, gen uint64) (models.Cart, bool)
	OnExpire(fn func(cartID string, gen uint64))
	Len() int
}

// CartCache is the in-process CartStore. Every Put re-arms the entry's TTL.
type CartCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]*cartEntry
	onExpire func(cartID string, gen uint64)
	// gen is monotonic across the whole cache so a generation never repeats,
	// not even when an id is evicted and stored again.
	gen     uint64
	stopped bool
	log     *zap.Logger
}

type cartEntry struct {
	cart  models.Cart
	timer *time.Timer
	// gen invalidates a pending timer fire after the entry was refreshed.
	gen uint64
}

func NewCartCache(ttl time.Duration, log *zap.Logger) *CartCache {
	return &CartCache{
		ttl:     ttl,
		entries: make(map[string]*cartEntry),
		log:     log,
	}
}

// OnExpire registers the eviction handler. Registered once, at construction
// time of the owning service, before any cart is stored.
func (c *CartCache) OnExpire(fn func(cartID string, gen uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpire = fn
}

// Get returns a copy of the cart; mutating the result does not touch the
// stored entry until it is Put back.
func (c *CartCache) Get(cartID string) (models.Cart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cartKey(cartID)]
	if !ok {
		return models.Cart{}, false
	}
	return cloneCart(e.cart), true
}

// Put inserts or refreshes a cart and (re)arms its TTL clock.
func (c *CartCache) Put(cart models.Cart) {
	key := cartKey(cart.ID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	c.gen++
	gen := c.gen
	if e, ok := c.entries[key]; ok {
		e.timer.Stop()
		e.cart = cloneCart(cart)
		e.gen = gen
		e.timer = time.AfterFunc(c.ttl, func() { c.expire(key, gen) })
		return
	}

	e := &cartEntry{cart: cloneCart(cart), gen: gen}
	e.timer = time.AfterFunc(c.ttl, func() { c.expire(key, gen) })
	c.entries[key] = e
}

// Remove discards a cart without firing the eviction handler.
func (c *CartCache) Remove(cartID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cartKey(cartID)
	if e, ok := c.entries[key]; ok {
		e.timer.Stop()
		delete(c.entries, key)
	}
}

func (c *CartCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop drains every pending timer. No handler fires after Stop returns; cart
// state is deliberately not persisted anywhere.
func (c *CartCache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	for key, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, key)
	}
}

// RemoveExpired evicts the entry if it still carries the given generation and
// returns its cart. It reports false when a Put refreshed the entry after the
// timer fired; the cart then stays live and nothing may be released for it.
func (c *CartCache) RemoveExpired(cartID string, gen uint64) (models.Cart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cartKey(cartID)
	e, ok := c.entries[key]
	if !ok || e.gen != gen || c.stopped {
		return models.Cart{}, false
	}
	e.timer.Stop()
	delete(c.entries, key)
	c.log.Info("cart expired", zap.String("cart_id", cartID), zap.Int("items", len(e.cart.Items)))
	return e.cart, true
}

// expire runs on the entry's timer goroutine. It never evicts by itself:
// eviction goes through RemoveExpired so the handler can take its cart-level
// lock first. The generation check discards fires that already lost a race
// with a refreshing Put.
func (c *CartCache) expire(key string, gen uint64) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.gen != gen || c.stopped {
		c.mu.Unlock()
		return
	}
	fn := c.onExpire
	if fn == nil {
		delete(c.entries, key)
		c.mu.Unlock()
		return
	}
	cartID := e.cart.ID
	c.mu.Unlock()

	// Handler runs outside the cache lock so it can reserve/release freely.
	fn(cartID, gen)
}

func cloneCart(cart models.Cart) models.Cart {
	items := make(map[int64]models.CartItem, len(cart.Items))
	for id, item := range cart.Items {
		items[id] = item
	}
	cart.Items = items
	return cart
}
