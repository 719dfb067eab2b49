package service

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PierreRoudaut/checkout-api/cache"
	models "github.com/PierreRoudaut/checkout-api/model"
)

// recordingNotifier captures published events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	name    string
	payload interface{}
}

func (n *recordingNotifier) Publish(event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{name: event, payload: payload})
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.name)
	}
	return out
}

func (n *recordingNotifier) count(event string) int {
	var c int
	for _, name := range n.names() {
		if name == event {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) payloadOf(event string) (interface{}, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.name == event {
			return e.payload, true
		}
	}
	return nil, false
}

type cartFixture struct {
	svc      *CartService
	products *cache.ProductCache
	carts    *cache.CartCache
	notifier *recordingNotifier
}

func newCartFixture(t *testing.T, ttl time.Duration, seed ...models.Product) cartFixture {
	t.Helper()
	products := cache.NewProductCache(zap.NewNop())
	for _, p := range seed {
		products.SetProduct(p)
	}
	carts := cache.NewCartCache(ttl, zap.NewNop())
	t.Cleanup(carts.Stop)
	notifier := &recordingNotifier{}
	svc := NewCartService(carts, products, notifier, zap.NewNop())
	return cartFixture{svc: svc, products: products, carts: carts, notifier: notifier}
}

func retained(t *testing.T, pc *cache.ProductCache, productID int64) int {
	t.Helper()
	p, err := pc.TryUpdateRetained(productID, 0)
	require.NoError(t, err)
	return p.Retained
}

func TestCreateCartThenGet(t *testing.T) {
	f := newCartFixture(t, time.Minute)

	cart := f.svc.CreateCart()
	assert.NotEmpty(t, cart.ID)
	assert.NotContains(t, cart.ID, "-")
	assert.Empty(t, cart.Items)

	got, err := f.svc.GetCart(cart.ID)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, got.ID)
}

func TestGetCart_NotFound(t *testing.T) {
	f := newCartFixture(t, time.Minute)

	_, err := f.svc.GetCart("missing")
	var opError *OpError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, CartNotFound, opError.Kind)
	assert.Equal(t, 404, opError.StatusCode())
}

func TestSetCartItem_InvalidQuantity(t *testing.T) {
	f := newCartFixture(t, time.Minute, models.Product{ID: 1, Stock: 10})
	cart := f.svc.CreateCart()

	for _, qty := range []int{0, -3} {
		_, err := f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 1, Quantity: qty})
		var opError *OpError
		require.ErrorAs(t, err, &opError)
		assert.Equal(t, InvalidQuantity, opError.Kind)
		assert.Equal(t, 400, opError.StatusCode())
	}

	// no mutation, no notification
	assert.Equal(t, 0, retained(t, f.products, 1))
	assert.Empty(t, f.notifier.names())
	got, err := f.svc.GetCart(cart.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
}

func TestSetCartItem_UnknownProduct(t *testing.T) {
	f := newCartFixture(t, time.Minute, models.Product{ID: 1, Stock: 10})
	cart := f.svc.CreateCart()

	_, err := f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 42, Quantity: 1})
	var opError *OpError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, ProductNotFound, opError.Kind)
	assert.Equal(t, 404, opError.StatusCode())

	got, _ := f.svc.GetCart(cart.ID)
	assert.Empty(t, got.Items)
	assert.Empty(t, f.notifier.names())
}

func TestSetCartItem_ReservesAndNotifies(t *testing.T) {
	f := newCartFixture(t, time.Minute, models.Product{ID: 1, Stock: 10})
	cart := f.svc.CreateCart()

	got, err := f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 1, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, models.CartItem{ProductID: 1, Quantity: 3}, got.Items[1])
	assert.Equal(t, 3, retained(t, f.products, 1))

	require.Equal(t, []string{EventProductUpdated}, f.notifier.names())
	snapshot, ok := f.notifier.events[0].payload.(models.Product)
	require.True(t, ok)
	assert.Equal(t, 3, snapshot.Retained)
	assert.Equal(t, 7, snapshot.Remaining())
}

func TestSetCartItem_ReplaceUsesDelta(t *testing.T) {
	f := newCartFixture(t, time.Minute, models.Product{ID: 1, Stock: 10})
	cart := f.svc.CreateCart()

	_, err := f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 1, Quantity: 4})
	require.NoError(t, err)
	got, err := f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 1, Quantity: 2})
	require.NoError(t, err)

	// replace, not add: one item, quantity q2, net reservation q2
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[1].Quantity)
	assert.Equal(t, 2, retained(t, f.products, 1))
}

func TestSetCartItem_QuantityExceeded(t *testing.T) {
	f := newCartFixture(t, time.Minute, models.Product{ID: 1, Stock: 10})
	cart := f.svc.CreateCart()

	_, err := f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 1, Quantity: 11})
	var opError *OpError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, QuantityExceeded, opError.Kind)
	assert.Equal(t, 400, opError.StatusCode())
	assert.Equal(t, 0, retained(t, f.products, 1))

	got, _ := f.svc.GetCart(cart.ID)
	assert.Empty(t, got.Items)
}

func TestSetCartItem_LazilyCreatesCart(t *testing.T) {
	f := newCartFixture(t, time.Minute, models.Product{ID: 1, Stock: 10})

	got, err := f.svc.SetCartItem("expired-or-unknown", models.CartItem{ProductID: 1, Quantity: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.NotEqual(t, "expired-or-unknown", got.ID)
	assert.Equal(t, 2, retained(t, f.products, 1))

	// the fresh cart is persisted under its new id
	again, err := f.svc.GetCart(got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Items, again.Items)
}

func TestRemoveCartItem(t *testing.T) {
	f := newCartFixture(t, time.Minute, models.Product{ID: 1, Stock: 10})
	cart := f.svc.CreateCart()
	_, err := f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 1, Quantity: 3})
	require.NoError(t, err)

	got, err := f.svc.RemoveCartItem(cart.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Equal(t, 0, retained(t, f.products, 1))
	assert.Equal(t, 2, f.notifier.count(EventProductUpdated))
}

func TestRemoveCartItem_Errors(t *testing.T) {
	f := newCartFixture(t, time.Minute, models.Product{ID: 1, Stock: 10})

	_, err := f.svc.RemoveCartItem("missing", 1)
	var opError *OpError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, CartNotFound, opError.Kind)

	cart := f.svc.CreateCart()
	_, err = f.svc.RemoveCartItem(cart.ID, 1)
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, ProductNotInCart, opError.Kind)
	assert.Equal(t, 400, opError.StatusCode())
}

func TestClearCart(t *testing.T) {
	f := newCartFixture(t, time.Minute,
		models.Product{ID: 1, Stock: 10},
		models.Product{ID: 2, Stock: 5},
	)
	cart := f.svc.CreateCart()
	_, err := f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 1, Quantity: 3})
	require.NoError(t, err)
	_, err = f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 2, Quantity: 5})
	require.NoError(t, err)

	got, err := f.svc.ClearCart(cart.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Equal(t, 0, retained(t, f.products, 1))
	assert.Equal(t, 0, retained(t, f.products, 2))
	// two from the setItem calls, two from the clear
	assert.Equal(t, 4, f.notifier.count(EventProductUpdated))
}

func TestClearCart_EmptyIsNoop(t *testing.T) {
	f := newCartFixture(t, time.Minute)
	cart := f.svc.CreateCart()

	got, err := f.svc.ClearCart(cart.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Empty(t, f.notifier.names())

	_, err = f.svc.ClearCart("missing")
	var opError *OpError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, CartNotFound, opError.Kind)
}

func TestCartExpiry_ReleasesReservationsAndNotifies(t *testing.T) {
	f := newCartFixture(t, 40*time.Millisecond, models.Product{ID: 1, Stock: 10})
	cart := f.svc.CreateCart()
	_, err := f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 1, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, 10-retained(t, f.products, 1))

	// one ProductUpdated from setItem, one from the release
	require.Eventually(t, func() bool {
		return f.notifier.count(EventCartExpired) == 1 && f.notifier.count(EventProductUpdated) == 2
	}, 2*time.Second, 10*time.Millisecond, "expiry never released the reservation")

	assert.Equal(t, 0, retained(t, f.products, 1))
	expiredID, ok := f.notifier.payloadOf(EventCartExpired)
	require.True(t, ok)
	assert.Equal(t, cart.ID, expiredID)

	_, err = f.svc.GetCart(cart.ID)
	var opError *OpError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, CartNotFound, opError.Kind)
}

func TestCartExpiry_EmptyCartIsSilent(t *testing.T) {
	f := newCartFixture(t, 30*time.Millisecond, models.Product{ID: 1, Stock: 10})
	f.svc.CreateCart()

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, f.notifier.count(EventCartExpired))
	assert.Zero(t, f.notifier.count(EventProductUpdated))
}

func TestConcurrentReservations_OneWins(t *testing.T) {
	f := newCartFixture(t, time.Minute, models.Product{ID: 1, Stock: 5})

	cartA := f.svc.CreateCart()
	cartB := f.svc.CreateCart()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{cartA.ID, cartB.ID} {
		wg.Add(1)
		go func(cartID string) {
			defer wg.Done()
			_, err := f.svc.SetCartItem(cartID, models.CartItem{ProductID: 1, Quantity: 3})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			var opError *OpError
			require.ErrorAs(t, err, &opError)
			assert.Equal(t, QuantityExceeded, opError.Kind)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 3, retained(t, f.products, 1))
}

func TestExpiryLosesRaceWithInFlightSet(t *testing.T) {
	f := newCartFixture(t, 60*time.Millisecond, models.Product{ID: 1, Stock: 10})
	cart := f.svc.CreateCart()
	_, err := f.svc.SetCartItem(cart.ID, models.CartItem{ProductID: 1, Quantity: 3})
	require.NoError(t, err)

	// Replay a set operation's critical section with the TTL elapsing in the
	// middle of it. The release handler fires, queues on the per-cart lock,
	// and must find its claim invalidated by the Put below.
	unlock := f.svc.lockCart(cart.ID)
	got, ok := f.svc.carts.Get(cart.ID)
	require.True(t, ok)
	time.Sleep(150 * time.Millisecond)
	product, err := f.svc.products.TryUpdateRetained(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, product.Retained)
	got.Items[1] = models.CartItem{ProductID: 1, Quantity: 5}
	f.svc.carts.Put(got)
	unlock()

	// The stale expiry aborts: the cart survives with its full reservation.
	time.Sleep(20 * time.Millisecond)
	live, err := f.svc.GetCart(cart.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, live.Items[1].Quantity)
	assert.Equal(t, 5, retained(t, f.products, 1))
	assert.Zero(t, f.notifier.count(EventCartExpired))

	// The refreshed TTL then expires normally, exactly once.
	require.Eventually(t, func() bool {
		return f.notifier.count(EventCartExpired) == 1 && retained(t, f.products, 1) == 0
	}, 2*time.Second, 10*time.Millisecond)
	_, err = f.svc.GetCart(cart.ID)
	assert.Error(t, err)
}

func TestRandomOperationSequencesKeepRetainedBounded(t *testing.T) {
	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	t.Logf("seed %d", seed)

	stock := map[int64]int{1: 5, 2: 8, 3: 13}
	f := newCartFixture(t, 25*time.Millisecond,
		models.Product{ID: 1, Stock: stock[1]},
		models.Product{ID: 2, Stock: stock[2]},
		models.Product{ID: 3, Stock: stock[3]},
	)

	checkBounds := func() {
		for id, limit := range stock {
			p, err := f.products.TryUpdateRetained(id, 0)
			require.NoError(t, err)
			require.GreaterOrEqual(t, p.Retained, 0, "product %d retained negative", id)
			require.LessOrEqual(t, p.Retained, limit, "product %d retained above stock", id)
		}
	}

	cartIDs := make([]string, 4)
	for i := range cartIDs {
		cartIDs[i] = f.svc.CreateCart().ID
	}

	productIDs := []int64{1, 2, 3}
	for i := 0; i < 300; i++ {
		slot := rng.Intn(len(cartIDs))
		productID := productIDs[rng.Intn(len(productIDs))]
		switch rng.Intn(8) {
		case 0, 1, 2, 3:
			qty := rng.Intn(10) + 1
			if cart, err := f.svc.SetCartItem(cartIDs[slot], models.CartItem{ProductID: productID, Quantity: qty}); err == nil {
				// an expired id yields a fresh cart; keep the pool live
				cartIDs[slot] = cart.ID
			}
		case 4, 5:
			_, _ = f.svc.RemoveCartItem(cartIDs[slot], productID)
		case 6:
			_, _ = f.svc.ClearCart(cartIDs[slot])
		case 7:
			// let TTLs fire mid-sequence
			time.Sleep(30 * time.Millisecond)
		}
		checkBounds()
	}

	// Once every cart has expired, every reservation must be back.
	require.Eventually(t, func() bool {
		for id := range stock {
			p, err := f.products.TryUpdateRetained(id, 0)
			if err != nil || p.Retained != 0 {
				return false
			}
		}
		return true
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSetCartItem_AgainstNopStore(t *testing.T) {
	// the no-op store persists nothing but reservations and notifications
	// still happen; used where cart persistence is irrelevant.
	products := cache.NewProductCache(zap.NewNop())
	products.SetProduct(models.Product{ID: 1, Stock: 10})
	notifier := &recordingNotifier{}
	svc := NewCartService(cache.NopCartCache{}, products, notifier, zap.NewNop())

	cart, err := svc.SetCartItem("anything", models.CartItem{ProductID: 1, Quantity: 2})
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
	assert.Equal(t, 2, retained(t, products, 1))
	assert.Equal(t, []string{EventProductUpdated}, notifier.names())
}
