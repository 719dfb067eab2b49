package service

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PierreRoudaut/checkout-api/cache"
	models "github.com/PierreRoudaut/checkout-api/model"
)

// CartService is the only entry point mutating carts. Every operation keeps
// the cart contents and the product reservations consistent: a reservation
// change and the matching cart change either both apply or neither does.
type CartService struct {
	carts    cache.CartStore
	products *cache.ProductCache
	notifier Notifier
	log      *zap.Logger

	// per-cart mutexes so expiry and in-flight operations on the same cart
	// never interleave. Keys are cart id -> *sync.Mutex
	locks sync.Map
}

// NewCartService wires the service and registers its release handler with the
// cart store for TTL evictions.
func NewCartService(carts cache.CartStore, products *cache.ProductCache, notifier Notifier, log *zap.Logger) *CartService {
	s := &CartService{
		carts:    carts,
		products: products,
		notifier: notifier,
		log:      log,
	}
	carts.OnExpire(s.releaseExpiredCart)
	return s
}

// helper: acquire per-cart lock (process-local). Returns unlock func.
func (s *CartService) lockCart(cartID string) func() {
	if v, ok := s.locks.Load(cartID); ok {
		m := v.(*sync.Mutex)
		m.Lock()
		return func() { m.Unlock() }
	}

	m := &sync.Mutex{}
	actual, _ := s.locks.LoadOrStore(cartID, m)
	mtx := actual.(*sync.Mutex)
	mtx.Lock()
	return func() { mtx.Unlock() }
}

func newCartID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GetCart returns an existing, unexpired cart. It never creates one.
func (s *CartService) GetCart(cartID string) (models.Cart, error) {
	cart, ok := s.carts.Get(cartID)
	if !ok {
		return models.Cart{}, opErr(CartNotFound, "Cart not found")
	}
	return cart, nil
}

// CreateCart builds a new empty cart and stores it immediately, TTL armed, so
// a fetch straight after create succeeds.
func (s *CartService) CreateCart() models.Cart {
	cart := models.Cart{
		ID:    newCartID(),
		Items: make(map[int64]models.CartItem),
	}
	s.carts.Put(cart)
	s.log.Info("cart created", zap.String("cart_id", cart.ID))
	return cart
}

// SetCartItem adds or replaces an item. Replacing reserves only the quantity
// difference. An unknown or expired cart id lazily yields a fresh cart; the
// returned cart carries the id the caller should use from now on.
func (s *CartService) SetCartItem(cartID string, item models.CartItem) (models.Cart, error) {
	if item.Quantity <= 0 {
		return models.Cart{}, opErr(InvalidQuantity, "Invalid quantity")
	}

	unlock := s.lockCart(cartID)
	defer unlock()

	cart, ok := s.carts.Get(cartID)
	if !ok {
		cart = models.Cart{
			ID:    newCartID(),
			Items: make(map[int64]models.CartItem),
		}
	}

	delta := item.Quantity
	if existing, held := cart.Items[item.ProductID]; held {
		delta -= existing.Quantity
	}

	product, err := s.products.TryUpdateRetained(item.ProductID, delta)
	if err != nil {
		return models.Cart{}, reservationError(err)
	}

	cart.Items[item.ProductID] = item
	s.carts.Put(cart)
	s.notifier.Publish(EventProductUpdated, product)
	return cart, nil
}

// RemoveCartItem releases the held quantity and drops the item.
func (s *CartService) RemoveCartItem(cartID string, productID int64) (models.Cart, error) {
	unlock := s.lockCart(cartID)
	defer unlock()

	cart, ok := s.carts.Get(cartID)
	if !ok {
		return models.Cart{}, opErr(CartNotFound, "Cart not found")
	}

	existing, held := cart.Items[productID]
	if !held {
		return models.Cart{}, opErr(ProductNotInCart, "Product not in cart")
	}

	product, err := s.products.TryUpdateRetained(productID, -existing.Quantity)
	if err != nil {
		return models.Cart{}, reservationError(err)
	}

	delete(cart.Items, productID)
	s.carts.Put(cart)
	s.notifier.Publish(EventProductUpdated, product)
	return cart, nil
}

// ClearCart releases every held reservation and empties the cart. Clearing an
// empty cart is a no-op returning the cart.
func (s *CartService) ClearCart(cartID string) (models.Cart, error) {
	unlock := s.lockCart(cartID)
	defer unlock()

	cart, ok := s.carts.Get(cartID)
	if !ok {
		return models.Cart{}, opErr(CartNotFound, "Cart not found")
	}

	released := make([]models.Product, 0, len(cart.Items))
	for productID, item := range cart.Items {
		product, err := s.products.TryUpdateRetained(productID, -item.Quantity)
		if err != nil {
			return models.Cart{}, reservationError(err)
		}
		released = append(released, product)
	}

	cart.Items = make(map[int64]models.CartItem)
	s.carts.Put(cart)
	for _, p := range released {
		s.notifier.Publish(EventProductUpdated, p)
	}
	return cart, nil
}

// releaseExpiredCart is the eviction handler registered with the cart store.
// It only ever runs for natural TTL expiry. The eviction is claimed under the
// per-cart lock: an in-flight operation that refreshed the cart while the
// timer was firing invalidates the claim, and nothing is released. On a
// successful claim every item's quantity goes back to the product's retained
// counter, with one ProductUpdated per release and a single CartExpired for
// the cart.
func (s *CartService) releaseExpiredCart(cartID string, gen uint64) {
	unlock := s.lockCart(cartID)
	defer unlock()

	cart, ok := s.carts.RemoveExpired(cartID, gen)
	if !ok {
		// refreshed while the timer fired; the cart stays live
		return
	}
	if len(cart.Items) == 0 {
		return
	}

	s.notifier.Publish(EventCartExpired, cart.ID)
	for productID, item := range cart.Items {
		product, err := s.products.TryUpdateRetained(productID, -item.Quantity)
		if err != nil {
			s.log.Error("failed to release retained stock for expired cart",
				zap.String("cart_id", cart.ID),
				zap.Int64("product_id", productID),
				zap.Error(err))
			return
		}
		s.notifier.Publish(EventProductUpdated, product)
	}
}
