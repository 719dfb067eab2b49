package cache

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	models "github.com/PierreRoudaut/checkout-api/model"
)

var (
	// ErrProductNotFound returned when a product id has never been seen by the cache.
	ErrProductNotFound = errors.New("product not found in cache")
	// ErrQuantityExceeded returned when a reservation asks for more than the remaining stock.
	ErrQuantityExceeded = errors.New("quantity too large requested")
)

const productKeyFormat = "[product][%d]"

func productKey(id int64) string { return fmt.Sprintf(productKeyFormat, id) }

// ProductCache tracks per-product reservation counts against authoritative
// stock. It is shared by every concurrent cart operation; all mutation goes
// through SetProduct/Remove/TryUpdateRetained, each a single critical section.
type ProductCache struct {
	mu       sync.Mutex
	products map[string]models.Product
	log      *zap.Logger
}

func NewProductCache(log *zap.Logger) *ProductCache {
	return &ProductCache{
		products: make(map[string]models.Product),
		log:      log,
	}
}

// List merges fresh catalog rows with the cached retained counters. Products
// seen for the first time are seeded with retained = 0. Entries seeded here
// never expire; they only leave the cache through Remove.
func (c *ProductCache) List(rows []models.Product) []models.Product {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Product, 0, len(rows))
	for _, p := range rows {
		key := productKey(p.ID)
		if cached, ok := c.products[key]; ok {
			p.Retained = cached.Retained
		} else {
			p.Retained = 0
			c.products[key] = p
		}
		out = append(out, p)
	}
	return out
}

// SetProduct upserts a snapshot after the catalog record changed. An existing
// retained counter survives the upsert; reservations are never reset by a
// catalog edit. A stock lowered below the held amount caps the counter so
// retained never exceeds stock.
func (c *ProductCache) SetProduct(p models.Product) models.Product {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := productKey(p.ID)
	if cached, ok := c.products[key]; ok {
		p.Retained = cached.Retained
		if p.Retained > p.Stock {
			c.log.Warn("stock lowered below retained, capping retained",
				zap.Int64("product_id", p.ID),
				zap.Int("stock", p.Stock),
				zap.Int("retained", cached.Retained))
			p.Retained = p.Stock
		}
	} else {
		p.Retained = 0
	}
	c.products[key] = p
	return p
}

// Remove drops a snapshot and returns it, used when the product is deleted
// from the catalog.
func (c *ProductCache) Remove(productID int64) (models.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := productKey(productID)
	p, ok := c.products[key]
	if ok {
		delete(c.products, key)
	}
	return p, ok
}

// TryUpdateRetained atomically applies a reservation delta. A positive delta
// that exceeds the remaining stock is rejected whole with ErrQuantityExceeded;
// negative deltas (releases) are always accepted. The updated snapshot is
// returned on success.
func (c *ProductCache) TryUpdateRetained(productID int64, delta int) (models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := productKey(productID)
	p, ok := c.products[key]
	if !ok {
		return models.Product{}, ErrProductNotFound
	}

	if delta > 0 && delta > p.Stock-p.Retained {
		return models.Product{}, ErrQuantityExceeded
	}

	p.Retained += delta
	if p.Retained < 0 {
		// A release larger than what is held means a double release somewhere.
		c.log.Warn("retained counter released below zero, clamping",
			zap.Int64("product_id", productID),
			zap.Int("delta", delta))
		p.Retained = 0
	}
	c.products[key] = p
	return p, nil
}
