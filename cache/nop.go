package cache

import models "github.com/PierreRoudaut/checkout-api/model"

// NopCartCache is a CartStore that stores nothing. Tests inject it when cart
// persistence is irrelevant, instead of inspecting the store's runtime type.
type NopCartCache struct{}

func (NopCartCache) Get(string) (models.Cart, bool) { return models.Cart{}, false }
func (NopCartCache) Put(models.Cart)                {}
func (NopCartCache) Remove(string)                  {}
func (NopCartCache) RemoveExpired(string, uint64) (models.Cart, bool) {
	return models.Cart{}, false
}
func (NopCartCache) OnExpire(func(string, uint64)) {}
func (NopCartCache) Len() int                      { return 0 }
