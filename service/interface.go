package service

import models "github.com/PierreRoudaut/checkout-api/model"

// Carts is the cart surface consumed by the HTTP layer.
type Carts interface {
	GetCart(cartID string) (models.Cart, error)
	CreateCart() models.Cart
	SetCartItem(cartID string, item models.CartItem) (models.Cart, error)
	RemoveCartItem(cartID string, productID int64) (models.Cart, error)
	ClearCart(cartID string) (models.Cart, error)
}

// Products is the catalog surface consumed by the HTTP layer.
type Products interface {
	List() ([]models.Product, error)
	Create(p models.Product) (models.Product, error)
	Update(p models.Product) (models.Product, error)
	Delete(id int64) error
}
