package store

import models "github.com/PierreRoudaut/checkout-api/model"

// Store is the persistent product catalog. Carts never touch it: they live in
// the in-process cart cache only.
type Store interface {
	CreateProduct(p models.Product) (int64, error)
	UpdateProduct(p models.Product) error
	DeleteProduct(id int64) error
	Find(id int64) (models.Product, error)
	Exists(id int64) (bool, error)
	ListProducts() ([]models.Product, error)

	Close() error
}
