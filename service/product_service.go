package service

import (
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/PierreRoudaut/checkout-api/cache"
	models "github.com/PierreRoudaut/checkout-api/model"
	"github.com/PierreRoudaut/checkout-api/store"
)

// ProductService orchestrates the catalog store, the reservation cache and
// the notification sink for product CRUD.
type ProductService struct {
	store    store.Store
	cache    *cache.ProductCache
	notifier Notifier
	log      *zap.Logger
}

func NewProductService(st store.Store, pc *cache.ProductCache, notifier Notifier, log *zap.Logger) *ProductService {
	return &ProductService{
		store:    st,
		cache:    pc,
		notifier: notifier,
		log:      log,
	}
}

// List returns every catalog row merged with its live retained counter.
func (s *ProductService) List() ([]models.Product, error) {
	rows, err := s.store.ListProducts()
	if err != nil {
		return nil, err
	}
	return s.cache.List(rows), nil
}

func validateProduct(p models.Product) error {
	if p.Name == "" {
		return opErr(InvalidProduct, "name required")
	}
	if p.Price < 0 {
		return opErr(InvalidProduct, "price must be >= 0")
	}
	if p.Stock < 0 {
		return opErr(InvalidProduct, "stock must be >= 0")
	}
	return nil
}

// catalogError keeps caller faults (duplicate name) apart from store faults,
// which pass through untyped and surface as 500.
func catalogError(err error) error {
	if errors.Is(err, store.ErrDuplicateName) {
		return opErr(DuplicateName, "Product name already exists")
	}
	return err
}

// Create inserts a product, seeds its cache snapshot and notifies clients.
func (s *ProductService) Create(p models.Product) (models.Product, error) {
	if err := validateProduct(p); err != nil {
		return models.Product{}, err
	}
	id, err := s.store.CreateProduct(p)
	if err != nil {
		return models.Product{}, catalogError(err)
	}
	p.ID = id
	snapshot := s.cache.SetProduct(p)
	s.notifier.Publish(EventProductUpdated, snapshot)
	s.log.Info("product created", zap.Int64("product_id", id), zap.String("name", p.Name))
	return snapshot, nil
}

// Update rewrites the catalog row and refreshes the cached snapshot without
// resetting its retained counter.
func (s *ProductService) Update(p models.Product) (models.Product, error) {
	exists, err := s.store.Exists(p.ID)
	if err != nil {
		return models.Product{}, err
	}
	if !exists {
		return models.Product{}, opErr(ProductNotFound, "Product not found")
	}
	if err := validateProduct(p); err != nil {
		return models.Product{}, err
	}
	if err := s.store.UpdateProduct(p); err != nil {
		return models.Product{}, catalogError(err)
	}
	snapshot := s.cache.SetProduct(p)
	s.notifier.Publish(EventProductUpdated, snapshot)
	return snapshot, nil
}

// Delete removes the product from the catalog and drops its cache snapshot.
func (s *ProductService) Delete(id int64) error {
	p, err := s.store.Find(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return opErr(ProductNotFound, "Product not found")
		}
		return err
	}
	if err := s.store.DeleteProduct(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return opErr(ProductNotFound, "Product not found")
		}
		return err
	}
	snapshot, cached := s.cache.Remove(id)
	if !cached {
		snapshot = p
	}
	s.notifier.Publish(EventProductDeleted, snapshot)
	s.log.Info("product deleted", zap.Int64("product_id", id))
	return nil
}
