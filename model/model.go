package models

// Product is the cached catalog snapshot served to clients. Stock is the
// authoritative value owned by the catalog store; Retained is cache-local and
// counts units currently held by live carts.
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url,omitempty"`
	Stock       int     `json:"stock"`
	Retained    int     `json:"retained"`
}

// Remaining is the sellable headroom at this point in time.
func (p Product) Remaining() int { return p.Stock - p.Retained }

// CartItem holds a quantity of a single product. Identity is the product id:
// setting an item for a product already in the cart replaces it.
type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type Cart struct {
	ID    string             `json:"id"`
	Items map[int64]CartItem `json:"items"`
}
