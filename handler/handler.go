package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/PierreRoudaut/checkout-api/hub"
	models "github.com/PierreRoudaut/checkout-api/model"
	"github.com/PierreRoudaut/checkout-api/service"
)

// Handler is the HTTP layer over the cart and product services.
type Handler struct {
	carts    service.Carts
	products service.Products
	hub      *hub.Hub
}

func NewHandler(carts service.Carts, products service.Products, h *hub.Hub) *Handler {
	return &Handler{carts: carts, products: products, hub: h}
}

// RegisterRoutes registers all routes on the provided router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Products
	r.HandleFunc("/api/products", h.ListProducts).Methods("GET")
	r.HandleFunc("/api/products/create", h.CreateProduct).Methods("POST")
	r.HandleFunc("/api/products/update", h.UpdateProduct).Methods("POST")
	r.HandleFunc("/api/products/delete/{id:[0-9]+}", h.DeleteProduct).Methods("DELETE")

	// Carts
	r.HandleFunc("/api/cart", h.CreateCart).Methods("POST")
	r.HandleFunc("/api/cart/{cartId}", h.GetCart).Methods("GET")
	r.HandleFunc("/api/cart/{cartId}/setItem", h.SetCartItem).Methods("POST")
	r.HandleFunc("/api/cart/{cartId}/clear", h.ClearCart).Methods("POST")
	r.HandleFunc("/api/cart/{cartId}/removeItem/{productId:[0-9]+}", h.RemoveCartItem).Methods("DELETE")

	// Notifications
	r.HandleFunc("/ws", h.ServeWS).Methods("GET")
}

// --- helpers ---
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeOpErr maps service errors to their boundary status; anything that is
// not an OpError is an unexpected fault.
func writeOpErr(w http.ResponseWriter, err error) {
	var opErr *service.OpError
	if errors.As(err, &opErr) {
		writeErr(w, opErr.StatusCode(), opErr.Message)
		return
	}
	writeErr(w, http.StatusInternalServerError, err.Error())
}

// --- products ---

// ListProducts handles GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.products.List()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// CreateProduct handles POST /api/products/create
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if p.Name == "" {
		writeErr(w, http.StatusBadRequest, "name is required")
		return
	}
	if p.Price < 0 {
		writeErr(w, http.StatusBadRequest, "price must be >= 0")
		return
	}
	created, err := h.products.Create(p)
	if err != nil {
		writeOpErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateProduct handles POST /api/products/update
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if p.ID == 0 {
		writeErr(w, http.StatusBadRequest, "id is required")
		return
	}
	updated, err := h.products.Update(p)
	if err != nil {
		writeOpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteProduct handles DELETE /api/products/delete/{id}
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid product id")
		return
	}
	if err := h.products.Delete(id); err != nil {
		writeOpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- carts ---

// CreateCart handles POST /api/cart
func (h *Handler) CreateCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.carts.CreateCart())
}

// GetCart handles GET /api/cart/{cartId}
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.GetCart(mux.Vars(r)["cartId"])
	if err != nil {
		writeOpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// SetCartItem handles POST /api/cart/{cartId}/setItem
// body: { "product_id": 1, "quantity": 2 }
func (h *Handler) SetCartItem(w http.ResponseWriter, r *http.Request) {
	var item models.CartItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	cart, err := h.carts.SetCartItem(mux.Vars(r)["cartId"], item)
	if err != nil {
		writeOpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// ClearCart handles POST /api/cart/{cartId}/clear
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.ClearCart(mux.Vars(r)["cartId"])
	if err != nil {
		writeOpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// RemoveCartItem handles DELETE /api/cart/{cartId}/removeItem/{productId}
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	productID, err := strconv.ParseInt(vars["productId"], 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid product id")
		return
	}
	cart, err := h.carts.RemoveCartItem(vars["cartId"], productID)
	if err != nil {
		writeOpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// ServeWS handles GET /ws
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	hub.ServeWS(h.hub, w, r)
}
