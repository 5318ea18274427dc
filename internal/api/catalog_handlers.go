package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"merchanza/internal/models"
	"merchanza/internal/storage"
)

const (
	newCollectionsSize     = 8
	popularProductsSize    = 4
	popularProductCategory = "clothing"
)

type addProductRequest struct {
	Name     string       `json:"name"`
	Image    string       `json:"image"`
	Category string       `json:"category"`
	NewPrice models.Money `json:"new_price"`
	OldPrice models.Money `json:"old_price"`
}

type removeProductRequest struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// AllProducts lists the whole catalog ordered by id.
func (h *Handler) AllProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	products, err := h.Store.ListProducts()
	if err != nil {
		h.logger().Error("catalog list failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// NewCollections returns the eight most recently added products.
func (h *Handler) NewCollections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	products, err := h.Store.ListProducts()
	if err != nil {
		h.logger().Error("catalog list failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if len(products) > newCollectionsSize {
		products = products[len(products)-newCollectionsSize:]
	}
	writeJSON(w, http.StatusOK, products)
}

// PopularProducts returns the first four items in the featured category.
func (h *Handler) PopularProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	products, err := h.Store.ListProductsByCategory(popularProductCategory)
	if err != nil {
		h.logger().Error("catalog list failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if len(products) > popularProductsSize {
		products = products[:popularProductsSize]
	}
	writeJSON(w, http.StatusOK, products)
}

// AddProduct inserts a catalog entry, letting the store assign the next id.
func (h *Handler) AddProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	var req addProductRequest
	if err := decodeJSONAllowUnknown(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeFailure(w, http.StatusBadRequest, "name is required")
		return
	}
	product, err := h.Store.AddProduct(storage.AddProductParams{
		Name:     req.Name,
		Image:    req.Image,
		Category: req.Category,
		NewPrice: req.NewPrice,
		OldPrice: req.OldPrice,
	})
	if err != nil {
		h.logger().Error("product add failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "failed to add product")
		return
	}
	h.observeCatalogEvent("product_add")
	h.logger().Info("product added", "product_id", product.ID, "name", product.Name)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"name":    product.Name,
	})
}

// RemoveProduct deletes a catalog entry by id and echoes the removed name.
func (h *Handler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	var req removeProductRequest
	if err := decodeJSONAllowUnknown(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := req.ID.Int64()
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	product, err := h.Store.RemoveProduct(id)
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			writeFailure(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger().Error("product remove failed", "error", err, "product_id", id)
		writeFailure(w, http.StatusInternalServerError, "failed to remove product")
		return
	}
	h.observeCatalogEvent("product_remove")
	h.logger().Info("product removed", "product_id", id, "name", product.Name)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"name":    product.Name,
	})
}
