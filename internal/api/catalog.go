package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type createProductRequest struct {
	Name            string          `json:"nombre"`
	BasePrice       decimal.Decimal `json:"precio_base"`
	DefaultMaterial string          `json:"material_default"`
	EstimatedDays   int             `json:"tiempo_estimado_dias"`
}

type productActiveRequest struct {
	Active *bool `json:"activo"`
}

type createClinicRequest struct {
	Name        string `json:"nombre"`
	Email       string `json:"email"`
	ContactName string `json:"contacto_nombre"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	result, err := h.orders.ListProducts(r.Context(), page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		respondError(w, http.StatusBadRequest, "nombre: product name is required")
		return
	case req.BasePrice.IsNegative() || !req.BasePrice.Equal(req.BasePrice.Round(2)):
		respondError(w, http.StatusBadRequest, "precio_base: price must be non-negative with at most two decimals")
		return
	case req.EstimatedDays < 0:
		respondError(w, http.StatusBadRequest, "tiempo_estimado_dias: must not be negative")
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), name, req.BasePrice, strings.TrimSpace(req.DefaultMaterial), req.EstimatedDays)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (h *Handler) setProductActive(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	var req productActiveRequest
	if err := decodeJSON(r, &req); err != nil || req.Active == nil {
		respondError(w, http.StatusBadRequest, "activo is required")
		return
	}

	if err := h.catalog.SetProductActive(r.Context(), id, *req.Active); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createClinic(w http.ResponseWriter, r *http.Request) {
	var req createClinicRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(w, http.StatusBadRequest, "nombre: clinic name is required")
		return
	}

	clinic, err := h.catalog.CreateClinic(r.Context(), name, strings.TrimSpace(req.Email), strings.TrimSpace(req.ContactName))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, clinic)
}
