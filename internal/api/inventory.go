package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"pharmatrack/m/domain"
)

// Inventory record management. Initial stock is set at creation; afterwards
// on-hand quantities move only through the ledger, so the update endpoints
// deliberately carry no quantity field.

type medicineRequest struct {
	Name            string          `json:"name"`
	Brand           string          `json:"brand"`
	Category        string          `json:"category"`
	Dosage          string          `json:"dosage"`
	Price           decimal.Decimal `json:"price"`
	InitialQuantity int64           `json:"initial_quantity"`
	ReorderLevel    int64           `json:"reorder_level"`
	BatchNumber     string          `json:"batch_number"`
	ManufactureDate string          `json:"manufacture_date"`
	ExpiryDate      string          `json:"expiry_date"`
	Supplier        string          `json:"supplier"`
}

func (h *Handler) createMedicine(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleManager) {
		return
	}
	var req medicineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.BatchNumber == "" {
		respondError(w, http.StatusBadRequest, "name and batch_number are required")
		return
	}
	if req.InitialQuantity < 0 {
		respondError(w, http.StatusBadRequest, "initial_quantity must not be negative")
		return
	}

	var id int64
	err := h.db.QueryRowx(
		`INSERT INTO medicines (name, brand, category, dosage, price, quantity_in_stock, reorder_level, batch_number, manufacture_date, expiry_date, supplier)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		req.Name, req.Brand, req.Category, req.Dosage, req.Price, req.InitialQuantity, req.ReorderLevel,
		req.BatchNumber, nullIfEmpty(req.ManufactureDate), nullIfEmpty(req.ExpiryDate), req.Supplier,
	).Scan(&id)
	if err != nil {
		respondError(w, http.StatusConflict, "unable to create medicine (duplicate batch number?)")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"id": id, "name": req.Name})
}

func (h *Handler) getMedicine(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}
	var m domain.Medicine
	err = h.db.Get(&m, `SELECT id, name, brand, category, dosage, price, quantity_in_stock, reorder_level, batch_number, manufacture_date, expiry_date, supplier FROM medicines WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "medicine not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load medicine")
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *Handler) updateMedicine(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleManager) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}
	var req medicineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	_, err = h.db.Exec(
		`UPDATE medicines SET name = ?, brand = ?, category = ?, dosage = ?, price = ?, reorder_level = ?, manufacture_date = ?, expiry_date = ?, supplier = ? WHERE id = ?`,
		req.Name, req.Brand, req.Category, req.Dosage, req.Price, req.ReorderLevel,
		nullIfEmpty(req.ManufactureDate), nullIfEmpty(req.ExpiryDate), req.Supplier, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update medicine")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type productRequest struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	InitialStock int64           `json:"initial_stock"`
	ReorderLevel int64           `json:"reorder_level"`
	IsActive     *bool           `json:"is_active"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleManager) {
		return
	}
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.InitialStock < 0 {
		respondError(w, http.StatusBadRequest, "initial_stock must not be negative")
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	var id int64
	err := h.db.QueryRowx(
		`INSERT INTO non_medical_products (name, category, cost_price, selling_price, stock, reorder_level, is_active)
         VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		req.Name, req.Category, req.CostPrice, req.SellingPrice, req.InitialStock, req.ReorderLevel, active,
	).Scan(&id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create product")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"id": id, "name": req.Name})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var p domain.NonMedicalProduct
	err = h.db.Get(&p, `SELECT id, name, category, cost_price, selling_price, stock, reorder_level, is_active, created_at, updated_at FROM non_medical_products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load product")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleManager) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	_, err = h.db.Exec(
		`UPDATE non_medical_products SET name = ?, category = ?, cost_price = ?, selling_price = ?, reorder_level = ?, is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		req.Name, req.Category, req.CostPrice, req.SellingPrice, req.ReorderLevel, active, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update product")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type lowStockEntry struct {
	Kind         domain.RecordKind `db:"kind" json:"kind"`
	ID           int64             `db:"id" json:"id"`
	Name         string            `db:"name" json:"name"`
	OnHand       int64             `db:"on_hand" json:"on_hand"`
	ReorderLevel int64             `db:"reorder_level" json:"reorder_level"`
}

// lowStock lists records at or below their reorder threshold across both
// collections.
func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	var entries []lowStockEntry
	err := h.db.Select(&entries, `
        SELECT 'medicine' AS kind, id, name, quantity_in_stock AS on_hand, reorder_level FROM medicines WHERE quantity_in_stock <= reorder_level
        UNION ALL
        SELECT 'product' AS kind, id, name, stock AS on_hand, reorder_level FROM non_medical_products WHERE stock <= reorder_level AND is_active = 1
        ORDER BY name`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load low stock report")
		return
	}
	if entries == nil {
		entries = []lowStockEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
