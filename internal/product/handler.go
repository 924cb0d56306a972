package product

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"inventory-auth/internal/auth"
)

var skuPattern = regexp.MustCompile(`^[A-Z0-9-]{2,32}$`)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	store Store
	gate  *auth.Gate
}

func NewHandler(store Store, gate *auth.Gate) *Handler {
	return &Handler{store: store, gate: gate}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.Handle("POST /api/products", h.gate.Admin(true, http.HandlerFunc(h.CreateProduct)))
	mux.Handle("DELETE /api/products/{id}", h.gate.Admin(true, http.HandlerFunc(h.DeleteProduct)))
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if sc := h.gate.RequireAuthenticated(w, r, true); sc != nil {
		sc.Write(w, r)
		return
	}

	products, err := h.store.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	p, err := h.store.Create(r.Context(), input)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete product")
		sentry.CaptureException(err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseInput(w http.ResponseWriter, r *http.Request) (ProductInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input ProductInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return ProductInput{}, false
	}

	input.Name = strings.TrimSpace(input.Name)
	input.SKU = strings.ToUpper(strings.TrimSpace(input.SKU))

	if input.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return ProductInput{}, false
	}
	if !utf8.ValidString(input.Name) || len(input.Name) > 150 {
		writeError(w, http.StatusBadRequest, "name is invalid")
		return ProductInput{}, false
	}
	if !skuPattern.MatchString(input.SKU) {
		writeError(w, http.StatusBadRequest, "sku is invalid")
		return ProductInput{}, false
	}
	if input.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "quantity must be >= 0")
		return ProductInput{}, false
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
