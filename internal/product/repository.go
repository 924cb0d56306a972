package product

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Store interface {
	List(ctx context.Context) ([]Product, error)
	Create(ctx context.Context, input ProductInput) (Product, error)
	Delete(ctx context.Context, id string) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, sku, quantity, created_at, updated_at
		FROM products
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Quantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return products, nil
}

func (r *Repository) Create(ctx context.Context, input ProductInput) (Product, error) {
	p, err := newProduct(input)
	if err != nil {
		return Product{}, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, sku, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.SKU, p.Quantity, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}

	return p, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func newProduct(input ProductInput) (Product, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Product{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	return Product{
		ID:        id.String(),
		Name:      input.Name,
		SKU:       input.SKU,
		Quantity:  input.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MemoryStore backs the in-process runtime.
type MemoryStore struct {
	mu       sync.Mutex
	products map[string]Product
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{products: make(map[string]Product)}
}

func (m *MemoryStore) List(_ context.Context) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	products := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].ID > products[j].ID
	})
	return products, nil
}

func (m *MemoryStore) Create(_ context.Context, input ProductInput) (Product, error) {
	p, err := newProduct(input)
	if err != nil {
		return Product{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.products[p.ID] = p
	return p, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[id]; !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	return nil
}
