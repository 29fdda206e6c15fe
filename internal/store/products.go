package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, base_price, COALESCE(default_material, ''), estimated_days, active`

func (s *Store) CreateProduct(ctx context.Context, name string, basePrice decimal.Decimal, defaultMaterial string, estimatedDays int) (*models.Product, error) {
	query := `
		INSERT INTO products (name, base_price, default_material, estimated_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING ` + productColumns

	var product models.Product
	err := scanProduct(s.db.QueryRowContext(ctx, query, name, basePrice, defaultMaterial, estimatedDays), &product)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return &product, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product

	err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id), &product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &product, nil
}

func (s *Store) SetProductActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE products SET active = $2, updated_at = NOW() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("update product %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}
	return nil
}

// ListProducts pages through the active catalogue by name.
func (s *Store) ListProducts(ctx context.Context, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = normalizePage(page, pageSize)

	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE active`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE active
		ORDER BY name, id
		LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}

func (t *pgTx) ProductsByID(ctx context.Context, ids []int64) (map[int64]models.Product, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]models.Product, len(ids))
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[product.ID] = product
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.Name,
		&product.BasePrice,
		&product.DefaultMaterial,
		&product.EstimatedDays,
		&product.Active,
	)
}
