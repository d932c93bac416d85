package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Repository interface {
	GetInventoryInfo(ctx context.Context, productID uuid.UUID) (*InventoryInfo, error)
	GetVariant(ctx context.Context, productID, variantID uuid.UUID) (*Variant, error)
	UpdateLocalStock(ctx context.Context, productID uuid.UUID, qty int) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetInventoryInfo(ctx context.Context, productID uuid.UUID) (*InventoryInfo, error) {
	query := `
	SELECT
		id,
		name,
		sku,
		price,
		catalog_product_id,
		track_inventory,
		stock_quantity
	FROM products
	WHERE id = $1 AND is_active = TRUE
	`

	var (
		p          InventoryInfo
		catalogKey sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, productID).Scan(
		&p.ProductID,
		&p.Name,
		&p.SKU,
		&p.Price,
		&catalogKey,
		&p.TrackInventory,
		&p.StockQuantity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedGetProduct, err)
	}

	if catalogKey.Valid {
		p.CatalogKey = &catalogKey.String
	}
	return &p, nil
}

func (r *repository) GetVariant(ctx context.Context, productID, variantID uuid.UUID) (*Variant, error) {
	query := `
	SELECT
		id,
		product_id,
		name,
		sku,
		price
	FROM product_variants
	WHERE id = $1 AND product_id = $2 AND is_active = TRUE
	`

	var v Variant
	err := r.db.QueryRowContext(ctx, query, variantID, productID).Scan(
		&v.ID,
		&v.ProductID,
		&v.Name,
		&v.SKU,
		&v.Price,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVariantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedGetProduct, err)
	}
	return &v, nil
}

// UpdateLocalStock refreshes the last known stock snapshot used when the
// warehouse authority is unreachable.
func (r *repository) UpdateLocalStock(ctx context.Context, productID uuid.UUID, qty int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = $1, updated_at = NOW()
		WHERE id = $2
	`, qty, productID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedUpdateStock, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedUpdateStock, err)
	}
	if rowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}
