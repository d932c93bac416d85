package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flipflop-be/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Repository interface {
	GetLines(ctx context.Context, userID uint) ([]CartLine, error)
	GetLine(ctx context.Context, lineID uuid.UUID, userID uint) (*CartLine, error)
	FindByProduct(ctx context.Context, userID uint, productID uuid.UUID, variantID *uuid.UUID) (*CartLine, error)
	CreateLine(ctx context.Context, params createLineParams) (*CartLine, error)
	UpdateQuantity(ctx context.Context, lineID uuid.UUID, userID uint, quantity int) error
	DeleteLine(ctx context.Context, lineID uuid.UUID, userID uint) error
	Clear(ctx context.Context, userID uint) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const selectLine = `
	SELECT
		ci.id,
		ci.user_id,
		ci.product_id,
		ci.variant_id,
		ci.quantity,
		ci.unit_price,
		ci.created_at,
		ci.updated_at,
		p.name,
		p.sku,
		p.price,
		v.sku,
		v.price,
		p.catalog_product_id,
		p.track_inventory
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
	LEFT JOIN product_variants v ON v.id = ci.variant_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLine(s rowScanner) (*CartLine, error) {
	var (
		l          CartLine
		variantID  uuid.NullUUID
		variantSKU sql.NullString
		catalogKey sql.NullString
	)
	err := s.Scan(
		&l.ID,
		&l.UserID,
		&l.ProductID,
		&variantID,
		&l.Quantity,
		&l.UnitPrice,
		&l.CreatedAt,
		&l.UpdatedAt,
		&l.ProductName,
		&l.ProductSKU,
		&l.ProductPrice,
		&variantSKU,
		&l.VariantPrice,
		&catalogKey,
		&l.TrackInventory,
	)
	if err != nil {
		return nil, err
	}
	if variantID.Valid {
		l.VariantID = &variantID.UUID
	}
	if variantSKU.Valid {
		l.VariantSKU = &variantSKU.String
	}
	if catalogKey.Valid {
		l.CatalogKey = &catalogKey.String
	}
	return &l, nil
}

func (r *repository) GetLines(ctx context.Context, userID uint) ([]CartLine, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("repo", "Cart"),
		zap.String("method", "GetLines"),
	)

	rows, err := r.db.QueryContext(ctx, selectLine+`
	WHERE ci.user_id = $1
	ORDER BY ci.created_at, ci.id
	`, userID)
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrFailedGetCartItem, err)
	}
	defer rows.Close()

	var lines []CartLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			log.Error("scan failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrFailedGetCartItem, err)
		}
		lines = append(lines, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedGetCartItem, err)
	}

	return lines, nil
}

func (r *repository) GetLine(ctx context.Context, lineID uuid.UUID, userID uint) (*CartLine, error) {
	l, err := scanLine(r.db.QueryRowContext(ctx, selectLine+`
	WHERE ci.id = $1 AND ci.user_id = $2
	`, lineID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedGetCartItem, err)
	}
	return l, nil
}

// FindByProduct returns nil, nil when the user has no line for the pair.
func (r *repository) FindByProduct(
	ctx context.Context,
	userID uint,
	productID uuid.UUID,
	variantID *uuid.UUID,
) (*CartLine, error) {

	l, err := scanLine(r.db.QueryRowContext(ctx, selectLine+`
	WHERE ci.user_id = $1
	  AND ci.product_id = $2
	  AND ci.variant_id IS NOT DISTINCT FROM $3
	`, userID, productID, nullUUID(variantID)))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedGetCartItem, err)
	}
	return l, nil
}

func (r *repository) CreateLine(ctx context.Context, params createLineParams) (*CartLine, error) {
	query := `
	INSERT INTO cart_items (user_id, product_id, variant_id, quantity, unit_price)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, created_at, updated_at
	`

	l := &CartLine{
		UserID:    params.UserID,
		ProductID: params.ProductID,
		VariantID: params.VariantID,
		Quantity:  params.Quantity,
		UnitPrice: params.UnitPrice,
	}

	err := r.db.QueryRowContext(ctx, query,
		params.UserID,
		params.ProductID,
		nullUUID(params.VariantID),
		params.Quantity,
		params.UnitPrice,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		logger.FromCtx(ctx).Error("insert cart line failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrFailedCreateCartItem, err)
	}

	return l, nil
}

func (r *repository) UpdateQuantity(ctx context.Context, lineID uuid.UUID, userID uint, quantity int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cart_items
		SET quantity = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3
	`, quantity, lineID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedUpdateCart, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedUpdateCart, err)
	}
	if rowsAffected == 0 {
		return ErrCartItemNotFound
	}

	return nil
}

func (r *repository) DeleteLine(ctx context.Context, lineID uuid.UUID, userID uint) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE id = $1 AND user_id = $2
	`, lineID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedRemoveCart, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedRemoveCart, err)
	}
	if rowsAffected == 0 {
		return ErrCartItemNotFound
	}

	return nil
}

func (r *repository) Clear(ctx context.Context, userID uint) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedClearCart, err)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
