package address

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
	GetByUserID(ctx context.Context, userID uint) ([]*Address, error)
	GetByIDForUser(ctx context.Context, id uuid.UUID, userID uint) (*Address, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const selectColumns = `
	id, user_id,
	recipient_name, phone,
	street, street2,
	city, postal_code, country,
	is_default
`

func (r *repository) GetByUserID(
	ctx context.Context,
	userID uint,
) ([]*Address, error) {

	log := logger.FromCtx(ctx).With(
		zap.String("repo", "Address"),
		zap.String("method", "GetByUserID"),
	)

	q := `SELECT ` + selectColumns + `
		FROM delivery_addresses
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrFailedGetAddress, err)
	}
	defer rows.Close()

	var res []*Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			log.Error("scan failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrFailedGetAddress, err)
		}
		res = append(res, a)
	}

	return res, rows.Err()
}

// GetByIDForUser returns the address only when it belongs to userID, so a
// foreign address is indistinguishable from a missing one.
func (r *repository) GetByIDForUser(
	ctx context.Context,
	id uuid.UUID,
	userID uint,
) (*Address, error) {

	log := logger.FromCtx(ctx).With(
		zap.String("repo", "Address"),
		zap.String("method", "GetByIDForUser"),
		zap.String("address_id", id.String()),
	)

	q := `SELECT ` + selectColumns + `
		FROM delivery_addresses
		WHERE id = $1
		  AND user_id = $2
	`

	a, err := scanAddress(r.db.QueryRowContext(ctx, q, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrFailedGetAddress, err)
	}

	return a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAddress(s scanner) (*Address, error) {
	var a Address
	err := s.Scan(
		&a.ID, &a.UserID,
		&a.RecipientName, &a.Phone,
		&a.Street, &a.Street2,
		&a.City, &a.PostalCode, &a.Country,
		&a.IsDefault,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
