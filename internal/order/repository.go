package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flipflop-be/internal/db"
	"flipflop-be/internal/inventory"
	"flipflop-be/internal/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	// CreateOrderTx allocates the order number and writes the order, its
	// lines, the first status event and the reservations, and removes the
	// ordered cart lines, atomically. On success p.Order.OrderNumber is set.
	CreateOrderTx(ctx context.Context, p createParams) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, userID uint) ([]*Order, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) error
	// MarkReservationsReleased closes the open reservations of an order for
	// the given catalog keys.
	MarkReservationsReleased(ctx context.Context, orderID uuid.UUID, catalogKeys []string) error
	UpdatePayment(ctx context.Context, u PaymentUpdate) error
}

// StatusUpdate moves an order from From to To. It fails with
// ErrInvalidTransition if the stored status is no longer From.
type StatusUpdate struct {
	OrderID uuid.UUID
	From    Status
	To      Status
	Note    string
	Actor   *uint
}

type PaymentUpdate struct {
	OrderID       uuid.UUID
	From          PaymentStatus
	To            PaymentStatus
	TransactionID *string
	// Status is set when the payment change also moves the order status.
	Status *StatusUpdate
	Note   string
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateOrderTx(ctx context.Context, p createParams) error {
	o := p.Order
	log := logger.FromCtx(ctx).With(
		zap.String("repo", "Order"),
		zap.String("method", "CreateOrderTx"),
		zap.String("order_id", o.ID.String()),
	)

	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		number, err := NextNumber(ctx, tx, o.CreatedAt)
		if err != nil {
			return err
		}
		o.OrderNumber = number

		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, order_number, user_id, customer_email, delivery_address_id,
				status, payment_status, payment_method,
				subtotal, tax, shipping_cost, discount, total,
				notes, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`,
			o.ID,
			o.OrderNumber,
			o.UserID,
			o.CustomerEmail,
			o.DeliveryAddressID,
			o.Status,
			o.PaymentStatus,
			o.PaymentMethod,
			o.Subtotal,
			o.Tax,
			o.ShippingCost,
			o.Discount,
			o.Total,
			o.Notes,
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicateOrderNumber
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, l := range o.Items {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, product_id, variant_id,
					product_name, sku, quantity, unit_price, total_price
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`,
				l.ID,
				o.ID,
				l.ProductID,
				nullUUID(l.VariantID),
				l.ProductName,
				l.SKU,
				l.Quantity,
				l.UnitPrice,
				l.TotalPrice,
			)
			if err != nil {
				return fmt.Errorf("insert order item %d: %w", i, err)
			}
		}

		for _, ev := range o.StatusHistory {
			if err := insertStatusEvent(ctx, tx, ev); err != nil {
				return err
			}
		}

		for _, res := range p.Reservations {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_reservations (
					order_id, product_id, catalog_product_id,
					warehouse_id, quantity, order_ref
				) VALUES ($1,$2,$3,$4,$5,$6)
			`,
				o.ID,
				res.ProductID,
				res.CatalogKey,
				res.WarehouseID,
				res.Quantity,
				res.OrderRef,
			)
			if err != nil {
				return fmt.Errorf("insert reservation: %w", err)
			}
		}

		if len(p.CartLineIDs) > 0 {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM cart_items
				WHERE user_id = $1 AND id = ANY($2)
			`, o.UserID, pq.Array(uuidStrings(p.CartLineIDs)))
			if err != nil {
				return fmt.Errorf("clear cart: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		number := o.OrderNumber
		o.OrderNumber = ""
		if errors.Is(err, ErrDuplicateOrderNumber) {
			log.Warn("order number collision", zap.String("order_number", number))
			return err
		}
		log.Error("order transaction rolled back", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	log.Info("order persisted",
		zap.String("order_number", o.OrderNumber),
		zap.Int("items", len(o.Items)),
		zap.Int("reservations", len(p.Reservations)),
	)
	return nil
}

const selectOrder = `
	SELECT
		id, order_number, user_id, customer_email, delivery_address_id,
		status, payment_status, payment_method, payment_transaction_id,
		subtotal, tax, shipping_cost, discount, total,
		notes, created_at, updated_at
	FROM orders
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (*Order, error) {
	var (
		o     Order
		txnID sql.NullString
		notes sql.NullString
	)
	err := s.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.CustomerEmail,
		&o.DeliveryAddressID,
		&o.Status,
		&o.PaymentStatus,
		&o.PaymentMethod,
		&txnID,
		&o.Subtotal,
		&o.Tax,
		&o.ShippingCost,
		&o.Discount,
		&o.Total,
		&notes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if txnID.Valid {
		o.PaymentTransactionID = &txnID.String
	}
	if notes.Valid {
		o.Notes = &notes.String
	}
	return &o, nil
}

func (r *repository) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("repo", "Order"),
		zap.String("method", "GetOrder"),
		zap.String("order_id", orderID.String()),
	)

	o, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		log.Error("failed to load order", zap.Error(err))
		return nil, err
	}

	items, err := r.loadItems(ctx, []uuid.UUID{o.ID})
	if err != nil {
		log.Error("failed to load order items", zap.Error(err))
		return nil, err
	}
	o.Items = items[o.ID]

	if o.StatusHistory, err = r.loadHistory(ctx, o.ID); err != nil {
		log.Error("failed to load status history", zap.Error(err))
		return nil, err
	}
	if o.Reservations, err = r.loadReservations(ctx, o.ID); err != nil {
		log.Error("failed to load reservations", zap.Error(err))
		return nil, err
	}

	return o, nil
}

func (r *repository) ListOrders(ctx context.Context, userID uint) ([]*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("repo", "Order"),
		zap.String("method", "ListOrders"),
	)

	rows, err := r.db.QueryContext(ctx, selectOrder+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		log.Error("failed to query orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	orders := []*Order{}
	ids := []uuid.UUID{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			log.Error("failed to scan order row", zap.Error(err))
			return nil, err
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		log.Error("failed to load order items", zap.Error(err))
		return nil, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}

	return orders, nil
}

func (r *repository) loadItems(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id, order_id, product_id, variant_id,
			product_name, sku, quantity, unit_price, total_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, product_name, id
	`, pq.Array(uuidStrings(orderIDs)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			l         OrderLine
			variantID uuid.NullUUID
		)
		if err := rows.Scan(
			&l.ID,
			&l.OrderID,
			&l.ProductID,
			&variantID,
			&l.ProductName,
			&l.SKU,
			&l.Quantity,
			&l.UnitPrice,
			&l.TotalPrice,
		); err != nil {
			return nil, err
		}
		if variantID.Valid {
			l.VariantID = &variantID.UUID
		}
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, rows.Err()
}

func (r *repository) loadHistory(ctx context.Context, orderID uuid.UUID) ([]StatusEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, status, note, actor, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var (
			ev    StatusEvent
			actor sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Status, &ev.Note, &actor, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if actor.Valid {
			a := uint(actor.Int64)
			ev.Actor = &a
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *repository) loadReservations(ctx context.Context, orderID uuid.UUID) ([]inventory.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, catalog_product_id, warehouse_id, quantity, order_ref
		FROM order_reservations
		WHERE order_id = $1 AND released_at IS NULL
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Reservation
	for rows.Next() {
		var res inventory.Reservation
		if err := rows.Scan(&res.ProductID, &res.CatalogKey, &res.WarehouseID, &res.Quantity, &res.OrderRef); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return updateStatusTx(ctx, tx, u)
	})
}

func (r *repository) MarkReservationsReleased(ctx context.Context, orderID uuid.UUID, catalogKeys []string) error {
	if len(catalogKeys) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE order_reservations
		SET released_at = NOW()
		WHERE order_id = $1
		  AND catalog_product_id = ANY($2)
		  AND released_at IS NULL
	`, orderID, pq.Array(catalogKeys))
	if err != nil {
		logger.FromCtx(ctx).Error("failed to mark reservations released",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("mark reservations released: %w", err)
	}
	return nil
}

func (r *repository) UpdatePayment(ctx context.Context, u PaymentUpdate) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET payment_status = $1,
			    payment_transaction_id = COALESCE($2, payment_transaction_id),
			    updated_at = NOW()
			WHERE id = $3 AND payment_status = $4
		`, u.To, u.TransactionID, u.OrderID, u.From)
		if err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}

		if u.Status != nil {
			return updateStatusTx(ctx, tx, *u.Status)
		}

		current, err := currentStatus(ctx, tx, u.OrderID)
		if err != nil {
			return err
		}
		return insertStatusEvent(ctx, tx, StatusEvent{
			ID:      uuid.New(),
			OrderID: u.OrderID,
			Status:  current,
			Note:    u.Note,
		})
	})
}

func updateStatusTx(ctx context.Context, tx *sql.Tx, u StatusUpdate) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, u.To, u.OrderID, u.From)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	return insertStatusEvent(ctx, tx, StatusEvent{
		ID:      uuid.New(),
		OrderID: u.OrderID,
		Status:  u.To,
		Note:    u.Note,
		Actor:   u.Actor,
	})
}

func currentStatus(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (Status, error) {
	var s Status
	err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	return s, err
}

func insertStatusEvent(ctx context.Context, tx *sql.Tx, ev StatusEvent) error {
	var actor sql.NullInt64
	if ev.Actor != nil {
		actor = sql.NullInt64{Int64: int64(*ev.Actor), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (id, order_id, status, note, actor)
		VALUES ($1,$2,$3,$4,$5)
	`, ev.ID, ev.OrderID, ev.Status, ev.Note, actor)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// expectOneRow maps a conditional update that matched nothing to a lost race.
func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
