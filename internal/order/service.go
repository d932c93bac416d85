package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"flipflop-be/internal/address"
	"flipflop-be/internal/cart"
	"flipflop-be/internal/inventory"
	"flipflop-be/internal/logger"
	"flipflop-be/internal/metrics"
	"flipflop-be/internal/notification"
	"flipflop-be/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	defaultPaymentMethod = "payu"
	defaultNotifyTimeout = 10 * time.Second
)

var tracer = otel.Tracer("flipflop-be/internal/order")

type CartReader interface {
	GetLines(ctx context.Context, userID uint) ([]cart.CartLine, error)
}

type AddressReader interface {
	GetByIDForUser(ctx context.Context, id uuid.UUID, userID uint) (*address.Address, error)
}

// StockReserver is the part of the inventory service checkout depends on.
type StockReserver interface {
	ReserveItems(ctx context.Context, orderRef string, items []inventory.Item) ([]inventory.Reservation, error)
	ReleaseItems(ctx context.Context, reservations []inventory.Reservation) error
}

type Service interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, userID uint, isAdmin bool) (*Order, error)
	ListOrders(ctx context.Context, userID uint) ([]*Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, to Status, note string, actor *uint) (*Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, to PaymentStatus, transactionID *string) (*Order, error)
}

type Options struct {
	VATRate       decimal.Decimal
	NotifyTimeout time.Duration
	Metrics       *metrics.Registry
	Now           func() time.Time
}

type service struct {
	repo      Repository
	carts     CartReader
	addresses AddressReader
	stock     StockReserver
	notifier  notification.Dispatcher

	vatRate       decimal.Decimal
	notifyTimeout time.Duration
	metrics       *metrics.Registry
	now           func() time.Time
}

func NewService(
	repo Repository,
	carts CartReader,
	addresses AddressReader,
	stock StockReserver,
	notifier notification.Dispatcher,
	opts Options,
) Service {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &service{
		repo:          repo,
		carts:         carts,
		addresses:     addresses,
		stock:         stock,
		notifier:      notifier,
		vatRate:       opts.VATRate,
		notifyTimeout: opts.NotifyTimeout,
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
}

// CreateOrder turns the user's cart into an order. Stock is reserved under the
// order id before anything is written; the order number is allocated inside
// the persisting transaction. If persistence fails the reservations are
// released, so a returned error never leaves stock held or a number used.
func (s *service) CreateOrder(ctx context.Context, in CreateOrderInput) (o *Order, err error) {
	ctx, span := tracer.Start(ctx, "order.CreateOrder")
	defer span.End()

	log := logger.FromCtx(ctx).With(
		zap.String("service", "Order"),
		zap.String("method", "CreateOrder"),
	)

	timer := metrics.StartTimer()
	s.metrics.CheckoutStarted.Inc()
	defer func() {
		s.metrics.CheckoutLatency.Observe(timer.Duration())
		if err != nil {
			s.metrics.CheckoutFailed.Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		s.metrics.CheckoutSucceeded.Inc()
	}()

	lines, err := s.carts.GetLines(ctx, in.UserID)
	if err != nil {
		log.Error("failed to load cart", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	if _, err := s.addresses.GetByIDForUser(ctx, in.DeliveryAddressID, in.UserID); err != nil {
		if errors.Is(err, address.ErrAddressNotFound) {
			return nil, ErrAddressNotFound
		}
		log.Error("failed to load delivery address", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	items := orderLines(lines)
	totals, err := ComputeTotals(items, s.vatRate, in.ShippingCost, in.Discount)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New()
	orderRef := orderID.String()
	log = log.With(zap.String("order_id", orderRef))
	span.SetAttributes(
		attribute.String("order.id", orderRef),
		attribute.Int("order.lines", len(items)),
	)

	reservations, err := s.stock.ReserveItems(ctx, orderRef, reservationItems(lines))
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			log.Info("checkout rejected, insufficient stock", zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrInsufficientStock, err)
		}
		log.Warn("checkout aborted, reservation unavailable", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrReservationUnavailable, err)
	}

	now := s.now().UTC()
	o = &Order{
		ID:                orderID,
		UserID:            in.UserID,
		CustomerEmail:     utils.GetUserEmailFromContext(ctx),
		DeliveryAddressID: in.DeliveryAddressID,
		Status:            StatusPending,
		PaymentStatus:     PaymentPending,
		PaymentMethod:     in.PaymentMethod,
		Subtotal:          totals.Subtotal,
		Tax:               totals.Tax,
		ShippingCost:      totals.ShippingCost,
		Discount:          totals.Discount,
		Total:             totals.Total,
		Notes:             in.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
		Items:             items,
		Reservations:      reservations,
	}
	if o.PaymentMethod == "" {
		o.PaymentMethod = defaultPaymentMethod
	}
	for i := range o.Items {
		o.Items[i].ID = uuid.New()
		o.Items[i].OrderID = o.ID
	}
	actor := in.UserID
	o.StatusHistory = []StatusEvent{{
		ID:        uuid.New(),
		OrderID:   o.ID,
		Status:    StatusPending,
		Note:      "Order created",
		Actor:     &actor,
		CreatedAt: now,
	}}

	if err := s.persist(ctx, log, o, lines); err != nil {
		if relErr := s.stock.ReleaseItems(ctx, reservations); relErr != nil {
			log.Error("failed to release reservations after persistence failure", zap.Error(relErr))
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("order.number", o.OrderNumber))
	log.Info("order created",
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.Total.StringFixed(2)),
	)

	s.notify(ctx, notification.Message{
		Type:        notification.TypeOrderConfirmation,
		OrderNumber: o.OrderNumber,
		Total:       o.Total,
		Recipient:   o.CustomerEmail,
	})

	return o, nil
}

// persist writes o, retrying once on a number collision. The retry allocates
// a fresh number; reservations stay under the order id.
func (s *service) persist(ctx context.Context, log *zap.Logger, o *Order, lines []cart.CartLine) error {
	p := createParams{
		Order:        o,
		CartLineIDs:  cartLineIDs(lines),
		Reservations: o.Reservations,
	}

	err := s.repo.CreateOrderTx(ctx, p)
	if !errors.Is(err, ErrDuplicateOrderNumber) {
		return err
	}

	log.Warn("order number collision, retrying")
	err = s.repo.CreateOrderTx(ctx, p)
	if errors.Is(err, ErrDuplicateOrderNumber) {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return err
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, userID uint, isAdmin bool) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, userID uint) ([]*Order, error) {
	return s.repo.ListOrders(ctx, userID)
}

// UpdateStatus applies an admin status change. Cancelling an order returns
// its reserved stock to the authority; a reservation is marked released only
// once the authority confirms it. When some stock could not be returned the
// order stays cancelled, the error is returned and cancelling again retries
// the release.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, to Status, note string, actor *uint) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("service", "Order"),
		zap.String("method", "UpdateStatus"),
		zap.String("order_id", orderID.String()),
		zap.String("to", string(to)),
	)

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	retryRelease := to == StatusCancelled && o.Status == StatusCancelled && len(o.Reservations) > 0
	if !retryRelease {
		if !CanTransition(o.Status, to) {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, to)
		}
		if note == "" {
			note = fmt.Sprintf("Status changed to %s", to)
		}

		if err := s.repo.UpdateStatus(ctx, StatusUpdate{
			OrderID: o.ID,
			From:    o.Status,
			To:      to,
			Note:    note,
			Actor:   actor,
		}); err != nil {
			log.Error("failed to update order status", zap.Error(err))
			return nil, err
		}

		o.Status = to
		log.Info("order status updated", zap.String("order_number", o.OrderNumber))

		s.notify(ctx, notification.Message{
			Type:        notification.TypeOrderStatusUpdate,
			OrderNumber: o.OrderNumber,
			Total:       o.Total,
			Recipient:   o.CustomerEmail,
			Status:      string(to),
		})
	}

	if to == StatusCancelled && len(o.Reservations) > 0 {
		if err := s.releaseReservations(ctx, log, o); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// releaseReservations returns o's open reservations and records the ones the
// authority released. o.Reservations is left with those still held.
func (s *service) releaseReservations(ctx context.Context, log *zap.Logger, o *Order) error {
	relErr := s.stock.ReleaseItems(ctx, o.Reservations)
	held := inventory.FailedReleases(relErr)
	if relErr != nil && held == nil {
		held = o.Reservations
	}

	stillHeld := make(map[string]bool, len(held))
	for _, r := range held {
		stillHeld[r.CatalogKey] = true
	}
	var released []string
	for _, r := range o.Reservations {
		if !stillHeld[r.CatalogKey] {
			released = append(released, r.CatalogKey)
		}
	}

	if err := s.repo.MarkReservationsReleased(ctx, o.ID, released); err != nil {
		return err
	}
	o.Reservations = held

	if relErr != nil {
		log.Error("cancelled order still holds stock",
			zap.String("order_number", o.OrderNumber),
			zap.Int("held", len(held)),
			zap.Error(relErr),
		)
		return fmt.Errorf("%w: %w", ErrReservationUnavailable, relErr)
	}
	return nil
}

// UpdatePaymentStatus records a payment outcome. A paid pending order is
// confirmed. Repeating the current payment status is a no-op.
func (s *service) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, to PaymentStatus, transactionID *string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("service", "Order"),
		zap.String("method", "UpdatePaymentStatus"),
		zap.String("order_id", orderID.String()),
		zap.String("to", string(to)),
	)

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == to {
		return o, nil
	}
	if !CanTransitionPayment(o.PaymentStatus, to) {
		return nil, fmt.Errorf("%w: payment %s to %s", ErrInvalidTransition, o.PaymentStatus, to)
	}

	u := PaymentUpdate{
		OrderID:       o.ID,
		From:          o.PaymentStatus,
		To:            to,
		TransactionID: transactionID,
		Note:          fmt.Sprintf("Payment %s", to),
	}
	if to == PaymentPaid && o.Status == StatusPending {
		u.Status = &StatusUpdate{
			OrderID: o.ID,
			From:    StatusPending,
			To:      StatusConfirmed,
			Note:    "Payment received",
		}
	}

	if err := s.repo.UpdatePayment(ctx, u); err != nil {
		log.Error("failed to update payment status", zap.Error(err))
		return nil, err
	}

	o.PaymentStatus = to
	if transactionID != nil {
		o.PaymentTransactionID = transactionID
	}
	if u.Status != nil {
		o.Status = u.Status.To
	}
	log.Info("payment status updated", zap.String("order_number", o.OrderNumber))

	if to == PaymentPaid {
		s.notify(ctx, notification.Message{
			Type:        notification.TypePaymentConfirmation,
			OrderNumber: o.OrderNumber,
			Total:       o.Total,
			Recipient:   o.CustomerEmail,
		})
	}

	return o, nil
}

// notify dispatches msg in the background with its own deadline. Failures are
// logged and never reach the caller.
func (s *service) notify(ctx context.Context, msg notification.Message) {
	log := logger.FromCtx(ctx).With(
		zap.String("notification", string(msg.Type)),
		zap.String("order_number", msg.OrderNumber),
	)
	if s.notifier == nil {
		return
	}
	if msg.Recipient == "" {
		log.Warn("no recipient for notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	go func() {
		defer cancel()
		if err := s.notifier.Dispatch(ctx, msg); err != nil {
			log.Warn("failed to dispatch notification", zap.Error(err))
		}
	}()
}

func orderLines(lines []cart.CartLine) []OrderLine {
	out := make([]OrderLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, OrderLine{
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			ProductName: l.ProductName,
			SKU:         l.SKU(),
			Quantity:    l.Quantity,
			UnitPrice:   l.CurrentUnitPrice(),
		})
	}
	return out
}

// reservationItems groups cart lines per product, since the authority keeps
// one stock figure per catalog product. Lines the authority does not track
// are skipped.
func reservationItems(lines []cart.CartLine) []inventory.Item {
	byProduct := map[uuid.UUID]*inventory.Item{}
	var seen []uuid.UUID
	for _, l := range lines {
		if !l.TrackInventory || l.CatalogKey == nil || *l.CatalogKey == "" {
			continue
		}
		it, ok := byProduct[l.ProductID]
		if !ok {
			it = &inventory.Item{ProductID: l.ProductID, CatalogKey: *l.CatalogKey}
			byProduct[l.ProductID] = it
			seen = append(seen, l.ProductID)
		}
		it.Quantity += l.Quantity
	}

	items := make([]inventory.Item, 0, len(seen))
	for _, id := range seen {
		items = append(items, *byProduct[id])
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CatalogKey < items[j].CatalogKey })
	return items
}

func cartLineIDs(lines []cart.CartLine) []uuid.UUID {
	ids := make([]uuid.UUID, len(lines))
	for i, l := range lines {
		ids[i] = l.ID
	}
	return ids
}
