package cart

import (
	"context"
	"errors"

	"flipflop-be/internal/inventory"
	"flipflop-be/internal/logger"
	"flipflop-be/internal/product"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service defines the business logic for carts. Every quantity change goes
// through the stock guard first.
type Service interface {
	GetCart(ctx context.Context, userID uint) (*Cart, error)
	AddItem(ctx context.Context, params AddItemParams) (*CartLine, error)
	UpdateItem(ctx context.Context, userID uint, lineID uuid.UUID, quantity int) (*CartLine, error)
	RemoveItem(ctx context.Context, userID uint, lineID uuid.UUID) error
	Clear(ctx context.Context, userID uint) error
}

type service struct {
	repo     Repository
	products product.Repository
	guard    inventory.Guard
}

func NewService(repo Repository, products product.Repository, guard inventory.Guard) Service {
	return &service{repo: repo, products: products, guard: guard}
}

func (s *service) GetCart(ctx context.Context, userID uint) (*Cart, error) {
	lines, err := s.repo.GetLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []CartLine{}
	}
	return &Cart{Lines: lines, Total: LinesTotal(lines)}, nil
}

// AddItem adds quantity to the user's line for the product/variant pair,
// creating the line when absent. The guard checks the resulting total.
func (s *service) AddItem(ctx context.Context, params AddItemParams) (*CartLine, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("service", "Cart"),
		zap.String("method", "AddItem"),
		zap.String("product_id", params.ProductID.String()),
		zap.Int("quantity", params.Quantity),
	)

	if params.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetInventoryInfo(ctx, params.ProductID)
	if err != nil {
		if errors.Is(err, product.ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	unitPrice := p.Price
	if params.VariantID != nil {
		v, err := s.products.GetVariant(ctx, params.ProductID, *params.VariantID)
		if err != nil {
			if errors.Is(err, product.ErrVariantNotFound) {
				return nil, ErrProductNotFound
			}
			return nil, err
		}
		unitPrice = v.Price
	}

	existing, err := s.repo.FindByProduct(ctx, params.UserID, params.ProductID, params.VariantID)
	if err != nil {
		return nil, err
	}

	finalQty := params.Quantity
	if existing != nil {
		finalQty += existing.Quantity
	}

	if err := s.check(ctx, params.ProductID, finalQty); err != nil {
		log.Info("add to cart rejected", zap.Error(err))
		return nil, err
	}

	if existing != nil {
		if err := s.repo.UpdateQuantity(ctx, existing.ID, params.UserID, finalQty); err != nil {
			return nil, err
		}
		existing.Quantity = finalQty
		log.Info("cart line updated", zap.String("line_id", existing.ID.String()))
		return existing, nil
	}

	line, err := s.repo.CreateLine(ctx, createLineParams{
		UserID:    params.UserID,
		ProductID: params.ProductID,
		VariantID: params.VariantID,
		Quantity:  params.Quantity,
		UnitPrice: unitPrice,
	})
	if err != nil {
		return nil, err
	}
	line.ProductName = p.Name
	line.ProductSKU = p.SKU

	log.Info("item added to cart", zap.String("line_id", line.ID.String()))
	return line, nil
}

func (s *service) UpdateItem(ctx context.Context, userID uint, lineID uuid.UUID, quantity int) (*CartLine, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	line, err := s.repo.GetLine(ctx, lineID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.check(ctx, line.ProductID, quantity); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateQuantity(ctx, lineID, userID, quantity); err != nil {
		return nil, err
	}
	line.Quantity = quantity
	return line, nil
}

func (s *service) RemoveItem(ctx context.Context, userID uint, lineID uuid.UUID) error {
	return s.repo.DeleteLine(ctx, lineID, userID)
}

func (s *service) Clear(ctx context.Context, userID uint) error {
	return s.repo.Clear(ctx, userID)
}

func (s *service) check(ctx context.Context, productID uuid.UUID, qty int) error {
	d, err := s.guard.CheckQuantity(ctx, productID, qty)
	if err != nil {
		if errors.Is(err, inventory.ErrProductNotFound) {
			return ErrProductNotFound
		}
		if errors.Is(err, inventory.ErrInvalidQuantity) {
			return ErrInvalidQuantity
		}
		return err
	}
	if !d.Allowed {
		return &InsufficientStockError{Requested: qty, Available: d.Available}
	}
	return nil
}
