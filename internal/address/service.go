package address

import (
	"context"

	"flipflop-be/internal/logger"
	"flipflop-be/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service interface {
	List(ctx context.Context) ([]*Address, error)
	Get(ctx context.Context, addressID uuid.UUID) (*Address, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) List(ctx context.Context) ([]*Address, error) {
	userID, ok := utils.GetUserIDFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}

	logger.FromCtx(ctx).With(
		zap.String("service", "Address"),
		zap.String("method", "List"),
	).Debug("listing addresses")

	return s.repo.GetByUserID(ctx, userID)
}

func (s *service) Get(ctx context.Context, addressID uuid.UUID) (*Address, error) {
	userID, ok := utils.GetUserIDFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}

	addr, err := s.repo.GetByIDForUser(ctx, addressID, userID)
	if err != nil {
		logger.FromCtx(ctx).With(
			zap.String("service", "Address"),
			zap.String("method", "Get"),
			zap.String("address_id", addressID.String()),
		).Warn("address lookup failed", zap.Error(err))
		return nil, err
	}
	return addr, nil
}
