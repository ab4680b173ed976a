package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
	"github.com/tbourn/go-negotiation-backend/internal/repo"
)

// CatalogService exposes the product catalog the negotiation core reads from.
// Products are reference data: negotiation turns never mutate them.
type CatalogService struct {
	DB *gorm.DB
}

// Create adds a product. MaxDiscount may not exceed ListPrice, so the floor
// never goes negative.
func (s *CatalogService) Create(ctx context.Context, name, description string, listPrice, maxDiscount float64) (*domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("product name required")
	}
	if listPrice < 0 || maxDiscount < 0 || maxDiscount > listPrice {
		return nil, ErrInvalidPrice
	}
	return repo.CreateProduct(ctx, s.DB, name, description, listPrice, maxDiscount)
}

// Get returns one product by id.
func (s *CatalogService) Get(ctx context.Context, id string) (*domain.Product, error) {
	p, err := repo.GetProduct(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

// List returns the full catalog.
func (s *CatalogService) List(ctx context.Context) ([]domain.Product, error) {
	return repo.ListProducts(ctx, s.DB)
}
