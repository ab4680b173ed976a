// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Product
// model. The negotiation core only ever reads products; writes exist for
// seeding and for the (external) store CRUD surface.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
)

// CreateProduct inserts a catalog entry. Prices are normalized to cents.
func CreateProduct(ctx context.Context, db *gorm.DB, name, description string, listPrice, maxDiscount float64) (*domain.Product, error) {
	p := &domain.Product{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		ListPrice:   domain.Round2(listPrice),
		MaxDiscount: domain.Round2(maxDiscount),
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetProduct fetches a product by ID, or ErrNotFound if missing.
func GetProduct(ctx context.Context, db *gorm.DB, id string) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns all catalog entries ordered by name.
func ListProducts(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var out []domain.Product
	err := db.WithContext(ctx).Order("name ASC").Find(&out).Error
	return out, err
}
