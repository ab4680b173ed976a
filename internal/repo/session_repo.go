// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// NegotiationSession model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The find-or-create rule, price clamps,
// and handoff semantics live in the service layer.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
)

// CreateSession inserts a new session for (customerID, productID) starting at
// the given price. The session ID is a randomly generated UUID.
func CreateSession(ctx context.Context, db *gorm.DB, customerID, productID string, startPrice float64) (*domain.NegotiationSession, error) {
	s := &domain.NegotiationSession{
		ID:           uuid.NewString(),
		CustomerID:   customerID,
		ProductID:    productID,
		CurrentPrice: domain.Round2(startPrice),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession fetches a session by ID, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.NegotiationSession, error) {
	var s domain.NegotiationSession
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// FindActiveSession returns the single active session for a (customer,
// product) pair, or ErrNotFound when no negotiation is in progress.
func FindActiveSession(ctx context.Context, db *gorm.DB, customerID, productID string) (*domain.NegotiationSession, error) {
	var s domain.NegotiationSession
	err := db.WithContext(ctx).
		Where("customer_id = ? AND product_id = ? AND active = ?", customerID, productID, true).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSessionPrice sets current_price on a session. Rounding to cents is
// applied here so every persisted price is a valid currency amount.
func UpdateSessionPrice(ctx context.Context, db *gorm.DB, id string, price float64) error {
	res := db.WithContext(ctx).
		Model(&domain.NegotiationSession{}).
		Where("id = ?", id).
		Update("current_price", domain.Round2(price))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// HandoffSession atomically writes the handed_to_human flag together with an
// optional price override. Passing a nil price leaves current_price untouched
// (free-form admin message); a non-nil price is written verbatim apart from
// cent rounding, with no floor or monotonicity check.
func HandoffSession(ctx context.Context, db *gorm.DB, id string, price *float64) error {
	updates := map[string]any{"handed_to_human": true}
	if price != nil {
		updates["current_price"] = domain.Round2(*price)
	}
	res := db.WithContext(ctx).
		Model(&domain.NegotiationSession{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CloseSession terminates a session: active=false and handed_to_human=true in
// one write. Closing an already-closed session affects zero rows and reports
// ErrNotFound so the caller can distinguish the terminal state.
func CloseSession(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.NegotiationSession{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{"active": false, "handed_to_human": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CommitAutomatedPrice writes a price produced by an automated turn, but only
// if the session is still under automated control. When an admin action landed
// while the provider call was in flight (handed_to_human flipped), zero rows
// match and the automated write is discarded. The boolean reports whether the
// write was applied.
func CommitAutomatedPrice(ctx context.Context, db *gorm.DB, id string, price float64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.NegotiationSession{}).
		Where("id = ? AND handed_to_human = ?", id, false).
		Update("current_price", domain.Round2(price))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
