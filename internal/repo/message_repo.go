// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model — the append-only per-session ledger.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
)

// AppendMessage inserts a ledger row with the next per-session sequence
// number. The ledger exposes no update or delete operation; Seq is assigned
// from MAX(seq)+1 inside the INSERT itself, so concurrent writers (a customer
// turn and an admin message) cannot race each other to the same slot.
func AppendMessage(ctx context.Context, db *gorm.DB, sessionID, role, content string) (*domain.Message, error) {
	id := uuid.NewString()
	err := db.WithContext(ctx).Exec(
		`INSERT INTO messages (id, session_id, role, content, seq, created_at)
		 SELECT ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?
		 FROM messages WHERE session_id = ? AND deleted_at IS NULL`,
		id, sessionID, role, content, time.Now().UTC(), sessionID,
	).Error
	if err != nil {
		return nil, err
	}
	return GetMessage(ctx, db, id)
}

// ListMessages returns the full ledger for a session, oldest first. Ordering
// is (created_at, seq) so timestamp ties are broken by insertion order.
func ListMessages(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, seq ASC").
		Find(&out).Error
	return out, err
}

// ListMessagesPage returns a paginated slice of the ledger, oldest first.
func ListMessagesPage(ctx context.Context, db *gorm.DB, sessionID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).
		Scan(&total).Error
	return total, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
