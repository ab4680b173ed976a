// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries for the admin
// dashboard: how many sessions sit in each negotiation state, and which
// sessions an operator can take over or review.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
)

// SessionState buckets for operator dashboards.
const (
	SessionStateAutomated = "ai"    // active, assistant negotiating
	SessionStateHuman     = "human" // active, handed to a human
	SessionStateEnded     = "ended" // terminated
)

// SessionStats summarizes sessions per state.
type SessionStats struct {
	Automated int64 `json:"automated"`
	Human     int64 `json:"human"`
	Ended     int64 `json:"ended"`
}

// CountSessionStates tallies sessions per negotiation state across the store.
func CountSessionStates(ctx context.Context, db *gorm.DB) (SessionStats, error) {
	var out SessionStats
	q := db.WithContext(ctx).Model(&domain.NegotiationSession{})

	if err := q.Session(&gorm.Session{}).
		Where("active = ? AND handed_to_human = ?", true, false).
		Count(&out.Automated).Error; err != nil {
		return out, err
	}
	if err := q.Session(&gorm.Session{}).
		Where("active = ? AND handed_to_human = ?", true, true).
		Count(&out.Human).Error; err != nil {
		return out, err
	}
	err := q.Session(&gorm.Session{}).
		Where("active = ?", false).
		Count(&out.Ended).Error
	return out, err
}

// ListSessionsByState returns sessions in one dashboard bucket, most recent
// first. An empty state returns every session.
func ListSessionsByState(ctx context.Context, db *gorm.DB, state string) ([]domain.NegotiationSession, error) {
	q := db.WithContext(ctx).Model(&domain.NegotiationSession{})
	switch state {
	case SessionStateAutomated:
		q = q.Where("active = ? AND handed_to_human = ?", true, false)
	case SessionStateHuman:
		q = q.Where("active = ? AND handed_to_human = ?", true, true)
	case SessionStateEnded:
		q = q.Where("active = ?", false)
	case "":
	default:
		return nil, gorm.ErrInvalidValue
	}

	var out []domain.NegotiationSession
	err := q.Order("created_at DESC").Find(&out).Error
	return out, err
}
