package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
	"github.com/tbourn/go-negotiation-backend/internal/repo"
)

// TerminationNotice is appended to the ledger when an admin ends a session.
const TerminationNotice = "Chat terminated by an administrator. Thank you for shopping with us."

// AdminTranscriptEntry is one line of the unredacted admin transcript. Unlike
// the customer view, admin and system entries keep their real roles.
type AdminTranscriptEntry struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Seq       int64  `json:"seq"`
	CreatedAt string `json:"created_at"`
}

// AdminService is the back-office channel: listing and inspecting sessions,
// overriding prices, speaking as the seller, and terminating chats. Every
// write flips the session to human control so automation stands down.
type AdminService struct {
	DB *gorm.DB
}

// ListSessions returns sessions in the given state ("ai", "human" or
// "ended"). An empty state returns every session.
func (s *AdminService) ListSessions(ctx context.Context, state string) ([]domain.NegotiationSession, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "ListSessions",
		trace.WithAttributes(attribute.String("session.state", state)),
	)
	defer span.End()

	out, err := repo.ListSessionsByState(ctx, s.DB, state)
	if err != nil {
		if errors.Is(err, gorm.ErrInvalidValue) {
			return nil, ErrInvalidState
		}
		return nil, err
	}
	return out, nil
}

// Stats returns session counts bucketed by state.
func (s *AdminService) Stats(ctx context.Context) (repo.SessionStats, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "Stats")
	defer span.End()

	return repo.CountSessionStates(ctx, s.DB)
}

// SessionTranscript returns the full ledger with real roles, plus the session
// row itself so the console can show price and state alongside the chat.
func (s *AdminService) SessionTranscript(ctx context.Context, sessionID string) (*domain.NegotiationSession, []AdminTranscriptEntry, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "SessionTranscript",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}
	msgs, err := repo.ListMessages(ctx, s.DB, sessionID)
	if err != nil {
		return nil, nil, err
	}
	out := make([]AdminTranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, AdminTranscriptEntry{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Seq:       m.Seq,
			CreatedAt: m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return sess, out, nil
}

// Terminate closes a session and records a system notice in the ledger.
// Closing an already ended session returns ErrSessionClosed.
func (s *AdminService) Terminate(ctx context.Context, sessionID string) error {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "Terminate",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CloseSession(ctx, tx, sessionID); err != nil {
			return err
		}
		_, err := repo.AppendMessage(ctx, tx, sessionID, domain.RoleSystem, TerminationNotice)
		return err
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if _, gerr := repo.GetSession(ctx, s.DB, sessionID); gerr == nil {
				return ErrSessionClosed
			}
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// ParsePrice parses an admin-entered price string. Leading whitespace and a
// currency sign are tolerated; the value must be a non-negative decimal.
func ParsePrice(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "$")
	raw = strings.ReplaceAll(raw, ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, ErrInvalidPrice
	}
	return domain.Round2(v), nil
}

// OverridePrice sets the session price to an admin-chosen value, bypassing
// the floor, and hands the session to human control in the same write. An
// unparseable price mutates nothing.
func (s *AdminService) OverridePrice(ctx context.Context, sessionID, raw string) (float64, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "OverridePrice",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	price, err := ParsePrice(raw)
	if err != nil {
		return 0, err
	}
	if err := repo.HandoffSession(ctx, s.DB, sessionID, &price); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, ErrSessionNotFound
		}
		return 0, err
	}
	return price, nil
}

// SendMessage appends an admin message to the ledger and hands the session to
// human control. If the message quotes a price, the customer transcript's
// read-time reconciliation will pick it up.
func (s *AdminService) SendMessage(ctx context.Context, sessionID, text string) (*domain.Message, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "SendMessage",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.HandoffSession(ctx, tx, sessionID, nil); err != nil {
			return err
		}
		m, err := repo.AppendMessage(ctx, tx, sessionID, domain.RoleAdmin, text)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return msg, nil
}
