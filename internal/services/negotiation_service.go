// Package services – NegotiationService
//
// This file implements the per-session negotiation state machine. It owns a
// session's current price, floor, and handoff flag; classifies each inbound
// customer message; drives the provider gateway to produce a counteroffer;
// clamps whatever price the model proposed; and decides terminal conditions.
//
// Concurrency: customer turns for one session are serialized by a per-session
// mutex held for the whole turn. Admin actions do not take the turn lock;
// they commit atomically and flip handed_to_human, and the automated path
// re-checks that flag when committing its own price write (compare-and-
// commit), discarding the automated update if a handoff landed during the
// gateway call.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// session/customer identifiers.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
	"github.com/tbourn/go-negotiation-backend/internal/negotiation"
	"github.com/tbourn/go-negotiation-backend/internal/provider"
	"github.com/tbourn/go-negotiation-backend/internal/repo"
)

var turnsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "negotiation_turns_total",
		Help: "Customer turns by branch taken.",
	},
	[]string{"branch"},
)

func init() {
	prometheus.MustRegister(turnsTotal)
}

// CompletionGateway is the provider-gateway contract consumed by the state
// machine. The concrete implementation lives in internal/provider.
type CompletionGateway interface {
	Complete(ctx context.Context, name, prompt string, opts provider.Options) (string, error)
}

// TurnResult is what a customer-facing turn returns: the assistant reply (nil
// once a human has taken over) and the price after the turn.
type TurnResult struct {
	Reply        *string `json:"reply"`
	CurrentPrice float64 `json:"current_price"`
}

// StartResult is returned by StartOrResume.
type StartResult struct {
	Session      *domain.NegotiationSession `json:"session"`
	Greeting     string                     `json:"greeting"`
	CurrentPrice float64                    `json:"current_price"`
}

// TranscriptEntry is one customer-visible transcript line. Admin entries are
// relabeled as assistant so takeover is not revealed through roles alone.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript is the customer-facing view of a session's ledger.
type Transcript struct {
	Messages     []TranscriptEntry `json:"messages"`
	CurrentPrice float64           `json:"current_price"`
}

// NegotiationService coordinates negotiation turns over the ledger, the
// catalog, and the provider gateway.
type NegotiationService struct {
	DB      *gorm.DB
	Gateway CompletionGateway
	Locks   *SessionLocks

	// ProviderName selects the primary model backend per process config.
	ProviderName string
	// Temperature and MaxTokens bound every completion request.
	Temperature float64
	MaxTokens   int

	// MaxMessageRunes caps inbound customer messages by rune length.
	MaxMessageRunes int
}

// StartOrResume finds the active session for (customerID, productID) or
// creates one starting at the product's list price with a generated greeting.
// Exactly one active session exists per pair; the greeting is generated only
// on creation.
func (s *NegotiationService) StartOrResume(ctx context.Context, customerID, productID string) (*StartResult, error) {
	tr := otel.Tracer("services/NegotiationService")
	ctx, span := tr.Start(ctx, "StartOrResume",
		trace.WithAttributes(
			attribute.String("customer.id", customerID),
			attribute.String("product.id", productID),
		),
	)
	defer span.End()

	product, err := repo.GetProduct(ctx, s.DB, productID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	if sess, err := repo.FindActiveSession(ctx, s.DB, customerID, productID); err == nil {
		return &StartResult{Session: sess, CurrentPrice: sess.CurrentPrice}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	greeting := negotiation.Greeting(product)
	var sess *domain.NegotiationSession
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := repo.CreateSession(ctx, tx, customerID, productID, product.ListPrice)
		if err != nil {
			return err
		}
		if _, err := repo.AppendMessage(ctx, tx, created.ID, domain.RoleAssistant, greeting); err != nil {
			return err
		}
		sess = created
		return nil
	})
	if err != nil {
		// A concurrent StartOrResume for the same pair may have won the
		// unique index; surface that session instead.
		if existing, ferr := repo.FindActiveSession(ctx, s.DB, customerID, productID); ferr == nil {
			return &StartResult{Session: existing, CurrentPrice: existing.CurrentPrice}, nil
		}
		return nil, err
	}
	return &StartResult{Session: sess, Greeting: greeting, CurrentPrice: sess.CurrentPrice}, nil
}

// SendCustomerMessage runs one turn of the state machine for an inbound
// customer message and returns the assistant reply (nil after handoff) and
// the post-turn price.
func (s *NegotiationService) SendCustomerMessage(ctx context.Context, customerID, sessionID, text string) (*TurnResult, error) {
	tr := otel.Tracer("services/NegotiationService")
	ctx, span := tr.Start(ctx, "SendCustomerMessage",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("customer.id", customerID),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > s.MaxMessageRunes {
		return nil, ErrTooLong
	}

	// Serialize turns within the session for the full read-classify-complete-
	// commit cycle. Admin actions commit independently; the compare-and-commit
	// below catches them.
	lock := s.Locks.Get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.CustomerID != customerID {
		return nil, ErrForbidden
	}
	if !sess.Active {
		return nil, ErrSessionClosed
	}

	product, err := repo.GetProduct(ctx, s.DB, sess.ProductID)
	if err != nil {
		return nil, err
	}
	floor := product.FloorPrice()

	// Human has taken over: the ledger keeps growing, but automation must
	// never speak or move the price again for this session.
	if sess.HandedToHuman {
		if _, err := repo.AppendMessage(ctx, s.DB, sessionID, domain.RoleCustomer, text); err != nil {
			return nil, err
		}
		turnsTotal.WithLabelValues("human").Inc()
		return &TurnResult{Reply: nil, CurrentPrice: sess.CurrentPrice}, nil
	}

	// Floor reached: fixed reply, price pinned, no gateway call. The session
	// stays active so the customer can keep chatting or add to cart.
	if sess.CurrentPrice <= floor {
		msg := negotiation.FloorMessage(product, floor)
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := repo.AppendMessage(ctx, tx, sessionID, domain.RoleCustomer, text); err != nil {
				return err
			}
			if _, err := repo.AppendMessage(ctx, tx, sessionID, domain.RoleAssistant, msg); err != nil {
				return err
			}
			return repo.UpdateSessionPrice(ctx, tx, sessionID, floor)
		})
		if err != nil {
			return nil, err
		}
		turnsTotal.WithLabelValues("floor").Inc()
		return &TurnResult{Reply: &msg, CurrentPrice: floor}, nil
	}

	discount := negotiation.IsDiscountRequest(text)

	// The ledger is read before the customer row exists; BuildPrompt carries
	// the new text separately. The append itself is deferred into the commit
	// transaction below so a failed turn leaves no half-written exchange, and
	// a client retry after a 500 cannot double-append the message.
	ledger, err := repo.ListMessages(ctx, s.DB, sessionID)
	if err != nil {
		return nil, err
	}
	prompt := negotiation.BuildPrompt(product, sess.CurrentPrice, floor, ledger, text, discount)

	reply, err := s.Gateway.Complete(ctx, s.ProviderName, prompt, provider.Options{
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	})
	if err != nil {
		// Degrade to the canned apology: the negotiation is never left
		// without a reply, the price is untouched, the session stays active.
		span.RecordError(err)
		reply = negotiation.Apology
		discount = false
	}

	newPrice := sess.CurrentPrice
	if discount {
		if amount, ok := negotiation.ScanAmount(reply); ok {
			newPrice = negotiation.ClampPrice(amount, floor, sess.CurrentPrice)
		}
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.AppendMessage(ctx, tx, sessionID, domain.RoleCustomer, text); err != nil {
			return err
		}
		if _, err := repo.AppendMessage(ctx, tx, sessionID, domain.RoleAssistant, reply); err != nil {
			return err
		}
		if newPrice != sess.CurrentPrice {
			// Compare-and-commit: if an admin handed the session to a human
			// while the gateway call was in flight, the automated price write
			// loses and is discarded.
			if _, err := repo.CommitAutomatedPrice(ctx, tx, sessionID, newPrice); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Report the committed state, which may be the admin's, not ours.
	fresh, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return nil, err
	}
	if discount {
		turnsTotal.WithLabelValues("negotiation").Inc()
	} else {
		turnsTotal.WithLabelValues("information").Inc()
	}
	return &TurnResult{Reply: &reply, CurrentPrice: fresh.CurrentPrice}, nil
}

// FetchTranscript returns the customer-facing transcript: admin entries are
// relabeled as assistant and a read-time reconciliation applies the last
// admin-quoted price. The reconciliation is idempotent — refetching with no
// new admin messages never moves the price again.
func (s *NegotiationService) FetchTranscript(ctx context.Context, customerID, sessionID string) (*Transcript, error) {
	tr := otel.Tracer("services/NegotiationService")
	ctx, span := tr.Start(ctx, "FetchTranscript",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	lock := s.Locks.Get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.CustomerID != customerID {
		return nil, ErrForbidden
	}

	msgs, err := repo.ListMessages(ctx, s.DB, sessionID)
	if err != nil {
		return nil, err
	}

	// Reconciliation: any admin message embedding a currency amount sets the
	// price retroactively. The last such message in ledger order wins; within
	// one message the first amount is the quoted price.
	price := sess.CurrentPrice
	overridden := false
	for _, m := range msgs {
		if m.Role != domain.RoleAdmin {
			continue
		}
		if amount, ok := negotiation.ScanAmount(m.Content); ok {
			price = domain.Round2(amount)
			overridden = true
		}
	}
	if overridden && price != sess.CurrentPrice {
		if err := repo.UpdateSessionPrice(ctx, s.DB, sessionID, price); err != nil {
			return nil, err
		}
	}

	out := make([]TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role == domain.RoleSystem {
			continue
		}
		if role == domain.RoleAdmin {
			role = domain.RoleAssistant
		}
		out = append(out, TranscriptEntry{Role: role, Content: m.Content})
	}
	return &Transcript{Messages: out, CurrentPrice: price}, nil
}
