// Negotiation HTTP handlers.
//
// This file exposes REST endpoints for price-negotiation sessions:
//   - POST /negotiations                 (find-or-create the active session for a product)
//   - POST /negotiations/{id}/messages   (send a customer message, receive the assistant turn)
//   - GET  /negotiations/{id}/messages   (customer-facing transcript)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// turn exists for (customer, session, key), the handler returns that recorded
// assistant reply and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
	"github.com/tbourn/go-negotiation-backend/internal/repo"
	"github.com/tbourn/go-negotiation-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// NegotiationService defines the customer-side negotiation operations
// consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type NegotiationService interface {
	// StartOrResume returns the active session for (customer, product),
	// creating one at the list price when none exists.
	StartOrResume(ctx context.Context, customerID, productID string) (*services.StartResult, error)
	// SendCustomerMessage runs one turn and returns the assistant reply
	// (nil after human handoff) and the post-turn price.
	SendCustomerMessage(ctx context.Context, customerID, sessionID, text string) (*services.TurnResult, error)
	// FetchTranscript returns the customer-facing transcript with the
	// reconciled current price.
	FetchTranscript(ctx context.Context, customerID, sessionID string) (*services.Transcript, error)
}

// AdminService defines the back-office operations consumed by HTTP handlers.
type AdminService interface {
	ListSessions(ctx context.Context, state string) ([]domain.NegotiationSession, error)
	Stats(ctx context.Context) (repo.SessionStats, error)
	SessionTranscript(ctx context.Context, sessionID string) (*domain.NegotiationSession, []services.AdminTranscriptEntry, error)
	Terminate(ctx context.Context, sessionID string) error
	OverridePrice(ctx context.Context, sessionID, raw string) (float64, error)
	SendMessage(ctx context.Context, sessionID, text string) (*domain.Message, error)
}

// CatalogService defines read access to the product catalog.
type CatalogService interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for negotiations, the admin console, and the
// catalog. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	negSvc   NegotiationService
	adminSvc AdminService
	catSvc   CatalogService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(negSvc NegotiationService, adminSvc AdminService, catSvc CatalogService) *Handlers {
	return &Handlers{negSvc: negSvc, adminSvc: adminSvc, catSvc: catSvc}
}

// userID extracts the authenticated customer id from Gin context (set by
// upstream middleware). If absent, it falls back to "X-User-ID" header (tests
// use it), and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// StartNegotiationRequest is the JSON payload for opening a negotiation.
type StartNegotiationRequest struct {
	// ProductID identifies the catalog entry to negotiate over.
	ProductID string `json:"product_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// StartNegotiationResponse is the JSON envelope for an opened (or resumed)
// negotiation session.
type StartNegotiationResponse struct {
	SessionID string `json:"session_id"`
	// Greeting is present only when a new session was created.
	Greeting     string  `json:"greeting,omitempty"`
	CurrentPrice float64 `json:"current_price"`
	Resumed      bool    `json:"resumed"`
}

// PostTurnRequest is the JSON payload for sending a customer message.
type PostTurnRequest struct {
	// Content is the customer message. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"Can I get a discount?"`
}

// TurnResponse is the JSON envelope for one negotiation turn. Reply is null
// once a human agent has taken over the session.
type TurnResponse struct {
	Reply        *string `json:"reply"`
	CurrentPrice float64 `json:"current_price"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxMessageRunes inspects the concrete NegotiationService for a
// configured message-length limit. If unavailable, it returns a conservative
// fallback.
func discoverMaxMessageRunes(negSvc NegotiationService) int {
	const fallback = 4000
	if ns, ok := negSvc.(*services.NegotiationService); ok {
		if ns.MaxMessageRunes > 0 {
			return ns.MaxMessageRunes
		}
	}
	return fallback
}

// failTurnError maps service-layer sentinel errors from the customer path to
// HTTP responses.
func failTurnError(c *gin.Context, err error, maxRunes int) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case errors.Is(err, services.ErrProductNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "product not found")
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed")
	case errors.Is(err, services.ErrSessionClosed):
		fail(c, http.StatusConflict, ErrCodeChatEnded, "chat has ended")
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
	default:
		fail(c, http.StatusInternalServerError, ErrCodeTurnFailed, err.Error())
	}
}

//
// Handlers
//

// StartNegotiation godoc
// @ID          startNegotiation
// @Summary     Open or resume a negotiation
// @Description Returns the active negotiation session for (customer, product), creating one at the list price when none exists.
// @Tags        Negotiations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "Customer ID (demo header)"  example(user123)
// @Param       body       body    handlers.StartNegotiationRequest  true  "Open negotiation payload"
//
// @Success     201  {object}  handlers.StartNegotiationResponse  "New session"
// @Success     200  {object}  handlers.StartNegotiationResponse  "Resumed session"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Product not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /negotiations [post]
func (h *Handlers) StartNegotiation(c *gin.Context) {
	var req StartNegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ProductID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "product_id required")
		return
	}

	res, err := h.negSvc.StartOrResume(c.Request.Context(), userID(c), strings.TrimSpace(req.ProductID))
	if err != nil {
		if errors.Is(err, services.ErrProductNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "product not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}

	resumed := res.Greeting == ""
	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	ok(c, status, StartNegotiationResponse{
		SessionID:    res.Session.ID,
		Greeting:     res.Greeting,
		CurrentPrice: res.CurrentPrice,
		Resumed:      resumed,
	})
}

// PostTurn godoc
// @ID          postTurn
// @Summary     Send a message in a negotiation
// @Description Appends a customer message and runs one automated turn. The reply is null once a human agent has taken over.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Negotiations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Customer ID that owns the session"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostTurnRequest  true  "Customer message payload"
//
// @Success     200  {object}  handlers.TurnResponse   "Turn result"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Session owned by another customer"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Chat has ended"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /negotiations/{id}/messages [post]
func (h *Handlers) PostTurn(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	var req PostTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	content := sanitizeContent(req.Content)
	maxRunes := discoverMaxMessageRunes(h.negSvc)
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idemKey != "" {
		if svc, okSvc := h.negSvc.(*services.NegotiationService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, sessionID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				prev, err2 := repo.GetMessage(ctx, svc.DB, rec.MessageID)
				sess, err3 := repo.GetSession(ctx, svc.DB, sessionID)
				if err2 == nil && err3 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, TurnResponse{Reply: &prev.Content, CurrentPrice: sess.CurrentPrice})
					return
				}
			}
		}
	}

	turn, err := h.negSvc.SendCustomerMessage(ctx, currentUser, sessionID, content)
	if err != nil {
		failTurnError(c, err, maxRunes)
		return
	}

	// Idempotency (store path) – best effort, only when automation replied.
	if idemKey != "" && turn.Reply != nil {
		if svc, okSvc := h.negSvc.(*services.NegotiationService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			if msgs, lerr := repo.ListMessages(ctx, svc.DB, sessionID); lerr == nil && len(msgs) > 0 {
				last := msgs[len(msgs)-1]
				_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, sessionID, idemKey, last.ID, http.StatusOK, ttl)
			}
		}
	}

	ok(c, http.StatusOK, TurnResponse{Reply: turn.Reply, CurrentPrice: turn.CurrentPrice})
}

// GetTranscript godoc
// @ID          getTranscript
// @Summary     Fetch the negotiation transcript
// @Description Returns the customer-facing transcript and the current price. Admin messages appear in the assistant voice.
// @Tags        Negotiations
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Customer ID that owns the session"  example(user123)
// @Param       id         path    string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.Transcript
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Session owned by another customer"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /negotiations/{id}/messages [get]
func (h *Handlers) GetTranscript(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	tr, err := h.negSvc.FetchTranscript(c.Request.Context(), userID(c), sessionID)
	if err != nil {
		failTurnError(c, err, 0)
		return
	}
	ok(c, http.StatusOK, tr)
}
