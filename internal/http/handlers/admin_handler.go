// Admin console HTTP handlers.
//
// This file exposes the back-office endpoints operators use to monitor and
// take over negotiations:
//   - GET  /admin/sessions                  (list by state: ai|human|ended)
//   - GET  /admin/sessions/stats            (counts per state)
//   - GET  /admin/sessions/{id}/messages    (full transcript, real roles)
//   - POST /admin/sessions/{id}/terminate   (end the chat)
//   - PUT  /admin/sessions/{id}/price       (override the price, no clamp)
//   - POST /admin/sessions/{id}/messages    (speak as the seller)
//
// Every mutating endpoint hands the session to human control; automation
// stays silent for that session from then on. Routes are gated by the
// X-Admin-Token middleware upstream.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-negotiation-backend/internal/domain"
	"github.com/tbourn/go-negotiation-backend/internal/services"
	"github.com/tbourn/go-negotiation-backend/internal/utils"
)

//
// DTOs
//

// OverridePriceRequest is the JSON payload for an admin price override. The
// price travels as a string so "25", "25.00" and "$25" are all accepted, and
// garbage is rejected without mutating the session.
type OverridePriceRequest struct {
	Price string `json:"price" binding:"required" example:"25.00"`
}

// OverridePriceResponse echoes the applied price.
type OverridePriceResponse struct {
	CurrentPrice float64 `json:"current_price"`
}

// AdminSendMessageRequest is the JSON payload for speaking as the seller.
type AdminSendMessageRequest struct {
	Content string `json:"content" binding:"required,min=1" example:"Use code SAVE5 for $9.99 at checkout"`
}

// AdminSessionsResponse wraps a state-filtered session listing. Total counts
// all matching rows; Sessions carries the requested page.
type AdminSessionsResponse struct {
	Sessions []domain.NegotiationSession `json:"sessions"`
	Total    int                         `json:"total"`
}

// AdminTranscriptResponse is the unredacted transcript plus the session row.
type AdminTranscriptResponse struct {
	Session  *domain.NegotiationSession      `json:"session"`
	Messages []services.AdminTranscriptEntry `json:"messages"`
}

// failAdminError maps admin-path service errors to HTTP responses.
func failAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case errors.Is(err, services.ErrSessionClosed):
		fail(c, http.StatusConflict, ErrCodeChatEnded, "chat has ended")
	case errors.Is(err, services.ErrInvalidPrice):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "price must be a non-negative decimal")
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
	case errors.Is(err, services.ErrInvalidState):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "state must be one of: ai, human, ended")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// adminSessionID validates the :id path param and reports whether the caller
// may proceed.
func adminSessionID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// AdminListSessions godoc
// @ID          adminListSessions
// @Summary     List negotiation sessions
// @Description Lists sessions filtered by state (ai, human, ended). Omit the filter to list everything.
// @Tags        Admin
// @Produce     json
//
// @Param       X-Admin-Token  header  string  true  "Admin shared secret"
// @Param       state          query   string  false "State filter"  Enums(ai, human, ended)
// @Param       limit          query   int     false "Page size (default 50, max 200)"
// @Param       offset         query   int     false "Rows to skip (default 0)"
//
// @Success     200  {object}  handlers.AdminSessionsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown state filter"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or wrong admin token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/sessions [get]
func (h *Handlers) AdminListSessions(c *gin.Context) {
	state := strings.TrimSpace(c.Query("state"))
	sessions, err := h.adminSvc.ListSessions(c.Request.Context(), state)
	if err != nil {
		failAdminError(c, err)
		return
	}

	limit := utils.AtoiDefault(c.Query("limit"), 50)
	offset := utils.AtoiDefault(c.Query("offset"), 0)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	total := len(sessions)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	ok(c, http.StatusOK, AdminSessionsResponse{Sessions: sessions[offset:end], Total: total})
}

// AdminStats godoc
// @ID          adminStats
// @Summary     Session counts per state
// @Tags        Admin
// @Produce     json
//
// @Param       X-Admin-Token  header  string  true  "Admin shared secret"
//
// @Success     200  {object}  repo.SessionStats
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or wrong admin token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/sessions/stats [get]
func (h *Handlers) AdminStats(c *gin.Context) {
	stats, err := h.adminSvc.Stats(c.Request.Context())
	if err != nil {
		failAdminError(c, err)
		return
	}
	ok(c, http.StatusOK, stats)
}

// AdminGetTranscript godoc
// @ID          adminGetTranscript
// @Summary     Full session transcript
// @Description Returns the complete ledger with real roles (customer, assistant, admin, system) plus the session row.
// @Tags        Admin
// @Produce     json
//
// @Param       X-Admin-Token  header  string  true  "Admin shared secret"
// @Param       id             path    string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.AdminTranscriptResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or wrong admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /admin/sessions/{id}/messages [get]
func (h *Handlers) AdminGetTranscript(c *gin.Context) {
	id, proceed := adminSessionID(c)
	if !proceed {
		return
	}
	sess, msgs, err := h.adminSvc.SessionTranscript(c.Request.Context(), id)
	if err != nil {
		failAdminError(c, err)
		return
	}
	ok(c, http.StatusOK, AdminTranscriptResponse{Session: sess, Messages: msgs})
}

// AdminTerminate godoc
// @ID          adminTerminate
// @Summary     Terminate a negotiation
// @Description Ends the chat and records a system notice. Terminating an ended chat returns 409.
// @Tags        Admin
// @Produce     json
//
// @Param       X-Admin-Token  header  string  true  "Admin shared secret"
// @Param       id             path    string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or wrong admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Chat already ended"
// @Router      /admin/sessions/{id}/terminate [post]
func (h *Handlers) AdminTerminate(c *gin.Context) {
	id, proceed := adminSessionID(c)
	if !proceed {
		return
	}
	if err := h.adminSvc.Terminate(c.Request.Context(), id); err != nil {
		failAdminError(c, err)
		return
	}
	noContent(c)
}

// AdminOverridePrice godoc
// @ID          adminOverridePrice
// @Summary     Override the session price
// @Description Sets the price to an operator-chosen value (the floor does not bind) and hands the session to human control.
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       X-Admin-Token  header  string  true  "Admin shared secret"
// @Param       id             path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       body           body    handlers.OverridePriceRequest  true  "New price"
//
// @Success     200  {object}  handlers.OverridePriceResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unparseable price"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or wrong admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /admin/sessions/{id}/price [put]
func (h *Handlers) AdminOverridePrice(c *gin.Context) {
	id, proceed := adminSessionID(c)
	if !proceed {
		return
	}
	var req OverridePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "price required")
		return
	}
	price, err := h.adminSvc.OverridePrice(c.Request.Context(), id, req.Price)
	if err != nil {
		failAdminError(c, err)
		return
	}
	ok(c, http.StatusOK, OverridePriceResponse{CurrentPrice: price})
}

// AdminSendMessage godoc
// @ID          adminSendMessage
// @Summary     Send a message as the seller
// @Description Appends an admin message to the ledger and hands the session to human control. The customer sees it in the assistant voice.
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       X-Admin-Token  header  string  true  "Admin shared secret"
// @Param       id             path    string  true  "Session ID (UUID)"  format(uuid)
// @Param       body           body    handlers.AdminSendMessageRequest  true  "Message payload"
//
// @Success     201  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or wrong admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /admin/sessions/{id}/messages [post]
func (h *Handlers) AdminSendMessage(c *gin.Context) {
	id, proceed := adminSessionID(c)
	if !proceed {
		return
	}
	var req AdminSendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	msg, err := h.adminSvc.SendMessage(c.Request.Context(), id, sanitizeContent(req.Content))
	if err != nil {
		failAdminError(c, err)
		return
	}
	ok(c, http.StatusCreated, msg)
}
