// Subscription HTTP handlers:
//   - GET  /contests     (bearer)
//   - PUT  /contests     (bearer)
//   - POST /subscribe
//   - GET  /unsubscribe  (one-click link from reminder emails)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContestsResponse lists a principal's contests.
type ContestsResponse struct {
	Contests []string `json:"contests"`
}

// UpdateContestsRequest replaces the caller's contest set. An empty list
// clears it; a missing field is rejected.
type UpdateContestsRequest struct {
	Contests *[]string `json:"contests"`
}

// SubscribeRequest is the JSON payload for POST /subscribe.
type SubscribeRequest struct {
	Email       string `json:"email" binding:"required,email" example:"ada@example.com"`
	ContestName string `json:"contestName" binding:"required" example:"leetcode-weekly"`
}

// GetContests godoc
// @ID          getContests
// @Summary     List my contests
// @Tags        Subscriptions
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.ContestsResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /contests [get]
func (h *Handlers) GetContests(c *gin.Context) {
	cs, err := h.subs.Contests(c.Request.Context(), principalID(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ContestsResponse{Contests: cs})
}

// PutContests godoc
// @ID          putContests
// @Summary     Replace my contests
// @Description All-or-nothing: any unknown contest name rejects the whole update.
// @Tags        Subscriptions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.UpdateContestsRequest  true  "New contest set"
// @Success     200   {object}  handlers.MessageResponse
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     401   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /contests [put]
func (h *Handlers) PutContests(c *gin.Context) {
	var req UpdateContestsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Contests == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "contests must be a list")
		return
	}
	if err := h.subs.SetSubscriptions(c.Request.Context(), principalID(c), *req.Contests); err != nil {
		failService(c, err)
		return
	}
	message(c, http.StatusOK, "Contests updated successfully")
}

// Subscribe godoc
// @ID          subscribe
// @Summary     Subscribe an email to a contest
// @Tags        Subscriptions
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.SubscribeRequest  true  "Subscription"
// @Success     200   {object}  handlers.MessageResponse
// @Failure     400   {object}  handlers.ErrorResponse  "contest_not_found or already_subscribed"
// @Router      /subscribe [post]
func (h *Handlers) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and contestName are required")
		return
	}
	if err := h.subs.Subscribe(c.Request.Context(), req.Email, req.ContestName); err != nil {
		failService(c, err)
		return
	}
	message(c, http.StatusOK, "Subscription successful")
}

// Unsubscribe godoc
// @ID          unsubscribe
// @Summary     Unsubscribe an email from a contest
// @Description Idempotent: succeeds whether or not the subscription existed.
// @Tags        Subscriptions
// @Produce     json
// @Param       email        query  string  true  "Subscriber email"
// @Param       contestName  query  string  true  "Contest name"
// @Success     200  {object}  handlers.MessageResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /unsubscribe [get]
func (h *Handlers) Unsubscribe(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	contest := strings.TrimSpace(c.Query("contestName"))
	if email == "" || contest == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and contestName are required")
		return
	}
	if err := h.subs.Unsubscribe(c.Request.Context(), email, contest); err != nil {
		failService(c, err)
		return
	}
	message(c, http.StatusOK, "Unsubscribed successfully")
}
