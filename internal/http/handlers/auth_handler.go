// Account HTTP handlers:
//   - POST /register
//   - POST /signin
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/contest-notifier/internal/services"
)

// RegisterRequest is the JSON payload for POST /register.
type RegisterRequest struct {
	Name     string   `json:"name" example:"Ada Lovelace"`
	Email    string   `json:"email" binding:"required,email" example:"ada@example.com"`
	Phone    string   `json:"phone" example:"+919876543210"`
	Password string   `json:"password" binding:"required,min=1,max=72" example:"s3cret"`
	Contests []string `json:"contests" example:"leetcode-weekly"`
}

// SignInRequest is the JSON payload for POST /signin.
type SignInRequest struct {
	Email    string `json:"email" binding:"required" example:"ada@example.com"`
	Password string `json:"password" binding:"required" example:"s3cret"`
}

// SignInResponse carries the bearer token.
type SignInResponse struct {
	Message string `json:"message" example:"Sign in successful"`
	Token   string `json:"token"`
}

// Register godoc
// @ID          register
// @Summary     Register a principal
// @Description Creates an account with an optional initial contest set. An email that only has anonymous subscriptions is claimed.
// @Tags        Accounts
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterRequest  true  "Registration payload"
// @Success     201   {object}  handlers.MessageResponse
// @Failure     400   {object}  handlers.ErrorResponse  "user_exists, contest_not_found or bad_request"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	_, err := h.accounts.Register(c.Request.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Contests: req.Contests,
	})
	if err != nil {
		failService(c, err)
		return
	}
	message(c, http.StatusCreated, "User registered successfully")
}

// SignIn godoc
// @ID          signIn
// @Summary     Sign in
// @Description Verifies the credential and returns a bearer token.
// @Tags        Accounts
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.SignInRequest  true  "Credentials"
// @Success     200   {object}  handlers.SignInResponse
// @Failure     400   {object}  handlers.ErrorResponse  "invalid_credentials"
// @Router      /signin [post]
func (h *Handlers) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidCredentials, "invalid email or password")
		return
	}
	token, err := h.accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, SignInResponse{Message: "Sign in successful", Token: token})
}
