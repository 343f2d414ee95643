// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings that clients can branch on.
// Every error response carries one of them in the ErrorResponse envelope:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "already_subscribed",
//	  "message": "already subscribed"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/contest-notifier/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeUserExists         = "user_exists"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeContestNotFound    = "contest_not_found"
	ErrCodeAlreadySubscribed  = "already_subscribed"
)

// failService maps a service error onto the envelope. Conflicts are 400 to
// stay compatible with existing clients.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnknownContest):
		fail(c, http.StatusBadRequest, ErrCodeContestNotFound, err.Error())
	case errors.Is(err, services.ErrAlreadySubscribed):
		fail(c, http.StatusBadRequest, ErrCodeAlreadySubscribed, "already subscribed")
	case errors.Is(err, services.ErrPrincipalExists):
		fail(c, http.StatusBadRequest, ErrCodeUserExists, "user already exists")
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusBadRequest, ErrCodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, services.ErrInvalidInput):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrPrincipalNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
