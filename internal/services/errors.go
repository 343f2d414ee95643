// Package services defines the business logic for subscriptions and accounts.
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into HTTP status codes happens at the handler layer.
package services

import "errors"

// Validation errors.
var (
	// ErrInvalidInput is returned when a required field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownContest is returned when a contest name is not in the registry.
	ErrUnknownContest = errors.New("contest not found")
)

// Conflict errors.
var (
	// ErrAlreadySubscribed is returned when the (principal, contest) pair exists.
	ErrAlreadySubscribed = errors.New("already subscribed")

	// ErrPrincipalExists is returned when registering an email that already
	// has a credential.
	ErrPrincipalExists = errors.New("user already exists")
)

var (
	// ErrPrincipalNotFound indicates that no principal has the given id.
	ErrPrincipalNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned by sign-in for an unknown email or a
	// wrong password; the two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrRepository wraps failures of the backing repository.
	ErrRepository = errors.New("subscription repository failure")
)
