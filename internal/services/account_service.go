package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/contest-notifier/internal/domain"
)

// PasswordHasher hashes and verifies credentials. auth.BcryptHasher
// implements it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// TokenIssuer mints bearer tokens for a signed-in principal.
type TokenIssuer interface {
	Issue(p domain.Principal) (string, error)
}

// RegisterInput carries the fields accepted by POST /register.
type RegisterInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
	Contests []string
}

// AccountService handles registration and sign-in on top of a
// SubscriptionStore.
type AccountService struct {
	store  *SubscriptionStore
	hasher PasswordHasher
	tokens TokenIssuer
}

// MaxPasswordBytes is the longest password bcrypt accepts, counted in bytes.
const MaxPasswordBytes = 72

// NewAccountService wires the store with a hasher and a token issuer.
func NewAccountService(store *SubscriptionStore, h PasswordHasher, t TokenIssuer) *AccountService {
	return &AccountService{store: store, hasher: h, tokens: t}
}

// Register hashes the password and creates the principal. The returned
// record never carries the hash.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (domain.Principal, error) {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return domain.Principal{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if len(in.Password) > MaxPasswordBytes {
		return domain.Principal{}, fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, MaxPasswordBytes)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return domain.Principal{}, err
	}
	err = s.store.Register(ctx, domain.Principal{
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
		Contests:     in.Contests,
	})
	if err != nil {
		return domain.Principal{}, err
	}
	p, err := s.store.Principal(ctx, in.Email)
	if err != nil {
		return domain.Principal{}, err
	}
	p.PasswordHash = ""
	return p, nil
}

// SignIn verifies the credential and returns a bearer token. Unknown emails,
// email-only principals and wrong passwords all yield ErrInvalidCredentials.
func (s *AccountService) SignIn(ctx context.Context, email, password string) (string, error) {
	p, err := s.store.Principal(ctx, email)
	if errors.Is(err, ErrPrincipalNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if !p.HasCredential() || s.hasher.Compare(p.PasswordHash, password) != nil {
		return "", ErrInvalidCredentials
	}
	return s.tokens.Issue(p)
}
