package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nftrarity/internal/apperr"
	"nftrarity/internal/auth"
	"nftrarity/internal/models"
)

// UserStore is the user persistence the account service needs
type UserStore interface {
	EnsureUser(ctx context.Context, address string) (*models.User, error)
	GetUser(ctx context.Context, address string) (*models.User, error)
	TopUsersByPoints(ctx context.Context, limit int) ([]models.User, error)
}

// AccountService handles wallet login and user views
type AccountService struct {
	auth   *auth.Authenticator
	users  UserStore
	logger *slog.Logger
}

func NewAccountService(a *auth.Authenticator, users UserStore, logger *slog.Logger) *AccountService {
	return &AccountService{auth: a, users: users, logger: logger}
}

// IssueNonce creates a challenge and makes sure the wallet has a user record
func (s *AccountService) IssueNonce(ctx context.Context, address string) (*models.NonceResponse, error) {
	addr, ok := auth.NormalizeAddress(address)
	if !ok {
		return nil, apperr.Validation(apperr.CodeInvalidAddress, "walletAddress must be a 0x-prefixed 20-byte hex address")
	}
	if _, err := s.users.EnsureUser(ctx, addr); err != nil {
		return nil, err
	}
	ch, err := s.auth.IssueNonce(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &models.NonceResponse{Nonce: ch.Nonce, Message: ch.Message}, nil
}

// VerifySignature exchanges a signed nonce for a session
func (s *AccountService) VerifySignature(ctx context.Context, address, signature string) (*auth.Session, error) {
	return s.auth.Verify(ctx, address, signature)
}

// Logout ends a session. Unknown sessions are not an error.
func (s *AccountService) Logout(ctx context.Context, sessionID string) error {
	return s.auth.Logout(ctx, sessionID)
}

// Authenticate resolves a session id to a wallet address
func (s *AccountService) Authenticate(ctx context.Context, sessionID string) (string, error) {
	return s.auth.Resolve(ctx, sessionID)
}

// CurrentUser returns the summary of the wallet behind a session. A valid
// session whose user record is gone gets an empty Bronze summary.
func (s *AccountService) CurrentUser(ctx context.Context, address string) (*models.UserSummary, error) {
	user, err := s.users.GetUser(ctx, address)
	if err != nil {
		if !errors.Is(err, apperr.ErrUserNotFound) {
			return nil, err
		}
		user = models.NewUser(address, time.Now().UTC())
	}
	summary := user.Summary()
	return &summary, nil
}

// TopUsersByPoints lists users by cumulative points
func (s *AccountService) TopUsersByPoints(ctx context.Context, limit int) (*models.TopUsersResponse, error) {
	users, err := s.users.TopUsersByPoints(ctx, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	out := make([]models.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return &models.TopUsersResponse{Users: out}, nil
}

// SessionTTL is how long new sessions live
func (s *AccountService) SessionTTL() time.Duration {
	return s.auth.SessionTTL()
}
