// Package auth implements wallet login through a signed one-time nonce.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"nftrarity/internal/apperr"
)

const (
	nonceBytes = 16

	DefaultNonceTTL   = 5 * time.Minute
	DefaultSessionTTL = 24 * time.Hour
)

// NonceStore holds one live challenge per wallet
type NonceStore interface {
	SetNonce(ctx context.Context, address, nonce string, ttl time.Duration) error
	GetNonce(ctx context.Context, address string) (string, error)
	// ConsumeNonce deletes the nonce only if it still equals nonce
	ConsumeNonce(ctx context.Context, address, nonce string) (bool, error)
}

// SessionStore binds session ids to wallets
type SessionStore interface {
	CreateSession(ctx context.Context, address string, ttl time.Duration) (string, error)
	GetSession(ctx context.Context, id string) (string, error)
	DeleteSession(ctx context.Context, id string) error
}

// Challenge is what the wallet has to sign
type Challenge struct {
	Nonce   string
	Message string
}

// Session is an authenticated wallet binding
type Session struct {
	ID        string
	Address   string
	ExpiresAt time.Time
}

// Observer receives verification outcomes
type Observer interface {
	AuthVerification(result string)
}

// Authenticator issues and verifies nonce challenges
type Authenticator struct {
	nonces     NonceStore
	sessions   SessionStore
	nonceTTL   time.Duration
	sessionTTL time.Duration
	logger     *slog.Logger
	observer   Observer
	now        func() time.Time
}

// Option customizes an Authenticator
type Option func(*Authenticator)

// WithTTLs overrides the nonce and session lifetimes
func WithTTLs(nonceTTL, sessionTTL time.Duration) Option {
	return func(a *Authenticator) {
		if nonceTTL > 0 {
			a.nonceTTL = nonceTTL
		}
		if sessionTTL > 0 {
			a.sessionTTL = sessionTTL
		}
	}
}

// WithObserver reports verification outcomes to o
func WithObserver(o Observer) Option {
	return func(a *Authenticator) {
		a.observer = o
	}
}

// NewAuthenticator creates an authenticator backed by the given stores
func NewAuthenticator(nonces NonceStore, sessions SessionStore, logger *slog.Logger, opts ...Option) *Authenticator {
	a := &Authenticator{
		nonces:     nonces,
		sessions:   sessions,
		nonceTTL:   DefaultNonceTTL,
		sessionTTL: DefaultSessionTTL,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func invalidAddress() error {
	return apperr.Validation(apperr.CodeInvalidAddress, "walletAddress must be a 0x-prefixed 20-byte hex address")
}

// IssueNonce creates a fresh challenge for address, replacing any earlier one
func (a *Authenticator) IssueNonce(ctx context.Context, address string) (Challenge, error) {
	addr, ok := NormalizeAddress(address)
	if !ok {
		return Challenge{}, invalidAddress()
	}

	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return Challenge{}, err
	}
	nonce := hex.EncodeToString(buf)

	if err := a.nonces.SetNonce(ctx, addr, nonce, a.nonceTTL); err != nil {
		return Challenge{}, apperr.Persistence("store nonce", err)
	}
	return Challenge{Nonce: nonce, Message: ChallengeMessage(nonce)}, nil
}

// Verify checks signature against the stored nonce for address. On success
// the nonce is consumed and a session is created; on failure nothing changes.
func (a *Authenticator) Verify(ctx context.Context, address, signature string) (*Session, error) {
	addr, ok := NormalizeAddress(address)
	if !ok {
		return nil, invalidAddress()
	}

	nonce, err := a.nonces.GetNonce(ctx, addr)
	if err != nil {
		if errors.Is(err, apperr.ErrNonceNotFound) {
			a.observe("nonce_not_found")
			return nil, apperr.ErrNonceNotFound
		}
		return nil, apperr.Persistence("load nonce", err)
	}

	signer, err := RecoverSigner(ChallengeMessage(nonce), signature)
	if err != nil {
		a.logger.Debug("signature recovery failed", "address", addr, "error", err)
		a.observe("signature_mismatch")
		return nil, apperr.ErrSignatureMismatch
	}
	if !strings.EqualFold(signer.Hex(), addr) {
		a.observe("signature_mismatch")
		return nil, apperr.ErrSignatureMismatch
	}

	consumed, err := a.nonces.ConsumeNonce(ctx, addr, nonce)
	if err != nil {
		return nil, apperr.Persistence("consume nonce", err)
	}
	if !consumed {
		// a concurrent verification won the race
		a.observe("nonce_not_found")
		return nil, apperr.ErrNonceNotFound
	}

	id, err := a.sessions.CreateSession(ctx, addr, a.sessionTTL)
	if err != nil {
		return nil, apperr.Persistence("create session", err)
	}
	a.observe("success")
	a.logger.Info("wallet authenticated", "address", addr)

	return &Session{ID: id, Address: addr, ExpiresAt: a.now().Add(a.sessionTTL)}, nil
}

// Resolve returns the wallet bound to session id
func (a *Authenticator) Resolve(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", apperr.ErrUnauthorized
	}
	addr, err := a.sessions.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			return "", apperr.ErrUnauthorized
		}
		return "", apperr.Persistence("load session", err)
	}
	return addr, nil
}

// Logout ends the session
func (a *Authenticator) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := a.sessions.DeleteSession(ctx, id); err != nil {
		return apperr.Persistence("delete session", err)
	}
	return nil
}

// SessionTTL is the lifetime of new sessions
func (a *Authenticator) SessionTTL() time.Duration {
	return a.sessionTTL
}

func (a *Authenticator) observe(result string) {
	if a.observer != nil {
		a.observer.AuthVerification(result)
	}
}
