// Package ledger owns the stake state machine of items and their stakers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nftrarity/internal/apperr"
	"nftrarity/internal/models"
)

const (
	defaultCompensationAttempts = 3
	defaultCompensationBackoff  = 100 * time.Millisecond
)

// Store is the persistence the ledger needs
type Store interface {
	GetItem(ctx context.Context, tokenID int) (*models.Item, error)
	ListStakedItems(ctx context.Context) ([]models.Item, error)
	MarkItemStaked(ctx context.Context, tokenID int, address string, at time.Time) error
	ClearItemStake(ctx context.Context, tokenID int, address string) error
	GetUser(ctx context.Context, address string) (*models.User, error)
	ListStakingUsers(ctx context.Context) ([]models.User, error)
	AddUserStake(ctx context.Context, address string, entry models.StakedItem) error
	RemoveUserStake(ctx context.Context, address string, tokenID int) error
}

// Observer receives stake outcomes, e.g. for metrics
type Observer interface {
	StakeOperation(op, result string)
}

// Receipt describes a completed stake or unstake
type Receipt struct {
	TokenID  int
	Address  string
	StakedAt time.Time
}

// ReconcileReport summarises a repair pass
type ReconcileReport struct {
	Restored int
	Dropped  int
	Failed   int
}

// Ledger applies stake and unstake transitions
type Ledger struct {
	store    Store
	locker   Locker
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	attempts int
	backoff  time.Duration
}

// Option customizes a Ledger
type Option func(*Ledger)

// WithObserver reports outcomes to o
func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

// WithCompensation sets the rollback retry policy
func WithCompensation(attempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		if attempts > 0 {
			l.attempts = attempts
		}
		if backoff >= 0 {
			l.backoff = backoff
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger
func New(store Store, locker Locker, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		locker:   locker,
		logger:   logger,
		now:      time.Now,
		attempts: defaultCompensationAttempts,
		backoff:  defaultCompensationBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func lockKey(tokenID int) string {
	return fmt.Sprintf("item:%d", tokenID)
}

func (l *Ledger) lock(ctx context.Context, tokenID int) (func(), error) {
	unlock, err := l.locker.Lock(ctx, lockKey(tokenID))
	if err != nil {
		return nil, apperr.Persistence("acquire item lock", err)
	}
	return func() {
		if err := unlock(); err != nil {
			l.logger.Warn("release item lock failed", "token_id", tokenID, "error", err)
		}
	}, nil
}

// Stake marks tokenID as staked by caller and records it on the user
func (l *Ledger) Stake(ctx context.Context, tokenID int, caller string) (receipt *Receipt, err error) {
	defer func() { l.observe("stake", err) }()

	if tokenID <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidItemID, "tokenId must be a positive integer")
	}
	unlock, err := l.lock(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	item, err := l.store.GetItem(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if item.Staked {
		return nil, apperr.ErrAlreadyStaked
	}

	at := l.now().UTC()
	if err := l.store.MarkItemStaked(ctx, tokenID, caller, at); err != nil {
		return nil, err
	}

	if err := l.store.AddUserStake(ctx, caller, models.StakedItem{TokenID: tokenID, StakedAt: at}); err != nil {
		l.logger.Error("user stake write failed, rolling back item", "token_id", tokenID, "address", caller, "error", err)
		l.compensate(ctx, "unmark item", tokenID, func(cctx context.Context) error {
			return l.store.ClearItemStake(cctx, tokenID, caller)
		})
		return nil, apperr.Persistence("record user stake", err)
	}

	l.logger.Info("item staked", "token_id", tokenID, "address", caller)
	return &Receipt{TokenID: tokenID, Address: caller, StakedAt: at}, nil
}

// Unstake releases tokenID if caller holds the stake
func (l *Ledger) Unstake(ctx context.Context, tokenID int, caller string) (receipt *Receipt, err error) {
	defer func() { l.observe("unstake", err) }()

	if tokenID <= 0 {
		return nil, apperr.Validation(apperr.CodeInvalidItemID, "tokenId must be a positive integer")
	}
	unlock, err := l.lock(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	item, err := l.store.GetItem(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if !item.Staked {
		return nil, apperr.ErrNotStaked
	}
	if !item.IsStakedBy(caller) {
		return nil, apperr.ErrNotOwner
	}
	stakedAt := l.now().UTC()
	if item.StakedAt != nil {
		stakedAt = *item.StakedAt
	}

	if err := l.store.ClearItemStake(ctx, tokenID, caller); err != nil {
		return nil, err
	}

	err = l.store.RemoveUserStake(ctx, caller, tokenID)
	if err != nil && !errors.Is(err, apperr.ErrUserNotFound) {
		l.logger.Error("user unstake write failed, restoring item", "token_id", tokenID, "address", caller, "error", err)
		l.compensate(ctx, "restore item", tokenID, func(cctx context.Context) error {
			return l.store.MarkItemStaked(cctx, tokenID, caller, stakedAt)
		})
		return nil, apperr.Persistence("remove user stake", err)
	}

	l.logger.Info("item unstaked", "token_id", tokenID, "address", caller)
	return &Receipt{TokenID: tokenID, Address: caller, StakedAt: stakedAt}, nil
}

// compensate retries undo with linear backoff, ignoring cancellation of ctx
func (l *Ledger) compensate(ctx context.Context, what string, tokenID int, undo func(context.Context) error) {
	cctx := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		if err = undo(cctx); err == nil {
			l.logger.Warn("compensation applied", "action", what, "token_id", tokenID, "attempt", attempt)
			return
		}
		if attempt < l.attempts {
			time.Sleep(time.Duration(attempt) * l.backoff)
		}
	}
	l.logger.Error("compensation failed, left for reconciliation",
		"action", what, "token_id", tokenID, "attempts", l.attempts, "error", err)
}

func (l *Ledger) observe(op string, err error) {
	if l.observer == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
		if e, ok := apperr.From(err); ok {
			result = e.Code
		}
	}
	l.observer.StakeOperation(op, result)
}
