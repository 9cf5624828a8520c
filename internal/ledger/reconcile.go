package ledger

import (
	"context"
	"errors"

	"nftrarity/internal/apperr"
	"nftrarity/internal/models"
)

// Reconcile repairs item/user disagreements left behind by failed
// compensations. A staked item missing from its staker's list gets the entry
// restored; a user entry whose item is not staked by that user is dropped.
// Every repair re-reads both records under the item lock.
func (l *Ledger) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	staked, err := l.store.ListStakedItems(ctx)
	if err != nil {
		return report, err
	}
	for _, item := range staked {
		if item.StakedBy == nil {
			continue
		}
		user, err := l.store.GetUser(ctx, *item.StakedBy)
		if err != nil && !errors.Is(err, apperr.ErrUserNotFound) {
			return report, err
		}
		if user != nil && user.HasStaked(item.TokenID) {
			continue
		}
		restored, err := l.restoreUserEntry(ctx, item.TokenID)
		if err != nil {
			report.Failed++
			l.logger.Error("restore ghost stake failed", "token_id", item.TokenID, "error", err)
			continue
		}
		if restored {
			report.Restored++
		}
	}

	users, err := l.store.ListStakingUsers(ctx)
	if err != nil {
		return report, err
	}
	for _, user := range users {
		for _, entry := range user.StakedItems {
			dropped, err := l.dropOrphanEntry(ctx, user.WalletAddress, entry.TokenID)
			if err != nil {
				report.Failed++
				l.logger.Error("drop orphan stake entry failed",
					"token_id", entry.TokenID, "address", user.WalletAddress, "error", err)
				continue
			}
			if dropped {
				report.Dropped++
			}
		}
	}

	if report.Restored > 0 || report.Dropped > 0 || report.Failed > 0 {
		l.logger.Warn("stake reconciliation finished",
			"restored", report.Restored, "dropped", report.Dropped, "failed", report.Failed)
	}
	return report, nil
}

func (l *Ledger) restoreUserEntry(ctx context.Context, tokenID int) (bool, error) {
	unlock, err := l.lock(ctx, tokenID)
	if err != nil {
		return false, err
	}
	defer unlock()

	item, err := l.store.GetItem(ctx, tokenID)
	if err != nil {
		return false, err
	}
	if !item.Staked || item.StakedBy == nil || item.StakedAt == nil {
		return false, nil
	}
	user, err := l.store.GetUser(ctx, *item.StakedBy)
	if err != nil && !errors.Is(err, apperr.ErrUserNotFound) {
		return false, err
	}
	if user != nil && user.HasStaked(tokenID) {
		return false, nil
	}
	entry := models.StakedItem{TokenID: tokenID, StakedAt: *item.StakedAt}
	if err := l.store.AddUserStake(ctx, *item.StakedBy, entry); err != nil {
		return false, err
	}
	l.logger.Info("restored ghost stake", "token_id", tokenID, "address", *item.StakedBy)
	return true, nil
}

func (l *Ledger) dropOrphanEntry(ctx context.Context, address string, tokenID int) (bool, error) {
	unlock, err := l.lock(ctx, tokenID)
	if err != nil {
		return false, err
	}
	defer unlock()

	item, err := l.store.GetItem(ctx, tokenID)
	if err != nil && !errors.Is(err, apperr.ErrItemNotFound) {
		return false, err
	}
	if item != nil && item.IsStakedBy(address) {
		return false, nil
	}
	user, err := l.store.GetUser(ctx, address)
	if err != nil {
		return false, err
	}
	if !user.HasStaked(tokenID) {
		return false, nil
	}
	if err := l.store.RemoveUserStake(ctx, address, tokenID); err != nil {
		return false, err
	}
	l.logger.Info("dropped orphan stake entry", "token_id", tokenID, "address", address)
	return true, nil
}
