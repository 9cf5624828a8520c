package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nftrarity/internal/apperr"
	"nftrarity/internal/events"
	"nftrarity/internal/ledger"
	"nftrarity/internal/models"
)

// StakingStore reads staking state for the dashboard
type StakingStore interface {
	GetUser(ctx context.Context, address string) (*models.User, error)
	GetItem(ctx context.Context, tokenID int) (*models.Item, error)
}

// StakingService fronts the stake ledger and publishes its events
type StakingService struct {
	ledger    *ledger.Ledger
	store     StakingStore
	publisher events.Publisher
	logger    *slog.Logger
}

func NewStakingService(l *ledger.Ledger, store StakingStore, publisher events.Publisher, logger *slog.Logger) *StakingService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &StakingService{ledger: l, store: store, publisher: publisher, logger: logger}
}

// Stake locks tokenID to the authenticated wallet
func (s *StakingService) Stake(ctx context.Context, address string, tokenID int) (*models.StakeResponse, error) {
	receipt, err := s.ledger.Stake(ctx, tokenID, address)
	if err != nil {
		return nil, err
	}
	s.publish(events.SubjectItemStaked(tokenID), receipt)
	return &models.StakeResponse{TokenID: tokenID, Staked: true, StakedAt: receipt.StakedAt}, nil
}

// Unstake releases tokenID if the wallet holds it
func (s *StakingService) Unstake(ctx context.Context, address string, tokenID int) (*models.StakeResponse, error) {
	receipt, err := s.ledger.Unstake(ctx, tokenID, address)
	if err != nil {
		return nil, err
	}
	s.publish(events.SubjectItemUnstaked(tokenID), receipt)
	return &models.StakeResponse{TokenID: tokenID, Staked: false, StakedAt: receipt.StakedAt}, nil
}

func (s *StakingService) publish(subject string, r *ledger.Receipt) {
	evt := events.StakeEvent{
		TokenID:   r.TokenID,
		Address:   r.Address,
		StakedAt:  r.StakedAt,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.Publish(subject, evt); err != nil {
		s.logger.Warn("publish stake event failed", "subject", subject, "error", err)
	}
}

// StakedItems joins the wallet's staked entries with the items' stored
// rarity. Entries whose item disappeared are left out.
func (s *StakingService) StakedItems(ctx context.Context, address string) (*models.StakedItemsResponse, error) {
	user, err := s.store.GetUser(ctx, address)
	if err != nil {
		if !errors.Is(err, apperr.ErrUserNotFound) {
			return nil, err
		}
		user = models.NewUser(address, time.Now().UTC())
	}

	resp := &models.StakedItemsResponse{
		WalletAddress: user.WalletAddress,
		Points:        user.Points,
		Tier:          user.Tier,
		Items:         make([]models.StakedItemView, 0, len(user.StakedItems)),
	}
	for _, entry := range user.StakedItems {
		item, err := s.store.GetItem(ctx, entry.TokenID)
		if err != nil {
			if errors.Is(err, apperr.ErrItemNotFound) {
				continue
			}
			return nil, err
		}
		resp.Items = append(resp.Items, models.StakedItemView{
			TokenID:     item.TokenID,
			Name:        item.Name,
			Image:       item.Image,
			RarityScore: item.RarityScore,
			Rank:        item.Rank,
			StakedAt:    entry.StakedAt,
		})
	}
	return resp, nil
}
