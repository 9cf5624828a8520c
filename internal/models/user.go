package models

import (
	"time"

	"gorm.io/datatypes"
)

// Tier is a named reward level
type Tier string

const (
	TierBronze Tier = "Bronze"
	TierSilver Tier = "Silver"
	TierGold   Tier = "Gold"
)

// StakedItem records one item a user currently has staked
type StakedItem struct {
	TokenID  int       `json:"token_id" bson:"token_id"`
	StakedAt time.Time `json:"staked_at" bson:"staked_at"`
}

// User represents a wallet owner taking part in the staking program
type User struct {
	WalletAddress string                          `gorm:"primaryKey;size:42" bson:"_id" json:"wallet_address"`
	Points        float64                         `gorm:"not null;default:0;index" bson:"points" json:"points"`
	Tier          Tier                            `gorm:"size:16;not null;default:Bronze" bson:"tier" json:"tier"`
	StakedItems   datatypes.JSONSlice[StakedItem] `gorm:"type:jsonb" bson:"staked_items" json:"staked_items"`
	CreatedAt     time.Time                       `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time                       `bson:"updated_at" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// HasStaked reports whether tokenID is in the user's staked collection
func (u *User) HasStaked(tokenID int) bool {
	for _, s := range u.StakedItems {
		if s.TokenID == tokenID {
			return true
		}
	}
	return false
}

// StakedTokenIDs returns the ids of the user's staked items in staking order
func (u *User) StakedTokenIDs() []int {
	ids := make([]int, 0, len(u.StakedItems))
	for _, s := range u.StakedItems {
		ids = append(ids, s.TokenID)
	}
	return ids
}

// NewUser returns a Bronze user with no points or stakes
func NewUser(address string, now time.Time) *User {
	return &User{
		WalletAddress: address,
		Tier:          TierBronze,
		StakedItems:   datatypes.JSONSlice[StakedItem]{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TierRule is one tier threshold. Rules are checked in order and the first
// one whose points and staked minimums are both met applies.
type TierRule struct {
	Tier      Tier
	MinPoints float64
	MinStaked int
}

// ResolveTier applies rules to a points total and staked count, falling back
// to Bronze
func ResolveTier(rules []TierRule, points float64, staked int) Tier {
	for _, r := range rules {
		if points >= r.MinPoints && staked >= r.MinStaked {
			return r.Tier
		}
	}
	return TierBronze
}
