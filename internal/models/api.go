package models

import "time"

// NonceRequest represents the query for a new challenge
type NonceRequest struct {
	WalletAddress string `query:"walletAddress" validate:"required,eth_addr"`
}

// NonceResponse carries the issued challenge
type NonceResponse struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

// VerifyRequest represents the payload for signature verification
type VerifyRequest struct {
	WalletAddress string `json:"walletAddress" validate:"required,eth_addr"`
	Signature     string `json:"signature" validate:"required,hexadecimal,len=132"`
}

// VerifyResponse is returned after a successful verification
type VerifyResponse struct {
	Message   string    `json:"message"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StakeRequest represents the payload for stake and unstake
type StakeRequest struct {
	TokenID int `json:"tokenId" validate:"required,min=1"`
}

// RarityResponse is the rarity lookup for a single item
type RarityResponse struct {
	TokenID     int     `json:"token_id"`
	Rank        int     `json:"rank"`
	Total       int     `json:"total"`
	RarityScore float64 `json:"rarity_score"`
}

// UserSummary is the public view of the current user
type UserSummary struct {
	WalletAddress string       `json:"wallet_address"`
	Points        float64      `json:"points"`
	Tier          Tier         `json:"tier"`
	StakedItems   []StakedItem `json:"staked_items"`
}

// Summary converts a user to its public view
func (u *User) Summary() UserSummary {
	staked := make([]StakedItem, len(u.StakedItems))
	copy(staked, u.StakedItems)
	return UserSummary{
		WalletAddress: u.WalletAddress,
		Points:        u.Points,
		Tier:          u.Tier,
		StakedItems:   staked,
	}
}

// StakedItemView is one staked item joined with its ranking
type StakedItemView struct {
	TokenID     int       `json:"token_id"`
	Name        string    `json:"name,omitempty"`
	Image       string    `json:"image,omitempty"`
	RarityScore float64   `json:"rarity_score"`
	Rank        int       `json:"rank"`
	StakedAt    time.Time `json:"staked_at"`
}

// StakedItemsResponse is the staking dashboard of the current user
type StakedItemsResponse struct {
	WalletAddress string           `json:"wallet_address"`
	Points        float64          `json:"points"`
	Tier          Tier             `json:"tier"`
	Items         []StakedItemView `json:"items"`
}

// StakeResponse confirms a stake or unstake
type StakeResponse struct {
	TokenID  int       `json:"token_id"`
	Staked   bool      `json:"staked"`
	StakedAt time.Time `json:"staked_at"`
}

// TopItemsResponse lists the rarest items
type TopItemsResponse struct {
	Items   []RankingRecord `json:"items"`
	Total   int             `json:"total"`
	Version int64           `json:"version"`
}

// TopUsersResponse lists users ordered by points
type TopUsersResponse struct {
	Users []UserSummary `json:"users"`
}

// TraitCount is one entry of the attribute frequency table
type TraitCount struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
	Count     int    `json:"count"`
}

// TraitsResponse exposes the frequency table of the current snapshot
type TraitsResponse struct {
	Version int64        `json:"version"`
	Traits  []TraitCount `json:"traits"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
