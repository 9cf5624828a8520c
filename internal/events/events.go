// Package events publishes domain events to NATS.
package events

import (
	"strconv"
	"time"
)

const (
	SubjectRankingRebuilt   = "rarity.ranking.rebuilt"
	SubjectAccrualCompleted = "rarity.accrual.completed"
)

func SubjectItemStaked(tokenID int) string {
	return "rarity.staking." + strconv.Itoa(tokenID) + ".staked"
}

func SubjectItemUnstaked(tokenID int) string {
	return "rarity.staking." + strconv.Itoa(tokenID) + ".unstaked"
}

type RankingRebuiltEvent struct {
	Version   int64     `json:"version"`
	Items     int       `json:"items"`
	TopToken  int       `json:"top_token,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type StakeEvent struct {
	TokenID   int       `json:"token_id"`
	Address   string    `json:"address"`
	StakedAt  time.Time `json:"staked_at"`
	Timestamp time.Time `json:"timestamp"`
}

type AccrualCompletedEvent struct {
	UsersProcessed int       `json:"users_processed"`
	Failures       int       `json:"failures"`
	TotalPoints    float64   `json:"total_points"`
	TierChanges    int       `json:"tier_changes"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}
