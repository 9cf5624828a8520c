package models

import (
	"time"

	"gorm.io/datatypes"
)

// Attribute is a single (category, value) pair describing an item
type Attribute struct {
	TraitType string `json:"trait_type" bson:"trait_type"`
	Value     string `json:"value" bson:"value"`
}

// Item represents one token of the ranked collection
type Item struct {
	TokenID     int                            `gorm:"primaryKey;autoIncrement:false" bson:"_id" json:"token_id"`
	Owner       string                         `gorm:"size:42;index;not null" bson:"owner" json:"owner"`
	TokenURI    string                         `gorm:"not null" bson:"token_uri" json:"token_uri"`
	Name        string                         `bson:"name,omitempty" json:"name,omitempty"`
	Image       string                         `bson:"image,omitempty" json:"image,omitempty"`
	Attributes  datatypes.JSONSlice[Attribute] `gorm:"type:jsonb" bson:"attributes" json:"attributes"`
	RarityScore float64                        `gorm:"not null;default:0;index" bson:"rarity_score" json:"rarity_score"`
	Rank        int                            `gorm:"not null;default:0" bson:"rank" json:"rank"`
	Staked      bool                           `gorm:"not null;default:false;index" bson:"staked" json:"staked"`
	StakedBy    *string                        `gorm:"size:42;index" bson:"staked_by,omitempty" json:"staked_by,omitempty"`
	StakedAt    *time.Time                     `bson:"staked_at,omitempty" json:"staked_at,omitempty"`
	CreatedAt   time.Time                      `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time                      `bson:"updated_at" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Item) TableName() string {
	return "items"
}

// IsStakedBy reports whether the item is currently staked by address
func (i *Item) IsStakedBy(address string) bool {
	return i.Staked && i.StakedBy != nil && *i.StakedBy == address
}

// RankingRecord is one row of the canonical rarity ranking
type RankingRecord struct {
	TokenID     int     `gorm:"primaryKey;autoIncrement:false" bson:"token_id" json:"token_id"`
	RarityScore float64 `gorm:"not null" bson:"rarity_score" json:"rarity_score"`
	Rank        int     `gorm:"not null;uniqueIndex" bson:"rank" json:"rank"`
	Version     int64   `gorm:"not null;default:0;index" bson:"version" json:"-"`
}

// TableName specifies the table name for GORM
func (RankingRecord) TableName() string {
	return "rarity_rankings"
}
