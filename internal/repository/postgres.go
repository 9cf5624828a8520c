package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"nftrarity/internal/apperr"
	"nftrarity/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresRepository handles all PostgreSQL operations
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository creates a new Postgres repository
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// UpsertItems inserts items or refreshes their chain-derived columns.
// Staking columns and derived rarity are never overwritten here.
func (r *PostgresRepository) UpsertItems(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "token_uri", "name", "image", "attributes", "updated_at"}),
	}).Omit("staked", "staked_by", "staked_at", "rarity_score", "rank").CreateInBatches(items, 500).Error
	if err != nil {
		return apperr.Persistence("upsert items", err)
	}
	return nil
}

// GetItem retrieves an item by token id
func (r *PostgresRepository) GetItem(ctx context.Context, tokenID int) (*models.Item, error) {
	var item models.Item
	err := r.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrItemNotFound
		}
		return nil, apperr.Persistence("get item", err)
	}
	return &item, nil
}

// ListItems returns every item ordered by token id
func (r *PostgresRepository) ListItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	if err := r.db.WithContext(ctx).Order("token_id ASC").Find(&items).Error; err != nil {
		return nil, apperr.Persistence("list items", err)
	}
	return items, nil
}

// ListStakedItems returns every staked item ordered by token id
func (r *PostgresRepository) ListStakedItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	if err := r.db.WithContext(ctx).Where("staked = ?", true).Order("token_id ASC").Find(&items).Error; err != nil {
		return nil, apperr.Persistence("list staked items", err)
	}
	return items, nil
}

// MarkItemStaked flips staked false -> true in a single conditional UPDATE
func (r *PostgresRepository) MarkItemStaked(ctx context.Context, tokenID int, address string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Item{}).
		Where("token_id = ? AND staked = ?", tokenID, false).
		Updates(map[string]interface{}{
			"staked":     true,
			"staked_by":  address,
			"staked_at":  at,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return apperr.Persistence("mark item staked", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := r.GetItem(ctx, tokenID); err != nil {
		return err
	}
	return apperr.ErrAlreadyStaked
}

// ClearItemStake flips staked true -> false when address holds the stake
func (r *PostgresRepository) ClearItemStake(ctx context.Context, tokenID int, address string) error {
	res := r.db.WithContext(ctx).Model(&models.Item{}).
		Where("token_id = ? AND staked = ? AND staked_by = ?", tokenID, true, address).
		Updates(map[string]interface{}{
			"staked":     false,
			"staked_by":  nil,
			"staked_at":  nil,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return apperr.Persistence("clear item stake", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	item, err := r.GetItem(ctx, tokenID)
	if err != nil {
		return err
	}
	if !item.Staked {
		return apperr.ErrNotStaked
	}
	return apperr.ErrNotOwner
}

// EnsureUser returns the user, creating a Bronze record on first sight
func (r *PostgresRepository) EnsureUser(ctx context.Context, address string) (*models.User, error) {
	user := models.NewUser(address, time.Now())
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoNothing: true,
	}).Create(user).Error
	if err != nil {
		return nil, apperr.Persistence("ensure user", err)
	}
	return r.GetUser(ctx, address)
}

// GetUser retrieves a user by wallet address
func (r *PostgresRepository) GetUser(ctx context.Context, address string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("wallet_address = ?", address).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Persistence("get user", err)
	}
	return &user, nil
}

// AddUserStake appends to the staked list under a row lock
func (r *PostgresRepository) AddUserStake(ctx context.Context, address string, entry models.StakedItem) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("wallet_address = ?", address).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = *models.NewUser(address, time.Now())
			user.StakedItems = append(user.StakedItems, entry)
			return tx.Create(&user).Error
		}
		if err != nil {
			return err
		}
		if user.HasStaked(entry.TokenID) {
			return nil
		}
		user.StakedItems = append(user.StakedItems, entry)
		return tx.Model(&user).Updates(map[string]interface{}{
			"staked_items": user.StakedItems,
			"updated_at":   time.Now(),
		}).Error
	})
	if err != nil {
		return apperr.Persistence("add user stake", err)
	}
	return nil
}

// RemoveUserStake drops tokenID from the staked list under a row lock
func (r *PostgresRepository) RemoveUserStake(ctx context.Context, address string, tokenID int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("wallet_address = ?", address).First(&user).Error; err != nil {
			return err
		}
		kept := user.StakedItems[:0:0]
		for _, s := range user.StakedItems {
			if s.TokenID != tokenID {
				kept = append(kept, s)
			}
		}
		return tx.Model(&user).Updates(map[string]interface{}{
			"staked_items": kept,
			"updated_at":   time.Now(),
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrUserNotFound
		}
		return apperr.Persistence("remove user stake", err)
	}
	return nil
}

// ListStakingUsers returns users holding at least one stake
func (r *PostgresRepository) ListStakingUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Where("staked_items IS NOT NULL AND jsonb_array_length(staked_items) > 0").
		Order("wallet_address ASC").
		Find(&users).Error
	if err != nil {
		return nil, apperr.Persistence("list staking users", err)
	}
	return users, nil
}

// TopUsersByPoints returns the highest scoring users
func (r *PostgresRepository) TopUsersByPoints(ctx context.Context, limit int) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).Order("points DESC").Order("wallet_address ASC").Limit(limit).Find(&users).Error
	if err != nil {
		return nil, apperr.Persistence("top users", err)
	}
	return users, nil
}

// ApplyAccrual adds delta and sets the resulting tier in a single
// UPDATE ... RETURNING
func (r *PostgresRepository) ApplyAccrual(ctx context.Context, address string, delta float64, stakedCount int, rules []models.TierRule) (float64, models.Tier, error) {
	tierSQL, tierArgs := tierCase(delta, stakedCount, rules)

	var user models.User
	res := r.db.WithContext(ctx).Model(&user).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "points"}, {Name: "tier"}}}).
		Where("wallet_address = ?", address).
		UpdateColumns(map[string]interface{}{
			"points":     gorm.Expr("points + ?", delta),
			"tier":       gorm.Expr(tierSQL, tierArgs...),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, "", apperr.Persistence("apply accrual", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, "", apperr.ErrUserNotFound
	}
	return user.Points, user.Tier, nil
}

// tierCase renders rules as a CASE over the updated points. The staked count
// is fixed for the statement, so rules it cannot meet are left out.
func tierCase(delta float64, stakedCount int, rules []models.TierRule) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, 3*len(rules)+1)
	b.WriteString("CASE")
	for _, rule := range rules {
		if stakedCount < rule.MinStaked {
			continue
		}
		b.WriteString(" WHEN points + ? >= ? THEN ?")
		args = append(args, delta, rule.MinPoints, string(rule.Tier))
	}
	if len(args) == 0 {
		return "?", []interface{}{string(models.TierBronze)}
	}
	b.WriteString(" ELSE ? END")
	args = append(args, string(models.TierBronze))
	return b.String(), args
}

// ReplaceRankings swaps the ranking table and mirrors score and rank onto
// items inside one transaction
func (r *PostgresRepository) ReplaceRankings(ctx context.Context, records []models.RankingRecord, version int64) error {
	rows := make([]models.RankingRecord, len(records))
	copy(rows, records)
	for i := range rows {
		rows[i].Version = version
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RankingRecord{}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 1000).Error; err != nil {
				return err
			}
		}
		if err := tx.Exec(`UPDATE items SET rarity_score = 0, rank = 0
			WHERE token_id NOT IN (SELECT token_id FROM rarity_rankings)`).Error; err != nil {
			return err
		}
		return tx.Exec(`UPDATE items SET rarity_score = rr.rarity_score, rank = rr.rank, updated_at = NOW()
			FROM rarity_rankings rr WHERE items.token_id = rr.token_id`).Error
	})
	if err != nil {
		return apperr.Persistence("replace rankings", err)
	}
	return nil
}

// LoadRankings returns the stored ranking in rank order
func (r *PostgresRepository) LoadRankings(ctx context.Context) ([]models.RankingRecord, int64, error) {
	var records []models.RankingRecord
	if err := r.db.WithContext(ctx).Order("rank ASC").Find(&records).Error; err != nil {
		return nil, 0, apperr.Persistence("load rankings", err)
	}
	var version int64
	if len(records) > 0 {
		version = records[0].Version
	}
	return records, version, nil
}

// Ping checks if database is reachable
func (r *PostgresRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate runs database migrations
func (r *PostgresRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&models.Item{}, &models.User{}, &models.RankingRecord{})
}
