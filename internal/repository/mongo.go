package repository

import (
	"context"
	"errors"
	"time"

	"nftrarity/internal/apperr"
	"nftrarity/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	itemsCollection    = "items"
	usersCollection    = "users"
	rankingsCollection = "rarity_rankings"
	metaCollection     = "meta"

	rankingMetaID = "ranking"
)

// MongoRepository stores items, users and rankings as documents
type MongoRepository struct {
	client   *mongo.Client
	items    *mongo.Collection
	users    *mongo.Collection
	rankings *mongo.Collection
	meta     *mongo.Collection
}

// NewMongoRepository binds the repository to database dbName
func NewMongoRepository(client *mongo.Client, dbName string) *MongoRepository {
	db := client.Database(dbName)
	return &MongoRepository{
		client:   client,
		items:    db.Collection(itemsCollection),
		users:    db.Collection(usersCollection),
		rankings: db.Collection(rankingsCollection),
		meta:     db.Collection(metaCollection),
	}
}

// EnsureIndexes creates the secondary indexes used by queries
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.items.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "staked", Value: 1}}}); err != nil {
		return apperr.Persistence("index items", err)
	}
	if _, err := r.users.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "points", Value: -1}}}); err != nil {
		return apperr.Persistence("index users", err)
	}
	_, err := r.rankings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "version", Value: 1}, {Key: "rank", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return apperr.Persistence("index rankings", err)
	}
	return nil
}

func (r *MongoRepository) UpsertItems(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now()
	writes := make([]mongo.WriteModel, 0, len(items))
	for _, it := range items {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": it.TokenID}).
			SetUpdate(bson.M{
				"$set": bson.M{
					"owner":      it.Owner,
					"token_uri":  it.TokenURI,
					"name":       it.Name,
					"image":      it.Image,
					"attributes": []models.Attribute(it.Attributes),
					"updated_at": now,
				},
				"$setOnInsert": bson.M{
					"rarity_score": 0.0,
					"rank":         0,
					"staked":       false,
					"created_at":   now,
				},
			}).
			SetUpsert(true))
	}
	if _, err := r.items.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return apperr.Persistence("upsert items", err)
	}
	return nil
}

func (r *MongoRepository) GetItem(ctx context.Context, tokenID int) (*models.Item, error) {
	var item models.Item
	err := r.items.FindOne(ctx, bson.M{"_id": tokenID}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrItemNotFound
		}
		return nil, apperr.Persistence("get item", err)
	}
	return &item, nil
}

func (r *MongoRepository) ListItems(ctx context.Context) ([]models.Item, error) {
	return r.findItems(ctx, bson.M{}, "list items")
}

func (r *MongoRepository) ListStakedItems(ctx context.Context) ([]models.Item, error) {
	return r.findItems(ctx, bson.M{"staked": true}, "list staked items")
}

func (r *MongoRepository) findItems(ctx context.Context, filter bson.M, op string) ([]models.Item, error) {
	cur, err := r.items.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	var items []models.Item
	if err := cur.All(ctx, &items); err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return items, nil
}

func (r *MongoRepository) MarkItemStaked(ctx context.Context, tokenID int, address string, at time.Time) error {
	res, err := r.items.UpdateOne(ctx,
		bson.M{"_id": tokenID, "staked": false},
		bson.M{"$set": bson.M{"staked": true, "staked_by": address, "staked_at": at, "updated_at": time.Now()}},
	)
	if err != nil {
		return apperr.Persistence("mark item staked", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := r.GetItem(ctx, tokenID); err != nil {
		return err
	}
	return apperr.ErrAlreadyStaked
}

func (r *MongoRepository) ClearItemStake(ctx context.Context, tokenID int, address string) error {
	res, err := r.items.UpdateOne(ctx,
		bson.M{"_id": tokenID, "staked": true, "staked_by": address},
		bson.M{
			"$set":   bson.M{"staked": false, "updated_at": time.Now()},
			"$unset": bson.M{"staked_by": "", "staked_at": ""},
		},
	)
	if err != nil {
		return apperr.Persistence("clear item stake", err)
	}
	if res.MatchedCount > 0 {
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

func (r *MongoRepository) ensureUser(ctx context.Context, address string) error {
	now := time.Now()
	_, err := r.users.UpdateOne(ctx,
		bson.M{"_id": address},
		bson.M{"$setOnInsert": bson.M{
			"points":       0.0,
			"tier":         models.TierBronze,
			"staked_items": bson.A{},
			"created_at":   now,
			"updated_at":   now,
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *MongoRepository) EnsureUser(ctx context.Context, address string) (*models.User, error) {
	if err := r.ensureUser(ctx, address); err != nil {
		return nil, apperr.Persistence("ensure user", err)
	}
	return r.GetUser(ctx, address)
}

func (r *MongoRepository) GetUser(ctx context.Context, address string) (*models.User, error) {
	var user models.User
	err := r.users.FindOne(ctx, bson.M{"_id": address}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Persistence("get user", err)
	}
	return &user, nil
}

func (r *MongoRepository) AddUserStake(ctx context.Context, address string, entry models.StakedItem) error {
	if err := r.ensureUser(ctx, address); err != nil {
		return apperr.Persistence("add user stake", err)
	}
	_, err := r.users.UpdateOne(ctx,
		bson.M{"_id": address, "staked_items.token_id": bson.M{"$ne": entry.TokenID}},
		bson.M{
			"$push": bson.M{"staked_items": entry},
			"$set":  bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return apperr.Persistence("add user stake", err)
	}
	return nil
}

func (r *MongoRepository) RemoveUserStake(ctx context.Context, address string, tokenID int) error {
	res, err := r.users.UpdateOne(ctx,
		bson.M{"_id": address},
		bson.M{
			"$pull": bson.M{"staked_items": bson.M{"token_id": tokenID}},
			"$set":  bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return apperr.Persistence("remove user stake", err)
	}
	if res.MatchedCount == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

func (r *MongoRepository) ListStakingUsers(ctx context.Context) ([]models.User, error) {
	return r.findUsers(ctx, bson.M{"staked_items.0": bson.M{"$exists": true}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}), "list staking users")
}

func (r *MongoRepository) TopUsersByPoints(ctx context.Context, limit int) ([]models.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "points", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return r.findUsers(ctx, bson.M{}, opts, "top users")
}

func (r *MongoRepository) findUsers(ctx context.Context, filter bson.M, opts *options.FindOptions, op string) ([]models.User, error) {
	cur, err := r.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	var users []models.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return users, nil
}

// ApplyAccrual updates points and tier with one pipeline update. Both
// expressions read the document as it was before the update.
func (r *MongoRepository) ApplyAccrual(ctx context.Context, address string, delta float64, stakedCount int, rules []models.TierRule) (float64, models.Tier, error) {
	update := mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "points", Value: bson.M{"$add": bson.A{"$points", delta}}},
		{Key: "tier", Value: tierSwitch(delta, stakedCount, rules)},
		{Key: "updated_at", Value: time.Now()},
	}}}}

	var user models.User
	err := r.users.FindOneAndUpdate(ctx,
		bson.M{"_id": address},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, "", apperr.ErrUserNotFound
		}
		return 0, "", apperr.Persistence("apply accrual", err)
	}
	return user.Points, user.Tier, nil
}

// tierSwitch renders rules as a $switch over the updated points
func tierSwitch(delta float64, stakedCount int, rules []models.TierRule) interface{} {
	newPoints := bson.M{"$add": bson.A{"$points", delta}}
	branches := bson.A{}
	for _, rule := range rules {
		if stakedCount < rule.MinStaked {
			continue
		}
		branches = append(branches, bson.M{
			"case": bson.M{"$gte": bson.A{newPoints, rule.MinPoints}},
			"then": string(rule.Tier),
		})
	}
	if len(branches) == 0 {
		return bson.M{"$literal": string(models.TierBronze)}
	}
	return bson.M{"$switch": bson.M{"branches": branches, "default": string(models.TierBronze)}}
}

// ReplaceRankings writes the new version, flips the meta pointer, then drops
// older versions. Readers follow the pointer so they never see a partial set.
func (r *MongoRepository) ReplaceRankings(ctx context.Context, records []models.RankingRecord, version int64) error {
	if len(records) > 0 {
		docs := make([]interface{}, 0, len(records))
		for _, rec := range records {
			rec.Version = version
			docs = append(docs, rec)
		}
		if _, err := r.rankings.InsertMany(ctx, docs); err != nil {
			return apperr.Persistence("insert rankings", err)
		}
	}

	_, err := r.meta.UpdateOne(ctx,
		bson.M{"_id": rankingMetaID},
		bson.M{"$set": bson.M{"version": version, "updated_at": time.Now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return apperr.Persistence("publish ranking version", err)
	}

	ids := make([]int, 0, len(records))
	writes := make([]mongo.WriteModel, 0, len(records)+1)
	for _, rec := range records {
		ids = append(ids, rec.TokenID)
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": rec.TokenID}).
			SetUpdate(bson.M{"$set": bson.M{"rarity_score": rec.RarityScore, "rank": rec.Rank}}))
	}
	writes = append(writes, mongo.NewUpdateManyModel().
		SetFilter(bson.M{"_id": bson.M{"$nin": ids}}).
		SetUpdate(bson.M{"$set": bson.M{"rarity_score": 0.0, "rank": 0}}))
	if _, err := r.items.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return apperr.Persistence("mirror rankings onto items", err)
	}

	if _, err := r.rankings.DeleteMany(ctx, bson.M{"version": bson.M{"$ne": version}}); err != nil {
		return apperr.Persistence("prune rankings", err)
	}
	return nil
}

func (r *MongoRepository) LoadRankings(ctx context.Context) ([]models.RankingRecord, int64, error) {
	var meta struct {
		Version int64 `bson:"version"`
	}
	err := r.meta.FindOne(ctx, bson.M{"_id": rankingMetaID}).Decode(&meta)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, 0, nil
		}
		return nil, 0, apperr.Persistence("load ranking version", err)
	}

	cur, err := r.rankings.Find(ctx, bson.M{"version": meta.Version},
		options.Find().SetSort(bson.D{{Key: "rank", Value: 1}}))
	if err != nil {
		return nil, 0, apperr.Persistence("load rankings", err)
	}
	var records []models.RankingRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, 0, apperr.Persistence("load rankings", err)
	}
	return records, meta.Version, nil
}

// Ping checks if the deployment is reachable
func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close disconnects the client
func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
