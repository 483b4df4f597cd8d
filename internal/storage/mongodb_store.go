package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store using MongoDB aggregation pipelines.
// This is the primary production backend: listing, totals, statistics
// bucketing, and the pending queue are all single-round-trip
// aggregations against the payments collection.
type MongoDBStore struct {
	client   *mongo.Client
	db       *mongo.Database
	payments *mongo.Collection
	stores   *mongo.Collection
}

// NewMongoDBStore creates a new MongoDB-backed store.
func NewMongoDBStore(connectionString, database string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// The Disconnect() error during initialization cleanup is not
		// actionable and would only obscure the original failure.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)

	store := &MongoDBStore{
		client:   client,
		db:       db,
		payments: db.Collection("wallet_usdt_payments"),
		stores:   db.Collection("stores"),
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return store, nil
}

// createIndexes creates the indexes the aggregation queries rely on.
func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	_, err := s.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "agentcode", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "storecode", Value: 1}}},
		{Keys: bson.D{{Key: "confirmedat", Value: -1}, {Key: "createdat", Value: -1}}},
		{Keys: bson.D{{Key: "transactionhash", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create payment indexes: %w", err)
	}

	_, err = s.stores.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "agentcode", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create store indexes: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.client.Disconnect(ctx)
}

// agentMatchStage matches payments for one agent case-insensitively.
// Both sides are lowercased so "AG1" and "ag1" scope the same records.
func agentMatchStage(agentCode string) bson.D {
	return bson.D{{Key: "$match", Value: bson.M{
		"$expr": bson.M{"$eq": bson.A{
			bson.M{"$toLower": "$agentcode"},
			normalizeCode(agentCode),
		}},
	}}}
}

// storeJoinStages left-join store metadata by storecode and shape a
// "store" sub-document that falls back to the payment's own storecode
// when no store record exists.
func storeJoinStages() []bson.D {
	return []bson.D{
		{{Key: "$lookup", Value: bson.M{
			"from": "stores",
			"let":  bson.M{"code": bson.M{"$toLower": "$storecode"}},
			"pipeline": bson.A{
				bson.M{"$match": bson.M{"$expr": bson.M{"$eq": bson.A{
					bson.M{"$toLower": "$storecode"},
					"$$code",
				}}}},
				bson.M{"$limit": 1},
			},
			"as": "storedoc",
		}}},
		{{Key: "$addFields", Value: bson.M{
			"store": bson.M{"$let": bson.M{
				"vars": bson.M{"s": bson.M{"$arrayElemAt": bson.A{"$storedoc", 0}}},
				"in": bson.M{
					"storecode": bson.M{"$ifNull": bson.A{"$$s.storecode", "$storecode"}},
					"storename": bson.M{"$ifNull": bson.A{"$$s.storename", ""}},
					"storelogo": bson.M{"$ifNull": bson.A{"$$s.storelogo", ""}},
				},
			}},
		}}},
		{{Key: "$unset", Value: "storedoc"}},
	}
}

// listBasePipeline builds the shared match/join/search stages for one
// listing query. The page, count, and sum aggregations all extend this
// single pipeline so the match conditions can never drift apart.
func listBasePipeline(filter ListFilter) []bson.D {
	pipeline := []bson.D{agentMatchStage(filter.AgentCode)}

	switch filter.Status {
	case StatusPrepared, StatusConfirmed:
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{"status": string(filter.Status)}}})
	}
	// Any other status value means "all": no filter stage.

	pipeline = append(pipeline, storeJoinStages()...)

	if filter.SearchTerm != "" {
		re := primitive.Regex{Pattern: escapeRegex(filter.SearchTerm), Options: "i"}
		// Post-join so the search can match the joined store name.
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"storecode": re},
			bson.M{"store.storename": re},
			bson.M{"membernickname": re},
			bson.M{"fromwalletaddress": re},
			bson.M{"towalletaddress": re},
			bson.M{"transactionhash": re},
		}}}})
	}

	return pipeline
}

// newestFirstStages sort most-recent-first: a missing confirmedat
// sorts as greater than any confirmation time, then confirmedat and
// createdat descend, with _id as a deterministic tie-break.
func newestFirstStages(descending bool) []bson.D {
	dir := -1
	if !descending {
		dir = 1
	}
	return []bson.D{
		{{Key: "$addFields", Value: bson.M{
			"unconfirmedrank": bson.M{"$cond": bson.A{
				bson.M{"$ifNull": bson.A{"$confirmedat", false}}, 0, 1,
			}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "unconfirmedrank", Value: dir},
			{Key: "confirmedat", Value: dir},
			{Key: "createdat", Value: dir},
			{Key: "_id", Value: dir},
		}}},
		{{Key: "$unset", Value: "unconfirmedrank"}},
	}
}

// ListPayments runs three aggregations over the identical base
// pipeline: the sorted page, the total row count, and amount sums over
// the full match.
func (s *MongoDBStore) ListPayments(ctx context.Context, filter ListFilter) (ListChunk, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	base := listBasePipeline(filter)

	pagePipeline := append(append([]bson.D{}, base...), newestFirstStages(true)...)
	if filter.Skip > 0 {
		pagePipeline = append(pagePipeline, bson.D{{Key: "$skip", Value: filter.Skip}})
	}
	if filter.Limit > 0 {
		pagePipeline = append(pagePipeline, bson.D{{Key: "$limit", Value: filter.Limit}})
	}

	chunk := ListChunk{Payments: []Payment{}}

	cursor, err := s.payments.Aggregate(ctx, pagePipeline)
	if err != nil {
		return ListChunk{}, fmt.Errorf("aggregate payments page: %w", err)
	}
	if err := cursor.All(ctx, &chunk.Payments); err != nil {
		return ListChunk{}, fmt.Errorf("decode payments page: %w", err)
	}
	if chunk.Payments == nil {
		chunk.Payments = []Payment{}
	}

	countPipeline := append(append([]bson.D{}, base...), bson.D{{Key: "$count", Value: "count"}})
	var countDocs []struct {
		Count int64 `bson:"count"`
	}
	cursor, err = s.payments.Aggregate(ctx, countPipeline)
	if err != nil {
		return ListChunk{}, fmt.Errorf("aggregate payments count: %w", err)
	}
	if err := cursor.All(ctx, &countDocs); err != nil {
		return ListChunk{}, fmt.Errorf("decode payments count: %w", err)
	}
	if len(countDocs) > 0 {
		chunk.TotalCount = countDocs[0].Count
	}

	sumPipeline := append(append([]bson.D{}, base...), bson.D{{Key: "$group", Value: bson.M{
		"_id":        nil,
		"usdtamount": bson.M{"$sum": "$usdtamount"},
		"krwamount":  bson.M{"$sum": "$krwamount"},
	}}})
	var sumDocs []struct {
		UsdtAmount float64 `bson:"usdtamount"`
		KrwAmount  float64 `bson:"krwamount"`
	}
	cursor, err = s.payments.Aggregate(ctx, sumPipeline)
	if err != nil {
		return ListChunk{}, fmt.Errorf("aggregate payments sums: %w", err)
	}
	if err := cursor.All(ctx, &sumDocs); err != nil {
		return ListChunk{}, fmt.Errorf("decode payments sums: %w", err)
	}
	if len(sumDocs) > 0 {
		chunk.TotalUsdtAmount = sumDocs[0].UsdtAmount
		chunk.TotalKrwAmount = sumDocs[0].KrwAmount
	}

	return chunk, nil
}

// bucketDateFormat maps a bucket unit to the $dateToString format
// producing the unit's canonical UTC bucket key.
func bucketDateFormat(unit BucketUnit) string {
	switch unit {
	case BucketHourly:
		return "%Y-%m-%d %H:00"
	case BucketDaily:
		return "%Y-%m-%d"
	default:
		return "%Y-%m"
	}
}

// BucketTotals groups confirmed payments by UTC bucket key. The event
// time is the confirmation time when present, otherwise the creation
// time; documents where neither is a date drop out of the $gte match.
func (s *MongoDBStore) BucketTotals(ctx context.Context, agentCode string, unit BucketUnit, since time.Time) (map[string]Totals, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	pipeline := []bson.D{
		agentMatchStage(agentCode),
		{{Key: "$match", Value: bson.M{"status": string(StatusConfirmed)}}},
		{{Key: "$addFields", Value: bson.M{
			"eventat": bson.M{"$ifNull": bson.A{"$confirmedat", "$createdat"}},
		}}},
		{{Key: "$match", Value: bson.M{"eventat": bson.M{"$gte": since.UTC()}}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$dateToString": bson.M{
				"format":   bucketDateFormat(unit),
				"date":     "$eventat",
				"timezone": "UTC",
			}},
			"count":      bson.M{"$sum": 1},
			"usdtamount": bson.M{"$sum": "$usdtamount"},
			"krwamount":  bson.M{"$sum": "$krwamount"},
		}}},
	}

	cursor, err := s.payments.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate bucket totals: %w", err)
	}

	var docs []struct {
		Bucket     string  `bson:"_id"`
		Count      int64   `bson:"count"`
		UsdtAmount float64 `bson:"usdtamount"`
		KrwAmount  float64 `bson:"krwamount"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode bucket totals: %w", err)
	}

	grouped := make(map[string]Totals, len(docs))
	for _, d := range docs {
		grouped[d.Bucket] = Totals{Count: d.Count, UsdtAmount: d.UsdtAmount, KrwAmount: d.KrwAmount}
	}
	return grouped, nil
}

// ConfirmedTotals sums all confirmed payments for the agent, all-time.
func (s *MongoDBStore) ConfirmedTotals(ctx context.Context, agentCode string) (Totals, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	pipeline := []bson.D{
		agentMatchStage(agentCode),
		{{Key: "$match", Value: bson.M{"status": string(StatusConfirmed)}}},
		{{Key: "$group", Value: bson.M{
			"_id":        nil,
			"count":      bson.M{"$sum": 1},
			"usdtamount": bson.M{"$sum": "$usdtamount"},
			"krwamount":  bson.M{"$sum": "$krwamount"},
		}}},
	}

	cursor, err := s.payments.Aggregate(ctx, pipeline)
	if err != nil {
		return Totals{}, fmt.Errorf("aggregate confirmed totals: %w", err)
	}

	var docs []Totals
	if err := cursor.All(ctx, &docs); err != nil {
		return Totals{}, fmt.Errorf("decode confirmed totals: %w", err)
	}
	if len(docs) == 0 {
		return Totals{}, nil
	}
	return docs[0], nil
}

// pendingBasePipeline matches confirmed payments whose normalized
// orderprocessing flag is not COMPLETED. Records written before the
// flag existed count as PROCESSING.
func pendingBasePipeline(agentCode string) []bson.D {
	return []bson.D{
		agentMatchStage(agentCode),
		{{Key: "$match", Value: bson.M{"status": string(StatusConfirmed)}}},
		{{Key: "$addFields", Value: bson.M{
			"opnorm": bson.M{"$toUpper": bson.M{"$ifNull": bson.A{
				"$orderprocessing", string(OrderProcessingInProgress),
			}}},
			"eventat": bson.M{"$ifNull": bson.A{"$confirmedat", "$createdat"}},
		}}},
		{{Key: "$match", Value: bson.M{"opnorm": bson.M{"$ne": string(OrderProcessingCompleted)}}}},
	}
}

// PendingSummary computes the pending count, the oldest pending event
// time, and the most recent pending payments with store metadata.
func (s *MongoDBStore) PendingSummary(ctx context.Context, agentCode string, limit int) (PendingChunk, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	base := pendingBasePipeline(agentCode)
	chunk := PendingChunk{RecentPayments: []Payment{}}

	countPipeline := append(append([]bson.D{}, base...), bson.D{{Key: "$count", Value: "count"}})
	var countDocs []struct {
		Count int64 `bson:"count"`
	}
	cursor, err := s.payments.Aggregate(ctx, countPipeline)
	if err != nil {
		return PendingChunk{}, fmt.Errorf("aggregate pending count: %w", err)
	}
	if err := cursor.All(ctx, &countDocs); err != nil {
		return PendingChunk{}, fmt.Errorf("decode pending count: %w", err)
	}
	if len(countDocs) > 0 {
		chunk.PendingCount = countDocs[0].Count
	}

	oldestPipeline := append(append([]bson.D{}, base...),
		bson.D{{Key: "$sort", Value: bson.D{{Key: "eventat", Value: 1}, {Key: "_id", Value: 1}}}},
		bson.D{{Key: "$limit", Value: 1}},
		bson.D{{Key: "$project", Value: bson.M{"eventat": 1}}},
	)
	var oldestDocs []struct {
		EventAt *time.Time `bson:"eventat"`
	}
	cursor, err = s.payments.Aggregate(ctx, oldestPipeline)
	if err != nil {
		return PendingChunk{}, fmt.Errorf("aggregate oldest pending: %w", err)
	}
	if err := cursor.All(ctx, &oldestDocs); err != nil {
		return PendingChunk{}, fmt.Errorf("decode oldest pending: %w", err)
	}
	if len(oldestDocs) > 0 && oldestDocs[0].EventAt != nil {
		at := oldestDocs[0].EventAt.UTC()
		chunk.OldestPendingAt = &at
	}

	recentPipeline := append(append([]bson.D{}, base...),
		bson.D{{Key: "$sort", Value: bson.D{{Key: "eventat", Value: -1}, {Key: "_id", Value: -1}}}},
		bson.D{{Key: "$limit", Value: limit}},
	)
	recentPipeline = append(recentPipeline, storeJoinStages()...)
	recentPipeline = append(recentPipeline, bson.D{{Key: "$unset", Value: bson.A{"opnorm", "eventat"}}})
	cursor, err = s.payments.Aggregate(ctx, recentPipeline)
	if err != nil {
		return PendingChunk{}, fmt.Errorf("aggregate recent pending: %w", err)
	}
	if err := cursor.All(ctx, &chunk.RecentPayments); err != nil {
		return PendingChunk{}, fmt.Errorf("decode recent pending: %w", err)
	}
	if chunk.RecentPayments == nil {
		chunk.RecentPayments = []Payment{}
	}

	return chunk, nil
}

// InsertPayment stores a new payment document.
func (s *MongoDBStore) InsertPayment(ctx context.Context, p Payment) error {
	if err := validatePayment(&p); err != nil {
		return err
	}
	p.Store = StoreInfo{} // join output only, never persisted

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.payments.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("payment already exists: %s", p.ID)
	}
	return err
}

// GetPayment retrieves a payment by ID with store metadata joined.
func (s *MongoDBStore) GetPayment(ctx context.Context, id string) (Payment, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	pipeline := append([]bson.D{
		{{Key: "$match", Value: bson.M{"_id": id}}},
		{{Key: "$limit", Value: 1}},
	}, storeJoinStages()...)

	cursor, err := s.payments.Aggregate(ctx, pipeline)
	if err != nil {
		return Payment{}, fmt.Errorf("aggregate payment: %w", err)
	}

	var docs []Payment
	if err := cursor.All(ctx, &docs); err != nil {
		return Payment{}, fmt.Errorf("decode payment: %w", err)
	}
	if len(docs) == 0 {
		return Payment{}, ErrNotFound
	}
	return docs[0], nil
}

// ConfirmPayment moves a prepared payment to confirmed. The filter
// pins status=prepared so concurrent confirmations cannot double-stamp.
func (s *MongoDBStore) ConfirmPayment(ctx context.Context, id, fromWallet, txHash string, confirmedAt time.Time) (Payment, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	set := bson.M{
		"status":      string(StatusConfirmed),
		"confirmedat": confirmedAt.UTC(),
	}
	if fromWallet != "" {
		set["fromwalletaddress"] = fromWallet
	}
	if txHash != "" {
		set["transactionhash"] = txHash
	}

	result, err := s.payments.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(StatusPrepared)},
		bson.M{"$set": set},
	)
	if err != nil {
		return Payment{}, err
	}
	if result.MatchedCount == 0 {
		// Distinguish missing from already-confirmed.
		count, err := s.payments.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return Payment{}, err
		}
		if count == 0 {
			return Payment{}, ErrNotFound
		}
		return Payment{}, ErrAlreadyConfirmed
	}

	return s.GetPayment(ctx, id)
}

// SetOrderProcessing updates the manual workflow flag on an existing
// payment and returns the persisted record read back from the store.
func (s *MongoDBStore) SetOrderProcessing(ctx context.Context, id string, op OrderProcessing, updatedAt time.Time) (Payment, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.payments.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"orderprocessing":          string(op),
			"orderprocessingupdatedat": updatedAt.UTC(),
		}},
	)
	if err != nil {
		return Payment{}, err
	}
	if result.MatchedCount == 0 {
		return Payment{}, ErrNotFound
	}

	return s.GetPayment(ctx, id)
}

// mongoStoreDoc is the stores collection document. The _id is the
// lowercased storecode so upserts are idempotent across case variants.
type mongoStoreDoc struct {
	ID        string `bson:"_id"`
	StoreCode string `bson:"storecode"`
	AgentCode string `bson:"agentcode"`
	StoreName string `bson:"storename"`
	StoreLogo string `bson:"storelogo"`
}

// SaveStore persists or updates store metadata.
func (s *MongoDBStore) SaveStore(ctx context.Context, info StoreInfo) error {
	code := normalizeCode(info.StoreCode)
	if code == "" {
		return fmt.Errorf("storecode required")
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	doc := mongoStoreDoc{
		ID:        code,
		StoreCode: info.StoreCode,
		AgentCode: info.AgentCode,
		StoreName: info.StoreName,
		StoreLogo: info.StoreLogo,
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.stores.ReplaceOne(ctx, bson.M{"_id": code}, doc, opts)
	return err
}

// GetStore retrieves store metadata by storecode.
func (s *MongoDBStore) GetStore(ctx context.Context, storeCode string) (StoreInfo, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc mongoStoreDoc
	err := s.stores.FindOne(ctx, bson.M{"_id": normalizeCode(storeCode)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return StoreInfo{}, ErrNotFound
	}
	if err != nil {
		return StoreInfo{}, err
	}
	return StoreInfo{
		StoreCode: doc.StoreCode,
		AgentCode: doc.AgentCode,
		StoreName: doc.StoreName,
		StoreLogo: doc.StoreLogo,
	}, nil
}

// ListStoresByAgent returns all stores belonging to the agent.
func (s *MongoDBStore) ListStoresByAgent(ctx context.Context, agentCode string) ([]StoreInfo, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	filter := bson.M{"$expr": bson.M{"$eq": bson.A{
		bson.M{"$toLower": "$agentcode"},
		normalizeCode(agentCode),
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := s.stores.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find stores: %w", err)
	}
	defer cursor.Close(ctx)

	infos := []StoreInfo{}
	for cursor.Next(ctx) {
		var doc mongoStoreDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode store: %w", err)
		}
		infos = append(infos, StoreInfo{
			StoreCode: doc.StoreCode,
			AgentCode: doc.AgentCode,
			StoreName: doc.StoreName,
			StoreLogo: doc.StoreLogo,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return infos, nil
}
