package mongo

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailroute/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// CountStates returns message counts per lifecycle state using a single
// aggregation. BSON orders null below dates, so deleted_at > null means
// trashed.
func (s *Store) CountStates(ctx context.Context, recipientID int64) (*store.Stats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	isTrashed := bson.M{"$gt": bson.A{"$deleted_at", nil}}
	count := func(cond any) bson.M {
		return bson.M{"$sum": bson.M{"$cond": bson.A{cond, 1, 0}}}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: recipientFilter(recipientID, bson.M{})}},
		{{Key: "$group", Value: bson.M{
			"_id":     nil,
			"trashed": count(isTrashed),
			"staged":  count(bson.M{"$and": bson.A{bson.M{"$not": bson.A{isTrashed}}, "$staged"}}),
			"active":  count(bson.M{"$and": bson.A{bson.M{"$not": bson.A{isTrashed}}, bson.M{"$not": bson.A{"$staged"}}}}),
		}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count states: %w", err)
	}
	defer cursor.Close(ctx)

	stats := &store.Stats{}
	if cursor.Next(ctx) {
		var row struct {
			Active  int64 `bson:"active"`
			Staged  int64 `bson:"staged"`
			Trashed int64 `bson:"trashed"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("count states decode: %w", err)
		}
		stats.Active, stats.Staged, stats.Trashed = row.Active, row.Staged, row.Trashed
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("count states: %w", err)
	}
	return stats, nil
}
