package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mailroute/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// FindByID retrieves a message by ID.
func (s *Store) FindByID(ctx context.Context, id int64) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc messageDoc
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return doc.toMessage(), nil
}

// ActiveInbox returns non-trashed, non-staged messages for a recipient.
func (s *Store) ActiveInbox(ctx context.Context, recipientID int64) ([]*store.Message, error) {
	return s.findMessages(ctx, "active inbox", activeFilter(recipientID),
		mongoopts.Find().SetSort(newestFirst))
}

// Search returns active inbox messages whose field contains substr.
// The input is escaped, so it matches literally.
func (s *Store) Search(ctx context.Context, recipientID int64, field store.SearchField, substr string) ([]*store.Message, error) {
	if !field.Searchable() {
		return s.ActiveInbox(ctx, recipientID)
	}

	filter := activeFilter(recipientID)
	filter[string(field)] = bson.M{"$regex": escapeRegex(substr), "$options": "i"}
	return s.findMessages(ctx, "search", filter, mongoopts.Find().SetSort(newestFirst))
}

// StagedFor returns staged, non-trashed messages ordered by rank.
func (s *Store) StagedFor(ctx context.Context, recipientID int64) ([]*store.Message, error) {
	filter := recipientFilter(recipientID, bson.M{"staged": true, "deleted_at": nil})
	sort := bson.D{{Key: "priority_rank", Value: 1}, {Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}}
	return s.findMessages(ctx, "staged", filter, mongoopts.Find().SetSort(sort))
}

// Trash returns messages trashed at or after cutoff.
func (s *Store) Trash(ctx context.Context, recipientID int64, cutoff time.Time) ([]*store.Message, error) {
	filter := recipientFilter(recipientID, bson.M{"deleted_at": bson.M{"$ne": nil, "$gt": cutoff.UTC()}})
	sort := bson.D{{Key: "deleted_at", Value: -1}, {Key: "_id", Value: -1}}
	return s.findMessages(ctx, "trash", filter, mongoopts.Find().SetSort(sort))
}

// ExpiredTrash returns up to limit messages trashed before cutoff, oldest first.
func (s *Store) ExpiredTrash(ctx context.Context, cutoff time.Time, limit int) ([]*store.Message, error) {
	filter := bson.M{"deleted_at": bson.M{"$ne": nil, "$lte": cutoff.UTC()}}
	opts := mongoopts.Find().SetSort(bson.D{{Key: "deleted_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findMessages(ctx, "expired trash", filter, opts)
}

func (s *Store) findMessages(ctx context.Context, op string, filter bson.M, opts *mongoopts.FindOptionsBuilder) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s decode: %w", op, err)
	}

	out := make([]*store.Message, len(docs))
	for i := range docs {
		out[i] = docs[i].toMessage()
	}
	return out, nil
}
