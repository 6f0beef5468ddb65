package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/mailroute/content"
	"github.com/rbaliyan/mailroute/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Save persists a new message and returns its assigned ID.
// Returns store.ErrUnknownUser if the sender or recipient does not exist.
func (s *Store) Save(ctx context.Context, msg *store.Message) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, fmt.Errorf("mongo: nil message")
	}

	body, err := content.Encode(msg.Body, msg.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode body: %w", err)
	}
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.checkUsers(ctx, msg.SenderID, msg.RecipientID); err != nil {
		return 0, err
	}

	id, err := s.nextID(ctx, s.opts.messages())
	if err != nil {
		return 0, err
	}

	doc := messageDoc{
		ID:          id,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Subject:     msg.Subject,
		BodyJSON:    body,
		SentAt:      sentAt.UTC(),
		Rank:        store.NormalizeRank(msg.Rank),
		Staged:      msg.Staged,
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	return id, nil
}

// checkUsers verifies that every referenced user exists.
func (s *Store) checkUsers(ctx context.Context, ids ...int64) error {
	unique := make(map[int64]struct{}, len(ids))
	list := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := unique[id]; !ok {
			unique[id] = struct{}{}
			list = append(list, id)
		}
	}

	n, err := s.users.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": list}})
	if err != nil {
		return fmt.Errorf("check users: %w", err)
	}
	if n != int64(len(list)) {
		return fmt.Errorf("users %v: %w", list, store.ErrUnknownUser)
	}
	return nil
}

// SoftDelete sets the deletion timestamp if not already set.
func (s *Store) SoftDelete(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.updateOne(ctx, "soft delete",
		bson.M{"_id": id, "deleted_at": nil},
		bson.M{"$set": bson.M{"deleted_at": at.UTC()}})
}

// Restore clears the deletion timestamp.
func (s *Store) Restore(ctx context.Context, id int64) (bool, error) {
	return s.updateOne(ctx, "restore",
		bson.M{"_id": id, "deleted_at": bson.M{"$ne": nil}},
		bson.M{"$set": bson.M{"deleted_at": nil}})
}

// SetStaged sets or clears the staged flag.
func (s *Store) SetStaged(ctx context.Context, id int64, staged bool) (bool, error) {
	return s.updateOne(ctx, "set staged",
		bson.M{"_id": id, "staged": !staged},
		bson.M{"$set": bson.M{"staged": staged}})
}

// Purge permanently removes a message.
func (s *Store) Purge(ctx context.Context, id int64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("purge: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// PurgeExpired deletes messages trashed before cutoff, optionally limited to ids.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time, ids ...int64) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{"deleted_at": bson.M{"$ne": nil, "$lte": cutoff.UTC()}}
	if len(ids) > 0 {
		filter["_id"] = bson.M{"$in": ids}
	}

	res, err := s.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) updateOne(ctx context.Context, op string, filter, update bson.M) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return res.ModifiedCount > 0, nil
}
