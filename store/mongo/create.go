package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rbaliyan/mailroute/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateUser persists a new user and returns its ID.
func (s *Store) CreateUser(ctx context.Context, user *store.User) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if user == nil {
		return 0, fmt.Errorf("mongo: nil user")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	id, err := s.nextID(ctx, s.opts.users())
	if err != nil {
		return 0, err
	}

	doc := userDoc{
		ID:         id,
		Name:       user.Name,
		Email:      strings.TrimSpace(user.Email),
		Credential: user.Credential,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("email %q: %w", doc.Email, store.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// FindUser retrieves a user by ID.
func (s *Store) FindUser(ctx context.Context, id int64) (*store.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, nil)
}

// FindUserByEmail retrieves a user by exact email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"email": strings.TrimSpace(email)}, nil)
}

// FindUserByName retrieves the lowest-ID user with the given name.
func (s *Store) FindUserByName(ctx context.Context, name string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"name": name},
		mongoopts.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cursor, err := s.users.Find(ctx, bson.M{}, mongoopts.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list users decode: %w", err)
	}

	out := make([]*store.User, len(docs))
	for i := range docs {
		out[i] = docs[i].toUser()
	}
	return out, nil
}

// DeleteUser removes a user and every message they sent or received.
func (s *Store) DeleteUser(ctx context.Context, id int64) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return 0, store.ErrNotFound
	}

	msgs, err := s.collection.DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{"sender_id": id},
		bson.M{"recipient_id": id},
	}})
	if err != nil {
		s.logger.Warn("user removed but messages remain", "user_id", id, "error", err)
		return 0, fmt.Errorf("delete user messages: %w", err)
	}
	return msgs.DeletedCount, nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M, opts *mongoopts.FindOneOptionsBuilder) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var res *mongo.SingleResult
	if opts != nil {
		res = s.users.FindOne(ctx, filter, opts)
	} else {
		res = s.users.FindOne(ctx, filter)
	}

	var doc userDoc
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toUser(), nil
}
