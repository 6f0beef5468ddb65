package mongo

import (
	"time"

	"github.com/rbaliyan/mailroute/content"
	"github.com/rbaliyan/mailroute/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// messageDoc is the stored form of a message. deleted_at is always
// written, as null when the message is not trashed.
type messageDoc struct {
	ID          int64      `bson:"_id"`
	SenderID    int64      `bson:"sender_id"`
	RecipientID int64      `bson:"recipient_id"`
	Subject     string     `bson:"subject"`
	BodyJSON    string     `bson:"body_json"`
	SentAt      time.Time  `bson:"sent_at"`
	Rank        int        `bson:"priority_rank"`
	DeletedAt   *time.Time `bson:"deleted_at"`
	Staged      bool       `bson:"staged"`
}

func (d *messageDoc) toMessage() *store.Message {
	env := content.Decode(d.BodyJSON)
	m := &store.Message{
		ID:          d.ID,
		SenderID:    d.SenderID,
		RecipientID: d.RecipientID,
		Subject:     d.Subject,
		Body:        env.Body,
		Metadata:    env.Metadata,
		SentAt:      d.SentAt.UTC(),
		Rank:        d.Rank,
		Staged:      d.Staged,
	}
	if d.DeletedAt != nil {
		t := d.DeletedAt.UTC()
		m.DeletedAt = &t
	}
	return m
}

type userDoc struct {
	ID         int64  `bson:"_id"`
	Name       string `bson:"name"`
	Email      string `bson:"email"`
	Credential string `bson:"credential"`
}

func (d *userDoc) toUser() *store.User {
	return &store.User{ID: d.ID, Name: d.Name, Email: d.Email, Credential: d.Credential}
}

// recipientFilter merges a recipient constraint into f unless recipientID
// is store.AllRecipients.
func recipientFilter(recipientID int64, f bson.M) bson.M {
	if recipientID != store.AllRecipients {
		f["recipient_id"] = recipientID
	}
	return f
}

func activeFilter(recipientID int64) bson.M {
	return bson.M{
		"recipient_id": recipientID,
		"deleted_at":   nil,
		"staged":       false,
	}
}

var newestFirst = bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}}
