package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"
)

// ArchiveRecord is the document written to an Archiver for a message that
// is about to be permanently removed.
type ArchiveRecord struct {
	Message    *Message  `json:"message"`
	Reason     string    `json:"reason"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Archive reasons.
const (
	// ReasonExpired marks messages removed by trash reclamation.
	ReasonExpired = "expired"
	// ReasonExplicit marks messages removed by an explicit permanent delete.
	ReasonExplicit = "explicit"
)

// Archiver keeps a copy of purged messages outside the message store.
// Implementations can support S3, GCS, local filesystem, etc.
type Archiver interface {
	// Archive stores the record and returns a URI identifying the copy.
	Archive(ctx context.Context, rec *ArchiveRecord) (uri string, err error)
}

// ArchiveContentType is the media type of encoded archive records.
const ArchiveContentType = "application/json"

// Encode returns the JSON form of the record.
func (r *ArchiveRecord) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// ObjectKey returns the object path for the record under prefix,
// partitioned by archive date: prefix/2006/01/02/<reason>-<id>-<suffix>.json.
// suffix keeps keys unique when a message ID is archived twice.
func (r *ArchiveRecord) ObjectKey(prefix, suffix string) string {
	var id int64
	if r.Message != nil {
		id = r.Message.ID
	}
	name := fmt.Sprintf("%s-%d-%s.json", r.Reason, id, suffix)
	return path.Join(prefix, r.ArchivedAt.UTC().Format("2006/01/02"), name)
}
