package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rbaliyan/mailroute"
	"github.com/rbaliyan/mailroute/store"
)

// InputMessage is the body of POST /messages. The send time is always
// assigned by the engine.
type InputMessage struct {
	SenderID    int64          `json:"sender_id" validate:"required,gt=0"`
	RecipientID int64          `json:"recipient_id" validate:"required,gt=0"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	Metadata    map[string]any `json:"metadata"`
	Rank        int            `json:"priority_rank" validate:"gte=0"`
}

// Submit routes a message. Discarded messages answer 200 with a zero ID;
// stored ones answer 201.
func (s *Server) Submit(c *gin.Context) {
	var in InputMessage
	if !s.bind(c, &in) {
		s.observeRejected()
		return
	}
	res, err := s.engine.Submit(c.Request.Context(), &store.Message{
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		Subject:     in.Subject,
		Body:        in.Body,
		Metadata:    in.Metadata,
		Rank:        in.Rank,
	})
	if err != nil && res == nil {
		s.observeRejected()
		s.engineError(c, "submit", err)
		return
	}
	if err != nil {
		// The outcome stands; only a hook or event after it failed.
		s.logger.Warn("submit completed with error", "message_id", res.ID, "error", err)
	}
	code := http.StatusCreated
	if res.Outcome == mailroute.Discarded {
		code = http.StatusOK
	}
	c.JSON(code, res)
}

func (s *Server) observeRejected() {
	if s.metrics != nil {
		s.metrics.ObserveRejected()
	}
}

// GetMessage returns one message in any state.
func (s *Server) GetMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	msg, err := s.engine.Get(c.Request.Context(), id)
	if err != nil {
		s.engineError(c, "get message", err)
		return
	}
	if msg == nil {
		ApiErrorf(c, http.StatusNotFound, "message %d not found", id)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// mutation runs a boolean state change on the :id message and reports
// whether anything changed.
func (s *Server) mutation(op string, fn func(ctx context.Context, id int64) (bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		changed, err := fn(c.Request.Context(), id)
		if err != nil {
			s.engineError(c, op, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "changed": changed})
	}
}

// SoftDelete moves a message to the trash.
func (s *Server) SoftDelete(c *gin.Context) {
	s.mutation("trash", s.engine.SoftDelete)(c)
}

// Restore takes a message out of the trash.
func (s *Server) Restore(c *gin.Context) {
	s.mutation("restore", s.engine.Restore)(c)
}

// PermanentDelete removes a message in any state.
func (s *Server) PermanentDelete(c *gin.Context) {
	s.mutation("purge", s.engine.PermanentDelete)(c)
}

// MarkPriority stages a message.
func (s *Server) MarkPriority(c *gin.Context) {
	s.mutation("mark priority", s.engine.MarkPriority)(c)
}

// UnmarkPriority returns a staged message to the inbox.
func (s *Server) UnmarkPriority(c *gin.Context) {
	s.mutation("unmark priority", s.engine.UnmarkPriority)(c)
}

// listing writes msgs, or the error, for a recipient-scoped read.
func (s *Server) listing(c *gin.Context, op string, msgs []*store.Message, err error) {
	if err != nil {
		s.engineError(c, op, err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// Inbox lists the user's active mail. With ?q= it searches instead,
// on ?field= (default subject).
func (s *Server) Inbox(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if q, searching := c.GetQuery("q"); searching {
		field := store.SearchField(c.DefaultQuery("field", string(store.FieldSubject)))
		msgs, err := s.engine.Search(ctx, id, field, q)
		s.listing(c, "search", msgs, err)
		return
	}
	msgs, err := s.engine.Inbox(ctx, id)
	s.listing(c, "inbox", msgs, err)
}

// StagedFor lists the user's staged mail.
func (s *Server) StagedFor(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	msgs, err := s.engine.Staged(c.Request.Context(), id)
	s.listing(c, "staged", msgs, err)
}

// StagedAll lists staged mail across recipients.
func (s *Server) StagedAll(c *gin.Context) {
	msgs, err := s.engine.Staged(c.Request.Context(), store.AllRecipients)
	s.listing(c, "staged", msgs, err)
}

// TrashFor lists the user's trash within retention.
func (s *Server) TrashFor(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	msgs, err := s.engine.Trash(c.Request.Context(), id)
	s.listing(c, "trash", msgs, err)
}

// TrashAll lists trash across recipients.
func (s *Server) TrashAll(c *gin.Context) {
	msgs, err := s.engine.Trash(c.Request.Context(), store.AllRecipients)
	s.listing(c, "trash", msgs, err)
}

// StatsFor returns the user's per-state counts.
func (s *Server) StatsFor(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.stats(c, id)
}

// StatsAll returns per-state counts across recipients.
func (s *Server) StatsAll(c *gin.Context) {
	s.stats(c, store.AllRecipients)
}

func (s *Server) stats(c *gin.Context, recipientID int64) {
	st, err := s.engine.Stats(c.Request.Context(), recipientID)
	if err != nil {
		s.engineError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":  st.Active,
		"staged":  st.Staged,
		"trashed": st.Trashed,
		"total":   st.Total(),
	})
}
