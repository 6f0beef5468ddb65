package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rbaliyan/mailroute/filter"
	"github.com/rbaliyan/mailroute/queue"
)

// RuleView is a routing rule on the wire.
type RuleView struct {
	Keyword string `json:"keyword" validate:"required"`
	Verdict string `json:"verdict" validate:"required,verdict"`
}

// PeekStaged lists buffered staging entries in dequeue order.
func (s *Server) PeekStaged(c *gin.Context) {
	items := s.engine.PeekStaged()
	if items == nil {
		items = []queue.Item{}
	}
	c.JSON(http.StatusOK, items)
}

// DequeueNextStaged pops the most urgent staged message. An empty
// buffer, or an entry whose message is gone, answers 204.
func (s *Server) DequeueNextStaged(c *gin.Context) {
	msg, err := s.engine.DequeueNextStaged(c.Request.Context())
	if err != nil {
		s.engineError(c, "dequeue", err)
		return
	}
	if msg == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Reclaim purges expired trash now.
func (s *Server) Reclaim(c *gin.Context) {
	res, err := s.engine.Reclaim(c.Request.Context())
	if err != nil {
		s.engineError(c, "reclaim", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListRules returns the routing rules in match order.
func (s *Server) ListRules(c *gin.Context) {
	rules := s.engine.Rules().List()
	out := make([]RuleView, 0, len(rules))
	for _, r := range rules {
		out = append(out, RuleView{Keyword: r.Keyword, Verdict: r.Verdict.String()})
	}
	c.JSON(http.StatusOK, out)
}

// AddRule appends a rule, or changes the verdict of an existing keyword.
func (s *Server) AddRule(c *gin.Context) {
	var in RuleView
	if !s.bind(c, &in) {
		return
	}
	v, _ := filter.ParseVerdict(in.Verdict)
	s.engine.Rules().Add(in.Keyword, v)
	s.logger.Info("routing rule added", "keyword", in.Keyword, "verdict", v.String())
	c.JSON(http.StatusCreated, RuleView{Keyword: in.Keyword, Verdict: v.String()})
}

// Seed creates the demo users and messages in an empty store.
func (s *Server) Seed(c *gin.Context) {
	res, err := s.engine.SeedDemo(c.Request.Context())
	if err != nil {
		s.engineError(c, "seed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
