package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rbaliyan/mailroute"
	"github.com/rbaliyan/mailroute/store"
	"github.com/rbaliyan/mailroute/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestPluginCounters(t *testing.T) {
	ctx := context.Background()
	p := New()

	require.NoError(t, p.AfterSubmit(ctx, &store.Message{ID: 1}, mailroute.Delivered))
	require.NoError(t, p.AfterSubmit(ctx, &store.Message{ID: 2}, mailroute.Delivered))
	require.NoError(t, p.AfterSubmit(ctx, &store.Message{}, mailroute.Discarded))
	require.NoError(t, p.AfterPurge(ctx, store.ReasonExpired, 4))
	p.ObserveRejected()

	assert.Equal(t, 2.0, testutil.ToFloat64(p.submitted.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.submitted.WithLabelValues("discarded")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.purged.WithLabelValues(store.ReasonExpired)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.rejected))
}

func TestPluginWithEngine(t *testing.T) {
	ctx := context.Background()
	p := New()
	eng, err := mailroute.NewEngine(
		mailroute.WithStore(memory.New()),
		mailroute.WithPlugin(p),
	)
	require.NoError(t, err)
	p.WatchStaging(func() int { return len(eng.PeekStaged()) })

	require.NoError(t, eng.Connect(ctx))
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	ana, err := eng.CreateUser(ctx, "Ana", "ana@example.com", "1234")
	require.NoError(t, err)
	bob, err := eng.CreateUser(ctx, "Bob", "bob@example.com", "5678")
	require.NoError(t, err)

	for _, body := range []string{"hola", "urgente", "urgente", "spam"} {
		_, err := eng.Submit(ctx, &store.Message{SenderID: ana.ID, RecipientID: bob.ID, Body: body})
		require.NoError(t, err)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(p.submitted.WithLabelValues("delivered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.submitted.WithLabelValues("staged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.submitted.WithLabelValues("discarded")))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "mailroute_staging_buffer_entries 2")
	assert.Contains(t, string(body), `mailroute_messages_submitted_total{outcome="staged"} 2`)
}

func TestMiddleware(t *testing.T) {
	p := New()
	r := gin.New()
	r.Use(p.Middleware())
	r.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for range 3 {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/7", nil))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 3.0, testutil.ToFloat64(p.requests.WithLabelValues("GET", "/users/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues("GET", "unmatched", "404")))

	out := httptest.NewRecorder()
	p.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(out.Body.String(), "mailroute_http_response_time_milliseconds_bucket"))
}
