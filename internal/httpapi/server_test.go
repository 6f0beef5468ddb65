package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rbaliyan/mailroute"
	"github.com/rbaliyan/mailroute/internal/metrics"
	"github.com/rbaliyan/mailroute/queue"
	"github.com/rbaliyan/mailroute/store"
	"github.com/rbaliyan/mailroute/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	eng     mailroute.Engine
	srv     *Server
	metrics *metrics.Plugin
	ana     *store.User
	bob     *store.User
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := metrics.New()
	eng, err := mailroute.NewEngine(
		mailroute.WithStore(memory.New()),
		mailroute.WithLogger(logger),
		mailroute.WithPlugin(p),
	)
	require.NoError(t, err)
	require.NoError(t, eng.Connect(ctx))
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	ana, err := eng.CreateUser(ctx, "Ana", "ana@example.com", "1234")
	require.NoError(t, err)
	bob, err := eng.CreateUser(ctx, "Bob", "bob@example.com", "5678")
	require.NoError(t, err)

	return &testServer{
		eng:     eng,
		srv:     New(eng, WithLogger(logger), WithMetrics(p), WithVersion("test")),
		metrics: p,
		ana:     ana,
		bob:     bob,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) submit(t *testing.T, subject, body string) mailroute.SubmitResult {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/messages", InputMessage{
		SenderID:    ts.ana.ID,
		RecipientID: ts.bob.ID,
		Subject:     subject,
		Body:        body,
	})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	return decode[mailroute.SubmitResult](t, rec)
}

func TestHealthCheck(t *testing.T) {
	ts := setupServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, rec.Body.String())

	require.NoError(t, ts.eng.Close(context.Background()))
	rec = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitRoutes(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/messages", InputMessage{
		SenderID: ts.ana.ID, RecipientID: ts.bob.ID, Subject: "Hola", Body: "hola bob", Rank: 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	delivered := decode[mailroute.SubmitResult](t, rec)
	assert.Equal(t, mailroute.Delivered, delivered.Outcome)
	assert.Equal(t, 3, delivered.Rank)

	staged := ts.submit(t, "Reunión", "URGENTE")
	assert.Equal(t, mailroute.Staged, staged.Outcome)
	assert.Equal(t, store.UrgentRank, staged.Rank)

	rec = ts.do(t, http.MethodPost, "/api/v1/messages", InputMessage{
		SenderID: ts.ana.ID, RecipientID: ts.bob.ID, Body: "spam spam",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	discarded := decode[mailroute.SubmitResult](t, rec)
	assert.Equal(t, mailroute.Discarded, discarded.Outcome)
	assert.Zero(t, discarded.ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/users/"+itoa(ts.bob.ID)+"/inbox", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decode[[]store.Message](t, rec)
	require.Len(t, inbox, 1)
	assert.Equal(t, delivered.ID, inbox[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/users/"+itoa(ts.bob.ID)+"/staged", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Message](t, rec), 1)
}

func TestSubmitErrors(t *testing.T) {
	ts := setupServer(t)

	tests := []struct {
		name string
		body any
		code int
		msg  string
	}{
		{"malformed json", "not an object", http.StatusBadRequest, "invalid request body"},
		{"missing sender", InputMessage{RecipientID: ts.bob.ID, Body: "x"}, http.StatusBadRequest, "SenderID is required"},
		{"negative rank", InputMessage{SenderID: ts.ana.ID, RecipientID: ts.bob.ID, Rank: -1}, http.StatusBadRequest, "Rank must not be negative"},
		{"unknown recipient", InputMessage{SenderID: ts.ana.ID, RecipientID: 999, Body: "x"}, http.StatusUnprocessableEntity, "unknown"},
		{"invalid content", InputMessage{SenderID: ts.ana.ID, RecipientID: ts.bob.ID, Body: "a\x00b"}, http.StatusBadRequest, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/messages", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			apiErr := decode[ApiError](t, rec)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Contains(t, apiErr.Message, tt.msg)
		})
	}
}

func TestMessageLifecycle(t *testing.T) {
	ts := setupServer(t)
	res := ts.submit(t, "Hola", "hola")
	path := "/api/v1/messages/" + itoa(res.ID)

	rec := ts.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hola", decode[store.Message](t, rec).Subject)

	rec = ts.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":`+itoa(res.ID)+`,"changed":true}`, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, path, nil)
	assert.JSONEq(t, `{"id":`+itoa(res.ID)+`,"changed":false}`, rec.Body.String(), "trashing twice is a no-op")

	rec = ts.do(t, http.MethodGet, "/api/v1/users/"+itoa(ts.bob.ID)+"/trash", nil)
	require.Len(t, decode[[]store.Message](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/trash", nil)
	require.Len(t, decode[[]store.Message](t, rec), 1)

	rec = ts.do(t, http.MethodPost, path+"/restore", nil)
	assert.JSONEq(t, `{"id":`+itoa(res.ID)+`,"changed":true}`, rec.Body.String())

	rec = ts.do(t, http.MethodPut, path+"/priority", nil)
	assert.JSONEq(t, `{"id":`+itoa(res.ID)+`,"changed":true}`, rec.Body.String())
	rec = ts.do(t, http.MethodGet, "/api/v1/staged", nil)
	require.Len(t, decode[[]store.Message](t, rec), 1)
	rec = ts.do(t, http.MethodDelete, path+"/priority", nil)
	assert.JSONEq(t, `{"id":`+itoa(res.ID)+`,"changed":true}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, path+"/purge", nil)
	assert.JSONEq(t, `{"id":`+itoa(res.ID)+`,"changed":true}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/messages/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchAndStats(t *testing.T) {
	ts := setupServer(t)
	ts.submit(t, "Factura de marzo", "hola")
	ts.submit(t, "Almuerzo", "hola")
	ts.submit(t, "Reunión", "urgente")

	rec := ts.do(t, http.MethodGet, "/api/v1/users/"+itoa(ts.bob.ID)+"/inbox?q=FACTURA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[[]store.Message](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, "Factura de marzo", found[0].Subject)

	rec = ts.do(t, http.MethodGet, "/api/v1/users/"+itoa(ts.bob.ID)+"/inbox?q=x&field=body", nil)
	assert.Len(t, decode[[]store.Message](t, rec), 2, "unsupported fields return the inbox")

	rec = ts.do(t, http.MethodGet, "/api/v1/users/"+itoa(ts.bob.ID)+"/stats", nil)
	assert.JSONEq(t, `{"active":2,"staged":1,"trashed":0,"total":3}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/users/"+itoa(ts.ana.ID)+"/inbox", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestStagingEndpoints(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/staging/next", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	first := ts.submit(t, "uno", "urgente")
	second := ts.submit(t, "dos", "urgente")

	rec = ts.do(t, http.MethodGet, "/api/v1/staging", nil)
	items := decode[[]queue.Item](t, rec)
	require.Len(t, items, 2)
	assert.Equal(t, queue.Item{Rank: 1, ID: first.ID}, items[0])

	rec = ts.do(t, http.MethodPost, "/api/v1/staging/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.ID, decode[store.Message](t, rec).ID)

	rec = ts.do(t, http.MethodPost, "/api/v1/staging/next", nil)
	assert.Equal(t, second.ID, decode[store.Message](t, rec).ID)
}

func TestUserEndpoints(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/users", InputUser{Name: "Carla", Email: "carla@example.com", Credential: "pw"})
	require.Equal(t, http.StatusCreated, rec.Code)
	carla := decode[store.User](t, rec)
	assert.NotContains(t, rec.Body.String(), "pw", "credentials are never serialized")

	rec = ts.do(t, http.MethodPost, "/api/v1/users", InputUser{Name: "Otra", Email: "carla@example.com", Credential: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/users", InputUser{Name: "Sin email", Credential: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ApiError](t, rec).Message, "Email is required")

	rec = ts.do(t, http.MethodGet, "/api/v1/users", nil)
	assert.Len(t, decode[[]store.User](t, rec), 3)

	rec = ts.do(t, http.MethodGet, "/api/v1/users/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/login", InputLogin{Email: "carla@example.com", Credential: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, carla.ID, decode[store.User](t, rec).ID)

	rec = ts.do(t, http.MethodPost, "/api/v1/login", InputLogin{Email: "carla@example.com", Credential: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/recover", InputRecover{Name: "Carla"})
	assert.JSONEq(t, `{"credential":"pw"}`, rec.Body.String())

	ts.submit(t, "hola", "hola")
	rec = ts.do(t, http.MethodDelete, "/api/v1/users/"+itoa(ts.bob.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted_messages":1}`, rec.Body.String())
}

func TestRulesEndpoints(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/rules", nil)
	assert.JSONEq(t, `[{"keyword":"urgente","verdict":"stage-priority"},{"keyword":"spam","verdict":"discard"}]`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/rules", RuleView{Keyword: "Casino", Verdict: "discard"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, mailroute.Discarded, ts.submit(t, "x", "gran CASINO online").Outcome)

	rec = ts.do(t, http.MethodPost, "/api/v1/rules", RuleView{Keyword: "x", Verdict: "none"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ApiError](t, rec).Message, "Verdict must be stage-priority or discard")
}

func TestReclaimAndSeed(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/reclaim", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"purged":0,"archived":0,"interrupted":false}`, rec.Body.String())

	// Users exist but are not the demo users, so seeding cannot find its sender.
	rec = ts.do(t, http.MethodPost, "/api/v1/seed", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupServer(t)
	ts.submit(t, "hola", "hola")
	ts.do(t, http.MethodPost, "/api/v1/messages", InputMessage{RecipientID: ts.bob.ID})

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mailroute_messages_submitted_total{outcome="delivered"} 1`)
	assert.Contains(t, body, "mailroute_messages_rejected_total 1")
	assert.Contains(t, body, `mailroute_http_requests_total{endpoint="/api/v1/messages",method="POST",status="201"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{mailroute.ErrInvalidMessage, http.StatusBadRequest},
		{&mailroute.ValidationError{Field: "body", Err: mailroute.ErrBodyTooLarge}, http.StatusBadRequest},
		{mailroute.ErrInvalidCredentials, http.StatusUnauthorized},
		{mailroute.ErrNotFound, http.StatusNotFound},
		{mailroute.ErrDuplicateEntry, http.StatusConflict},
		{mailroute.ErrUnknownUser, http.StatusUnprocessableEntity},
		{&mailroute.PluginError{Plugin: "quota", Op: "BeforeSubmit", Err: io.EOF}, http.StatusUnprocessableEntity},
		{&mailroute.ArchiveError{Failed: map[int64]error{1: io.EOF}}, http.StatusBadGateway},
		{mailroute.ErrNotConnected, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusFor(tt.err), tt.err.Error())
	}
}
