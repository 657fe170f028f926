package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcript-rag/internal/app"
	"transcript-rag/internal/bootstrap"
	"transcript-rag/internal/config"
	"transcript-rag/internal/model"
	"transcript-rag/internal/pkg/jwtutil"
	"transcript-rag/internal/transport/http/handler"
)

type stubAgent struct {
	result *model.QueryResult
	err    error
	got    app.AskInput
}

func (s *stubAgent) Ask(_ context.Context, in app.AskInput) (*model.QueryResult, error) {
	s.got = in
	return s.result, s.err
}

type stubCatalog struct{}

func (stubCatalog) Catalog(context.Context) (*app.Catalog, error) {
	return &app.Catalog{Shows: []string{"Daily"}, Hosts: []string{"Greg Miller"}}, nil
}

type stubFailures struct {
	limit int
}

func (s *stubFailures) List(_ context.Context, limit int) ([]model.CleaningFailure, error) {
	s.limit = limit
	return []model.CleaningFailure{{VideoID: "V1", StartTime: 1.5, Reason: "bad json"}}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func testRouter(agent *stubAgent, failures *stubFailures, auth bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{App: config.AppConfig{Name: "transcript-rag", Env: "test"}}
	health := handler.NewHealthHandler(&bootstrap.App{Config: cfg, StartedAt: time.Now()})
	return newRouter(health, handler.NewQueryHandler(agent, stubCatalog{}, failures), auth, "secret")
}

func do(t *testing.T, router *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func askRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAskEndpoint(t *testing.T) {
	agent := &stubAgent{result: &model.QueryResult{Question: "q", Answer: "Greg founded it."}}
	rec, body := do(t, testRouter(agent, &stubFailures{}, false), askRequest(`{"question":"who founded it?","top_k":3}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, body.Code)
	assert.Equal(t, app.AskInput{Question: "who founded it?", TopK: 3}, agent.got)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, "Greg founded it.", data["answer"])
	assert.Contains(t, data["markdown"], "**Sources:**")
}

func TestAskEndpointErrors(t *testing.T) {
	rec, body := do(t, testRouter(&stubAgent{}, &stubFailures{}, false), askRequest(`{"top_k":3}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 40000, body.Code)

	agent := &stubAgent{err: &app.UpstreamError{Stage: "answer", ID: "q", Err: errors.New("refused")}}
	rec, body = do(t, testRouter(agent, &stubFailures{}, false), askRequest(`{"question":"q"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 50300, body.Code)
}

func TestFailuresEndpoint(t *testing.T) {
	failures := &stubFailures{}
	router := testRouter(&stubAgent{}, failures, false)

	rec, _ := do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/failures?limit=5", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, failures.limit)

	rec, _ = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/failures?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetadataEndpoint(t *testing.T) {
	rec, body := do(t, testRouter(&stubAgent{}, &stubFailures{}, false), httptest.NewRequest(http.MethodGet, "/api/v1/metadata", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"shows":["Daily"],"hosts":["Greg Miller"]}`, string(body.Data))
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	router := testRouter(&stubAgent{}, &stubFailures{}, true)

	rec, body := do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/metadata", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 40100, body.Code)

	token, err := jwtutil.GenerateToken("secret", time.Minute, "test")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metadata", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, _ = do(t, router, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsMissingDatabase(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(&stubAgent{}, &stubFailures{}, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":{"ok":true,"message":"disabled"}`)
}
