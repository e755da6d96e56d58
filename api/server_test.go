package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/ai/mock"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/query"
	"github.com/poiesic/boardmax/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAsker is a test double for the query service.
type fakeAsker struct {
	mu        sync.Mutex
	askFunc   func(ctx context.Context, in *query.Input) (*core.Answer, error)
	lastInput *query.Input
	callCount int
}

func (f *fakeAsker) Ask(ctx context.Context, in *query.Input) (*core.Answer, error) {
	f.mu.Lock()
	f.callCount++
	f.lastInput = in
	f.mu.Unlock()
	if f.askFunc != nil {
		return f.askFunc(ctx, in)
	}
	return &core.Answer{Answer: "- **Refraction**", Mode: core.ModeOptimizer, Subject: in.Subject, SourcesCount: 2}, nil
}

func (f *fakeAsker) Subjects() []string {
	return []string{"chemistry", "physics"}
}

func (f *fakeAsker) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

func newTestServer(t *testing.T, asker Asker, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer(asker, opts...)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

const validAsk = `{"question":"Define refraction of light.","subject":"physics","mode":"optimizer","student_answer":"light bends"}`

func TestNewServer_RequiresAsker(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)

	_, err = NewServer(&fakeAsker{}, WithRateLimit(0, time.Minute))
	assert.Error(t, err)
}

func TestAsk_Success(t *testing.T) {
	asker := &fakeAsker{}
	srv := newTestServer(t, asker)

	status, body := do(t, srv, http.MethodPost, "/api/ask", validAsk)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "- **Refraction**", body["answer"])
	assert.Equal(t, "optimizer", body["mode"])
	assert.Equal(t, "physics", body["subject"])
	assert.EqualValues(t, 2, body["sources_count"])

	require.NotNil(t, asker.lastInput)
	assert.Equal(t, "light bends", asker.lastInput.StudentAnswer)
}

func TestAsk_BadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"malformed", `{"question":`},
		{"not an object", `["question"]`},
		{"unknown field", `{"question":"Define refraction of light.","subject":"physics","mode":"optimizer","extra":1}`},
		{"wrong type", `{"question":42,"subject":"physics","mode":"optimizer"}`},
		{"trailing data", validAsk + `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asker := &fakeAsker{}
			srv := newTestServer(t, asker, WithRateLimit(100, time.Minute))

			status, body := do(t, srv, http.MethodPost, "/api/ask", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["detail"])
			assert.Equal(t, 0, asker.CallCount())
		})
	}
}

func TestAsk_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "validation",
			err:        &query.ValidationError{Field: "question", Message: "question is too short"},
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "question is too short",
		},
		{
			name:       "retrieval",
			err:        &query.RetrievalError{Err: errors.New("connection refused to db at 10.0.0.3")},
			wantStatus: http.StatusServiceUnavailable,
			wantDetail: query.MsgIndexUnavailable,
		},
		{
			name:       "generation",
			err:        &query.GenerationError{Err: errors.New("upstream said: api key sk-123 invalid")},
			wantStatus: http.StatusBadGateway,
			wantDetail: query.MsgServerBusy,
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantDetail: query.MsgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asker := &fakeAsker{askFunc: func(context.Context, *query.Input) (*core.Answer, error) {
				return nil, tt.err
			}}
			srv := newTestServer(t, asker)

			status, body := do(t, srv, http.MethodPost, "/api/ask", validAsk)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantDetail, body["detail"])
		})
	}
}

func TestAsk_PanicRecovered(t *testing.T) {
	asker := &fakeAsker{askFunc: func(context.Context, *query.Input) (*core.Answer, error) {
		panic("index exploded")
	}}
	srv := newTestServer(t, asker)

	status, body := do(t, srv, http.MethodPost, "/api/ask", validAsk)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, query.MsgInternal, body["detail"])
}

func TestAsk_RateLimited(t *testing.T) {
	asker := &fakeAsker{}
	srv := newTestServer(t, asker)

	for i := 0; i < DefaultRateLimit; i++ {
		status, _ := do(t, srv, http.MethodPost, "/api/ask", validAsk)
		require.Equal(t, http.StatusOK, status, "request %d", i+1)
	}

	status, body := do(t, srv, http.MethodPost, "/api/ask", validAsk)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, query.MsgTooManyRequests, body["detail"])
	assert.Equal(t, DefaultRateLimit, asker.CallCount())

	// Other endpoints are not limited
	status, _ = do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestAsk_RateLimitWindowResets(t *testing.T) {
	srv := newTestServer(t, &fakeAsker{}, WithRateLimit(1, time.Second))

	status, _ := do(t, srv, http.MethodPost, "/api/ask", validAsk)
	require.Equal(t, http.StatusOK, status)
	status, _ = do(t, srv, http.MethodPost, "/api/ask", validAsk)
	require.Equal(t, http.StatusTooManyRequests, status)

	// The limiter's clock has one-second resolution
	time.Sleep(2100 * time.Millisecond)
	status, _ = do(t, srv, http.MethodPost, "/api/ask", validAsk)
	assert.Equal(t, http.StatusOK, status)
}

func TestHealthAndRoot(t *testing.T) {
	srv := newTestServer(t, &fakeAsker{})

	status, body := do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, serviceName, body["service"])
	assert.Equal(t, []any{"/api/ask", "/api/health"}, body["endpoints"])
	assert.Equal(t, []any{"chemistry", "physics"}, body["subjects"])

	status, body = do(t, srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, systemName, body["system"])
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, &fakeAsker{})

	status, body := do(t, srv, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, body["detail"])
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, &fakeAsker{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, &fakeAsker{}, WithAllowedOrigins("https://boardmax.example"))

	req := httptest.NewRequest(http.MethodOptions, "/api/ask", nil)
	req.Header.Set("Origin", "https://boardmax.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://boardmax.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAsk_WithQueryService(t *testing.T) {
	index, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	validator, err := query.NewValidator([]string{"physics"})
	require.NoError(t, err)

	generator := mock.NewMockGenerator()
	generator.GenerateFunc = func(ctx context.Context, _ *ai.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	svc, err := query.NewService(index, mock.NewMockEmbedder(), generator, validator,
		query.WithGenerationTimeout(20*time.Millisecond))
	require.NoError(t, err)
	srv := newTestServer(t, svc)

	t.Run("validation error is 422 with detail", func(t *testing.T) {
		status, body := do(t, srv, http.MethodPost, "/api/ask",
			`{"question":"short","subject":"physics","mode":"optimizer"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Contains(t, body["detail"], "too short")
		assert.Equal(t, 0, generator.CallCount())
	})

	t.Run("generation timeout is 502 and generic", func(t *testing.T) {
		status, body := do(t, srv, http.MethodPost, "/api/ask", validAsk)
		assert.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, query.MsgServerBusy, body["detail"])
		assert.Equal(t, 1, generator.CallCount())
	})
}
