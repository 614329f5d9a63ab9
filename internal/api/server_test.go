package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/internal/lecture"
	"liveclass/internal/presence"
	"liveclass/internal/testutil"
)

type stubStore struct {
	err error
}

func (s *stubStore) HealthCheck(ctx context.Context) error { return s.err }

type fixture struct {
	server   *Server
	store    *stubStore
	registry *presence.Registry
	lectures *lecture.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &fixture{
		store:    &stubStore{},
		registry: presence.NewRegistry(3, logger),
		lectures: lecture.NewCoordinator(lecture.Config{}, logger),
	}
	t.Cleanup(f.lectures.Stop)

	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	f.server = NewServer(f.store, f.registry, f.lectures, ws, logger)
	return f
}

func (f *fixture) get(t *testing.T, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	_, _ = f.registry.Add(testutil.NewConnection(testutil.Student("S")))

	var body HealthResponse
	rec := f.get(t, "/health", &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 1, body.Connections)
	assert.Positive(t, body.Goroutines)

	f.store.err = errors.New("disk gone")
	rec = f.get(t, "/health", &body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Contains(t, body.Database, "disk gone")
}

func TestConnections(t *testing.T) {
	f := newFixture(t)
	_, _ = f.registry.Add(testutil.NewConnection(testutil.Student("S")))
	_, _ = f.registry.Add(testutil.NewConnection(testutil.Student("S")))
	_, _ = f.registry.Add(testutil.NewConnection(testutil.Lecturer("L")))

	var all ConnectionsResponse
	rec := f.get(t, "/api/connections", &all)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, all.Count)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var user UserConnectionsResponse
	f.get(t, "/api/connections/S", &user)
	assert.True(t, user.Online)
	assert.Len(t, user.Connections, 2)

	f.get(t, "/api/connections/nobody", &user)
	assert.False(t, user.Online)
	assert.Empty(t, user.Connections)

	var errBody ErrorResponse
	rec = f.get(t, "/api/connections/bad%20id", &errBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusBadRequest, errBody.Code)
}

func TestLectures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lecturer := testutil.NewConnection(testutil.Lecturer("L"))
	_, err := f.lectures.Join(ctx, "R2", lecturer)
	require.NoError(t, err)
	_, err = f.lectures.Join(ctx, "R1", lecturer)
	require.NoError(t, err)

	var list LecturesResponse
	rec := f.get(t, "/api/lectures", &list)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, list.Lectures, 2)
	assert.Equal(t, "R1", list.Lectures[0].LectureID)
	assert.Equal(t, "R2", list.Lectures[1].LectureID)

	var errBody ErrorResponse
	rec = f.get(t, "/api/lectures/R9", &errBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.get(t, "/api/lectures/R1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"lectureId":"R1","participants":[{"userId":"L","role":"lecturer","displayName":"Lecturer L","handRaised":false}],"pendingRequests":[]}`,
		rec.Body.String())
}

func TestRouting(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/ws", nil)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	var errBody ErrorResponse
	rec = f.get(t, "/api/sessions", &errBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/lectures", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/lectures", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}
