package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logdict/backend/internal/dictionary"
	"github.com/logdict/backend/internal/dictstore"
	"github.com/logdict/backend/internal/export"
	"github.com/logdict/backend/internal/models"
	"github.com/logdict/backend/internal/parser"
	"github.com/logdict/backend/internal/session"
	"github.com/logdict/backend/internal/storage"
	"github.com/logdict/backend/internal/testutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const smallCorpus = "a b c\nb c d\na b c\n"

type testEnv struct {
	e      *echo.Echo
	files  *testutil.MockStorage
	builds *session.Manager
	dicts  *dictstore.PersistentStore
}

func newTestEnv(t *testing.T, persist bool) *testEnv {
	t.Helper()
	env := &testEnv{files: testutil.NewMockStorage(t.TempDir())}

	if persist {
		dicts, err := dictstore.NewPersistentStore(t.TempDir(), dictstore.Options{Threads: 1, MemoryLimit: "256MB", Logger: quiet})
		require.NoError(t, err)
		env.dicts = dicts
	}

	builds, err := session.NewManager(session.Config{
		Workers:    2,
		MaxWorkers: 8,
		Persist:    persist,
		Registry:   parser.NewRegistry(),
		Store:      env.dicts,
		Files:      env.files,
		Logger:     quiet,
	})
	require.NoError(t, err)
	t.Cleanup(builds.Close)
	env.builds = builds

	env.e = echo.New()
	SetupMiddleware(env.e, MiddlewareConfig{Logger: quiet})
	RegisterRoutes(env.e, NewHandlers(&Dependencies{
		Store:        env.files,
		Builds:       builds,
		Dictionaries: env.dicts,
		Registry:     parser.NewRegistry(),
		Version:      "test",
		Logger:       quiet,
	}))
	RegisterMetrics(env.e)
	return env
}

func (env *testEnv) do(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) postJSON(target string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	return env.do(http.MethodPost, target, bytes.NewReader(data), echo.MIMEApplicationJSON)
}

// build uploads content, starts a build and waits for it to finish.
func (env *testEnv) build(t *testing.T, content string, req map[string]interface{}) *models.BuildSession {
	t.Helper()
	info := env.files.AddFile(fmt.Sprintf("file-%d", env.files.GetFileCount()+1), "test.log", []byte(content))

	if req == nil {
		req = map[string]interface{}{}
	}
	req["fileId"] = info.ID
	rec := env.postJSON("/api/builds", req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started models.BuildSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := env.builds.Wait(ctx, started.ID)
	require.NoError(t, err)
	return done
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr), rec.Body.String())
	return apiErr
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestFiles(t *testing.T) {
	env := newTestEnv(t, false)

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "app.log")
	require.NoError(t, err)
	part.Write([]byte(smallCorpus))
	require.NoError(t, writer.Close())

	rec := env.do(http.MethodPost, "/api/files/upload", body, writer.FormDataContentType())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var info models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "app.log", info.Name)
	assert.Equal(t, int64(len(smallCorpus)), info.Size)

	rec = env.do(http.MethodGet, "/api/files/recent", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"app.log"`)

	rec = env.do(http.MethodGet, "/api/files/"+info.ID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodDelete, "/api/files/"+info.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/files/"+info.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}

func TestFiles_UploadWithoutFile(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(http.MethodPost, "/api/files/upload", strings.NewReader("{}"), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/files/recent?limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListFormats(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(http.MethodGet, "/api/formats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp formatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Formats, 8)
	assert.Equal(t, "HealthApp", resp.Formats[0].Name)
	assert.Equal(t, []string{"whitespace", "auto"}, resp.Reserved)
	assert.Equal(t, "whitespace", resp.Default)
}

func TestStartBuild_Validation(t *testing.T) {
	env := newTestEnv(t, false)
	env.files.AddFile("f1", "a.log", []byte(smallCorpus))

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
		code   string
	}{
		{"missing file id", map[string]interface{}{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"negative workers", map[string]interface{}{"fileId": "f1", "workers": -1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"huge workers", map[string]interface{}{"fileId": "f1", "workers": int64(1) << 40}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"workers over server limit", map[string]interface{}{"fileId": "f1", "workers": 9}, http.StatusBadRequest, "INVALID_CONFIGURATION"},
		{"unknown file", map[string]interface{}{"fileId": "nope"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown format", map[string]interface{}{"fileId": "f1", "format": "syslog-ng"}, http.StatusBadRequest, "UNKNOWN_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.postJSON("/api/builds", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}

	rec := env.do(http.MethodPost, "/api/builds", strings.NewReader("{bad"), echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildFlow(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.build(t, smallCorpus, nil)
	require.Equal(t, models.BuildStatusComplete, sess.Status, "errors: %v", sess.Errors)
	assert.Equal(t, models.FileStatusBuilt, env.files.Status(sess.FileID))

	rec := env.do(http.MethodGet, "/api/builds/"+sess.ID+"/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pairCount":3`)

	rec = env.do(http.MethodGet, "/api/builds", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), sess.ID)

	rec = env.do(http.MethodPost, "/api/builds/"+sess.ID+"/keepalive", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBuildPairsPaging(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.build(t, smallCorpus, nil)

	rec := env.do(http.MethodGet, "/api/builds/"+sess.ID+"/pairs?pageSize=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page pageResponse[export.PairEntry]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, []export.PairEntry{
		{A: "b", B: "c", Count: 3},
		{A: "a", B: "b", Count: 2},
	}, page.Items)

	rec = env.do(http.MethodGet, "/api/builds/"+sess.ID+"/pairs?page=2&pageSize=2", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, []export.PairEntry{{A: "c", B: "d", Count: 1}}, page.Items)

	rec = env.do(http.MethodGet, "/api/builds/"+sess.ID+"/pairs?page=9", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Items)
	assert.Equal(t, 3, page.Total)

	rec = env.do(http.MethodGet, "/api/builds/"+sess.ID+"/pairs?page=4611686018427387905&pageSize=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Items)
	assert.Equal(t, 3, page.Total)

	rec = env.do(http.MethodGet, "/api/builds/"+sess.ID+"/pairs?minCount=2", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)

	for _, q := range []string{"page=0", "pageSize=5000", "minCount=0", "page=x"} {
		rec = env.do(http.MethodGet, "/api/builds/"+sess.ID+"/pairs?"+q, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestBuildTriplesAndVocabulary(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.build(t, smallCorpus, nil)

	rec := env.do(http.MethodGet, "/api/builds/"+sess.ID+"/triples", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var triples pageResponse[export.TripleEntry]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &triples))
	assert.Equal(t, []export.TripleEntry{
		{A: "a", B: "b", C: "c", Count: 2},
		{A: "b", B: "c", C: "d", Count: 1},
	}, triples.Items)

	rec = env.do(http.MethodGet, "/api/builds/"+sess.ID+"/vocabulary", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var vocab pageResponse[string]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vocab))
	assert.Equal(t, []string{"a", "b", "c", "d"}, vocab.Items)

	rec = env.do(http.MethodGet, "/api/builds/"+sess.ID+"/vocabulary?token=d", nil, "")
	assert.JSONEq(t, `{"token":"d","contains":true}`, rec.Body.String())
	rec = env.do(http.MethodGet, "/api/builds/"+sess.ID+"/vocabulary?token=z", nil, "")
	assert.JSONEq(t, `{"token":"z","contains":false}`, rec.Body.String())
}

func TestBuildExportMsgpack(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.build(t, smallCorpus, nil)

	rec := env.do(http.MethodGet, "/api/builds/"+sess.ID+"/export/msgpack", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentTypeMsgpack, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "dict_"+sess.ID+".msgpack")

	snap, err := export.DecodeMsgpack(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, snap.BuildID)

	res, _, ok := env.builds.GetResult(sess.ID)
	require.True(t, ok)
	assert.True(t, res.Equal(snap.Result()))
}

func TestBuildFailedResults(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.build(t, "not a linux line\n", map[string]interface{}{"format": "Linux"})
	require.Equal(t, models.BuildStatusError, sess.Status)
	require.NotEmpty(t, sess.Errors)
	assert.Equal(t, 1, sess.Errors[0].Line)

	rec := env.do(http.MethodGet, "/api/builds/"+sess.ID+"/pairs", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodGet, "/api/builds/unknown/pairs", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodGet, "/api/builds/unknown/status", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodPost, "/api/builds/unknown/keepalive", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildProgressStream_Finished(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.build(t, smallCorpus, nil)

	rec := env.do(http.MethodGet, "/api/builds/"+sess.ID+"/progress", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "data: {"))
	assert.Contains(t, rec.Body.String(), `"status":"complete"`)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "data: "))

	rec = env.do(http.MethodGet, "/api/builds/unknown/progress", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildProgressStream_FollowsBuild(t *testing.T) {
	stub := newStubBuilds(models.BuildStatusBuilding)
	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{})
	RegisterRoutes(e, NewHandlers(&Dependencies{Store: testutil.NewMockStorage(t.TempDir()), Builds: stub, Logger: quiet}))

	go func() {
		time.Sleep(3 * progressInterval)
		stub.setStatus(models.BuildStatusComplete)
	}()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/builds/stub/progress", nil))
	body := rec.Body.String()
	assert.GreaterOrEqual(t, strings.Count(body, "data: "), 2)
	assert.Contains(t, body, `"status":"building"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), `}`))
	assert.Contains(t, body[strings.LastIndex(body, "data: "):], `"status":"complete"`)
}

func TestResultsOfRunningBuild(t *testing.T) {
	stub := newStubBuilds(models.BuildStatusReading)
	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{})
	RegisterRoutes(e, NewHandlers(&Dependencies{Store: testutil.NewMockStorage(t.TempDir()), Builds: stub}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/builds/stub/triples", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "reading")
}

func TestDictionaries(t *testing.T) {
	env := newTestEnv(t, true)
	sess := env.build(t, smallCorpus, nil)
	require.True(t, sess.Persisted, "errors: %v", sess.Errors)

	rec := env.do(http.MethodGet, "/api/dictionaries", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), sess.ID)

	rec = env.do(http.MethodGet, "/api/dictionaries/"+sess.ID+"/top?limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var top struct {
		Meta    dictstore.Meta     `json:"meta"`
		Kind    string             `json:"kind"`
		Entries []export.PairEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &top))
	assert.Equal(t, "pairs", top.Kind)
	assert.Equal(t, sess.ID, top.Meta.BuildID)
	assert.Equal(t, []export.PairEntry{{A: "b", B: "c", Count: 3}}, top.Entries)

	rec = env.do(http.MethodGet, "/api/dictionaries/"+sess.ID+"/top?kind=triples&minCount=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
	assert.NotContains(t, rec.Body.String(), `"count":1`)

	rec = env.do(http.MethodGet, "/api/dictionaries/"+sess.ID+"/top?kind=quads", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodDelete, "/api/dictionaries/"+sess.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(http.MethodDelete, "/api/dictionaries/"+sess.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodGet, "/api/dictionaries/"+sess.ID+"/top", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDictionaries_Disabled(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(http.MethodGet, "/api/dictionaries", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, rec).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.build(t, smallCorpus, nil)

	rec := env.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "logdict_build_total")
	assert.Contains(t, rec.Body.String(), "logdict_active_builds")
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{NewConflictError("x"), http.StatusConflict, "CONFLICT"},
		{echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "HTTP_ERROR"},
		{fmt.Errorf("lookup: %w", storage.ErrFileNotFound), http.StatusNotFound, "NOT_FOUND"},
		{session.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{dictstore.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{&dictionary.ConfigurationError{Field: "workers", Value: 0, Reason: "must be at least 1"}, http.StatusBadRequest, "INVALID_CONFIGURATION"},
		{fmt.Errorf("%w: x", parser.ErrUnknownFormat), http.StatusBadRequest, "UNKNOWN_FORMAT"},
		{fmt.Errorf("%w (limit 10)", session.ErrTooManyBuilds), http.StatusServiceUnavailable, "TOO_MANY_BUILDS"},
		{errors.New("boom"), http.StatusInternalServerError, "UNKNOWN_ERROR"},
	}
	for _, tt := range tests {
		got := toAPIError(tt.err)
		assert.Equal(t, tt.status, got.Status, tt.err.Error())
		assert.Equal(t, tt.code, got.Code, tt.err.Error())
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		page, pageSize int
		want           []int
	}{
		{1, 2, []int{1, 2}},
		{3, 2, []int{5}},
		{4, 2, []int{}},
		{2, 5, []int{}},
		{1, 1000, []int{1, 2, 3, 4, 5}},
		{1 << 62, 2, []int{}},
		{math.MaxInt, 1000, []int{}},
	}
	for _, tt := range tests {
		got := paginate(items, tt.page, tt.pageSize)
		assert.Equal(t, tt.want, got.Items, "page %d size %d", tt.page, tt.pageSize)
		assert.Equal(t, 5, got.Total)
	}
	assert.Equal(t, []int{}, paginate([]int(nil), 1<<62, 3).Items)
}

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, SplitOrigins(" http://a, ,http://b "))
	assert.Nil(t, SplitOrigins(""))
}
