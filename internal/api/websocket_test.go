package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logdict/backend/internal/dictionary"
	"github.com/logdict/backend/internal/export"
	"github.com/logdict/backend/internal/models"
	"github.com/logdict/backend/internal/testutil"
)

// stubBuilds serves a single build with id "stub" whose status the test
// controls. It never has a result.
type stubBuilds struct {
	mu     sync.Mutex
	status models.BuildStatus
}

func newStubBuilds(status models.BuildStatus) *stubBuilds {
	return &stubBuilds{status: status}
}

func (s *stubBuilds) setStatus(status models.BuildStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *stubBuilds) StartBuild(fileID, filePath string, req models.BuildRequest) (*models.BuildSession, error) {
	return nil, errors.New("not supported")
}

func (s *stubBuilds) GetSession(id string) (*models.BuildSession, bool) {
	if id != "stub" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := models.NewBuildSession("stub", "file")
	sess.Status = s.status
	return sess, true
}

func (s *stubBuilds) List() []*models.BuildSession {
	sess, _ := s.GetSession("stub")
	return []*models.BuildSession{sess}
}

func (s *stubBuilds) TouchSession(id string) bool { return id == "stub" }

func (s *stubBuilds) GetResult(id string) (*dictionary.Result, *export.Snapshot, bool) {
	return nil, nil, false
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestBuildWebSocket_Complete(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.build(t, smallCorpus, nil)

	srv := httptest.NewServer(env.e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/builds/"+sess.ID+"/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, MsgTypeConnected, msg.Type)
	assert.Equal(t, sess.ID, msg.ID)

	msg = readMessage(t, conn)
	assert.Equal(t, MsgTypeComplete, msg.Type)
	assert.Contains(t, string(msg.Payload), `"pairCount":3`)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestBuildWebSocket_UnknownBuild(t *testing.T) {
	env := newTestEnv(t, false)
	srv := httptest.NewServer(env.e)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/builds/missing/ws"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBuildWebSocket_PingAndProgress(t *testing.T) {
	stub := newStubBuilds(models.BuildStatusBuilding)
	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{Logger: quiet})
	RegisterRoutes(e, NewHandlers(&Dependencies{Store: testutil.NewMockStorage(t.TempDir()), Builds: stub, Logger: quiet}))

	srv := httptest.NewServer(e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/builds/stub/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, MsgTypeConnected, readMessage(t, conn).Type)
	assert.Equal(t, MsgTypeProgress, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe"}))

	var sawPong, sawInvalid bool
	for !(sawPong && sawInvalid) {
		msg := readMessage(t, conn)
		switch {
		case msg.Type == MsgTypePong:
			sawPong = true
		case msg.Type == MsgTypeError && strings.Contains(string(msg.Payload), "INVALID_TYPE"):
			sawInvalid = true
		default:
			assert.Equal(t, MsgTypeProgress, msg.Type)
		}
	}

	stub.setStatus(models.BuildStatusError)
	for {
		msg := readMessage(t, conn)
		if msg.Type == MsgTypeError && strings.Contains(string(msg.Payload), `"status":"error"`) {
			break
		}
	}
}
