package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot/webpilot/internal/api"
	"github.com/webpilot/webpilot/internal/artifact"
	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/internal/browser/browsertest"
	"github.com/webpilot/webpilot/internal/executor"
	"github.com/webpilot/webpilot/internal/proxy"
	"github.com/webpilot/webpilot/internal/ratelimit"
	"github.com/webpilot/webpilot/internal/scheduler"
	"github.com/webpilot/webpilot/internal/session"
	"github.com/webpilot/webpilot/pkg/models"
)

// newTestServer wires the full stack behind httptest, with fake browser
// workers instead of real Chromium.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zap.NewNop()

	launcher := &browsertest.FakeLauncher{}
	pool := browser.NewPool(launcher, 2, true, log)
	store := artifact.NewStore(time.Minute, log)
	exec := executor.New(store, 5*time.Second, log)
	mgr := session.NewManager(pool, exec, session.Config{
		IdleTimeout:       time.Minute,
		AdmissionDeadline: 2 * time.Second,
		MailboxDepth:      8,
	}, log)
	sched := scheduler.New(mgr, 32, log)
	sched.Start()

	handler := api.NewHandler(mgr, sched, store, log)
	router := handler.SetupRoutes(proxy.NewServer(mgr, log), ratelimit.NewLimiter(100, 10), 100)

	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		sched.Stop()
		mgr.Shutdown()
		pool.Close()
		store.Stop()
	})
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func TestCreateSessionIssuesID(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sess models.Session
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, models.StateCreated, sess.State)
	assert.NotEmpty(t, sess.WorkerID)
}

func TestCreateSessionWithClientID(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions",
		models.CreateSessionRequest{SessionID: "my-session"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sess models.Session
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.Equal(t, "my-session", sess.ID)

	// Creating with the same id resolves the existing session.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/v1/sessions",
		models.CreateSessionRequest{SessionID: "my-session"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var again models.Session
	require.NoError(t, json.Unmarshal(body, &again))
	assert.Equal(t, sess.WorkerID, again.WorkerID)
}

func TestGetSessionNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/sessions/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var er models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	assert.Equal(t, "NotFound", er.Code)
	assert.False(t, er.Retryable)
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions",
		models.CreateSessionRequest{SessionID: "lifecycle"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/sessions/lifecycle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Session
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/v1/sessions/lifecycle", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/sessions/lifecycle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess models.Session
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.Equal(t, models.StateClosed, sess.State)
}

func TestSubmitCommandAndCollectArtifact(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/cmd-sess/commands",
		models.SubmitCommandRequest{Action: models.ActionExtract})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var art models.Artifact
	require.NoError(t, json.Unmarshal(body, &art))
	assert.Equal(t, "cmd-sess", art.SessionID)
	assert.Equal(t, "application/json", art.ContentType)

	var doc models.PageContent
	require.NoError(t, json.Unmarshal(art.Payload, &doc))
	assert.Equal(t, "about:blank", doc.URL)

	// Collect the stored copy, then consume it.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/artifacts/"+art.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte(art.Payload), body)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/artifacts/"+art.ID+"?delete=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/artifacts/"+art.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitCommandRequiresAction(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/s1/commands",
		models.SubmitCommandRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitCommandUnsupportedAction(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/s1/commands",
		models.SubmitCommandRequest{Action: "teleport"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var er models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	assert.Equal(t, "ExecutionError", er.Code)
}

func TestArtifactNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/artifacts/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDebugURLForSession(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions",
		models.CreateSessionRequest{SessionID: "dbg"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/sessions/dbg/debug", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Contains(t, out["debuggerUrl"], "/v1/sessions/dbg/ws")
	assert.Equal(t, "dbg", out["sessionId"])
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/sessions/s1/commands", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Client-ID")
}

func TestRateLimitEnforcedPerClient(t *testing.T) {
	log := zap.NewNop()
	launcher := &browsertest.FakeLauncher{}
	pool := browser.NewPool(launcher, 1, true, log)
	store := artifact.NewStore(time.Minute, log)
	exec := executor.New(store, 5*time.Second, log)
	mgr := session.NewManager(pool, exec, session.Config{
		IdleTimeout:       time.Minute,
		AdmissionDeadline: 2 * time.Second,
		MailboxDepth:      8,
	}, log)
	sched := scheduler.New(mgr, 32, log)
	sched.Start()

	handler := api.NewHandler(mgr, sched, store, log)
	// Burst of 2, so the third request in quick succession is refused.
	router := handler.SetupRoutes(proxy.NewServer(mgr, log), ratelimit.NewLimiter(10, 2), 10)
	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		sched.Stop()
		mgr.Shutdown()
		pool.Close()
		store.Stop()
	})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/sessions", nil)
		require.NoError(t, err)
		req.Header.Set("X-Client-ID", "client-a")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	// A different client has its own bucket.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("X-Client-ID", "client-b")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Anonymous requests bypass rate limiting.
	resp, err = http.Get(ts.URL + "/v1/sessions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
