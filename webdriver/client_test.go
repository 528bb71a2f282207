package webdriver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webgrid-labs/gridrunner/types"
)

// fakeGrid is a minimal WebDriver endpoint backed by httptest.
type fakeGrid struct {
	t        *testing.T
	sessions map[string]bool
	requests []string
	failNext bool
}

func newFakeGrid(t *testing.T) (*fakeGrid, *httptest.Server) {
	g := &fakeGrid{t: t, sessions: make(map[string]bool)}
	srv := httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(srv.Close)
	return g, srv
}

func (g *fakeGrid) handle(w http.ResponseWriter, r *http.Request) {
	g.requests = append(g.requests, r.Method+" "+r.URL.Path)

	if g.failNext {
		g.failNext = false
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{
				"error":   "session not created",
				"message": "no node available",
			},
		})
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/session":
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(g.t, json.Unmarshal(body, &req))
		caps := req["capabilities"].(map[string]any)["alwaysMatch"].(map[string]any)

		id := "session-1"
		g.sessions[id] = true
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{
				"sessionId":    id,
				"capabilities": caps,
			},
		})

	case r.Method == http.MethodDelete:
		id := r.URL.Path[len("/session/"):]
		delete(g.sessions, id)
		_ = json.NewEncoder(w).Encode(map[string]any{"value": nil})

	case r.Method == http.MethodPost:
		_ = json.NewEncoder(w).Encode(map[string]any{"value": nil})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestClient_SessionLifecycle(t *testing.T) {
	grid, srv := newFakeGrid(t)
	client := NewClient(srv.URL, nil)

	ctx := context.Background()
	sessionID, caps, err := client.NewSession(ctx, map[string]any{"browserName": "chrome"})
	require.NoError(t, err)
	assert.Equal(t, "session-1", sessionID)
	assert.Equal(t, "chrome", caps["browserName"])
	assert.True(t, grid.sessions[sessionID])

	require.NoError(t, client.Navigate(ctx, sessionID, "https://example.com"))
	require.NoError(t, client.DeleteSession(ctx, sessionID))
	assert.False(t, grid.sessions[sessionID])

	assert.Equal(t, []string{
		"POST /session",
		"POST /session/session-1/url",
		"DELETE /session/session-1",
	}, grid.requests)
}

func TestClient_GridErrorSurfaces(t *testing.T) {
	grid, srv := newFakeGrid(t)
	grid.failNext = true
	client := NewClient(srv.URL, nil)

	_, _, err := client.NewSession(context.Background(), map[string]any{"browserName": "chrome"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not created")
	assert.Contains(t, err.Error(), "no node available")
}

func TestNavigateExecutor(t *testing.T) {
	grid, srv := newFakeGrid(t)
	client := NewClient(srv.URL, nil)
	exec := NewNavigateExecutor(client)

	session := &types.BrowserSession{BrowserID: "chrome", SessionID: "session-1"}

	// A test without a target url is a session smoke test; no request made.
	err := exec.Execute(context.Background(), &types.Test{ID: "001"}, session)
	require.NoError(t, err)
	assert.Empty(t, grid.requests)

	err = exec.Execute(context.Background(), &types.Test{
		ID:   "002",
		Meta: map[string]string{"url": "https://example.com/login"},
	}, session)
	require.NoError(t, err)
	assert.Equal(t, []string{"POST /session/session-1/url"}, grid.requests)
}
