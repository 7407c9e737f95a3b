package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubDaemon(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"reachability": "online"})
	})
	mux.HandleFunc("POST /flush", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"committed": 3})
	})
	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SQL string `json:"sql"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.SQL == "boom" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "near boom"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"rowCount": 1})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestStatusCommand(t *testing.T) {
	server := newStubDaemon(t)
	require.NoError(t, runCommand(t, "status", "--host", server.URL))
}

func TestFlushCommand(t *testing.T) {
	server := newStubDaemon(t)
	require.NoError(t, runCommand(t, "flush", "--host", server.URL))
}

func TestQueryCommand(t *testing.T) {
	server := newStubDaemon(t)
	require.NoError(t, runCommand(t, "query", "--host", server.URL, "SELECT 1"))
}

func TestQueryCommand_DaemonErrorSurfaces(t *testing.T) {
	server := newStubDaemon(t)
	err := runCommand(t, "query", "--host", server.URL, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "near boom")
}

func TestQueryCommand_RequiresArgs(t *testing.T) {
	require.Error(t, runCommand(t, "query"))
}

func TestHostFromEnv(t *testing.T) {
	server := newStubDaemon(t)
	t.Setenv("FIELDSYNC_HOST", server.URL)
	require.NoError(t, runCommand(t, "status"))
}

func TestDaemonUnreachable(t *testing.T) {
	err := runCommand(t, "status", "--host", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon")
}
