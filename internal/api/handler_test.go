package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/db"
	"fieldsync/internal/db/repository"
	"fieldsync/internal/domain"
	"fieldsync/internal/engine"
	"fieldsync/internal/netmon"
	"fieldsync/internal/remote"
	"fieldsync/internal/service"
	"fieldsync/internal/syncq"
)

// newTestServer stands up the full local stack behind the HTTP handler, with
// a stub remote authority that accepts every delivery.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	writeDB, _ := db.OpenTestStore(t)
	queue := repository.NewQueueRepo(writeDB)
	cache := repository.NewCacheRepo(writeDB)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/analytics", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]int{"openNCRs": 2}})
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "srv-1"})
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	logger := slog.New(slog.DiscardHandler)
	client := remote.NewClient(upstream.URL, time.Second)
	monitor := netmon.New(domain.Online, logger)
	mgr := syncq.NewManager(queue, cache, client, monitor, logger, syncq.Options{})

	bridge := engine.New([]engine.Variant{
		{Name: "sqlite-baseline", Driver: "sqlite3", DSN: ":memory:"},
	}, logger)
	t.Cleanup(func() { _ = bridge.Close() })

	syncSvc := service.NewSyncService(queue, cache, mgr, monitor, client, logger)
	analyticsSvc := service.NewAnalyticsService(cache, bridge, client, logger)

	server := httptest.NewServer(NewHandler(syncSvc, analyticsSvc, logger).Routes())
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, server *httptest.Server, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, server *httptest.Server, path string, body interface{}, out interface{}) int {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHandler_Health(t *testing.T) {
	server := newTestServer(t)

	var body map[string]string
	code := getJSON(t, server, "/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestHandler_MutationLifecycle(t *testing.T) {
	server := newTestServer(t)

	var rec domain.CachedRecord
	code := postJSON(t, server, "/mutations", map[string]interface{}{
		"kind":      "audit",
		"operation": "create",
		"targetId":  "tmp-a-1",
		"payload":   map[string]string{"type": "internal"},
	}, &rec)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, domain.OriginLocal, rec.Origin)

	var pending struct {
		Data []domain.QueuedMutation `json:"data"`
	}
	code = getJSON(t, server, "/mutations?status=pending", &pending)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, pending.Data, 1)
	assert.Equal(t, "tmp-a-1", pending.Data[0].TargetID)

	var report syncq.FlushReport
	code = postJSON(t, server, "/flush", nil, &report)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, report.Committed)

	var status service.SyncStatus
	code = getJSON(t, server, "/status", &status)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "online", status.Reachability)
	assert.EqualValues(t, 1, status.Queue[domain.StatusCommitted])
}

func TestHandler_EnqueueValidation(t *testing.T) {
	server := newTestServer(t)

	var body map[string]string
	code := postJSON(t, server, "/mutations", map[string]interface{}{
		"kind":      "widget",
		"operation": "create",
		"targetId":  "w-1",
		"payload":   map[string]string{},
	}, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "unknown entity kind")
}

func TestHandler_RecordNotFound(t *testing.T) {
	server := newTestServer(t)

	code := getJSON(t, server, "/records/audit/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_Query(t *testing.T) {
	server := newTestServer(t)

	var out struct {
		Columns  []string        `json:"columns"`
		Rows     [][]interface{} `json:"rows"`
		RowCount int             `json:"rowCount"`
	}
	code := postJSON(t, server, "/query", map[string]string{"sql": "SELECT 1 AS one"}, &out)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"one"}, out.Columns)
	assert.Equal(t, 1, out.RowCount)
}

func TestHandler_QueryRequiresSQL(t *testing.T) {
	server := newTestServer(t)

	code := postJSON(t, server, "/query", map[string]string{"sql": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_WarmAnalytics(t *testing.T) {
	server := newTestServer(t)

	var body map[string]string
	code := postJSON(t, server, "/analytics/warm", nil, &body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "warmed", body["status"])
}

func TestHandler_RemoteAnalytics(t *testing.T) {
	server := newTestServer(t)

	var out struct {
		Data map[string]int `json:"data"`
	}
	code := getJSON(t, server, "/analytics/remote", &out)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, out.Data["openNCRs"])
}
