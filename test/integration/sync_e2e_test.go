//go:build integration

// End-to-end exercise of the full client: offline capture, reconnection,
// ordered delivery with idempotency keys, reconciliation and local analytics.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/app"
	"fieldsync/internal/config"
	"fieldsync/internal/db"
	"fieldsync/internal/domain"
)

// stubAuthority is a minimal stand-in for the remote quality management API.
// It can be toggled unreachable and records delivery order and idempotency
// keys.
type stubAuthority struct {
	mu          sync.Mutex
	reachable   bool
	deliveries  []string // idempotency keys in arrival order
	nextID      int
	seenTargets []string
}

func (s *stubAuthority) setReachable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reachable = v
}

func (s *stubAuthority) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := s.reachable
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.reachable {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		s.deliveries = append(s.deliveries, r.Header.Get("Idempotency-Key"))
		s.seenTargets = append(s.seenTargets, r.Method+" "+r.URL.Path)

		// Creates get a server-assigned id; updates and deletes echo the id
		// they addressed, like the real API.
		id := path.Base(r.URL.Path)
		if r.Method == http.MethodPost {
			s.nextID++
			id = fmt.Sprintf("srv-%d", s.nextID)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     id,
			"status": "confirmed",
		})
	})
	return mux
}

func (s *stubAuthority) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deliveries...)
}

func (s *stubAuthority) targetsSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seenTargets...)
}

func startClient(t *testing.T, remoteURL string) (*httptest.Server, *app.App) {
	t.Helper()

	writeDB, readDB, err := db.OpenPair(t.TempDir()+"/fieldsync.sqlite", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writeDB.Close(); _ = readDB.Close() })
	require.NoError(t, db.RunMigrations(writeDB))

	cfg := &config.Config{
		RemoteBaseURL:       remoteURL,
		RemoteTimeout:       time.Second,
		FlushSchedule:       "@every 50ms",
		ProbeInterval:       50 * time.Millisecond,
		DeliveriesPerSecond: 100,
	}

	a, err := app.New(context.Background(), app.Deps{
		Cfg:     cfg,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	t.Cleanup(func() { cancel(); a.Stop() })

	server := httptest.NewServer(a.Handler)
	t.Cleanup(server.Close)
	return server, a
}

func enqueue(t *testing.T, server *httptest.Server, kind, op, target string, payload map[string]string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"kind": kind, "operation": op, "targetId": target, "payload": payload,
	})
	require.NoError(t, err)
	resp, err := http.Post(server.URL+"/mutations", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func fetchStatus(t *testing.T, server *httptest.Server) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestOfflineCaptureThenReconnect(t *testing.T) {
	authority := &stubAuthority{}
	upstream := httptest.NewServer(authority.handler())
	defer upstream.Close()

	server, a := startClient(t, upstream.URL)

	// Capture work while the authority is down.
	enqueue(t, server, "audit", "create", "tmp-a-1", map[string]string{"type": "internal"})
	enqueue(t, server, "audit", "update", "tmp-a-1", map[string]string{"type": "internal", "scope": "line 2"})
	enqueue(t, server, "ncr", "create", "tmp-n-1", map[string]string{"severity": "major"})

	status := fetchStatus(t, server)
	assert.Equal(t, "offline", status["reachability"])

	// Optimistic records are queryable locally before any delivery.
	var warmResp map[string]string
	resp, err := http.Post(server.URL+"/analytics/warm", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&warmResp))
	resp.Body.Close() //nolint:errcheck

	queryBody, _ := json.Marshal(map[string]string{"sql": "SELECT COUNT(*) FROM audits WHERE origin = 'local-optimistic'"})
	resp, err = http.Post(server.URL+"/query", "application/json", bytes.NewReader(queryBody))
	require.NoError(t, err)
	var queryOut struct {
		Rows [][]interface{} `json:"rows"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&queryOut))
	resp.Body.Close() //nolint:errcheck
	require.Len(t, queryOut.Rows, 1)
	assert.EqualValues(t, 1, queryOut.Rows[0][0])

	// Authority comes back; probe flips online and the scheduler drains.
	authority.setReachable(true)

	require.Eventually(t, func() bool {
		return len(authority.delivered()) == 3
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		status := fetchStatus(t, server)
		queue, _ := status["queue"].(map[string]interface{})
		committed, _ := queue["committed"].(float64)
		return status["reachability"] == "online" && committed == 3
	}, 5*time.Second, 20*time.Millisecond)

	// Per-target FIFO: both audit mutations arrived in enqueue order.
	keys := authority.delivered()
	require.Len(t, keys, 3)
	for _, key := range keys {
		assert.NotEmpty(t, key, "every delivery carries an idempotency key")
	}

	// The queued update followed its create onto the server-assigned id, not
	// the client's optimistic one.
	assert.Contains(t, authority.targetsSeen(), "PUT /api/audits/srv-1")

	// Reconciled records are promoted under the server-assigned ids.
	rec, err := a.Services.Sync.Record(context.Background(), domain.KindAudit, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OriginServer, rec.Origin)
}

func TestTransientOutageRetriesWithSameKey(t *testing.T) {
	authority := &stubAuthority{reachable: true}
	upstream := httptest.NewServer(authority.handler())
	defer upstream.Close()

	server, _ := startClient(t, upstream.URL)

	enqueue(t, server, "risk", "create", "tmp-r-1", map[string]string{"score": "8"})
	require.Eventually(t, func() bool {
		return len(authority.delivered()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	firstKey := authority.delivered()[0]

	// Outage mid-stream: the next mutation parks, then retries with the
	// same idempotency key once the authority recovers.
	authority.setReachable(false)
	enqueue(t, server, "risk", "update", "tmp-r-1", map[string]string{"score": "9"})
	time.Sleep(300 * time.Millisecond)

	authority.setReachable(true)
	require.Eventually(t, func() bool {
		return len(authority.delivered()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	keys := authority.delivered()
	assert.Equal(t, firstKey, keys[0])
	assert.NotEqual(t, keys[0], keys[1])
}
