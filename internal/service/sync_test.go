package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/db"
	"fieldsync/internal/db/repository"
	"fieldsync/internal/domain"
	"fieldsync/internal/netmon"
	"fieldsync/internal/remote"
	"fieldsync/internal/syncq"
)

type syncFixture struct {
	svc    *SyncService
	queue  *repository.QueueRepo
	cache  *repository.CacheRepo
	client *remote.Client
	server *httptest.Server
}

// newSyncFixture wires the real stack over a stub remote that accepts every
// delivery and serves login.
func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()

	writeDB, readDB := db.OpenTestStore(t)
	queue := repository.NewQueueRepo(writeDB)
	cache := repository.NewCacheRepo(writeDB)
	_ = readDB

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": signedToken(t, time.Hour)})
	})
	mux.HandleFunc("GET /api/audits", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{
				{"id": "srv-a-1", "type": "internal"},
				{"id": "srv-a-2", "type": "ISO 22000"},
			},
		})
	})
	mux.HandleFunc("POST /api/audits/one-click", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"auditId": "srv-a-9", "status": "scheduled"})
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "srv-1", "status": "confirmed"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	logger := slog.New(slog.DiscardHandler)
	client := remote.NewClient(server.URL, time.Second)
	monitor := netmon.New(domain.Online, logger)
	mgr := syncq.NewManager(queue, cache, client, monitor, logger, syncq.Options{})

	return &syncFixture{
		svc:    NewSyncService(queue, cache, mgr, monitor, client, logger),
		queue:  queue,
		cache:  cache,
		client: client,
		server: server,
	}
}

func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "auditor@example.com",
		"exp": time.Now().Add(ttl).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestSyncService_StatusReflectsQueueAndCache(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Enqueue(ctx, domain.MutationIntent{
		Kind:      domain.KindNCR,
		Operation: domain.OpCreate,
		TargetID:  "tmp-ncr-1",
		Payload:   json.RawMessage(`{"severity":"major"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OriginLocal, rec.Origin)

	status, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "online", status.Reachability)
	assert.EqualValues(t, 1, status.Queue[domain.StatusPending])
	assert.Empty(t, status.FailedTargets)
	assert.False(t, status.TokenExpiring)

	var ncrLocal int64
	for _, c := range status.Cache {
		if c.Kind == domain.KindNCR {
			ncrLocal = c.Local
		}
	}
	assert.EqualValues(t, 1, ncrLocal)
}

func TestSyncService_FlushCommits(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enqueue(ctx, domain.MutationIntent{
		Kind:      domain.KindAudit,
		Operation: domain.OpCreate,
		TargetID:  "tmp-a-1",
		Payload:   json.RawMessage(`{"type":"internal"}`),
	})
	require.NoError(t, err)

	report, err := f.svc.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Committed)
	assert.True(t, report.Drained())

	status, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, status.Queue[domain.StatusPending])
	assert.EqualValues(t, 1, status.Queue[domain.StatusCommitted])
}

func TestSyncService_LoginInstallsToken(t *testing.T) {
	f := newSyncFixture(t)

	token, err := f.svc.Login(context.Background(), "auditor@example.com", "pw")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, token, f.client.Token())
}

func TestSyncService_StatusFlagsExpiringToken(t *testing.T) {
	f := newSyncFixture(t)
	f.client.SetToken(signedToken(t, time.Minute))

	status, err := f.svc.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.TokenExpiring)
}

func TestSyncService_RecordValidatesKind(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.svc.Record(context.Background(), domain.EntityKind("widget"), "w-1")
	require.Error(t, err)

	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSyncService_PullCachesServerAudits(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	pulled, err := f.svc.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pulled)

	rec, err := f.svc.Record(ctx, domain.KindAudit, "srv-a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OriginServer, rec.Origin)
}

func TestSyncService_OneClickAudit(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	rec, err := f.svc.OneClickAudit(ctx, "internal", "production")
	require.NoError(t, err)
	assert.Equal(t, "srv-a-9", rec.ID)
	assert.Equal(t, domain.OriginServer, rec.Origin)

	_, err = f.svc.OneClickAudit(ctx, "", "production")
	require.Error(t, err)
}

func TestSyncService_MutationsListsByStatus(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	for _, id := range []string{"tmp-1", "tmp-2"} {
		_, err := f.svc.Enqueue(ctx, domain.MutationIntent{
			Kind:      domain.KindRisk,
			Operation: domain.OpCreate,
			TargetID:  id,
			Payload:   json.RawMessage(`{"score":4}`),
		})
		require.NoError(t, err)
	}

	pending, err := f.svc.Mutations(ctx, domain.StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	committed, err := f.svc.Mutations(ctx, domain.StatusCommitted, 0)
	require.NoError(t, err)
	assert.Empty(t, committed)
}
