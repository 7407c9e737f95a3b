package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fieldsync/internal/domain"
	"fieldsync/internal/remote"
)

// cacheTableColumns is the shape every warmed table shares. The entity
// payload stays as JSON text so queries can pick fields apart with the
// engine's JSON functions.
var cacheTableColumns = []string{"id", "origin", "payload", "updated_at"}

// AnalyticsService feeds the cached entity mirror into the analytical engine
// and runs queries against it. Remote (fleet-wide) analytics are proxied to
// the authority when reachable.
type AnalyticsService struct {
	cache  domain.CacheRepository
	bridge domain.AnalyticsBridge
	remote *remote.Client
	logger *slog.Logger

	mu     sync.Mutex
	warmed bool
}

func NewAnalyticsService(cache domain.CacheRepository, bridge domain.AnalyticsBridge, remoteClient *remote.Client, logger *slog.Logger) *AnalyticsService {
	return &AnalyticsService{cache: cache, bridge: bridge, remote: remoteClient, logger: logger}
}

// Warm registers every cached entity kind as an engine table named after the
// kind (audits, ncrs, ...). Safe to call repeatedly: each run replaces the
// table contents with the current cache.
func (s *AnalyticsService) Warm(ctx context.Context) error {
	if err := s.bridge.Init(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range domain.AllKinds() {
		g.Go(func() error {
			return s.warmKind(gctx, kind)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	s.warmed = true
	s.mu.Unlock()
	return nil
}

func (s *AnalyticsService) warmKind(ctx context.Context, kind domain.EntityKind) error {
	records, err := s.cache.ListByKind(ctx, kind)
	if err != nil {
		return err
	}

	table := string(kind) + "s"

	// Create-if-absent, then clear: registration appends, and warming must
	// replace rather than accumulate.
	if err := s.bridge.Register(ctx, table, cacheTableColumns, nil); err != nil {
		return err
	}
	if _, err := s.bridge.Query(ctx, fmt.Sprintf("DELETE FROM %q", table)); err != nil {
		return err
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID,
			string(rec.Origin),
			string(rec.Payload),
			rec.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := s.bridge.Register(ctx, table, cacheTableColumns, rows); err != nil {
		return err
	}

	s.logger.Debug("warmed analytics table", "table", table, "rows", len(rows))
	return nil
}

// Query runs one ad hoc SQL statement against the engine, warming the
// tables first if no warm has happened yet. Callers refresh stale tables
// with an explicit Warm.
func (s *AnalyticsService) Query(ctx context.Context, sqlText string) (*domain.QueryResult, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, domain.ErrValidation("sql is required")
	}

	s.mu.Lock()
	needWarm := !s.warmed
	s.mu.Unlock()
	if needWarm {
		if err := s.Warm(ctx); err != nil {
			return nil, err
		}
	}

	return s.bridge.Query(ctx, sqlText)
}

// RemoteSummary fetches the authority's fleet-wide analytics snapshot.
func (s *AnalyticsService) RemoteSummary(ctx context.Context) (json.RawMessage, error) {
	return s.remote.Analytics(ctx)
}
