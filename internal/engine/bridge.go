package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"fieldsync/internal/domain"
)

var _ domain.AnalyticsBridge = (*Bridge)(nil)

// State is the bridge session lifecycle. Failed is terminal: a failed bridge
// rejects all operations and must be recreated.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Bridge owns the worker goroutine that holds the engine session and matches
// responses back to callers by correlation id. Callers never see the session;
// they see Init/Query/Register that suspend until the correlated response
// arrives.
type Bridge struct {
	variants []Variant
	logger   *slog.Logger

	requests  chan Request
	responses chan Response
	closed    chan struct{}
	closeOnce sync.Once

	pmu     sync.Mutex
	pending map[string]chan Response

	mu       sync.Mutex
	state    State
	initErr  error
	initDone chan struct{} // closed when an in-flight init settles
}

// New creates a Bridge and starts its worker. The engine session itself is
// not opened until Init (or the first auto-initializing call).
func New(variants []Variant, logger *slog.Logger) *Bridge {
	if len(variants) == 0 {
		variants = DefaultVariants()
	}
	b := &Bridge{
		variants:  variants,
		logger:    logger,
		requests:  make(chan Request),
		responses: make(chan Response),
		closed:    make(chan struct{}),
		pending:   make(map[string]chan Response),
	}
	go b.worker()
	go b.dispatch()
	return b
}

// State returns the current session lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Init brings the session up, selecting the first compatible engine variant.
// It is idempotent: a ready bridge returns immediately, a concurrent caller
// waits for the in-flight init, and a failed bridge keeps returning the same
// typed error.
func (b *Bridge) Init(ctx context.Context) error {
	for {
		b.mu.Lock()
		switch b.state {
		case StateReady:
			b.mu.Unlock()
			return nil
		case StateFailed:
			err := b.initErr
			b.mu.Unlock()
			return err
		case StateInitializing:
			done := b.initDone
			b.mu.Unlock()
			select {
			case <-done:
				// Re-examine the settled state.
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		case StateUninitialized:
			b.state = StateInitializing
			b.initDone = make(chan struct{})
			b.mu.Unlock()
		}

		resp, err := b.send(ctx, Request{ID: domain.NewID(), Type: TypeInit})

		b.mu.Lock()
		if b.state == StateFailed {
			// Close raced the init; keep its terminal error.
			close(b.initDone)
			closeErr := b.initErr
			b.mu.Unlock()
			return closeErr
		}
		switch {
		case err != nil && ctx.Err() != nil:
			// The caller gave up waiting; the worker may still bring the
			// session up. Leave the bridge claimable by the next caller
			// instead of failing it on the caller's impatience.
			b.state = StateUninitialized
			close(b.initDone)
			b.mu.Unlock()
			return err
		case err != nil:
			b.state = StateFailed
			b.initErr = domain.ErrEngineInit(err, "engine init failed: %v", err)
		case !resp.OK:
			b.state = StateFailed
			b.initErr = domain.ErrEngineInit(nil, "engine init failed: %s", resp.Error)
		default:
			b.state = StateReady
			b.logger.Info("engine session ready")
		}
		close(b.initDone)
		settled := b.initErr
		if b.state == StateReady {
			settled = nil
		}
		b.mu.Unlock()
		return settled
	}
}

// Query runs one SQL statement in the engine session, initializing it first
// if needed. Engine errors come back as error values; the session stays
// ready for further calls.
func (b *Bridge) Query(ctx context.Context, sqlText string) (*domain.QueryResult, error) {
	if err := b.Init(ctx); err != nil {
		return nil, err
	}

	resp, err := b.send(ctx, Request{ID: domain.NewID(), Type: TypeQuery, SQL: sqlText})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("query failed: %s", resp.Error)
	}
	return &domain.QueryResult{Columns: resp.Columns, Rows: resp.Rows}, nil
}

// Register creates the table if absent and appends the rows. Re-entrant:
// registering the same table twice appends the union of both row sets.
func (b *Bridge) Register(ctx context.Context, table string, columns []string, rows [][]string) error {
	if err := b.Init(ctx); err != nil {
		return err
	}

	resp, err := b.send(ctx, Request{
		ID:       domain.NewID(),
		Type:     TypeRegister,
		Register: &RegisterPayload{Table: table, Columns: columns, Rows: rows},
	})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("register %q failed: %s", table, resp.Error)
	}
	return nil
}

// Close tears down the worker and the session. The bridge is unusable
// afterwards; create a new one to recover.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		if b.state != StateFailed {
			b.state = StateFailed
			b.initErr = domain.ErrEngineInit(nil, "engine bridge closed")
		}
		b.mu.Unlock()
		close(b.closed)
	})
	return nil
}

// send registers a pending caller under the request's correlation id, hands
// the request to the worker, and suspends until the matching response. The
// ctx bound here covers only the wait — the worker finishes the operation
// regardless, and an unclaimed response is dropped by the dispatcher.
func (b *Bridge) send(ctx context.Context, req Request) (Response, error) {
	ch := make(chan Response, 1)
	b.pmu.Lock()
	b.pending[req.ID] = ch
	b.pmu.Unlock()
	defer func() {
		b.pmu.Lock()
		delete(b.pending, req.ID)
		b.pmu.Unlock()
	}()

	select {
	case b.requests <- req:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-b.closed:
		return Response{}, fmt.Errorf("engine bridge closed")
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-b.closed:
		return Response{}, fmt.Errorf("engine bridge closed")
	}
}

// worker is the isolated execution context: it exclusively owns the session
// and serializes all engine work.
func (b *Bridge) worker() {
	var sess *session
	defer func() {
		if sess != nil {
			if err := sess.close(); err != nil {
				b.logger.Warn("closing engine session", "error", err)
			}
		}
	}()

	for {
		select {
		case <-b.closed:
			return
		case req := <-b.requests:
			resp := b.handle(&sess, req)
			select {
			case b.responses <- resp:
			case <-b.closed:
				return
			}
		}
	}
}

// handle executes one request against the session. All failures are encoded
// into the response; nothing escapes the worker as a panic or lost message.
func (b *Bridge) handle(sess **session, req Request) Response {
	ctx := context.Background()

	switch req.Type {
	case TypeInit:
		if *sess != nil {
			return okResponse(req.ID, nil, nil)
		}
		s, err := newSession(ctx, b.variants)
		if err != nil {
			return errResponse(req.ID, err.Error())
		}
		*sess = s
		b.logger.Info("engine variant selected", "variant", s.variant.Name)
		return okResponse(req.ID, nil, nil)

	case TypeQuery:
		if *sess == nil {
			return errResponse(req.ID, "engine session not initialized")
		}
		columns, rows, err := (*sess).query(ctx, req.SQL)
		if err != nil {
			return errResponse(req.ID, err.Error())
		}
		return okResponse(req.ID, columns, rows)

	case TypeRegister:
		if *sess == nil {
			return errResponse(req.ID, "engine session not initialized")
		}
		if err := (*sess).register(ctx, req.Register); err != nil {
			return errResponse(req.ID, err.Error())
		}
		return okResponse(req.ID, nil, nil)

	default:
		return errResponse(req.ID, fmt.Sprintf("unknown request type %q", req.Type))
	}
}

// dispatch routes worker responses back to their pending callers. A response
// whose id has no pending caller (the caller gave up waiting) is dropped.
func (b *Bridge) dispatch() {
	for {
		select {
		case <-b.closed:
			return
		case resp := <-b.responses:
			b.pmu.Lock()
			ch, ok := b.pending[resp.ID]
			if ok {
				delete(b.pending, resp.ID)
			}
			b.pmu.Unlock()

			if !ok {
				b.logger.Warn("dropping response with no pending caller", "id", resp.ID)
				continue
			}
			ch <- resp
		}
	}
}
