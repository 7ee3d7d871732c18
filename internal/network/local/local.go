// Package local is an in-process pub/sub network. Every bridge connection in
// the process shares it; nothing leaves the process.
package local

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/encoding"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
)

type entry struct {
	id      uint64
	key     keyexpr.KeyExpr
	handler network.Handler
	query   network.QueryHandler
	session *Session
	once    sync.Once
}

type Session struct {
	mu         sync.RWMutex
	subs       *tree
	queryables map[uint64]*entry
	nextID     atomic.Uint64
	closed     bool
}

var _ network.Session = (*Session)(nil)

func New() *Session {
	return &Session{subs: newTree(), queryables: map[uint64]*entry{}}
}

func (s *Session) DeclareSubscriber(_ context.Context, key keyexpr.KeyExpr, handler network.Handler) (network.Subscriber, error) {
	if err := keyexpr.Validate(string(key)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, network.ErrClosed
	}
	e := &entry{id: s.nextID.Add(1), key: key, handler: handler, session: s}
	s.subs.insert(e)
	logger.TraceF("local: declared subscriber #%d on %s", e.id, key)
	return e, nil
}

// Put delivers synchronously to every matching subscriber in the caller's goroutine.
func (s *Session) Put(_ context.Context, key keyexpr.KeyExpr, payload []byte, enc encoding.Encoding) error {
	if err := keyexpr.Validate(string(key)); err != nil {
		return err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return network.ErrClosed
	}
	var targets []*entry
	if key.IsWild() {
		s.subs.walk(func(e *entry) {
			if keyexpr.Intersects(e.key, key) {
				targets = append(targets, e)
			}
		})
	} else {
		targets = s.subs.match(key)
	}
	s.mu.RUnlock()

	slices.SortFunc(targets, func(a, b *entry) int { return cmp.Compare(a.id, b.id) })
	sample := network.Sample{Key: key, Payload: payload, Encoding: enc}
	for _, e := range targets {
		e.handler(sample)
	}
	return nil
}

func (s *Session) DeclareQueryable(_ context.Context, key keyexpr.KeyExpr, handler network.QueryHandler) (network.Subscriber, error) {
	if err := keyexpr.Validate(string(key)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, network.ErrClosed
	}
	e := &entry{id: s.nextID.Add(1), key: key, query: handler, session: s}
	s.queryables[e.id] = e
	return e, nil
}

func (s *Session) Get(ctx context.Context, selector keyexpr.KeyExpr) ([]network.Reply, error) {
	if err := keyexpr.Validate(string(selector)); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, network.ErrClosed
	}
	var targets []*entry
	for _, e := range s.queryables {
		if keyexpr.Intersects(e.key, selector) {
			targets = append(targets, e)
		}
	}
	s.mu.RUnlock()

	var replies []network.Reply
	for _, e := range targets {
		if err := ctx.Err(); err != nil {
			return replies, err
		}
		for _, r := range e.query(ctx, selector) {
			if keyexpr.Intersects(r.Key, selector) {
				replies = append(replies, r)
			}
		}
	}
	return replies, nil
}

// Close drops every declaration. Later calls fail with network.ErrClosed.
func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = newTree()
	s.queryables = map[uint64]*entry{}
	return nil
}

// Subscribers reports the number of live subscriber declarations.
func (s *Session) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs.size
}

func (e *entry) Key() keyexpr.KeyExpr {
	return e.key
}

func (e *entry) Undeclare() error {
	e.once.Do(func() {
		s := e.session
		s.mu.Lock()
		defer s.mu.Unlock()
		if e.query != nil {
			delete(s.queryables, e.id)
			return
		}
		s.subs.remove(e)
		logger.TraceF("local: undeclared subscriber #%d on %s", e.id, e.key)
	})
	return nil
}
