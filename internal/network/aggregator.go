package network

import (
	"context"
	"sync"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
)

// Aggregator folds subscribers whose key is included in one of its patterns
// into a single reference counted subscriber on that pattern. Samples are
// filtered locally against each subscriber's own key.
type Aggregator struct {
	Session
	patterns []keyexpr.KeyExpr

	mu     sync.Mutex
	groups map[keyexpr.KeyExpr]*aggregate
}

type aggregate struct {
	pattern  keyexpr.KeyExpr
	inner    Subscriber
	members  map[*member]struct{}
	snapshot []*member
}

type member struct {
	agg     *Aggregator
	group   *aggregate
	key     keyexpr.KeyExpr
	handler Handler
	once    sync.Once
}

// NewAggregator wraps inner. With no subscriber patterns inner is returned
// unchanged. Publisher patterns have no counterpart on the supported networks
// and are only reported.
func NewAggregator(inner Session, subs, pubs []string) Session {
	if len(pubs) > 0 {
		logger.InfoF("generalise_pubs %v accepted, publications are sent on their own keys", pubs)
	}
	patterns := make([]keyexpr.KeyExpr, 0, len(subs))
	for _, p := range subs {
		ke, err := keyexpr.New(p)
		if err != nil {
			logger.WarnF("Ignore generalise_subs pattern %q: %v", p, err)
			continue
		}
		patterns = append(patterns, ke)
	}
	if len(patterns) == 0 {
		return inner
	}
	return &Aggregator{Session: inner, patterns: patterns, groups: map[keyexpr.KeyExpr]*aggregate{}}
}

func (a *Aggregator) patternFor(key keyexpr.KeyExpr) (keyexpr.KeyExpr, bool) {
	for _, p := range a.patterns {
		if keyexpr.Includes(p, key) {
			return p, true
		}
	}
	return "", false
}

func (a *Aggregator) DeclareSubscriber(ctx context.Context, key keyexpr.KeyExpr, handler Handler) (Subscriber, error) {
	pattern, ok := a.patternFor(key)
	if !ok {
		return a.Session.DeclareSubscriber(ctx, key, handler)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	group, ok := a.groups[pattern]
	if !ok {
		group = &aggregate{pattern: pattern, members: map[*member]struct{}{}}
		inner, err := a.Session.DeclareSubscriber(ctx, pattern, group.dispatch(a))
		if err != nil {
			return nil, err
		}
		group.inner = inner
		a.groups[pattern] = group
		logger.DebugF("Declared aggregated subscriber on %s for %s", pattern, key)
	}
	m := &member{agg: a, group: group, key: key, handler: handler}
	group.members[m] = struct{}{}
	group.refresh()
	return m, nil
}

func (g *aggregate) refresh() {
	g.snapshot = make([]*member, 0, len(g.members))
	for m := range g.members {
		g.snapshot = append(g.snapshot, m)
	}
}

func (g *aggregate) dispatch(a *Aggregator) Handler {
	return func(sample Sample) {
		a.mu.Lock()
		members := g.snapshot
		a.mu.Unlock()
		for _, m := range members {
			if keyexpr.Intersects(m.key, sample.Key) {
				m.handler(sample)
			}
		}
	}
}

func (m *member) Key() keyexpr.KeyExpr {
	return m.key
}

func (m *member) Undeclare() error {
	var err error
	m.once.Do(func() {
		a := m.agg
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(m.group.members, m)
		m.group.refresh()
		if len(m.group.members) == 0 {
			delete(a.groups, m.group.pattern)
			err = m.group.inner.Undeclare()
		}
	})
	return err
}
