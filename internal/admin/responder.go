// Package admin answers administrative status queries, on the pub/sub network
// and over an optional HTTP listener.
package admin

import (
	"context"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/encoding"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
)

const VersionKey = "__version__"

// Responder serves the read-only <status_root>/__version__ key.
type Responder struct {
	key     keyexpr.KeyExpr
	version string
}

func NewResponder(statusRoot, version string) (*Responder, error) {
	key, err := keyexpr.Join(statusRoot, VersionKey)
	if err != nil {
		return nil, fmt.Errorf("admin status root %q: %w", statusRoot, err)
	}
	if key.IsWild() {
		return nil, fmt.Errorf("admin status root %q must not contain wildcards", statusRoot)
	}
	return &Responder{key: key, version: version}, nil
}

func (r *Responder) Key() keyexpr.KeyExpr {
	return r.key
}

func (r *Responder) Version() string {
	return r.version
}

// Responses answers selector: the version when it intersects the version key, nothing otherwise.
func (r *Responder) Responses(selector keyexpr.KeyExpr) []network.Reply {
	if !keyexpr.Intersects(selector, r.key) {
		return nil
	}
	return []network.Reply{{Key: r.key, Payload: []byte(r.version), Encoding: encoding.TextPlain}}
}

// Declare registers the responder as a queryable on net.
func (r *Responder) Declare(ctx context.Context, net network.Session) (network.Subscriber, error) {
	q, err := net.DeclareQueryable(ctx, r.key, func(_ context.Context, selector keyexpr.KeyExpr) []network.Reply {
		logger.TraceF("Admin query on %s", selector)
		return r.Responses(selector)
	})
	if err != nil {
		return nil, fmt.Errorf("declare admin queryable on %s: %w", r.key, err)
	}
	logger.DebugF("Admin space declared on %s", r.key)
	return q, nil
}
