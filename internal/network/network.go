// Package network is the boundary to the pub/sub network the bridge relays to.
// A single Session is shared by every MQTT connection, so implementations must
// be safe for concurrent use.
package network

import (
	"context"
	"errors"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/encoding"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
)

var (
	ErrClosed         = errors.New("network session closed")
	ErrUnsupportedKey = errors.New("key expression not supported by network backend")
)

// Sample is a value received by a subscriber.
type Sample struct {
	Key      keyexpr.KeyExpr
	Payload  []byte
	Encoding encoding.Encoding
}

// Reply is one answer to a Get.
type Reply = Sample

// Handler is invoked once per sample. Samples of one subscriber are delivered in order.
type Handler func(Sample)

// QueryHandler answers a Get whose selector intersects the queryable's key.
type QueryHandler func(ctx context.Context, selector keyexpr.KeyExpr) []Reply

// Subscriber is a live subscriber or queryable declaration.
type Subscriber interface {
	Key() keyexpr.KeyExpr
	Undeclare() error
}

type Session interface {
	DeclareSubscriber(ctx context.Context, key keyexpr.KeyExpr, handler Handler) (Subscriber, error)
	Put(ctx context.Context, key keyexpr.KeyExpr, payload []byte, enc encoding.Encoding) error
	DeclareQueryable(ctx context.Context, key keyexpr.KeyExpr, handler QueryHandler) (Subscriber, error)
	Get(ctx context.Context, selector keyexpr.KeyExpr) ([]Reply, error)
	Close(ctx context.Context) error
}
