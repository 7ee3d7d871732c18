package local

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/encoding"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
)

type recorder struct {
	mu      sync.Mutex
	samples []network.Sample
}

func (r *recorder) handle(s network.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.samples))
	for _, s := range r.samples {
		keys = append(keys, s.Key.String())
	}
	return keys
}

func TestTreeMatch(t *testing.T) {
	tests := []struct {
		sub     string
		key     string
		matches bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/*", "a/b", true},
		{"a/*", "a/b/c", false},
		{"a/**", "a", true},
		{"a/**", "a/b/c", true},
		{"**", "x/y", true},
		{"a/**/c", "a/c", true},
		{"a/**/c", "a/b/d/c", true},
		{"a/**/c", "a/b/d", false},
		{"*/b/**", "x/b", true},
		{"home/a/b", "a/b", false},
	}

	for _, tt := range tests {
		tr := newTree()
		e := &entry{id: 1, key: keyexpr.MustNew(tt.sub)}
		tr.insert(e)
		got := tr.match(keyexpr.MustNew(tt.key))
		assert.Equal(t, tt.matches, len(got) == 1, "sub=%s key=%s", tt.sub, tt.key)
	}
}

func TestTreeRemovePrunes(t *testing.T) {
	tr := newTree()
	a := &entry{id: 1, key: keyexpr.MustNew("a/*/c")}
	b := &entry{id: 2, key: keyexpr.MustNew("a/**")}
	tr.insert(a)
	tr.insert(b)
	assert.Equal(t, 2, tr.size)

	assert.True(t, tr.remove(a))
	assert.False(t, tr.remove(a))
	assert.Len(t, tr.match(keyexpr.MustNew("a/b/c")), 1)

	assert.True(t, tr.remove(b))
	assert.True(t, tr.root.empty())
	assert.Equal(t, 0, tr.size)
}

func TestPutDeliversToMatchingSubscribers(t *testing.T) {
	ctx := context.Background()
	s := New()

	var exact, wild, other recorder
	_, err := s.DeclareSubscriber(ctx, "sensors/3/temp", exact.handle)
	require.NoError(t, err)
	_, err = s.DeclareSubscriber(ctx, "sensors/*/temp", wild.handle)
	require.NoError(t, err)
	_, err = s.DeclareSubscriber(ctx, "actuators/**", other.handle)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "sensors/3/temp", []byte("21"), encoding.TextPlain))
	require.NoError(t, s.Put(ctx, "sensors/4/temp", []byte("22"), encoding.TextPlain))

	assert.Equal(t, []string{"sensors/3/temp"}, exact.keys())
	assert.Equal(t, []string{"sensors/3/temp", "sensors/4/temp"}, wild.keys())
	assert.Empty(t, other.keys())
	assert.Equal(t, encoding.TextPlain, wild.samples[0].Encoding)
	assert.Equal(t, []byte("21"), wild.samples[0].Payload)
}

func TestPutOnWildKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	var r recorder
	_, err := s.DeclareSubscriber(ctx, "a/b", r.handle)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a/*", nil, encoding.AppOctetStream))
	assert.Equal(t, []string{"a/*"}, r.keys())
}

func TestDeliveryOrderFollowsPutOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	var r recorder
	_, err := s.DeclareSubscriber(ctx, "seq/*", r.handle)
	require.NoError(t, err)

	want := []string{"seq/1", "seq/2", "seq/3", "seq/4"}
	for _, k := range want {
		require.NoError(t, s.Put(ctx, keyexpr.MustNew(k), nil, encoding.AppOctetStream))
	}
	assert.Equal(t, want, r.keys())
}

func TestUndeclare(t *testing.T) {
	ctx := context.Background()
	s := New()
	var r recorder
	sub, err := s.DeclareSubscriber(ctx, "a/b", r.handle)
	require.NoError(t, err)
	assert.Equal(t, keyexpr.KeyExpr("a/b"), sub.Key())
	assert.Equal(t, 1, s.Subscribers())

	require.NoError(t, sub.Undeclare())
	require.NoError(t, sub.Undeclare())
	assert.Equal(t, 0, s.Subscribers())

	require.NoError(t, s.Put(ctx, "a/b", nil, encoding.AppOctetStream))
	assert.Empty(t, r.keys())
}

func TestQueryable(t *testing.T) {
	ctx := context.Background()
	s := New()
	q, err := s.DeclareQueryable(ctx, "@mqtt/status/__version__", func(_ context.Context, _ keyexpr.KeyExpr) []network.Reply {
		return []network.Reply{{Key: "@mqtt/status/__version__", Payload: []byte("v1"), Encoding: encoding.TextPlain}}
	})
	require.NoError(t, err)

	replies, err := s.Get(ctx, "@mqtt/status/**")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, []byte("v1"), replies[0].Payload)

	replies, err = s.Get(ctx, "@mqtt/other")
	require.NoError(t, err)
	assert.Empty(t, replies)

	require.NoError(t, q.Undeclare())
	replies, err = s.Get(ctx, "@mqtt/status/**")
	require.NoError(t, err)
	assert.Empty(t, replies)
}

func TestClosedSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub, err := s.DeclareSubscriber(ctx, "a", func(network.Sample) {})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	assert.ErrorIs(t, s.Put(ctx, "a", nil, encoding.AppOctetStream), network.ErrClosed)
	_, err = s.DeclareSubscriber(ctx, "a", func(network.Sample) {})
	assert.ErrorIs(t, err, network.ErrClosed)
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, network.ErrClosed)
	assert.NoError(t, sub.Undeclare())
}

func TestInvalidKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.DeclareSubscriber(ctx, "a//b", func(network.Sample) {})
	assert.ErrorIs(t, err, keyexpr.ErrInvalid)
	assert.ErrorIs(t, s.Put(ctx, "a/#", nil, encoding.AppOctetStream), keyexpr.ErrInvalid)
}
