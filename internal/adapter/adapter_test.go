package adapter

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/bridge"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/config"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/encoding"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network/local"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/packet"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/topic"
)

type fakeConn struct {
	mu        sync.Mutex
	version   mqtt.ProtocolVersion
	sent      [][]byte
	published []string
	closed    bool
	forced    bool
}

func (c *fakeConn) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, p)
	return nil
}

func (c *fakeConn) PublishAtMostOnce(topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, topic+"="+string(payload))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) ForceClose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forced = true
	return nil
}

// packets decodes everything sent so far.
func (c *fakeConn) packets(t *testing.T) []any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, raw := range c.sent {
		p, err := mqtt.ReadPacket(bytes.NewReader(raw), 0)
		require.NoError(t, err)
		switch p.Header.Type {
		case mqtt.CONNACK:
			flags, _ := p.Payload.ReadByte()
			code, _ := p.Payload.ReadByte()
			var props mqtt.Properties
			if c.version.IsV5() {
				props, _ = p.Payload.ReadProperties()
			}
			out = append(out, connAck{sessionPresent: flags == 1, code: code, props: props})
		case mqtt.SUBACK:
			id, _ := p.Payload.ReadUint16()
			if c.version.IsV5() {
				_, _ = p.Payload.ReadProperties()
			}
			out = append(out, subAck{id: id, codes: p.Payload.ReadRest()})
		case mqtt.UNSUBACK:
			id, _ := p.Payload.ReadUint16()
			out = append(out, unsubAck{id: id})
		case mqtt.PINGRESP:
			out = append(out, mqtt.PINGRESP)
		default:
			decoded, err := packet.Decode(c.version, p)
			require.NoError(t, err)
			out = append(out, decoded)
		}
	}
	return out
}

type connAck struct {
	sessionPresent bool
	code           byte
	props          mqtt.Properties
}

type subAck struct {
	id    uint16
	codes []byte
}

type unsubAck struct {
	id uint16
}

type failingNetwork struct {
	network.Session
}

func (failingNetwork) Put(context.Context, keyexpr.KeyExpr, []byte, encoding.Encoding) error {
	return errors.New("network unreachable")
}

func connect(t *testing.T, version mqtt.ProtocolVersion, net network.Session, cfg *config.Config) (Handler, *fakeConn) {
	t.Helper()
	conn := &fakeConn{version: version}
	h, err := ForVersion(version, conn, net, cfg)
	require.NoError(t, err)
	require.Equal(t, StateConnecting, h.State())

	err = h.Handle(context.Background(), Handshake{Packet: &packet.ConnectPacket{
		ProtocolVersion: version,
		ClientID:        "client-1",
		ConnectFlag:     packet.ConnectPacketFlag{CleanSession: true},
	}})
	require.NoError(t, err)
	require.Equal(t, StateConnected, h.State())
	return h, conn
}

func TestForVersion(t *testing.T) {
	cfg := config.Default()
	for _, v := range []mqtt.ProtocolVersion{mqtt.V31, mqtt.V311, mqtt.V5} {
		h, err := ForVersion(v, &fakeConn{}, local.New(), cfg)
		require.NoError(t, err)
		assert.Equal(t, v, h.Version())
	}
	_, err := ForVersion(mqtt.ProtocolVersion(6), &fakeConn{}, local.New(), cfg)
	assert.ErrorIs(t, err, packet.ErrUnsupportedVersion)
}

func TestHandshake(t *testing.T) {
	tests := []struct {
		name         string
		version      mqtt.ProtocolVersion
		clientID     string
		cleanSession bool
		wantCode     byte
		wantState    State
		wantAssigned bool
	}{
		{"v3 with id", mqtt.V311, "c1", false, byte(mqtt.ConnectAccepted), StateConnected, false},
		{"v3 assigned id", mqtt.V311, "", true, byte(mqtt.ConnectAccepted), StateConnected, false},
		{"v3 empty id without clean session", mqtt.V311, "", false, byte(mqtt.ConnectRefusedIdentifierRejected), StateClosed, false},
		{"v5 with id", mqtt.V5, "c1", false, byte(mqtt.Success), StateConnected, false},
		{"v5 assigned id", mqtt.V5, "", false, byte(mqtt.Success), StateConnected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{version: tt.version}
			h, err := ForVersion(tt.version, conn, local.New(), config.Default())
			require.NoError(t, err)

			err = h.Handle(context.Background(), Handshake{Packet: &packet.ConnectPacket{
				ProtocolVersion: tt.version,
				ClientID:        tt.clientID,
				ConnectFlag:     packet.ConnectPacketFlag{CleanSession: tt.cleanSession},
			}})
			if tt.wantState == StateClosed {
				assert.ErrorIs(t, err, ErrIdentifierRejected)
				assert.True(t, conn.closed)
				assert.Nil(t, h.Session())
			} else {
				require.NoError(t, err)
				require.NotNil(t, h.Session())
				assert.NotEmpty(t, h.ClientID())
				assert.Equal(t, h.ClientID(), h.Session().ClientID())
			}
			assert.Equal(t, tt.wantState, h.State())

			sent := conn.packets(t)
			require.Len(t, sent, 1)
			ack := sent[0].(connAck)
			assert.Equal(t, tt.wantCode, ack.code)
			assert.False(t, ack.sessionPresent)
			assigned := ack.props.Str(mqtt.PropAssignedClientID)
			if tt.wantAssigned {
				assert.Equal(t, h.ClientID(), assigned)
			} else {
				assert.Empty(t, assigned)
			}
		})
	}
}

func TestV5ConnAckAdvertisesLimits(t *testing.T) {
	_, conn := connect(t, mqtt.V5, local.New(), config.Default())
	ack := conn.packets(t)[0].(connAck)
	for _, id := range []mqtt.PropertyID{mqtt.PropRetainAvailable, mqtt.PropSharedSubAvailable, mqtt.PropSubIDAvailable} {
		v, ok := ack.props.Uint(id)
		assert.True(t, ok, "property %d", id)
		assert.Zero(t, v)
	}
}

func TestSecondHandshakeIsProtocolError(t *testing.T) {
	h, _ := connect(t, mqtt.V311, local.New(), config.Default())
	err := h.Handle(context.Background(), Handshake{Packet: &packet.ConnectPacket{ClientID: "again"}})
	assert.ErrorIs(t, err, bridge.ErrProtocol)
}

func TestEventBeforeHandshake(t *testing.T) {
	h, err := ForVersion(mqtt.V311, &fakeConn{}, local.New(), config.Default())
	require.NoError(t, err)
	err = h.Handle(context.Background(), Ping{})
	assert.ErrorIs(t, err, bridge.ErrProtocol)
}

func TestPublishAcknowledgments(t *testing.T) {
	tests := []struct {
		name    string
		version mqtt.ProtocolVersion
		qos     mqtt.QoS
		want    mqtt.PacketType
	}{
		{"v3 qos0", mqtt.V311, mqtt.AtMostOnce, 0},
		{"v3 qos1", mqtt.V311, mqtt.AtLeastOnce, mqtt.PUBACK},
		{"v3 qos2", mqtt.V311, mqtt.ExactlyOnce, mqtt.PUBREC},
		{"v5 qos0", mqtt.V5, mqtt.AtMostOnce, 0},
		{"v5 qos1", mqtt.V5, mqtt.AtLeastOnce, mqtt.PUBACK},
		{"v5 qos2", mqtt.V5, mqtt.ExactlyOnce, mqtt.PUBREC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := local.New()
			var got []network.Sample
			_, err := net.DeclareSubscriber(context.Background(), keyexpr.MustNew("**"), func(s network.Sample) {
				got = append(got, s)
			})
			require.NoError(t, err)

			h, conn := connect(t, tt.version, net, config.Default())
			err = h.Handle(context.Background(), Publish{Packet: &packet.PublishPacket{
				PacketFlag: packet.PublishPacketFlag{QoS: tt.qos, Retain: true},
				TopicName:  "a/b",
				PacketID:   7,
				Payload:    []byte(`{"v":1}`),
			}})
			require.NoError(t, err)

			require.Len(t, got, 1)
			assert.Equal(t, "a/b", got[0].Key.String())
			assert.Equal(t, encoding.AppJSON, got[0].Encoding)

			sent := conn.packets(t)[1:]
			if tt.want == 0 {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			ack := sent[0].(*packet.AckPacket)
			assert.Equal(t, tt.want, ack.Type)
			assert.Equal(t, uint16(7), ack.PacketID)
		})
	}
}

func TestPubRel(t *testing.T) {
	h, conn := connect(t, mqtt.V5, local.New(), config.Default())
	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, Publish{Packet: &packet.PublishPacket{
		PacketFlag: packet.PublishPacketFlag{QoS: mqtt.ExactlyOnce},
		TopicName:  "a",
		PacketID:   3,
	}}))
	require.NoError(t, h.Handle(ctx, PubRel{PacketID: 3}))
	require.NoError(t, h.Handle(ctx, PubRel{PacketID: 3}))

	sent := conn.packets(t)
	require.Len(t, sent, 4)
	first := sent[2].(*packet.AckPacket)
	assert.Equal(t, mqtt.PUBCOMP, first.Type)
	assert.Equal(t, mqtt.Success, first.ReasonCode)
	second := sent[3].(*packet.AckPacket)
	assert.Equal(t, mqtt.PacketIdentifierNotFound, second.ReasonCode)
}

func TestPublishFailureEscalates(t *testing.T) {
	for _, v := range []mqtt.ProtocolVersion{mqtt.V311, mqtt.V5} {
		h, conn := connect(t, v, failingNetwork{Session: local.New()}, config.Default())
		err := h.Handle(context.Background(), Publish{Packet: &packet.PublishPacket{
			PacketFlag: packet.PublishPacketFlag{QoS: mqtt.AtLeastOnce},
			TopicName:  "a/b",
			PacketID:   1,
		}})
		require.Error(t, err, v.String())
		assert.ErrorIs(t, err, ErrNegativeAck)
		assert.ErrorIs(t, err, bridge.ErrPubSub)
		assert.Len(t, conn.packets(t), 1, "no acknowledgment for a failed publish")
	}
}

func TestPublishInvalidTopicEscalates(t *testing.T) {
	h, _ := connect(t, mqtt.V311, local.New(), config.Default())
	err := h.Handle(context.Background(), Publish{Packet: &packet.PublishPacket{TopicName: "a/+"}})
	assert.ErrorIs(t, err, bridge.ErrInvalidTopic)
}

func TestPublishDeniedIsSilent(t *testing.T) {
	cfg := config.Default()
	cfg.Deny = []string{"secret/#"}
	h, conn := connect(t, mqtt.V5, local.New(), cfg)
	err := h.Handle(context.Background(), Publish{Packet: &packet.PublishPacket{
		PacketFlag: packet.PublishPacketFlag{QoS: mqtt.AtLeastOnce},
		TopicName:  "secret/data",
		PacketID:   2,
	}})
	require.NoError(t, err)
	ack := conn.packets(t)[1].(*packet.AckPacket)
	assert.Equal(t, mqtt.PUBACK, ack.Type)
}

func TestV5EmptyTopicIsProtocolError(t *testing.T) {
	h, _ := connect(t, mqtt.V5, local.New(), config.Default())
	err := h.Handle(context.Background(), Publish{Packet: &packet.PublishPacket{}})
	assert.ErrorIs(t, err, bridge.ErrProtocol)
}

func TestSubscribeConfirmsAtMostOnce(t *testing.T) {
	for _, v := range []mqtt.ProtocolVersion{mqtt.V311, mqtt.V5} {
		net := local.New()
		cfg := config.Default()
		cfg.Deny = []string{"secret/#"}
		h, conn := connect(t, v, net, cfg)

		err := h.Handle(context.Background(), Subscribe{Packet: &packet.SubscribePacket{
			PacketID: 9,
			Subscriptions: []packet.Subscription{
				{TopicFilter: "sensors/+/temp", QoS: mqtt.ExactlyOnce},
				{TopicFilter: "secret/data", QoS: mqtt.AtLeastOnce},
			},
		}})
		require.NoError(t, err)

		ack := conn.packets(t)[1].(subAck)
		assert.Equal(t, uint16(9), ack.id)
		assert.Equal(t, []byte{0, 0}, ack.codes)
		assert.Equal(t, []string{"sensors/+/temp"}, h.Session().Subscriptions())

		require.NoError(t, net.Put(context.Background(), keyexpr.MustNew("sensors/3/temp"), []byte("21"), encoding.TextPlain))
		require.NoError(t, net.Put(context.Background(), keyexpr.MustNew("secret/data"), []byte("x"), encoding.TextPlain))
		assert.Equal(t, []string{"sensors/3/temp=21"}, conn.published)
	}
}

func TestSubscribeMalformedFilterIsProtocolError(t *testing.T) {
	filters := []string{"a/#/b", "a/b#", "", "a/+b"}
	for _, v := range []mqtt.ProtocolVersion{mqtt.V311, mqtt.V5} {
		for _, filter := range filters {
			t.Run(v.String()+" "+filter, func(t *testing.T) {
				net := local.New()
				h, conn := connect(t, v, net, config.Default())

				err := h.Handle(context.Background(), Subscribe{Packet: &packet.SubscribePacket{
					PacketID: 3,
					Subscriptions: []packet.Subscription{
						{TopicFilter: "a/ok"},
						{TopicFilter: filter},
					},
				}})
				require.ErrorIs(t, err, bridge.ErrProtocol)
				assert.ErrorIs(t, err, topic.ErrInvalidTopic)
				assert.Empty(t, h.Session().Subscriptions())
				assert.Len(t, conn.packets(t), 1)

				require.NoError(t, net.Put(context.Background(), keyexpr.MustNew("a/x/y/b"), []byte("v"), encoding.TextPlain))
				require.NoError(t, net.Put(context.Background(), keyexpr.MustNew("a/ok"), []byte("v"), encoding.TextPlain))
				assert.Empty(t, conn.published)
			})
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	for _, v := range []mqtt.ProtocolVersion{mqtt.V311, mqtt.V5} {
		h, conn := connect(t, v, local.New(), config.Default())
		ctx := context.Background()
		require.NoError(t, h.Handle(ctx, Subscribe{Packet: &packet.SubscribePacket{
			PacketID:      1,
			Subscriptions: []packet.Subscription{{TopicFilter: "a/b"}},
		}}))
		require.NoError(t, h.Handle(ctx, Unsubscribe{Packet: &packet.UnsubscribePacket{
			PacketID:     2,
			TopicFilters: []string{"a/b"},
		}}))

		sent := conn.packets(t)
		require.Len(t, sent, 3)
		assert.Equal(t, unsubAck{id: 2}, sent[2])
		assert.Equal(t, []string{"a/b"}, h.Session().Subscriptions())
	}
}

func TestPing(t *testing.T) {
	h, conn := connect(t, mqtt.V311, local.New(), config.Default())
	require.NoError(t, h.Handle(context.Background(), Ping{}))
	assert.Equal(t, mqtt.PINGRESP, conn.packets(t)[1])
	assert.Equal(t, StateConnected, h.State())
}

func TestTermination(t *testing.T) {
	failure := errors.New("boom")
	tests := []struct {
		name       string
		version    mqtt.ProtocolVersion
		event      Event
		wantClose  bool
		wantForced bool
		wantReason *mqtt.ReasonCode
	}{
		{"v3 disconnect", mqtt.V311, Disconnect{}, true, false, nil},
		{"v3 closed", mqtt.V311, Closed{}, false, true, nil},
		{"v3 peer gone", mqtt.V311, PeerGone{Err: failure}, false, true, nil},
		{"v3 error", mqtt.V311, Error{Err: failure}, true, false, nil},
		{"v3 protocol error", mqtt.V311, ProtocolError{Err: failure}, true, false, nil},
		{"v5 disconnect", mqtt.V5, Disconnect{}, true, false, nil},
		{"v5 closed", mqtt.V5, Closed{}, true, false, nil},
		{"v5 peer gone", mqtt.V5, PeerGone{Err: failure}, true, false, nil},
		{"v5 error", mqtt.V5, Error{Err: failure}, true, false, ptr(mqtt.UnspecifiedError)},
		{"v5 protocol error", mqtt.V5, ProtocolError{Err: failure}, true, false, ptr(mqtt.ProtocolError)},
		{"v5 packet too large", mqtt.V5, ProtocolError{Err: mqtt.ErrPacketTooLarge}, true, false, ptr(mqtt.PacketTooLarge)},
		{"v5 auth", mqtt.V5, Auth{Packet: &packet.AuthPacket{}}, true, false, ptr(mqtt.ImplementationSpecificError)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := local.New()
			h, conn := connect(t, tt.version, net, config.Default())
			ctx := context.Background()
			require.NoError(t, h.Handle(ctx, Subscribe{Packet: &packet.SubscribePacket{
				PacketID:      1,
				Subscriptions: []packet.Subscription{{TopicFilter: "#"}},
			}}))
			require.Equal(t, 1, net.Subscribers())

			require.NoError(t, h.Handle(ctx, tt.event))
			assert.Equal(t, StateClosed, h.State())
			assert.Equal(t, tt.wantClose, conn.closed)
			assert.Equal(t, tt.wantForced, conn.forced)
			assert.Zero(t, net.Subscribers(), "session subscribers are undeclared")

			sent := conn.packets(t)
			if tt.wantReason == nil {
				assert.Len(t, sent, 2)
			} else {
				require.Len(t, sent, 3)
				disconnect := sent[2].(*packet.DisconnectPacket)
				assert.Equal(t, *tt.wantReason, disconnect.ReasonCode)
			}

			// further events are ignored once closed
			require.NoError(t, h.Handle(ctx, Ping{}))
			assert.Len(t, conn.packets(t), len(sent))
		})
	}
}

func TestV3AuthIsProtocolError(t *testing.T) {
	h, _ := connect(t, mqtt.V311, local.New(), config.Default())
	err := h.Handle(context.Background(), Auth{Packet: &packet.AuthPacket{}})
	assert.ErrorIs(t, err, bridge.ErrProtocol)
	assert.Equal(t, StateConnected, h.State())
}

func TestEventFor(t *testing.T) {
	tests := []struct {
		decoded any
		want    Event
	}{
		{&packet.PingReqPacket{}, Ping{}},
		{&packet.DisconnectPacket{ReasonCode: mqtt.NormalDisconnection}, Disconnect{}},
		{&packet.AckPacket{Type: mqtt.PUBREL, PacketID: 4}, PubRel{PacketID: 4}},
		{&packet.AckPacket{Type: mqtt.PUBACK, PacketID: 4}, nil},
		{"unknown", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EventFor(tt.decoded), "%T", tt.decoded)
	}
}

func ptr[T any](v T) *T {
	return &v
}
