package adapter

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/bridge"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/packet"
)

var ErrNegativeAck = errors.New("publish error cannot be expressed as a negative acknowledgment")

// Conn is the outbound side of one client connection.
type Conn interface {
	bridge.Sink
	Send(packet []byte) error
	// Close flushes queued packets, then closes the transport.
	Close() error
	// ForceClose drops queued packets and closes the transport.
	ForceClose() error
}

// Protocol is the version specific acknowledgment vocabulary the Adapter is
// instantiated with.
type Protocol interface {
	Version() mqtt.ProtocolVersion
	// ConnAck answers a handshake. assigned is the server chosen client id when
	// the client sent none. accepted false ends the connection after the reply.
	ConnAck(connect *packet.ConnectPacket, assigned string) (reply []byte, accepted bool)
	// PublishAck is the positive acknowledgment of a routed publication, nil for QoS 0.
	PublishAck(p *packet.PublishPacket) []byte
	// NegativeAck converts a publish failure into a soft acknowledgment.
	NegativeAck(p *packet.PublishPacket, err error) ([]byte, error)
	SubAck(p *packet.SubscribePacket) []byte
	UnsubAck(p *packet.UnsubscribePacket) []byte
	// OnClosed releases the transport once the client closed it.
	OnClosed(conn Conn) error
	// OnPeerGone releases the transport after it failed.
	OnPeerGone(conn Conn) error
	// OnError terminates the connection after a serving failure.
	OnError(conn Conn, err error) error
	// OnProtocolError terminates the connection after a client violation.
	OnProtocolError(conn Conn, err error) error
	// OnAuth answers an AUTH exchange.
	OnAuth(conn Conn, p *packet.AuthPacket) error
}

// V3 serves MQTT 3.1 and 3.1.1 clients. It has no negative acknowledgments
// and no way to tell the client why it is disconnected.
type V3 struct {
	version mqtt.ProtocolVersion
}

func NewV3(version mqtt.ProtocolVersion) V3 {
	return V3{version: version}
}

func (v V3) Version() mqtt.ProtocolVersion {
	return v.version
}

func (v V3) ConnAck(connect *packet.ConnectPacket, assigned string) ([]byte, bool) {
	if assigned != "" && !connect.ConnectFlag.CleanSession {
		return packet.NewConnectAckPacket(v.version, false, byte(mqtt.ConnectRefusedIdentifierRejected), nil), false
	}
	return packet.NewConnectAckPacket(v.version, false, byte(mqtt.ConnectAccepted), nil), true
}

func (v V3) PublishAck(p *packet.PublishPacket) []byte {
	switch p.PacketFlag.QoS {
	case mqtt.AtLeastOnce:
		return packet.NewAckPacket(v.version, mqtt.PUBACK, p.PacketID, mqtt.Success, nil)
	case mqtt.ExactlyOnce:
		return packet.NewAckPacket(v.version, mqtt.PUBREC, p.PacketID, mqtt.Success, nil)
	default:
		return nil
	}
}

func (v V3) NegativeAck(_ *packet.PublishPacket, err error) ([]byte, error) {
	return nil, fmt.Errorf("%w: %w", ErrNegativeAck, err)
}

func (v V3) SubAck(p *packet.SubscribePacket) []byte {
	return packet.NewSubAckPacket(v.version, p.PacketID, make([]byte, len(p.Subscriptions)))
}

func (v V3) UnsubAck(p *packet.UnsubscribePacket) []byte {
	return packet.NewUnSubAckPacket(v.version, p.PacketID, nil)
}

func (v V3) OnClosed(conn Conn) error {
	return conn.ForceClose()
}

func (v V3) OnPeerGone(conn Conn) error {
	return conn.ForceClose()
}

func (v V3) OnError(conn Conn, _ error) error {
	return conn.Close()
}

func (v V3) OnProtocolError(conn Conn, _ error) error {
	return conn.Close()
}

func (v V3) OnAuth(conn Conn, _ *packet.AuthPacket) error {
	return conn.Close()
}

// V5 serves MQTT 5.0 clients, reporting failures with reason codes.
type V5 struct{}

func (V5) Version() mqtt.ProtocolVersion {
	return mqtt.V5
}

func (V5) ConnAck(_ *packet.ConnectPacket, assigned string) ([]byte, bool) {
	props := mqtt.Properties{}.
		WithUint(mqtt.PropRetainAvailable, 0).
		WithUint(mqtt.PropSharedSubAvailable, 0).
		WithUint(mqtt.PropSubIDAvailable, 0)
	if assigned != "" {
		props = props.WithString(mqtt.PropAssignedClientID, assigned)
	}
	return packet.NewConnectAckPacket(mqtt.V5, false, byte(mqtt.Success), props), true
}

func (V5) PublishAck(p *packet.PublishPacket) []byte {
	switch p.PacketFlag.QoS {
	case mqtt.AtLeastOnce:
		return packet.NewAckPacket(mqtt.V5, mqtt.PUBACK, p.PacketID, mqtt.Success, nil)
	case mqtt.ExactlyOnce:
		return packet.NewAckPacket(mqtt.V5, mqtt.PUBREC, p.PacketID, mqtt.Success, nil)
	default:
		return nil
	}
}

// NegativeAck never succeeds: publish failures are escalated to the connection.
func (V5) NegativeAck(_ *packet.PublishPacket, err error) ([]byte, error) {
	return nil, fmt.Errorf("%w: %w", ErrNegativeAck, err)
}

func (V5) SubAck(p *packet.SubscribePacket) []byte {
	codes := make([]byte, len(p.Subscriptions))
	for i := range codes {
		codes[i] = byte(mqtt.GrantedQoS0)
	}
	return packet.NewSubAckPacket(mqtt.V5, p.PacketID, codes)
}

func (V5) UnsubAck(p *packet.UnsubscribePacket) []byte {
	reasons := make([]mqtt.ReasonCode, len(p.TopicFilters))
	return packet.NewUnSubAckPacket(mqtt.V5, p.PacketID, reasons)
}

func (V5) OnClosed(conn Conn) error {
	return conn.Close()
}

func (V5) OnPeerGone(conn Conn) error {
	return conn.Close()
}

func (V5) disconnect(conn Conn, reason mqtt.ReasonCode) error {
	if err := conn.Send(packet.NewDisconnectPacket(mqtt.V5, reason, nil)); err != nil {
		logger.DebugF("Fail to send DISCONNECT(%s): %v", reason, err)
	}
	return conn.Close()
}

func (v V5) OnError(conn Conn, _ error) error {
	return v.disconnect(conn, mqtt.UnspecifiedError)
}

func (v V5) OnProtocolError(conn Conn, err error) error {
	if errors.Is(err, mqtt.ErrPacketTooLarge) {
		return v.disconnect(conn, mqtt.PacketTooLarge)
	}
	return v.disconnect(conn, mqtt.ProtocolError)
}

func (v V5) OnAuth(conn Conn, _ *packet.AuthPacket) error {
	return v.disconnect(conn, mqtt.ImplementationSpecificError)
}
