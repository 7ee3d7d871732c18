// Package packet encodes and decodes the typed MQTT control packets on top of
// the framing in package mqtt.
package packet

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
)

var (
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrUnexpectedPacket   = errors.New("unexpected packet")
)

// Decode maps a raw packet received from a client to its typed form:
// *ConnectPacket, *PublishPacket, *AckPacket, *SubscribePacket,
// *UnsubscribePacket, *PingReqPacket, *DisconnectPacket or *AuthPacket.
// Packets only a server may send are rejected with ErrUnexpectedPacket.
func Decode(version mqtt.ProtocolVersion, packet *mqtt.Packet) (any, error) {
	switch packet.Header.Type {
	case mqtt.CONNECT:
		return ParseConnectPacket(packet)
	case mqtt.PUBLISH:
		return ParsePublishPacket(version, packet)
	case mqtt.PUBACK, mqtt.PUBREC, mqtt.PUBREL, mqtt.PUBCOMP:
		return ParseAckPacket(version, packet)
	case mqtt.SUBSCRIBE:
		return ParseSubscribePacket(version, packet)
	case mqtt.UNSUBSCRIBE:
		return ParseUnSubscribePacket(version, packet)
	case mqtt.PINGREQ:
		if packet.Payload.CheckRemainingLength() {
			return nil, fmt.Errorf("%w: PINGREQ carries a body", mqtt.ErrMalformedPacket)
		}
		return &PingReqPacket{}, nil
	case mqtt.DISCONNECT:
		return ParseDisconnectPacket(version, packet)
	case mqtt.AUTH:
		return ParseAuthPacket(version, packet)
	default:
		return nil, fmt.Errorf("%w: %s from client", ErrUnexpectedPacket, packet.Header.Type)
	}
}

// IsProtocolError reports whether err was caused by the peer's traffic rather than the transport.
func IsProtocolError(err error) bool {
	return errors.Is(err, mqtt.ErrMalformedPacket) ||
		errors.Is(err, mqtt.ErrPacketTooLarge) ||
		errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrUnexpectedPacket)
}
