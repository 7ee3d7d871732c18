package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
)

type PublishPacketFlag struct {
	Dup    bool
	QoS    mqtt.QoS
	Retain bool
}

type PublishPacket struct {
	PacketFlag PublishPacketFlag
	TopicName  string
	PacketID   uint16
	Properties mqtt.Properties
	Payload    []byte
}

func (f PublishPacketFlag) encode() byte {
	var b byte
	if f.Dup {
		b |= 0x08
	}
	b |= byte(f.QoS&0x03) << 1
	if f.Retain {
		b |= 0x01
	}
	return b
}

func NewPublishPacket(version mqtt.ProtocolVersion, p *PublishPacket) []byte {
	body := mqtt.AppendString(nil, p.TopicName)
	if p.PacketFlag.QoS > mqtt.AtMostOnce {
		body = mqtt.AppendUint16(body, p.PacketID)
	}
	if version.IsV5() {
		body = mqtt.AppendProperties(body, p.Properties)
	}
	body = append(body, p.Payload...)
	return mqtt.NewPacket(mqtt.PUBLISH, p.PacketFlag.encode(), body)
}

// ParsePublishPacket decodes PUBLISH. Topic alias resolution is left to the caller,
// so a v5 packet may come back with an empty topic name.
func ParsePublishPacket(version mqtt.ProtocolVersion, packet *mqtt.Packet) (*PublishPacket, error) {
	result := &PublishPacket{
		PacketFlag: PublishPacketFlag{
			Dup:    packet.Header.Flags&0x08 != 0,
			QoS:    mqtt.QoS((packet.Header.Flags & 0x06) >> 1),
			Retain: packet.Header.Flags&0x01 != 0,
		},
	}

	if result.PacketFlag.QoS > mqtt.ExactlyOnce {
		return result, fmt.Errorf("%w: the QoS level must not be 3", mqtt.ErrMalformedPacket)
	}
	if result.PacketFlag.QoS == mqtt.AtMostOnce && result.PacketFlag.Dup {
		return result, fmt.Errorf("%w: DUP must be 0 for QoS 0", mqtt.ErrMalformedPacket)
	}

	var err error
	if result.TopicName, err = packet.Payload.ReadString(); err != nil {
		return result, fmt.Errorf("error occurred when reading topic name: %w", err)
	}

	if result.PacketFlag.QoS > mqtt.AtMostOnce {
		if result.PacketID, err = packet.Payload.ReadUint16(); err != nil {
			return result, fmt.Errorf("error occurred when reading packet ID: %w", err)
		}
		if result.PacketID == 0 {
			return result, fmt.Errorf("%w: packet ID must not be 0", ErrProtocolViolation)
		}
	}

	if version.IsV5() {
		if result.Properties, err = packet.Payload.ReadProperties(); err != nil {
			return result, fmt.Errorf("publish properties: %w", err)
		}
	}
	if result.TopicName == "" && !version.IsV5() {
		return result, fmt.Errorf("%w: empty topic name", ErrProtocolViolation)
	}

	result.Payload = packet.Payload.ReadRest()
	return result, nil
}
