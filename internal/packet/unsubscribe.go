package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
)

type UnsubscribePacket struct {
	PacketID     uint16
	Properties   mqtt.Properties
	TopicFilters []string
}

// NewUnSubAckPacket builds UNSUBACK. 3.x acknowledges the packet ID only; 5.0
// carries one reason code per filter.
func NewUnSubAckPacket(version mqtt.ProtocolVersion, packetID uint16, reasons []mqtt.ReasonCode) []byte {
	body := mqtt.AppendUint16(nil, packetID)
	if version.IsV5() {
		body = mqtt.AppendProperties(body, nil)
		for _, reason := range reasons {
			body = append(body, byte(reason))
		}
	}
	return mqtt.NewPacket(mqtt.UNSUBACK, 0, body)
}

func ParseUnSubscribePacket(version mqtt.ProtocolVersion, packet *mqtt.Packet) (*UnsubscribePacket, error) {
	result := &UnsubscribePacket{}

	var err error
	if result.PacketID, err = packet.Payload.ReadUint16(); err != nil {
		return result, fmt.Errorf("error occurred when reading packet ID: %w", err)
	}
	if version.IsV5() {
		if result.Properties, err = packet.Payload.ReadProperties(); err != nil {
			return result, fmt.Errorf("unsubscribe properties: %w", err)
		}
	}

	for packet.Payload.CheckRemainingLength() {
		filter, err := packet.Payload.ReadString()
		if err != nil {
			return result, fmt.Errorf("error occurred when reading topic filter: %w", err)
		}
		result.TopicFilters = append(result.TopicFilters, filter)
	}

	if len(result.TopicFilters) == 0 {
		return result, fmt.Errorf("%w: UNSUBSCRIBE without topic filters", ErrProtocolViolation)
	}
	return result, nil
}

func NewUnsubscribePacket(version mqtt.ProtocolVersion, p *UnsubscribePacket) []byte {
	body := mqtt.AppendUint16(nil, p.PacketID)
	if version.IsV5() {
		body = mqtt.AppendProperties(body, p.Properties)
	}
	for _, filter := range p.TopicFilters {
		body = mqtt.AppendString(body, filter)
	}
	return mqtt.NewPacket(mqtt.UNSUBSCRIBE, 0x02, body)
}
