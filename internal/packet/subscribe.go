package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
)

// Subscription is one topic filter of SUBSCRIBE with its options. The v5 only
// options are zero for 3.x clients.
type Subscription struct {
	TopicFilter       string
	QoS               mqtt.QoS
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte
}

type SubscribePacket struct {
	PacketID      uint16
	Properties    mqtt.Properties
	Subscriptions []Subscription
}

// NewSubAckPacket builds SUBACK with one return or reason code per filter.
func NewSubAckPacket(version mqtt.ProtocolVersion, packetID uint16, codes []byte) []byte {
	body := mqtt.AppendUint16(nil, packetID)
	if version.IsV5() {
		body = mqtt.AppendProperties(body, nil)
	}
	body = append(body, codes...)
	return mqtt.NewPacket(mqtt.SUBACK, 0, body)
}

func ParseSubscribePacket(version mqtt.ProtocolVersion, packet *mqtt.Packet) (*SubscribePacket, error) {
	result := &SubscribePacket{}

	var err error
	if result.PacketID, err = packet.Payload.ReadUint16(); err != nil {
		return result, fmt.Errorf("error occurred when reading packet ID: %w", err)
	}
	if version.IsV5() {
		if result.Properties, err = packet.Payload.ReadProperties(); err != nil {
			return result, fmt.Errorf("subscribe properties: %w", err)
		}
	}

	for packet.Payload.CheckRemainingLength() {
		filter, err := packet.Payload.ReadString()
		if err != nil {
			return result, fmt.Errorf("error occurred when reading topic filter: %w", err)
		}
		options, err := packet.Payload.ReadByte()
		if err != nil {
			return result, fmt.Errorf("error occurred when reading subscription options: %w", err)
		}
		sub := Subscription{TopicFilter: filter, QoS: mqtt.QoS(options & 0x03)}
		if sub.QoS > mqtt.ExactlyOnce {
			return result, fmt.Errorf("%w: requested QoS 3 for %q", mqtt.ErrMalformedPacket, filter)
		}
		if version.IsV5() {
			if options&0xC0 != 0 {
				return result, fmt.Errorf("%w: reserved subscription option bits", mqtt.ErrMalformedPacket)
			}
			sub.NoLocal = options&0x04 != 0
			sub.RetainAsPublished = options&0x08 != 0
			sub.RetainHandling = (options & 0x30) >> 4
			if sub.RetainHandling == 3 {
				return result, fmt.Errorf("%w: retain handling 3", ErrProtocolViolation)
			}
		} else if options&0xFC != 0 {
			return result, fmt.Errorf("%w: reserved subscription option bits", mqtt.ErrMalformedPacket)
		}
		result.Subscriptions = append(result.Subscriptions, sub)
	}

	if len(result.Subscriptions) == 0 {
		return result, fmt.Errorf("%w: SUBSCRIBE without topic filters", ErrProtocolViolation)
	}
	return result, nil
}

func NewSubscribePacket(version mqtt.ProtocolVersion, p *SubscribePacket) []byte {
	body := mqtt.AppendUint16(nil, p.PacketID)
	if version.IsV5() {
		body = mqtt.AppendProperties(body, p.Properties)
	}
	for _, sub := range p.Subscriptions {
		body = mqtt.AppendString(body, sub.TopicFilter)
		options := byte(sub.QoS & 0x03)
		if version.IsV5() {
			if sub.NoLocal {
				options |= 0x04
			}
			if sub.RetainAsPublished {
				options |= 0x08
			}
			options |= (sub.RetainHandling & 0x03) << 4
		}
		body = append(body, options)
	}
	return mqtt.NewPacket(mqtt.SUBSCRIBE, 0x02, body)
}
