package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
)

// AckPacket is one of PUBACK, PUBREC, PUBREL and PUBCOMP.
type AckPacket struct {
	Type       mqtt.PacketType
	PacketID   uint16
	ReasonCode mqtt.ReasonCode
	Properties mqtt.Properties
}

// NewAckPacket builds a publish acknowledgment. A v5 success without properties
// uses the two byte short form.
func NewAckPacket(version mqtt.ProtocolVersion, pt mqtt.PacketType, packetID uint16, reason mqtt.ReasonCode, props mqtt.Properties) []byte {
	var flags byte
	if pt == mqtt.PUBREL {
		flags = 0x02
	}
	body := mqtt.AppendUint16(nil, packetID)
	if version.IsV5() && (reason != mqtt.Success || len(props) > 0) {
		body = append(body, byte(reason))
		if len(props) > 0 {
			body = mqtt.AppendProperties(body, props)
		}
	}
	return mqtt.NewPacket(pt, flags, body)
}

func ParseAckPacket(version mqtt.ProtocolVersion, packet *mqtt.Packet) (*AckPacket, error) {
	result := &AckPacket{Type: packet.Header.Type}
	var err error
	if result.PacketID, err = packet.Payload.ReadUint16(); err != nil {
		return result, fmt.Errorf("error occurred when reading packet ID: %w", err)
	}
	if !version.IsV5() {
		if packet.Payload.CheckRemainingLength() {
			return result, fmt.Errorf("%w: %s carries %d extra bytes", mqtt.ErrMalformedPacket, result.Type, packet.Payload.Remaining())
		}
		return result, nil
	}
	if !packet.Payload.CheckRemainingLength() {
		return result, nil
	}
	reason, err := packet.Payload.ReadByte()
	if err != nil {
		return result, err
	}
	result.ReasonCode = mqtt.ReasonCode(reason)
	if packet.Payload.CheckRemainingLength() {
		if result.Properties, err = packet.Payload.ReadProperties(); err != nil {
			return result, fmt.Errorf("%s properties: %w", result.Type, err)
		}
	}
	return result, nil
}
