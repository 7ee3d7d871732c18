package packet

// PINGREQ, PINGRESP, DISCONNECT and AUTH

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
)

type PingReqPacket struct{}

type DisconnectPacket struct {
	ReasonCode mqtt.ReasonCode
	Properties mqtt.Properties
}

type AuthPacket struct {
	ReasonCode mqtt.ReasonCode
	Properties mqtt.Properties
}

func NewPingReqPacket() []byte {
	return mqtt.NewPacket(mqtt.PINGREQ, 0, nil)
}

func NewPingRespPacket() []byte {
	return mqtt.NewPacket(mqtt.PINGRESP, 0, nil)
}

// NewDisconnectPacket builds DISCONNECT. Before 5.0 it has no body and reason is ignored.
func NewDisconnectPacket(version mqtt.ProtocolVersion, reason mqtt.ReasonCode, props mqtt.Properties) []byte {
	if !version.IsV5() {
		return mqtt.NewPacket(mqtt.DISCONNECT, 0, nil)
	}
	body := []byte{byte(reason)}
	body = mqtt.AppendProperties(body, props)
	return mqtt.NewPacket(mqtt.DISCONNECT, 0, body)
}

func ParseDisconnectPacket(version mqtt.ProtocolVersion, packet *mqtt.Packet) (*DisconnectPacket, error) {
	result := &DisconnectPacket{ReasonCode: mqtt.NormalDisconnection}
	if !version.IsV5() {
		if packet.Payload.CheckRemainingLength() {
			return result, fmt.Errorf("%w: DISCONNECT carries a body", mqtt.ErrMalformedPacket)
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
			return result, fmt.Errorf("disconnect properties: %w", err)
		}
	}
	return result, nil
}

func NewAuthPacket(reason mqtt.ReasonCode, props mqtt.Properties) []byte {
	body := []byte{byte(reason)}
	body = mqtt.AppendProperties(body, props)
	return mqtt.NewPacket(mqtt.AUTH, 0, body)
}

// ParseAuthPacket decodes AUTH, which only exists in 5.0.
func ParseAuthPacket(version mqtt.ProtocolVersion, packet *mqtt.Packet) (*AuthPacket, error) {
	result := &AuthPacket{ReasonCode: mqtt.Success}
	if !version.IsV5() {
		return result, fmt.Errorf("%w: AUTH requires protocol 5.0, got %s", ErrProtocolViolation, version)
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
			return result, fmt.Errorf("auth properties: %w", err)
		}
	}
	return result, nil
}
