package packet

// CONNECT and CONNACK

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
)

// ConnectPacketFlag is the connect flags byte of CONNECT.
type ConnectPacketFlag struct {
	UsernameFlag    bool
	PasswordFlag    bool
	WillRetain      bool
	WillQoS         mqtt.QoS
	WillMessageFlag bool
	CleanSession    bool
}

type ConnectPacket struct {
	ProtocolName    string
	ProtocolVersion mqtt.ProtocolVersion
	ConnectFlag     ConnectPacketFlag
	KeepAlive       uint16
	Properties      mqtt.Properties
	ClientID        string
	WillProperties  mqtt.Properties
	WillTopic       string
	WillPayload     []byte
	Username        string
	Password        []byte
}

var protocolNames = map[mqtt.ProtocolVersion]string{
	mqtt.V31:  "MQIsdp",
	mqtt.V311: "MQTT",
	mqtt.V5:   "MQTT",
}

// NewConnectAckPacket builds CONNACK. For 3.x code is a mqtt.ConnectReturnCode,
// for 5.0 a mqtt.ReasonCode; props are only written for 5.0.
func NewConnectAckPacket(version mqtt.ProtocolVersion, sessionPresent bool, code byte, props mqtt.Properties) []byte {
	var flags byte
	if sessionPresent {
		flags = 0x01
	}
	body := []byte{flags, code}
	if version.IsV5() {
		body = mqtt.AppendProperties(body, props)
	}
	return mqtt.NewPacket(mqtt.CONNACK, 0, body)
}

// ParseConnectPacket decodes the variable header and payload of CONNECT. An
// unknown protocol level yields ErrUnsupportedVersion together with the parsed
// prefix so the caller can refuse with the matching CONNACK.
func ParseConnectPacket(packet *mqtt.Packet) (*ConnectPacket, error) {
	payload := packet.Payload
	result := &ConnectPacket{}

	protocolName, err := payload.ReadString()
	if err != nil {
		return result, fmt.Errorf("unable to read protocol name: %w", err)
	}
	result.ProtocolName = protocolName

	version, err := payload.ReadByte()
	if err != nil {
		return result, fmt.Errorf("unable to read protocol version: %w", err)
	}
	result.ProtocolVersion = mqtt.ProtocolVersion(version)

	expectedName, ok := protocolNames[result.ProtocolVersion]
	if !ok {
		return result, fmt.Errorf("%w: protocol level %d", ErrUnsupportedVersion, version)
	}
	if protocolName != expectedName {
		return result, fmt.Errorf("%w: incorrect protocol name %q for level %d", ErrProtocolViolation, protocolName, version)
	}

	connectFlag, err := payload.ReadByte()
	if err != nil {
		return result, fmt.Errorf("unable to read connect flags: %w", err)
	}
	if connectFlag&0x01 != 0 {
		return result, fmt.Errorf("%w: reserved connect flag is set", ErrProtocolViolation)
	}
	result.ConnectFlag = ConnectPacketFlag{
		UsernameFlag:    connectFlag&0x80 != 0,
		PasswordFlag:    connectFlag&0x40 != 0,
		WillRetain:      connectFlag&0x20 != 0,
		WillQoS:         mqtt.QoS((connectFlag & 0x18) >> 3),
		WillMessageFlag: connectFlag&0x04 != 0,
		CleanSession:    connectFlag&0x02 != 0,
	}
	flags := result.ConnectFlag
	if !flags.WillMessageFlag && (flags.WillRetain || flags.WillQoS != mqtt.AtMostOnce) {
		return result, fmt.Errorf("%w: will retain and will QoS require the will flag", ErrProtocolViolation)
	}
	if flags.WillQoS > mqtt.ExactlyOnce {
		return result, fmt.Errorf("%w: will QoS 3", ErrProtocolViolation)
	}
	if !result.ProtocolVersion.IsV5() && flags.PasswordFlag && !flags.UsernameFlag {
		return result, fmt.Errorf("%w: password without username", ErrProtocolViolation)
	}

	if result.KeepAlive, err = payload.ReadUint16(); err != nil {
		return result, fmt.Errorf("unable to read keep alive: %w", err)
	}

	if result.ProtocolVersion.IsV5() {
		if result.Properties, err = payload.ReadProperties(); err != nil {
			return result, fmt.Errorf("connect properties: %w", err)
		}
	}

	if result.ClientID, err = payload.ReadString(); err != nil {
		return result, fmt.Errorf("client ID: %w", err)
	}

	if flags.WillMessageFlag {
		if result.ProtocolVersion.IsV5() {
			if result.WillProperties, err = payload.ReadProperties(); err != nil {
				return result, fmt.Errorf("will properties: %w", err)
			}
		}
		if result.WillTopic, err = payload.ReadString(); err != nil {
			return result, fmt.Errorf("will topic: %w", err)
		}
		if result.WillPayload, err = payload.ReadBinary(); err != nil {
			return result, fmt.Errorf("will payload: %w", err)
		}
	}

	if flags.UsernameFlag {
		if result.Username, err = payload.ReadString(); err != nil {
			return result, fmt.Errorf("username: %w", err)
		}
	}

	if flags.PasswordFlag {
		if result.Password, err = payload.ReadBinary(); err != nil {
			return result, fmt.Errorf("password: %w", err)
		}
	}

	if payload.CheckRemainingLength() {
		return result, fmt.Errorf("%w: %d trailing bytes after CONNECT payload", mqtt.ErrMalformedPacket, payload.Remaining())
	}

	return result, nil
}

// NewConnectPacket encodes c as a client would send it.
func NewConnectPacket(c *ConnectPacket) []byte {
	name := c.ProtocolName
	if name == "" {
		name = protocolNames[c.ProtocolVersion]
	}
	var flags byte
	if c.ConnectFlag.UsernameFlag {
		flags |= 0x80
	}
	if c.ConnectFlag.PasswordFlag {
		flags |= 0x40
	}
	if c.ConnectFlag.WillRetain {
		flags |= 0x20
	}
	flags |= byte(c.ConnectFlag.WillQoS&0x03) << 3
	if c.ConnectFlag.WillMessageFlag {
		flags |= 0x04
	}
	if c.ConnectFlag.CleanSession {
		flags |= 0x02
	}

	body := mqtt.AppendString(nil, name)
	body = append(body, byte(c.ProtocolVersion), flags)
	body = mqtt.AppendUint16(body, c.KeepAlive)
	if c.ProtocolVersion.IsV5() {
		body = mqtt.AppendProperties(body, c.Properties)
	}
	body = mqtt.AppendString(body, c.ClientID)
	if c.ConnectFlag.WillMessageFlag {
		if c.ProtocolVersion.IsV5() {
			body = mqtt.AppendProperties(body, c.WillProperties)
		}
		body = mqtt.AppendString(body, c.WillTopic)
		body = mqtt.AppendBinary(body, c.WillPayload)
	}
	if c.ConnectFlag.UsernameFlag {
		body = mqtt.AppendString(body, c.Username)
	}
	if c.ConnectFlag.PasswordFlag {
		body = mqtt.AppendBinary(body, c.Password)
	}
	return mqtt.NewPacket(mqtt.CONNECT, 0, body)
}
