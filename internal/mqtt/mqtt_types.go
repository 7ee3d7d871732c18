// Package mqtt implements the MQTT 3.1.1 and 5.0 framing: fixed headers,
// variable byte integers, v5 properties and reason codes.
package mqtt

import "fmt"

// PacketType is the MQTT control packet type
type PacketType byte

const (
	CONNECT PacketType = iota + 1
	CONNACK
	PUBLISH
	PUBACK
	PUBREC
	PUBREL
	PUBCOMP
	SUBSCRIBE
	SUBACK
	UNSUBSCRIBE
	UNSUBACK
	PINGREQ
	PINGRESP
	DISCONNECT
	AUTH // MQTT 5 only
)

var PacketTypeMap = map[PacketType]string{
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
	AUTH:        "AUTH",
}

func (packetType PacketType) String() string {
	if name, ok := PacketTypeMap[packetType]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(packetType))
}

// fixedFlags lists the packet types whose flag nibble is fixed by the protocol.
// PUBLISH flags carry DUP/QoS/RETAIN and are checked when the packet is parsed.
var fixedFlags = map[PacketType]byte{
	CONNECT:     0x00,
	CONNACK:     0x00,
	PUBACK:      0x00,
	PUBREC:      0x00,
	PUBREL:      0x02,
	PUBCOMP:     0x00,
	SUBSCRIBE:   0x02,
	SUBACK:      0x00,
	UNSUBSCRIBE: 0x02,
	UNSUBACK:    0x00,
	PINGREQ:     0x00,
	PINGRESP:    0x00,
	DISCONNECT:  0x00,
	AUTH:        0x00,
}

// ProtocolVersion is the protocol level byte of CONNECT.
type ProtocolVersion byte

const (
	V31  ProtocolVersion = 3
	V311 ProtocolVersion = 4
	V5   ProtocolVersion = 5
)

func (v ProtocolVersion) String() string {
	switch v {
	case V31:
		return "3.1"
	case V311:
		return "3.1.1"
	case V5:
		return "5.0"
	default:
		return fmt.Sprintf("unknown(%d)", byte(v))
	}
}

func (v ProtocolVersion) IsV5() bool {
	return v == V5
}

// QoS is the delivery quality level. The bridge only ever grants AtMostOnce.
type QoS byte

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

type FixedHeader struct {
	Type            PacketType
	Flags           byte
	RemainingLength int
}

// Payload is the variable header and payload of a packet with a read cursor.
type Payload struct {
	Context    []byte
	ContextLen int
	CurrentPtr int
}

type Packet struct {
	Header  *FixedHeader
	Payload *Payload
}
