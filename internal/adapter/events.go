package adapter

import (
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/packet"
)

// Event is an inbound protocol event. The set is closed.
type Event interface {
	event()
}

type Handshake struct {
	Packet *packet.ConnectPacket
}

type Publish struct {
	Packet *packet.PublishPacket
}

// PubRel releases a QoS 2 publication.
type PubRel struct {
	PacketID uint16
}

type Ping struct{}

type Disconnect struct {
	ReasonCode mqtt.ReasonCode
}

type Subscribe struct {
	Packet *packet.SubscribePacket
}

type Unsubscribe struct {
	Packet *packet.UnsubscribePacket
}

// Closed reports that the client closed the transport.
type Closed struct{}

// PeerGone reports that the transport failed or timed out.
type PeerGone struct {
	Err error
}

// Error carries a failure raised while serving the client.
type Error struct {
	Err error
}

// ProtocolError carries malformed or unexpected traffic from the client.
type ProtocolError struct {
	Err error
}

type Auth struct {
	Packet *packet.AuthPacket
}

func (Handshake) event()     {}
func (Publish) event()       {}
func (PubRel) event()        {}
func (Ping) event()          {}
func (Disconnect) event()    {}
func (Subscribe) event()     {}
func (Unsubscribe) event()   {}
func (Closed) event()        {}
func (PeerGone) event()      {}
func (Error) event()         {}
func (ProtocolError) event() {}
func (Auth) event()          {}

// EventFor maps a decoded packet to its event. PUBACK, PUBREC and PUBCOMP
// acknowledge server publications, which are always QoS 0, so they map to nil.
func EventFor(decoded any) Event {
	switch p := decoded.(type) {
	case *packet.ConnectPacket:
		return Handshake{Packet: p}
	case *packet.PublishPacket:
		return Publish{Packet: p}
	case *packet.AckPacket:
		if p.Type == mqtt.PUBREL {
			return PubRel{PacketID: p.PacketID}
		}
		return nil
	case *packet.PingReqPacket:
		return Ping{}
	case *packet.DisconnectPacket:
		return Disconnect{ReasonCode: p.ReasonCode}
	case *packet.SubscribePacket:
		return Subscribe{Packet: p}
	case *packet.UnsubscribePacket:
		return Unsubscribe{Packet: p}
	case *packet.AuthPacket:
		return Auth{Packet: p}
	default:
		return nil
	}
}
