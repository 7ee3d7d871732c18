package mqtt

import (
	"fmt"
	"slices"
)

// PropertyID is an MQTT 5 property identifier.
type PropertyID byte

const (
	PropPayloadFormat        PropertyID = 0x01
	PropMessageExpiry        PropertyID = 0x02
	PropContentType          PropertyID = 0x03
	PropResponseTopic        PropertyID = 0x08
	PropCorrelationData      PropertyID = 0x09
	PropSubscriptionID       PropertyID = 0x0B
	PropSessionExpiry        PropertyID = 0x11
	PropAssignedClientID     PropertyID = 0x12
	PropServerKeepAlive      PropertyID = 0x13
	PropAuthMethod           PropertyID = 0x15
	PropAuthData             PropertyID = 0x16
	PropRequestProblemInfo   PropertyID = 0x17
	PropWillDelay            PropertyID = 0x18
	PropRequestResponseInfo  PropertyID = 0x19
	PropResponseInfo         PropertyID = 0x1A
	PropServerReference      PropertyID = 0x1C
	PropReasonString         PropertyID = 0x1F
	PropReceiveMaximum       PropertyID = 0x21
	PropTopicAliasMaximum    PropertyID = 0x22
	PropTopicAlias           PropertyID = 0x23
	PropMaximumQoS           PropertyID = 0x24
	PropRetainAvailable      PropertyID = 0x25
	PropUserProperty         PropertyID = 0x26
	PropMaximumPacketSize    PropertyID = 0x27
	PropWildcardSubAvailable PropertyID = 0x28
	PropSubIDAvailable       PropertyID = 0x29
	PropSharedSubAvailable   PropertyID = 0x2A
)

type propertyKind byte

const (
	kindByte propertyKind = iota
	kindUint16
	kindUint32
	kindVarInt
	kindString
	kindBinary
	kindStringPair
)

var propertyKinds = map[PropertyID]propertyKind{
	PropPayloadFormat:        kindByte,
	PropMessageExpiry:        kindUint32,
	PropContentType:          kindString,
	PropResponseTopic:        kindString,
	PropCorrelationData:      kindBinary,
	PropSubscriptionID:       kindVarInt,
	PropSessionExpiry:        kindUint32,
	PropAssignedClientID:     kindString,
	PropServerKeepAlive:      kindUint16,
	PropAuthMethod:           kindString,
	PropAuthData:             kindBinary,
	PropRequestProblemInfo:   kindByte,
	PropWillDelay:            kindUint32,
	PropRequestResponseInfo:  kindByte,
	PropResponseInfo:         kindString,
	PropServerReference:      kindString,
	PropReasonString:         kindString,
	PropReceiveMaximum:       kindUint16,
	PropTopicAliasMaximum:    kindUint16,
	PropTopicAlias:           kindUint16,
	PropMaximumQoS:           kindByte,
	PropRetainAvailable:      kindByte,
	PropUserProperty:         kindStringPair,
	PropMaximumPacketSize:    kindUint32,
	PropWildcardSubAvailable: kindByte,
	PropSubIDAvailable:       kindByte,
	PropSharedSubAvailable:   kindByte,
}

// Property is one decoded property. Integer kinds use Int, string kinds use
// Str (and Value for the second half of a user property), binary kinds use Data.
type Property struct {
	ID    PropertyID
	Int   uint32
	Str   string
	Value string
	Data  []byte
}

// Properties keeps the wire order so user properties survive a round trip.
type Properties []Property

func (ps Properties) Get(id PropertyID) (Property, bool) {
	i := slices.IndexFunc(ps, func(p Property) bool { return p.ID == id })
	if i < 0 {
		return Property{}, false
	}
	return ps[i], true
}

func (ps Properties) Str(id PropertyID) string {
	p, _ := ps.Get(id)
	return p.Str
}

func (ps Properties) Uint(id PropertyID) (uint32, bool) {
	p, ok := ps.Get(id)
	return p.Int, ok
}

func (ps Properties) Binary(id PropertyID) []byte {
	p, _ := ps.Get(id)
	return p.Data
}

func (ps Properties) UserProperties() [][2]string {
	var pairs [][2]string
	for _, p := range ps {
		if p.ID == PropUserProperty {
			pairs = append(pairs, [2]string{p.Str, p.Value})
		}
	}
	return pairs
}

func (ps Properties) WithString(id PropertyID, s string) Properties {
	return append(ps, Property{ID: id, Str: s})
}

func (ps Properties) WithUint(id PropertyID, v uint32) Properties {
	return append(ps, Property{ID: id, Int: v})
}

// ReadProperties decodes a length prefixed property block.
func (p *Payload) ReadProperties() (Properties, error) {
	length, err := p.ReadVarInt()
	if err != nil {
		return nil, err
	}
	data, err := p.ReadBytes(length)
	if err != nil {
		return nil, err
	}
	block := NewPayload(data)
	var props Properties
	for block.CheckRemainingLength() {
		idVal, err := block.ReadVarInt()
		if err != nil {
			return nil, err
		}
		id := PropertyID(idVal)
		kind, ok := propertyKinds[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown property 0x%02X", ErrMalformedPacket, idVal)
		}
		prop := Property{ID: id}
		switch kind {
		case kindByte:
			b, err := block.ReadByte()
			if err != nil {
				return nil, err
			}
			prop.Int = uint32(b)
		case kindUint16:
			v, err := block.ReadUint16()
			if err != nil {
				return nil, err
			}
			prop.Int = uint32(v)
		case kindUint32:
			if prop.Int, err = block.ReadUint32(); err != nil {
				return nil, err
			}
		case kindVarInt:
			v, err := block.ReadVarInt()
			if err != nil {
				return nil, err
			}
			prop.Int = uint32(v)
		case kindString:
			if prop.Str, err = block.ReadString(); err != nil {
				return nil, err
			}
		case kindBinary:
			if prop.Data, err = block.ReadBinary(); err != nil {
				return nil, err
			}
		case kindStringPair:
			if prop.Str, err = block.ReadString(); err != nil {
				return nil, err
			}
			if prop.Value, err = block.ReadString(); err != nil {
				return nil, err
			}
		}
		props = append(props, prop)
	}
	return props, nil
}

// AppendProperties encodes ps with its length prefix. Unknown ids are skipped.
func AppendProperties(b []byte, ps Properties) []byte {
	var body []byte
	for _, p := range ps {
		kind, ok := propertyKinds[p.ID]
		if !ok {
			continue
		}
		body = AppendVarInt(body, int(p.ID))
		switch kind {
		case kindByte:
			body = append(body, byte(p.Int))
		case kindUint16:
			body = AppendUint16(body, uint16(p.Int))
		case kindUint32:
			body = AppendUint32(body, p.Int)
		case kindVarInt:
			body = AppendVarInt(body, int(p.Int))
		case kindString:
			body = AppendString(body, p.Str)
		case kindBinary:
			body = AppendBinary(body, p.Data)
		case kindStringPair:
			body = AppendString(body, p.Str)
			body = AppendString(body, p.Value)
		}
	}
	b = AppendVarInt(b, len(body))
	return append(b, body...)
}
