package mqtt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrPacketTooLarge  = errors.New("packet too large")
)

// MaxRemainingLength is the largest value a 4 byte variable byte integer can hold.
const MaxRemainingLength = 268435455

func UInt16ToByte(number uint16) []byte {
	result := make([]byte, 2)
	binary.BigEndian.PutUint16(result, number)
	return result
}

func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadPacket reads one control packet from r. maxSize bounds the remaining
// length; zero means the protocol maximum.
func ReadPacket(r io.Reader, maxSize int) (*Packet, error) {
	typeAndFlags, err := ReadByte(r)
	if err != nil {
		return nil, err
	}

	remaining, err := DecodeRemainingLength(r)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && remaining > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPacketTooLarge, remaining, maxSize)
	}

	payload := make([]byte, remaining)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	header := &FixedHeader{
		Type:            PacketType(typeAndFlags >> 4),
		Flags:           typeAndFlags & 0x0F,
		RemainingLength: remaining,
	}

	if header.Type < CONNECT || header.Type > AUTH {
		return nil, fmt.Errorf("%w: reserved packet type %d", ErrMalformedPacket, header.Type)
	}
	if !ValidateFlags(header.Type, header.Flags) {
		return nil, fmt.Errorf("%w: flags %d of %s packet is not valid", ErrMalformedPacket, header.Flags, header.Type.String())
	}

	return &Packet{
		Header:  header,
		Payload: NewPayload(payload),
	}, nil
}

func DecodeRemainingLength(r io.Reader) (int, error) {
	multiplier := 1
	value := 0
	for i := 0; i < 4; i++ {
		encodedByte, err := ReadByte(r)
		if err != nil {
			return 0, err
		}
		value += int(encodedByte&127) * multiplier
		multiplier *= 128
		if (encodedByte & 128) == 0 {
			return value, nil
		}
	}
	return 0, fmt.Errorf("%w: the remaining length exceeds the 4 byte limit", ErrMalformedPacket)
}

// EncodeRemainingLength encodes x as a variable byte integer. Zero encodes as a single 0x00.
func EncodeRemainingLength(x int) []byte {
	var buf [4]byte
	i := 0
	for {
		buf[i] = byte(x % 128)
		x /= 128
		if x > 0 {
			buf[i] |= 128
		}
		i++
		if x == 0 || i == 4 {
			break
		}
	}
	return buf[:i]
}

func ValidateFlags(pt PacketType, flags byte) bool {
	if pt == PUBLISH {
		return true
	}
	required, ok := fixedFlags[pt]
	return ok && flags == required
}

// NewPacket frames body with a fixed header.
func NewPacket(pt PacketType, flags byte, body []byte) []byte {
	packet := make([]byte, 0, 1+4+len(body))
	packet = append(packet, byte(pt)<<4|flags&0x0F)
	packet = append(packet, EncodeRemainingLength(len(body))...)
	return append(packet, body...)
}

func AppendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

func AppendUint32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}

func AppendString(b []byte, s string) []byte {
	b = AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func AppendBinary(b []byte, data []byte) []byte {
	b = AppendUint16(b, uint16(len(data)))
	return append(b, data...)
}

func AppendVarInt(b []byte, v int) []byte {
	return append(b, EncodeRemainingLength(v)...)
}

func NewPayload(data []byte) *Payload {
	return &Payload{Context: data, ContextLen: len(data)}
}

func (p *Payload) CheckRemainingLength() bool {
	return p.CurrentPtr < p.ContextLen
}

func (p *Payload) Remaining() int {
	return p.ContextLen - p.CurrentPtr
}

func (p *Payload) ReadByte() (byte, error) {
	if p.CurrentPtr >= p.ContextLen {
		return 0, fmt.Errorf("%w: unexpected end of packet", ErrMalformedPacket)
	}
	b := p.Context[p.CurrentPtr]
	p.CurrentPtr++
	return b, nil
}

func (p *Payload) ReadBytes(length int) ([]byte, error) {
	if length < 0 || p.CurrentPtr+length > p.ContextLen {
		return nil, fmt.Errorf("%w: need %d bytes, %d left", ErrMalformedPacket, length, p.Remaining())
	}
	data := p.Context[p.CurrentPtr : p.CurrentPtr+length]
	p.CurrentPtr += length
	return data, nil
}

// ReadRest consumes everything left in the payload.
func (p *Payload) ReadRest() []byte {
	data := p.Context[p.CurrentPtr:p.ContextLen]
	p.CurrentPtr = p.ContextLen
	return data
}

func (p *Payload) ReadUint16() (uint16, error) {
	data, err := p.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(data), nil
}

func (p *Payload) ReadUint32() (uint32, error) {
	data, err := p.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(data), nil
}

// ReadBinary reads a two byte length prefixed field.
func (p *Payload) ReadBinary() ([]byte, error) {
	length, err := p.ReadUint16()
	if err != nil {
		return nil, err
	}
	return p.ReadBytes(int(length))
}

// ReadString reads a length prefixed UTF-8 string. NUL characters are rejected.
func (p *Payload) ReadString() (string, error) {
	data, err := p.ReadBinary()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", ErrMalformedPacket)
	}
	for _, c := range data {
		if c == 0 {
			return "", fmt.Errorf("%w: string contains NUL", ErrMalformedPacket)
		}
	}
	return string(data), nil
}

func (p *Payload) ReadVarInt() (int, error) {
	multiplier := 1
	value := 0
	for i := 0; i < 4; i++ {
		b, err := p.ReadByte()
		if err != nil {
			return 0, err
		}
		value += int(b&127) * multiplier
		multiplier *= 128
		if b&128 == 0 {
			return value, nil
		}
	}
	return 0, fmt.Errorf("%w: variable byte integer exceeds 4 bytes", ErrMalformedPacket)
}
