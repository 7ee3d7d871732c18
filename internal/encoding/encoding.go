// Package encoding guesses the content encoding of MQTT payloads.
// MQTT 3.1.1 carries no content type, so the tag is inferred from the bytes and
// attached to outbound samples as advisory metadata only.
package encoding

import (
	"encoding/json"
	"unicode/utf8"
)

type Encoding string

const (
	AppOctetStream Encoding = "application/octet-stream"
	TextPlain      Encoding = "text/plain"
	AppJSON        Encoding = "application/json"
)

func (e Encoding) String() string {
	return string(e)
}

// Guess never fails: payloads that are neither JSON nor UTF-8 text are raw bytes.
func Guess(payload []byte) Encoding {
	switch {
	case json.Valid(payload):
		return AppJSON
	case utf8.Valid(payload):
		return TextPlain
	default:
		return AppOctetStream
	}
}
