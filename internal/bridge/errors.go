package bridge

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/topic"
)

var (
	ErrInvalidTopic = topic.ErrInvalidTopic
	ErrAccessDenied = errors.New("access denied")
	ErrPubSub       = errors.New("pub/sub network error")
	ErrProtocol     = errors.New("protocol error")
)

// Error is the single error type a Session reports to its protocol adapter.
// Kind is ErrInvalidTopic or ErrPubSub.
type Error struct {
	ClientID string
	Op       string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("MQTT client %s: %s: %v", e.ClientID, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(clientID, op string, kind, err error) *Error {
	return &Error{ClientID: clientID, Op: op, Kind: kind, Err: err}
}
