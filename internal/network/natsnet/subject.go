package natsnet

import (
	"fmt"
	"strings"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
)

const (
	subjectSeparator = "."
	subjectFullWild  = ">"
)

// Characters NATS gives a meaning to inside a token are percent-escaped.
var (
	chunkEscaper   = strings.NewReplacer("%", "%25", ".", "%2E", ">", "%3E", " ", "%20", "\t", "%09", "\r", "%0D", "\n", "%0A")
	chunkUnescaper = strings.NewReplacer("%25", "%", "%2E", ".", "%3E", ">", "%20", " ", "%09", "\t", "%0D", "\r", "%0A", "\n")
)

// subjectsFor maps a key expression to the subjects that together cover it.
// A trailing "**" also matches its parent, which NATS ">" does not, so it
// needs the parent subject as well.
func subjectsFor(key keyexpr.KeyExpr) ([]string, error) {
	chunks := key.Chunks()
	tokens := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		switch chunk {
		case keyexpr.DoubleWild:
			if i != len(chunks)-1 {
				return nil, fmt.Errorf("%w: %q has a non-trailing %s", network.ErrUnsupportedKey, key, keyexpr.DoubleWild)
			}
			if len(tokens) == 0 {
				return []string{subjectFullWild}, nil
			}
			parent := strings.Join(tokens, subjectSeparator)
			return []string{parent, parent + subjectSeparator + subjectFullWild}, nil
		case keyexpr.SingleWild:
			tokens = append(tokens, keyexpr.SingleWild)
		default:
			tokens = append(tokens, chunkEscaper.Replace(chunk))
		}
	}
	return []string{strings.Join(tokens, subjectSeparator)}, nil
}

// subjectFor maps a concrete key to the subject it is published on.
func subjectFor(key keyexpr.KeyExpr) (string, error) {
	if key.IsWild() {
		return "", fmt.Errorf("%w: cannot publish on wildcard key %q", network.ErrUnsupportedKey, key)
	}
	subjects, err := subjectsFor(key)
	if err != nil {
		return "", err
	}
	return subjects[0], nil
}

func keyFor(subject string) (keyexpr.KeyExpr, error) {
	tokens := strings.Split(subject, subjectSeparator)
	for i, token := range tokens {
		tokens[i] = chunkUnescaper.Replace(token)
	}
	return keyexpr.New(strings.Join(tokens, keyexpr.Separator))
}
