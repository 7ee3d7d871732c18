// Package topic converts MQTT topic names and filters to key expressions and back.
//
// The MQTT level separator maps to the key separator, "+" maps to "*" and "#"
// maps to "**". A configured scope is prepended as a literal prefix.
package topic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
)

const (
	LevelSeparator  = "/"
	SingleLevelWild = "+"
	MultiLevelWild  = "#"
)

var ErrInvalidTopic = errors.New("invalid topic")

// ToKey translates an MQTT topic name or filter into a key expression under scope.
func ToKey(topic string, scope string) (keyexpr.KeyExpr, error) {
	if topic == "" {
		return "", fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	levels := strings.Split(topic, LevelSeparator)
	for i, level := range levels {
		switch level {
		case SingleLevelWild:
			levels[i] = keyexpr.SingleWild
		case MultiLevelWild:
			levels[i] = keyexpr.DoubleWild
		}
	}
	ke, err := keyexpr.Join(scope, strings.Join(levels, keyexpr.Separator))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidTopic, topic, err)
	}
	return ke, nil
}

// ToTopic translates a concrete key expression back into an MQTT topic name,
// stripping scope when one is configured.
func ToTopic(key keyexpr.KeyExpr, scope string) (string, error) {
	s := key.String()
	if scope != "" {
		prefix := scope + keyexpr.Separator
		if !strings.HasPrefix(s, prefix) {
			return "", fmt.Errorf("%w: key %q is outside scope %q", ErrInvalidTopic, s, scope)
		}
		s = strings.TrimPrefix(s, prefix)
	}
	if s == "" {
		return "", fmt.Errorf("%w: key %q is empty once scope %q is stripped", ErrInvalidTopic, key, scope)
	}
	return s, nil
}

// ValidateName checks a topic name used in PUBLISH: non-empty and free of wildcards.
func ValidateName(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic name", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, SingleLevelWild+MultiLevelWild) {
		return fmt.Errorf("%w: topic name %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a topic filter used in SUBSCRIBE.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty topic filter", ErrInvalidTopic)
	}
	levels := strings.Split(filter, LevelSeparator)
	for i, level := range levels {
		if strings.Contains(level, MultiLevelWild) && (level != MultiLevelWild || i != len(levels)-1) {
			return fmt.Errorf("%w: '#' must be the last level on its own in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, SingleLevelWild) && level != SingleLevelWild {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}
