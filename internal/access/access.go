// Package access evaluates the allow/deny topic policy.
//
// Patterns are MQTT topic filters. Deny is evaluated first: a deny pattern that
// intersects the topic forbids it, whatever the allow list says. Otherwise a
// non-empty allow list must contain a pattern that includes the topic, and an
// empty allow list permits everything.
package access

import (
	"slices"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/config"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/topic"
)

type pattern struct {
	raw string
	key keyexpr.KeyExpr
}

// Filter is the compiled form of an allow/deny policy. It is immutable.
type Filter struct {
	allow []pattern
	deny  []pattern
}

// NewFilter compiles the allow and deny lists. Patterns that are not valid
// topic filters are rejected.
func NewFilter(allow, deny []string) (*Filter, error) {
	a, err := compile(allow)
	if err != nil {
		return nil, err
	}
	d, err := compile(deny)
	if err != nil {
		return nil, err
	}
	return &Filter{allow: a, deny: d}, nil
}

func compile(raw []string) ([]pattern, error) {
	patterns := make([]pattern, 0, len(raw))
	for _, p := range raw {
		if err := topic.ValidateFilter(p); err != nil {
			return nil, err
		}
		ke, err := topic.ToKey(p, "")
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern{raw: p, key: ke})
	}
	return patterns, nil
}

// IsAllowed evaluates cfg's policy for topic. Invalid patterns are skipped; use
// NewFilter to have them reported.
func IsAllowed(topicName string, cfg *config.Config) bool {
	return (&Filter{allow: compileLenient(cfg.Allow), deny: compileLenient(cfg.Deny)}).IsAllowed(topicName)
}

func compileLenient(raw []string) []pattern {
	patterns := make([]pattern, 0, len(raw))
	for _, p := range raw {
		if topic.ValidateFilter(p) != nil {
			continue
		}
		// untranslatable patterns keep an empty key and only match literally
		ke, _ := topic.ToKey(p, "")
		patterns = append(patterns, pattern{raw: p, key: ke})
	}
	return patterns
}

// IsAllowed reports whether topicName (a topic name or filter) may be published or subscribed.
// Topics that have no key expression form are compared literally.
func (f *Filter) IsAllowed(topicName string) bool {
	ke, err := topic.ToKey(topicName, "")
	if err != nil {
		return f.isAllowedLiteral(topicName)
	}
	for _, p := range f.deny {
		if p.key != "" && keyexpr.Intersects(p.key, ke) {
			return false
		}
	}
	if len(f.allow) == 0 {
		return true
	}
	for _, p := range f.allow {
		if p.key != "" && keyexpr.Includes(p.key, ke) {
			return true
		}
	}
	return false
}

func (f *Filter) isAllowedLiteral(topicName string) bool {
	same := func(p pattern) bool { return p.raw == topicName }
	if slices.ContainsFunc(f.deny, same) {
		return false
	}
	return len(f.allow) == 0 || slices.ContainsFunc(f.allow, same)
}
