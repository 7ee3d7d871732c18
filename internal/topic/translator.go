package topic

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
)

const (
	cacheSize = 256
	cacheTTL  = time.Hour
)

// Translator is bound to one scope and memoizes topic to key conversions.
// It is safe for concurrent use and is meant to be shared by every session.
type Translator struct {
	scope string
	keys  *expirable.LRU[string, keyexpr.KeyExpr]
}

func NewTranslator(scope string) *Translator {
	return &Translator{
		scope: scope,
		keys:  expirable.NewLRU[string, keyexpr.KeyExpr](cacheSize, nil, cacheTTL),
	}
}

func (t *Translator) Scope() string {
	return t.scope
}

// ToKey is the cached form of the package level ToKey. Failures are not cached.
func (t *Translator) ToKey(topic string) (keyexpr.KeyExpr, error) {
	if ke, ok := t.keys.Get(topic); ok {
		return ke, nil
	}
	ke, err := ToKey(topic, t.scope)
	if err != nil {
		return "", err
	}
	t.keys.Add(topic, ke)
	return ke, nil
}

func (t *Translator) ToTopic(key keyexpr.KeyExpr) (string, error) {
	return ToTopic(key, t.scope)
}
