// Package bridge holds the per-connection session state that routes MQTT
// publications to the pub/sub network and network samples back to the client.
package bridge

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/access"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/config"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/encoding"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/topic"
)

// Sink is the outbound half of an MQTT connection.
type Sink interface {
	PublishAtMostOnce(topic string, payload []byte) error
}

// Metrics receives routing outcomes. All methods must be safe for concurrent use.
type Metrics interface {
	Published(outcome string)
	Delivered(outcome string)
	Subscribed(outcome string)
	SubscriptionsChanged(delta int)
}

const (
	OutcomeRouted    = "routed"
	OutcomeDenied    = "denied"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
	OutcomeCreated   = "created"
	OutcomeExisting  = "existing"
)

type nopMetrics struct{}

func (nopMetrics) Published(string)         {}
func (nopMetrics) Delivered(string)         {}
func (nopMetrics) Subscribed(string)        {}
func (nopMetrics) SubscriptionsChanged(int) {}

type Option func(*Session)

func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithFilter shares a compiled access filter between sessions.
func WithFilter(f *access.Filter) Option {
	return func(s *Session) {
		if f != nil {
			s.filter = f
		}
	}
}

// WithTranslator shares a scope bound translator between sessions.
func WithTranslator(t *topic.Translator) Option {
	return func(s *Session) {
		if t != nil && t.Scope() == s.config.Scope {
			s.translator = t
		}
	}
}

type Session struct {
	clientID   string
	net        network.Session
	config     *config.Config
	filter     *access.Filter
	translator *topic.Translator
	metrics    Metrics

	mu     sync.RWMutex
	subs   map[string]network.Subscriber
	closed bool
}

func NewSession(clientID string, net network.Session, cfg *config.Config, opts ...Option) *Session {
	s := &Session{
		clientID: clientID,
		net:      net,
		config:   cfg,
		metrics:  nopMetrics{},
		subs:     map[string]network.Subscriber{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.translator == nil {
		s.translator = topic.NewTranslator(cfg.Scope)
	}
	return s
}

func (s *Session) ClientID() string {
	return s.clientID
}

func (s *Session) allowed(topicName string) bool {
	if s.filter != nil {
		return s.filter.IsAllowed(topicName)
	}
	return access.IsAllowed(topicName, s.config)
}

// Subscribe maps an MQTT subscription onto a network subscriber that forwards
// every sample to sink. Denied or untranslatable topics and repeated
// subscriptions are no-ops. Only a failing network declaration is returned.
func (s *Session) Subscribe(ctx context.Context, topicFilter string, sink Sink) error {
	if !s.allowed(topicFilter) {
		logger.InfoF("MQTT Client %s: ignoring its subscription to '%s' topic - not allowed (see your 'allow' or 'deny' configuration)", s.clientID, topicFilter)
		s.metrics.Subscribed(OutcomeDenied)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return newError(s.clientID, "subscribe", ErrPubSub, network.ErrClosed)
	}
	if _, ok := s.subs[topicFilter]; ok {
		logger.DebugF("MQTT Client %s already subscribes to %s => ignore", s.clientID, topicFilter)
		s.metrics.Subscribed(OutcomeExisting)
		return nil
	}

	key, err := s.filterKey(topicFilter)
	if err != nil {
		logger.WarnF("MQTT Client %s: ignoring its subscription to '%s': %v", s.clientID, topicFilter, err)
		s.metrics.Subscribed(OutcomeInvalid)
		return nil
	}

	sub, err := s.net.DeclareSubscriber(ctx, key, func(sample network.Sample) {
		if err := s.routeToMQTT(sample, sink); err != nil {
			logger.Warn(err.Error())
		}
	})
	if err != nil {
		s.metrics.Subscribed(OutcomeFailed)
		return newError(s.clientID, "subscribe to "+topicFilter, ErrPubSub, err)
	}
	s.subs[topicFilter] = sub
	s.metrics.Subscribed(OutcomeCreated)
	s.metrics.SubscriptionsChanged(1)
	logger.TraceF("MQTT client %s: subscription to '%s' mapped on '%s'", s.clientID, topicFilter, key)
	return nil
}

func (s *Session) filterKey(topicFilter string) (keyexpr.KeyExpr, error) {
	if err := topic.ValidateFilter(topicFilter); err != nil {
		return "", err
	}
	return s.translator.ToKey(topicFilter)
}

func (s *Session) routeToMQTT(sample network.Sample, sink Sink) error {
	topicName, err := s.translator.ToTopic(sample.Key)
	if err != nil {
		s.metrics.Delivered(OutcomeDropped)
		return newError(s.clientID, "route sample on "+sample.Key.String(), ErrInvalidTopic, err)
	}
	logger.TraceF("MQTT client %s: route from network '%s' to MQTT '%s'", s.clientID, sample.Key, topicName)
	if err := sink.PublishAtMostOnce(topicName, sample.Payload); err != nil {
		s.metrics.Delivered(OutcomeDropped)
		return newError(s.clientID, "re-publish on MQTT a network publication on "+sample.Key.String(), ErrPubSub, err)
	}
	s.metrics.Delivered(OutcomeDelivered)
	return nil
}

// Unsubscribe only records the intent. The subscriber stays declared and keeps
// delivering until the session is closed.
func (s *Session) Unsubscribe(topicFilter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, known := s.subs[topicFilter]
	logger.DebugF("MQTT client %s unsubscribes from %s (subscribed: %v)", s.clientID, topicFilter, known)
}

// Publish routes an MQTT publication to the network. Denied topics are dropped silently.
func (s *Session) Publish(ctx context.Context, topicName string, payload []byte) error {
	if !s.allowed(topicName) {
		logger.InfoF("MQTT Client %s: ignoring its publication to '%s' topic - not allowed (see your 'allow' or 'deny' configuration)", s.clientID, topicName)
		s.metrics.Published(OutcomeDenied)
		return nil
	}

	if err := topic.ValidateName(topicName); err != nil {
		s.metrics.Published(OutcomeInvalid)
		return newError(s.clientID, "publish", ErrInvalidTopic, err)
	}
	key, err := s.translator.ToKey(topicName)
	if err != nil {
		s.metrics.Published(OutcomeInvalid)
		return newError(s.clientID, "publish", ErrInvalidTopic, err)
	}

	enc := encoding.Guess(payload)
	logger.TraceF("MQTT client %s: route from MQTT '%s' to network '%s' (encoding=%s)", s.clientID, topicName, key, enc)
	if err := s.net.Put(ctx, key, payload, enc); err != nil {
		s.metrics.Published(OutcomeFailed)
		return newError(s.clientID, "publish on "+key.String(), ErrPubSub, err)
	}
	s.metrics.Published(OutcomeRouted)
	return nil
}

// Subscriptions lists the subscribed topic filters in order.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.subs))
}

// Close undeclares every subscriber. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = map[string]network.Subscriber{}
	s.mu.Unlock()

	var firstErr error
	for topicFilter, sub := range subs {
		if err := sub.Undeclare(); err != nil {
			logger.WarnF("MQTT client %s: fail to undeclare subscriber for '%s': %v", s.clientID, topicFilter, err)
			if firstErr == nil {
				firstErr = newError(s.clientID, "undeclare "+topicFilter, ErrPubSub, err)
			}
		}
	}
	if len(subs) > 0 {
		s.metrics.SubscriptionsChanged(-len(subs))
	}
	return firstErr
}
