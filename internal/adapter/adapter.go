// Package adapter drives one MQTT connection through its lifecycle, turning
// protocol events into Session calls and protocol acknowledgments.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/bridge"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/config"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/packet"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/topic"
)

var ErrIdentifierRejected = errors.New("client identifier rejected")

type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Handler is the version independent view of an Adapter used by the server.
type Handler interface {
	// Handle processes one event. A returned error must be fed back as an
	// Error or ProtocolError event to terminate the connection.
	Handle(ctx context.Context, ev Event) error
	State() State
	ClientID() string
	Version() mqtt.ProtocolVersion
	// Session is nil until the handshake completed.
	Session() *bridge.Session
}

// Adapter is the connection state machine, instantiated once per protocol family.
type Adapter[P Protocol] struct {
	proto P
	conn  Conn
	net   network.Session
	cfg   *config.Config
	opts  []bridge.Option

	state    atomic.Int32
	mu       sync.Mutex
	clientID string
	session  *bridge.Session
	// QoS 2 publications waiting for PUBREL.
	pending map[uint16]struct{}
}

func New[P Protocol](proto P, conn Conn, net network.Session, cfg *config.Config, opts ...bridge.Option) *Adapter[P] {
	return &Adapter[P]{
		proto:   proto,
		conn:    conn,
		net:     net,
		cfg:     cfg,
		opts:    opts,
		pending: map[uint16]struct{}{},
	}
}

// ForVersion picks the protocol variant matching a CONNECT protocol level.
func ForVersion(version mqtt.ProtocolVersion, conn Conn, net network.Session, cfg *config.Config, opts ...bridge.Option) (Handler, error) {
	switch version {
	case mqtt.V31, mqtt.V311:
		return New(NewV3(version), conn, net, cfg, opts...), nil
	case mqtt.V5:
		return New(V5{}, conn, net, cfg, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", packet.ErrUnsupportedVersion, version)
	}
}

func (a *Adapter[P]) State() State {
	return State(a.state.Load())
}

func (a *Adapter[P]) Version() mqtt.ProtocolVersion {
	return a.proto.Version()
}

func (a *Adapter[P]) ClientID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clientID
}

func (a *Adapter[P]) Session() *bridge.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *Adapter[P]) versionLabel() string {
	if a.proto.Version().IsV5() {
		return "v5"
	}
	return "v3"
}

func (a *Adapter[P]) Handle(ctx context.Context, ev Event) error {
	if a.State() == StateClosed {
		logger.TraceF("MQTT client %s: ignoring %T on a closed connection", a.ClientID(), ev)
		return nil
	}

	switch e := ev.(type) {
	case Closed:
		logger.DebugF("MQTT client %s closed connection", a.ClientID())
		return a.terminate(a.proto.OnClosed)
	case PeerGone:
		logger.DebugF("MQTT client %s: PeerGone => close connection (%v)", a.ClientID(), e.Err)
		return a.terminate(a.proto.OnPeerGone)
	case Error:
		logger.WarnF("MQTT client %s Error received: %v", a.ClientID(), e.Err)
		return a.terminate(func(conn Conn) error { return a.proto.OnError(conn, e.Err) })
	case ProtocolError:
		logger.WarnF("MQTT client %s: ProtocolError received: %v => disconnect it", a.ClientID(), e.Err)
		return a.terminate(func(conn Conn) error { return a.proto.OnProtocolError(conn, e.Err) })
	case Handshake:
		return a.handshake(e.Packet)
	}

	if a.State() != StateConnected {
		return fmt.Errorf("%w: %T before CONNECT", bridge.ErrProtocol, ev)
	}

	switch e := ev.(type) {
	case Publish:
		return a.publish(ctx, e.Packet)
	case PubRel:
		return a.pubRel(e.PacketID)
	case Ping:
		return a.conn.Send(packet.NewPingRespPacket())
	case Disconnect:
		logger.DebugF("MQTT client %s disconnected", a.ClientID())
		return a.terminate(Conn.Close)
	case Subscribe:
		return a.subscribe(ctx, e.Packet)
	case Unsubscribe:
		return a.unsubscribe(e.Packet)
	case Auth:
		if !a.proto.Version().IsV5() {
			return fmt.Errorf("%w: AUTH on MQTT %s", bridge.ErrProtocol, a.proto.Version())
		}
		logger.DebugF("MQTT client %s wants to authenticate... not yet supported!", a.ClientID())
		return a.terminate(func(conn Conn) error { return a.proto.OnAuth(conn, e.Packet) })
	default:
		return fmt.Errorf("%w: unexpected event %T", bridge.ErrProtocol, ev)
	}
}

func (a *Adapter[P]) handshake(connect *packet.ConnectPacket) error {
	if a.State() != StateConnecting {
		return fmt.Errorf("%w: second CONNECT", bridge.ErrProtocol)
	}

	clientID := connect.ClientID
	var assigned string
	if clientID == "" {
		assigned = uuid.NewString()
		clientID = assigned
	}

	reply, accepted := a.proto.ConnAck(connect, assigned)
	if err := a.conn.Send(reply); err != nil {
		return err
	}
	if !accepted {
		logger.InfoF("MQTT client without identifier and without clean session rejected")
		_ = a.terminate(Conn.Close)
		return ErrIdentifierRejected
	}

	logger.InfoF("MQTT client %s connects using %s", clientID, a.versionLabel())
	session := bridge.NewSession(clientID, a.net, a.cfg, a.opts...)
	a.mu.Lock()
	a.clientID = clientID
	a.session = session
	a.mu.Unlock()
	a.state.Store(int32(StateConnected))
	return nil
}

func (a *Adapter[P]) publish(ctx context.Context, p *packet.PublishPacket) error {
	if p.TopicName == "" {
		return fmt.Errorf("%w: PUBLISH without topic name (topic aliases are not supported)", bridge.ErrProtocol)
	}
	clientID := a.ClientID()
	logger.DebugF("MQTT client %s publishes on %s", clientID, p.TopicName)
	if p.PacketFlag.Retain {
		logger.DebugF("MQTT client %s: retain flag on %s ignored", clientID, p.TopicName)
	}

	if err := a.Session().Publish(ctx, p.TopicName, p.Payload); err != nil {
		nack, convErr := a.proto.NegativeAck(p, err)
		if convErr != nil {
			return convErr
		}
		return a.conn.Send(nack)
	}

	if p.PacketFlag.QoS == mqtt.ExactlyOnce {
		a.mu.Lock()
		a.pending[p.PacketID] = struct{}{}
		a.mu.Unlock()
	}
	if ack := a.proto.PublishAck(p); ack != nil {
		return a.conn.Send(ack)
	}
	return nil
}

func (a *Adapter[P]) pubRel(id uint16) error {
	a.mu.Lock()
	_, known := a.pending[id]
	delete(a.pending, id)
	a.mu.Unlock()

	reason := mqtt.Success
	if !known {
		logger.DebugF("MQTT client %s: PUBREL for unknown packet %d", a.ClientID(), id)
		reason = mqtt.PacketIdentifierNotFound
	}
	return a.conn.Send(packet.NewAckPacket(a.proto.Version(), mqtt.PUBCOMP, id, reason, nil))
}

func (a *Adapter[P]) subscribe(ctx context.Context, p *packet.SubscribePacket) error {
	for _, sub := range p.Subscriptions {
		if err := topic.ValidateFilter(sub.TopicFilter); err != nil {
			return fmt.Errorf("%w: SUBSCRIBE: %w", bridge.ErrProtocol, err)
		}
	}
	clientID := a.ClientID()
	session := a.Session()
	for _, sub := range p.Subscriptions {
		logger.DebugF("MQTT client %s subscribes to %s", clientID, sub.TopicFilter)
		if err := session.Subscribe(ctx, sub.TopicFilter, a.conn); err != nil {
			return err
		}
	}
	return a.conn.Send(a.proto.SubAck(p))
}

func (a *Adapter[P]) unsubscribe(p *packet.UnsubscribePacket) error {
	clientID := a.ClientID()
	session := a.Session()
	for _, topicFilter := range p.TopicFilters {
		logger.DebugF("MQTT client %s unsubscribes from %s", clientID, topicFilter)
		session.Unsubscribe(topicFilter)
	}
	return a.conn.Send(a.proto.UnsubAck(p))
}

// terminate moves to Closed exactly once, releasing the session before the transport.
func (a *Adapter[P]) terminate(release func(Conn) error) error {
	if State(a.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	if session := a.Session(); session != nil {
		if err := session.Close(); err != nil {
			logger.WarnF("MQTT client %s: %v", session.ClientID(), err)
		}
	}
	return release(a.conn)
}
