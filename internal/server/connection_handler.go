package server

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/adapter"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/bridge"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/connection"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/database"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
	pa "github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/packet"
)

// closeGrace bounds how long a closing connection may take to flush its queue.
const closeGrace = 5 * time.Second

type ConnectionHandler struct {
	server    *Server
	conn      *connection.Connection
	connId    string
	keepAlive time.Duration
	version   mqtt.ProtocolVersion
	adapter   adapter.Handler
	sink      *connection.Sink
}

func (c *ConnectionHandler) handleFirstPacket(ctx context.Context) error {
	_ = c.conn.Conn.SetReadDeadline(time.Now().Add(c.server.cfg.ConnectTimeoutDuration()))
	packet, err := mqtt.ReadPacket(c.conn.Conn, c.server.cfg.MaxPacketSize)
	if err != nil {
		logger.WarnF("[%s] Fail to read first packet, details: %v", c.connId, err)
		return err
	}

	if packet.Header.Type != mqtt.CONNECT {
		logger.ErrorF("[%s] Invalid first packet type, expected %s packet, but got %s packet", c.connId, mqtt.CONNECT.String(), packet.Header.Type.String())
		return pa.ErrUnexpectedPacket
	}

	connect, err := pa.ParseConnectPacket(packet)
	if errors.Is(err, pa.ErrUnsupportedVersion) {
		logger.WarnF("[%s] Refusing client: %v", c.connId, err)
		resp := pa.NewConnectAckPacket(mqtt.V311, false, byte(mqtt.ConnectRefusedUnacceptableProtocolVersion), nil)
		_ = connection.Send(c.conn.Conn, resp, c.connId)
		return err
	}
	if err != nil {
		logger.ErrorF("[%s] Fail to parse CONNECT packet, details: %v", c.connId, err)
		return err
	}

	c.version = connect.ProtocolVersion
	c.sink = connection.NewSink(c.conn.Conn, c.connId, c.version, c.server.cfg.OutboundQueue)
	c.conn.Sink = c.sink
	if limit, ok := connect.Properties.Uint(mqtt.PropMaximumPacketSize); ok && c.version.IsV5() {
		c.sink.SetMaxPacketSize(limit)
	}
	c.adapter, err = adapter.ForVersion(c.version, c.sink, c.server.net, c.server.cfg, c.server.sessionOpts...)
	if err != nil {
		return err
	}
	if err := c.adapter.Handle(ctx, adapter.Handshake{Packet: connect}); err != nil {
		logger.WarnF("[%s] Handshake failed: %v", c.connId, err)
		return err
	}

	c.keepAlive = time.Duration(connect.KeepAlive) * time.Second
	if c.keepAlive == 0 {
		logger.DebugF("[%s] Keep alive set to 0, heartbeat disable", c.connId)
	}
	_ = c.conn.Conn.SetReadDeadline(time.Time{})
	return nil
}

// readErrorEvent classifies a transport read failure.
func readErrorEvent(err error) adapter.Event {
	switch {
	case pa.IsProtocolError(err):
		return adapter.ProtocolError{Err: err}
	case connection.IsPeerGone(err):
		return adapter.PeerGone{Err: err}
	case errors.Is(err, io.EOF), connection.IsNetClosedError(err):
		return adapter.Closed{}
	default:
		return adapter.PeerGone{Err: err}
	}
}

// failureEvent turns an adapter error into the event that terminates the connection.
func failureEvent(err error) adapter.Event {
	if errors.Is(err, bridge.ErrProtocol) || pa.IsProtocolError(err) {
		return adapter.ProtocolError{Err: err}
	}
	return adapter.Error{Err: err}
}

func (c *ConnectionHandler) dispatch(ctx context.Context, ev adapter.Event) {
	if err := c.adapter.Handle(ctx, ev); err != nil {
		if err := c.adapter.Handle(ctx, failureEvent(err)); err != nil {
			logger.DebugF("[%s] Fail to terminate connection: %v", c.connId, err)
		}
	}
}

func (c *ConnectionHandler) handlePacket(ctx context.Context) {
	for c.adapter.State() != adapter.StateClosed {
		if c.keepAlive != 0 {
			_ = c.conn.Conn.SetReadDeadline(time.Now().Add(c.keepAlive * 3 / 2))
		}

		packet, err := mqtt.ReadPacket(c.conn.Conn, c.server.cfg.MaxPacketSize)
		if err != nil {
			connection.HandleReadError(c.connId, err)
			c.dispatch(ctx, readErrorEvent(err))
			return
		}

		logger.TraceF("[%s] Receive %s package", c.connId, packet.Header.Type)

		decoded, err := pa.Decode(c.version, packet)
		if err != nil {
			c.dispatch(ctx, adapter.ProtocolError{Err: err})
			return
		}
		ev := adapter.EventFor(decoded)
		if ev == nil {
			logger.TraceF("[%s] Ignoring %s package", c.connId, packet.Header.Type)
			continue
		}
		c.dispatch(ctx, ev)
	}
}

func (c *ConnectionHandler) register(ctx context.Context) {
	record := &database.ClientRecord{
		ClientID:    c.adapter.ClientID(),
		ConnID:      c.connId,
		Protocol:    c.version.String(),
		RemoteAddr:  c.conn.Conn.RemoteAddr().String(),
		ConnectedAt: c.conn.ConnectedAt,
	}
	c.conn.Identify(record.ClientID, record.Protocol)
	if err := c.server.registry.Save(ctx, record); err != nil {
		logger.WarnF("[%s] Fail to register client %s: %v", c.connId, record.ClientID, err)
	}
	c.server.metrics.ConnectionOpened(record.Protocol)
}

func (c *ConnectionHandler) unregister() {
	clientID := c.adapter.ClientID()
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	if err := c.server.registry.Delete(ctx, clientID, c.connId); err != nil {
		logger.WarnF("[%s] Fail to unregister client %s: %v", c.connId, clientID, err)
	}
	c.server.metrics.ConnectionClosed(c.version.String())
}

// release waits for the sink to flush, force closing it after closeGrace.
func (c *ConnectionHandler) release() {
	if c.sink == nil {
		if err := c.conn.Conn.Close(); err != nil && !connection.IsNetClosedError(err) {
			logger.WarnF("[%s] Error occurred while closing connection, details: %v", c.connId, err)
		}
		return
	}
	if c.adapter != nil && c.adapter.State() != adapter.StateClosed {
		c.dispatch(context.Background(), adapter.Closed{})
	}
	_ = c.sink.Close()
	select {
	case <-c.sink.Done():
	case <-time.After(closeGrace):
		logger.WarnF("[%s] Outbound queue not flushed in %s, dropping it", c.connId, closeGrace)
		_ = c.sink.ForceClose()
		<-c.sink.Done()
	}
}

func (c *ConnectionHandler) handleConnection(ctx context.Context) {
	defer func() {
		c.release()
		logger.DebugF("[%s] Connection closed", c.connId)
	}()

	if err := c.handleFirstPacket(ctx); err != nil {
		return
	}
	if c.adapter.State() != adapter.StateConnected {
		return
	}

	c.register(ctx)
	defer c.unregister()

	c.handlePacket(ctx)
}
