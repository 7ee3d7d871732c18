// Package connection owns the transport side of client connections: the
// outbound writer and the registry of live connections.
package connection

import (
	"errors"
	"io"
	"net"
	"os"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
)

// Connection is one accepted client connection.
type Connection struct {
	Conn        net.Conn
	ConnID      string
	Sink        *Sink
	ConnectedAt time.Time

	mu       sync.Mutex
	clientID string
	protocol string
}

func NewConnection(conn net.Conn, connID string) *Connection {
	return &Connection{Conn: conn, ConnID: connID, ConnectedAt: time.Now()}
}

// Identify records the client identity once the handshake completed.
func (c *Connection) Identify(clientID, protocol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientID = clientID
	c.protocol = protocol
}

func (c *Connection) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Connection) Protocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol
}

// Close force closes the connection, through its sink when it has one.
func (c *Connection) Close() error {
	if c.Sink != nil {
		return c.Sink.ForceClose()
	}
	return c.Conn.Close()
}

// ConnectionManager tracks live connections by connection id. Client ids are
// not unique across connections.
type ConnectionManager struct {
	connections sync.Map
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{}
}

func (cm *ConnectionManager) AddConnection(conn *Connection) {
	cm.connections.Store(conn.ConnID, conn)
	logger.DebugF("[%s] Connection from %s registered", conn.ConnID, conn.Conn.RemoteAddr())
}

func (cm *ConnectionManager) RemoveConnection(connID string) {
	if _, ok := cm.connections.LoadAndDelete(connID); ok {
		logger.DebugF("[%s] Connection unregistered", connID)
	}
}

func (cm *ConnectionManager) GetConnection(connID string) (*Connection, bool) {
	if value, ok := cm.connections.Load(connID); ok {
		return value.(*Connection), true
	}
	return nil, false
}

// Connections lists the live connections ordered by connection time.
func (cm *ConnectionManager) Connections() []*Connection {
	var conns []*Connection
	cm.connections.Range(func(_, value any) bool {
		conns = append(conns, value.(*Connection))
		return true
	})
	slices.SortFunc(conns, func(a, b *Connection) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return conns
}

func (cm *ConnectionManager) Len() int {
	n := 0
	cm.connections.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CloseAll force closes every live connection.
func (cm *ConnectionManager) CloseAll() {
	cm.connections.Range(func(key, value any) bool {
		if err := value.(*Connection).Close(); err != nil && !IsNetClosedError(err) {
			logger.WarnF("[%s] Fail to close connection: %v", key, err)
		}
		return true
	})
}

func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

// IsPeerGone reports whether a read error means the transport failed rather
// than the client closing it.
func IsPeerGone(err error) bool {
	return os.IsTimeout(err) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func HandleReadError(connID string, err error) {
	switch {
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	case errors.Is(err, io.EOF), IsNetClosedError(err):
		logger.DebugF("[%s] Client close connection", connID)
	default:
		logger.WarnF("[%s] Error occurred while reading packet, details: %v", connID, err)
	}
}
