package connection

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/mqtt"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/packet"
)

var (
	ErrSinkFull   = errors.New("outbound queue full")
	ErrSinkClosed = errors.New("outbound sink closed")
)

// Sink owns the write side of a client connection. A single writer goroutine
// drains a bounded queue so slow clients never block the network callbacks.
type Sink struct {
	conn    net.Conn
	connID  string
	version mqtt.ProtocolVersion

	queue   chan []byte
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
	forced  atomic.Bool
	written atomic.Uint64
	dropped atomic.Uint64
	maxSize atomic.Uint32
}

func NewSink(conn net.Conn, connID string, version mqtt.ProtocolVersion, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &Sink{
		conn:    conn,
		connID:  connID,
		version: version,
		queue:   make(chan []byte, queueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for {
		select {
		case data := <-s.queue:
			if !s.write(data) {
				return
			}
		case <-s.closing:
			if !s.forced.Load() {
				s.drain()
			}
			s.finish()
			return
		}
	}
}

func (s *Sink) drain() {
	for {
		select {
		case data := <-s.queue:
			if !s.write(data) {
				return
			}
		default:
			return
		}
	}
}

func (s *Sink) write(data []byte) bool {
	if err := Send(s.conn, data, s.connID); err != nil {
		s.once.Do(func() { close(s.closing) })
		s.finish()
		return false
	}
	s.written.Add(uint64(len(data)))
	return true
}

func (s *Sink) finish() {
	if err := s.conn.Close(); err != nil && !IsNetClosedError(err) {
		logger.DebugF("[%s] Fail to close connection: %v", s.connID, err)
	}
	logger.DebugF("[%s] Outbound closed after %s, %d publications dropped",
		s.connID, humanize.Bytes(s.written.Load()), s.dropped.Load())
}

func (s *Sink) enqueue(data []byte, wait bool) error {
	select {
	case <-s.closing:
		return ErrSinkClosed
	default:
	}
	if !wait {
		select {
		case s.queue <- data:
			return nil
		default:
			return ErrSinkFull
		}
	}
	select {
	case s.queue <- data:
		return nil
	case <-s.closing:
		return ErrSinkClosed
	}
}

// Send queues a control packet, waiting for room in the queue.
func (s *Sink) Send(data []byte) error {
	return s.enqueue(data, true)
}

// SetMaxPacketSize records the largest packet the client accepts, zero for no limit.
func (s *Sink) SetMaxPacketSize(n uint32) {
	s.maxSize.Store(n)
}

// PublishAtMostOnce queues a QoS 0 PUBLISH. It never blocks: when the queue is
// full the publication is dropped with ErrSinkFull. Publications larger than
// the client's maximum packet size are dropped with mqtt.ErrPacketTooLarge.
func (s *Sink) PublishAtMostOnce(topic string, payload []byte) error {
	data := packet.NewPublishPacket(s.version, &packet.PublishPacket{
		TopicName: topic,
		Payload:   payload,
	})
	if limit := s.maxSize.Load(); limit > 0 && uint64(len(data)) > uint64(limit) {
		s.dropped.Add(1)
		return fmt.Errorf("%w: %s exceeds the client limit of %s", mqtt.ErrPacketTooLarge,
			humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(limit)))
	}
	err := s.enqueue(data, false)
	if err != nil {
		s.dropped.Add(1)
	}
	return err
}

// Close stops accepting packets, flushes the queue and closes the connection.
func (s *Sink) Close() error {
	s.once.Do(func() { close(s.closing) })
	return nil
}

// ForceClose closes the connection without flushing the queue.
func (s *Sink) ForceClose() error {
	s.forced.Store(true)
	s.once.Do(func() { close(s.closing) })
	err := s.conn.Close()
	if err != nil && IsNetClosedError(err) {
		return nil
	}
	return err
}

// Done is closed once the writer goroutine exited and the connection is closed.
func (s *Sink) Done() <-chan struct{} {
	return s.done
}

// Send writes data fully to conn.
func Send(conn net.Conn, data []byte, connID string) error {
	total := 0
	for total < len(data) {
		n, err := conn.Write(data[total:])
		if err != nil {
			if !IsNetClosedError(err) {
				logger.ErrorF("[%s] Fail to send data, details: %v", connID, err)
			}
			return err
		}
		total += n
	}
	logger.TraceF("[%s] Send %s to client", connID, humanize.Bytes(uint64(total)))
	return nil
}
