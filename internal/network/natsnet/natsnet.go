// Package natsnet carries the bridge's pub/sub traffic over NATS core subjects.
// Key chunks become subject tokens, the encoding travels in the Content-Type
// header and queries are broadcast on a dedicated subject and answered on the
// requester's inbox.
package natsnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/encoding"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
)

const (
	HeaderContentType = "Content-Type"
	HeaderKey         = "Key-Expr"
	HeaderSelector    = "Selector"

	// QuerySubject is shared by every queryable of every bridge on the NATS cluster.
	QuerySubject = "_MQTT_BRIDGE.query"
)

type Options struct {
	URL          string
	Name         string
	Timeout      time.Duration
	DrainTimeout time.Duration
}

type Session struct {
	conn    *nats.Conn
	timeout time.Duration
	closed  atomic.Bool
}

var _ network.Session = (*Session)(nil)

// Connect dials the NATS server and returns a Session owning the connection.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.Timeout(opts.Timeout),
		nats.DrainTimeout(opts.DrainTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WarnF("Disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.InfoF("Reconnected to NATS at %s", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				logger.ErrorF("NATS error on %s: %v", sub.Subject, err)
				return
			}
			logger.ErrorF("NATS error: %v", err)
		}),
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(opts.URL, natsOpts...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("connect to NATS at %s: %w", opts.URL, r.err)
		}
		logger.InfoF("Connected to NATS at %s", r.conn.ConnectedUrl())
		return New(r.conn, opts.Timeout), nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connect to NATS at %s: %w", opts.URL, ctx.Err())
	}
}

// New wraps an established connection. timeout bounds how long Get gathers replies.
func New(conn *nats.Conn, timeout time.Duration) *Session {
	return &Session{conn: conn, timeout: timeout}
}

func (s *Session) check() error {
	if s.closed.Load() || s.conn.IsClosed() {
		return network.ErrClosed
	}
	return nil
}

type subscriber struct {
	key  keyexpr.KeyExpr
	subs []*nats.Subscription
	once sync.Once
}

func (s *subscriber) Key() keyexpr.KeyExpr {
	return s.key
}

func (s *subscriber) Undeclare() error {
	var errs []error
	s.once.Do(func() {
		for _, sub := range s.subs {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (s *Session) DeclareSubscriber(_ context.Context, key keyexpr.KeyExpr, handler network.Handler) (network.Subscriber, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	subjects, err := subjectsFor(key)
	if err != nil {
		return nil, err
	}
	result := &subscriber{key: key}
	for _, subject := range subjects {
		sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
			sampleKey, err := keyFor(msg.Subject)
			if err != nil {
				logger.WarnF("Drop NATS message on %s: %v", msg.Subject, err)
				return
			}
			handler(network.Sample{
				Key:      sampleKey,
				Payload:  msg.Data,
				Encoding: encodingOf(msg),
			})
		})
		if err != nil {
			_ = result.Undeclare()
			return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
		}
		result.subs = append(result.subs, sub)
	}
	logger.DebugF("Declared NATS subscriber on %v for %s", subjects, key)
	return result, nil
}

func encodingOf(msg *nats.Msg) encoding.Encoding {
	if msg.Header != nil {
		if ct := msg.Header.Get(HeaderContentType); ct != "" {
			return encoding.Encoding(ct)
		}
	}
	return encoding.AppOctetStream
}

func (s *Session) Put(_ context.Context, key keyexpr.KeyExpr, payload []byte, enc encoding.Encoding) error {
	if err := s.check(); err != nil {
		return err
	}
	subject, err := subjectFor(key)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(HeaderContentType, enc.String())
	return s.conn.PublishMsg(msg)
}

func (s *Session) DeclareQueryable(_ context.Context, key keyexpr.KeyExpr, handler network.QueryHandler) (network.Subscriber, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := keyexpr.Validate(key.String()); err != nil {
		return nil, err
	}
	sub, err := s.conn.Subscribe(QuerySubject, func(msg *nats.Msg) {
		if msg.Reply == "" || msg.Header == nil {
			return
		}
		selector, err := keyexpr.New(msg.Header.Get(HeaderSelector))
		if err != nil || !keyexpr.Intersects(key, selector) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		for _, reply := range handler(ctx, selector) {
			out := nats.NewMsg(msg.Reply)
			out.Data = reply.Payload
			out.Header.Set(HeaderKey, reply.Key.String())
			out.Header.Set(HeaderContentType, reply.Encoding.String())
			if err := s.conn.PublishMsg(out); err != nil {
				logger.WarnF("Fail to answer query %s: %v", selector, err)
				return
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("declare queryable %s: %w", key, err)
	}
	return &subscriber{key: key, subs: []*nats.Subscription{sub}}, nil
}

// Get broadcasts the query and gathers replies until ctx ends or the session
// timeout elapses, since the number of responders is unknown.
func (s *Session) Get(ctx context.Context, selector keyexpr.KeyExpr) ([]network.Reply, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := keyexpr.Validate(selector.String()); err != nil {
		return nil, err
	}
	inbox := s.conn.NewRespInbox()
	sub, err := s.conn.SubscribeSync(inbox)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sub.Unsubscribe() }()

	msg := nats.NewMsg(QuerySubject)
	msg.Reply = inbox
	msg.Header.Set(HeaderSelector, selector.String())
	if err := s.conn.PublishMsg(msg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var replies []network.Reply
	for {
		in, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return replies, nil
			}
			return replies, err
		}
		key, err := keyexpr.New(in.Header.Get(HeaderKey))
		if err != nil || !keyexpr.Intersects(key, selector) {
			continue
		}
		replies = append(replies, network.Reply{Key: key, Payload: in.Data, Encoding: encodingOf(in)})
	}
}

// Close drains the connection so in-flight publications reach the server.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	drained := make(chan error, 1)
	go func() { drained <- s.conn.Drain() }()
	select {
	case err := <-drained:
		return err
	case <-ctx.Done():
		s.conn.Close()
		return ctx.Err()
	}
}
