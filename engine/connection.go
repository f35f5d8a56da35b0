// Package engine ties the protocol pieces into one Connection per transport.
//
// A Connection is symmetric: either side may invoke the other and either side
// may serve invocations from its handler table. One read loop decodes inbound
// frames and routes them by type and correlation id:
//
//	Completion        ─▶ invocation registry, else stream dispatcher
//	                     (ids given up locally are tombstoned and dropped)
//	StreamItem        ─▶ stream dispatcher
//	Invocation(s)     ─▶ dispatch (one goroutine per call)
//	CancelInvocation  ─▶ dispatch.Cancel
//	Ping              ─▶ liveness only
//	Close             ─▶ terminate
//
// Writes are serialized by a mutex; callers of Invoke block on their own
// channel, never on the read loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"hubrpc/codec"
	"hubrpc/dispatch"
	"hubrpc/handshake"
	"hubrpc/invocation"
	"hubrpc/keepalive"
	"hubrpc/logger"
	"hubrpc/message"
	"hubrpc/middleware"
	"hubrpc/protocol"
	"hubrpc/rpcerr"
	"hubrpc/stream"
	"hubrpc/transport"
)

// ErrNotReady is returned by operations attempted before the handshake
// completed.
var ErrNotReady = errors.New("connection is not ready")

type connKey struct{}

// FromContext returns the Connection serving the current handler, so the
// handler can call back into its peer.
func FromContext(ctx context.Context) (*Connection, bool) {
	c, ok := ctx.Value(connKey{}).(*Connection)
	return c, ok
}

// Registration is the handle returned by Register.
type Registration = dispatch.Registration

// Connection is one protocol session over one transport.
type Connection struct {
	id        string
	role      Role
	opts      Options
	transport transport.Transport
	reader    *protocol.Reader
	codec     codec.Codec
	log       *logrus.Entry

	state   atomic.Int32
	writeMu sync.Mutex

	ctx    context.Context // carries the Connection; cancelled on terminate
	cancel context.CancelFunc
	group  errgroup.Group

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	closeErr  error
	served    *dispatch.Dispatcher // set once Ready

	ids      invocation.IDGenerator
	calls    *invocation.Registry
	streams  *stream.Dispatcher
	handlers *dispatch.Table
	monitor  *keepalive.Monitor
}

// New wraps t in a Connection in state Connecting. Nothing is sent until
// Start or Accept.
func New(t transport.Transport, opts Options) (*Connection, error) {
	opts = opts.withDefaults()
	c, err := codec.GetCodec(opts.Protocol)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		id:        shortuuid.New(),
		opts:      opts,
		transport: t,
		reader:    protocol.NewReader(t),
		codec:     c,
		log:       logger.ForConnection("", ""),
		closed:    make(chan struct{}),
		calls:     invocation.NewRegistry(),
		handlers:  dispatch.NewTable(),
	}
	conn.ctx, conn.cancel = context.WithCancel(context.WithValue(context.Background(), connKey{}, conn))
	conn.streams = stream.NewDispatcher(func(id string) error {
		return conn.SendMessage(conn.ctx, message.NewCancelInvocation(id))
	})
	conn.monitor = keepalive.New(opts.KeepAliveInterval, opts.ServerTimeout, func(ctx context.Context) error {
		return conn.write(ctx, message.NewPing())
	})

	for name, h := range opts.Handlers {
		if _, err := conn.handlers.Register(name, h); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

// Connect creates a client Connection over t and performs the handshake.
func Connect(ctx context.Context, t transport.Transport, opts Options) (*Connection, error) {
	c, err := New(t, opts)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Start performs the client side of the handshake and starts the read loop.
// If the handshake fails the Connection is Closed and every later operation
// fails with the handshake error.
func (c *Connection) Start(ctx context.Context) error {
	c.role = RoleClient
	c.initLogger()
	if !c.transition(Connecting, HandshakeSent) {
		return fmt.Errorf("cannot start connection in state %s", c.State())
	}
	if err := handshake.Initiate(ctx, c.transport, c.reader, c.codec, c.opts.HandshakeTimeout); err != nil {
		c.log.WithError(err).Warn("handshake failed")
		c.terminate(err)
		return err
	}
	c.run()
	return nil
}

// Accept performs the server side of the handshake and starts the read loop.
func (c *Connection) Accept(ctx context.Context) error {
	c.role = RoleServer
	c.initLogger()
	if !c.transition(Connecting, HandshakeSent) {
		return fmt.Errorf("cannot accept connection in state %s", c.State())
	}
	negotiated, err := handshake.Accept(ctx, c.transport, c.reader, c.opts.HandshakeTimeout)
	if err != nil {
		c.log.WithError(err).Warn("handshake rejected")
		c.terminate(err)
		return err
	}
	c.codec = negotiated
	c.run()
	return nil
}

func (c *Connection) initLogger() {
	if c.opts.Logger != nil {
		c.log = c.opts.Logger.WithFields(logrus.Fields{"conn": c.id, "role": string(c.role)})
	} else {
		c.log = logger.ForConnection(c.id, string(c.role))
	}
}

func (c *Connection) run() {
	c.mu.Lock()
	c.served = dispatch.New(c.ctx, c.handlers, c.codec, c, c.log, c.opts.Middlewares...)
	c.mu.Unlock()
	c.monitor.MarkReceived()
	if !c.transition(HandshakeSent, Ready) {
		return // closed while the handshake was in flight
	}
	c.log.Debug("connection ready")

	c.group.Go(func() error {
		err := c.readLoop()
		c.terminate(err)
		return err
	})
	c.group.Go(func() error {
		if err := c.monitor.Run(c.ctx); err != nil {
			closeErr := &rpcerr.CloseError{Reason: err.Error()}
			c.terminate(closeErr)
			return closeErr
		}
		return nil
	})
}

func (c *Connection) readLoop() error {
	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if c.State() >= Closing {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return &rpcerr.CloseError{}
			}
			return &rpcerr.CloseError{Reason: err.Error()}
		}
		c.monitor.MarkReceived()

		msg, err := c.codec.Decode(frame)
		if err != nil {
			c.log.WithError(err).Warn("dropping frame")
			continue
		}
		if closeErr := c.route(msg); closeErr != nil {
			return closeErr
		}
	}
}

// route handles one inbound message. It returns non-nil only for a Close frame.
func (c *Connection) route(msg *message.Message) error {
	switch msg.Type {
	case message.TypeCompletion:
		if c.calls.Resolve(msg.InvocationID, invocation.RemoteOutcome(msg.Result, msg.Error)) {
			return nil
		}
		if c.calls.Discard(msg.InvocationID) {
			c.frameLog(msg).Debug("discarding completion of an abandoned call")
			return nil
		}
		c.report(msg, c.streams.Complete(msg.InvocationID, msg.Error))
	case message.TypeStreamItem:
		c.report(msg, c.streams.Push(msg.InvocationID, msg.Item))
	case message.TypeInvocation, message.TypeStreamInvocation:
		if c.State() != Ready {
			c.frameLog(msg).Debug("ignoring invocation while closing")
			return nil
		}
		c.dispatcher().Dispatch(msg)
	case message.TypeCancelInvocation:
		if !c.dispatcher().Cancel(msg.InvocationID) {
			c.frameLog(msg).Debug("cancel for an invocation that is not running")
		}
	case message.TypePing:
	case message.TypeClose:
		c.frameLog(msg).WithField("reason", msg.Error).Info("peer closed the connection")
		return &rpcerr.CloseError{Reason: msg.Error, AllowReconnect: msg.AllowReconnect}
	}
	return nil
}

func (c *Connection) report(msg *message.Message, outcome stream.Outcome) {
	switch outcome {
	case stream.Discarded:
		c.frameLog(msg).Debug("discarding frame for a cancelled stream")
	case stream.Unknown:
		c.frameLog(msg).Warn(rpcerr.Violation("%s for unknown invocation id %q", msg.Type, msg.InvocationID))
	}
}

// frameLog is built only when something is logged; the hot path stays
// allocation free.
func (c *Connection) frameLog(msg *message.Message) *logrus.Entry {
	return c.log.WithFields(logrus.Fields{"type": msg.Type.String(), "invocationId": msg.InvocationID})
}

// SendMessage writes msg to the peer. It fails once the connection is closing.
func (c *Connection) SendMessage(ctx context.Context, msg *message.Message) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.write(ctx, msg)
}

func (c *Connection) write(ctx context.Context, msg *message.Message) error {
	if c.State() == Closed {
		return c.Err()
	}
	if msg.Headers == nil {
		msg.Headers = c.opts.Headers
	}
	record, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	err = c.transport.Send(ctx, protocol.AppendFrame(nil, record))
	c.writeMu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		closeErr := &rpcerr.CloseError{Reason: err.Error()}
		c.terminate(closeErr)
		return closeErr
	}
	c.monitor.MarkSent()
	return nil
}

// usable reports why application traffic cannot flow, or nil when Ready.
func (c *Connection) usable() error {
	switch c.State() {
	case Ready:
		return nil
	case Closing, Closed:
		if err := c.Err(); err != nil {
			return err
		}
		return &rpcerr.CloseError{}
	}
	return ErrNotReady
}

// Close sends a Close frame and tears the connection down. Pending calls and
// streams fail with rpcerr.ErrConnectionClosed. Close is idempotent.
func (c *Connection) Close() error {
	return c.CloseWith("", false)
}

// CloseWith is Close with a reason and a reconnect hint for the peer.
func (c *Connection) CloseWith(reason string, allowReconnect bool) error {
	if c.transition(Ready, Closing) {
		ctx, cancel := context.WithTimeout(context.Background(), closeFrameTimeout)
		if err := c.write(ctx, message.NewClose(reason, allowReconnect)); err != nil {
			c.log.WithError(err).Debug("close frame not delivered")
		}
		cancel()
	}
	c.terminate(&rpcerr.CloseError{Reason: reason, AllowReconnect: allowReconnect})
	return nil
}

// terminate moves to Closed and fails everything still waiting. Only the
// first call has an effect.
func (c *Connection) terminate(err error) {
	c.closeOnce.Do(func() {
		if err == nil {
			err = &rpcerr.CloseError{}
		}
		c.mu.Lock()
		c.closeErr = err
		c.mu.Unlock()

		c.state.Store(int32(Closed))
		c.cancel()
		_ = c.transport.Close()

		calls := c.calls.Drain(err)
		streams := c.streams.Drain(err)
		c.log.WithFields(logrus.Fields{"pending": calls, "streams": streams}).WithError(err).Info("connection closed")
		close(c.closed)
	})
}

func (c *Connection) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// ID is the connection id used in logs.
func (c *Connection) ID() string { return c.id }

func (c *Connection) Role() Role { return c.role }

func (c *Connection) State() State { return State(c.state.Load()) }

// Done is closed once the connection reached Closed.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// Err returns why the connection closed, or nil while it is open.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Wait blocks until the connection is closed and every handler it started has
// returned, then reports the close reason.
func (c *Connection) Wait() error {
	<-c.closed
	_ = c.group.Wait()
	if d := c.dispatcher(); d != nil {
		d.Wait()
	}
	return c.Err()
}

func (c *Connection) dispatcher() *dispatch.Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.served
}

// Outstanding returns the number of pending unary calls and active streams.
func (c *Connection) Outstanding() (calls, streams int) {
	return c.calls.Len(), c.streams.Len()
}

// Register binds a local handler the peer can invoke by name.
func (c *Connection) Register(name string, h middleware.HandlerFunc) (*Registration, error) {
	return c.handlers.Register(name, h)
}
