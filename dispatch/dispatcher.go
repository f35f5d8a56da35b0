// Package dispatch serves invocations sent by the peer against locally
// registered handlers.
//
// Every inbound Invocation or StreamInvocation runs in its own goroutine so a
// long-running handler never stalls the connection's read loop. A handler may
// itself invoke the peer and wait for the answer.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"hubrpc/codec"
	"hubrpc/message"
	"hubrpc/middleware"
	"hubrpc/rpcerr"
)

// Sender writes one message to the peer.
type Sender interface {
	SendMessage(ctx context.Context, msg *message.Message) error
}

type running struct {
	cancel          context.CancelFunc
	cancelledByPeer bool
}

// Dispatcher executes inbound invocations and answers them.
type Dispatcher struct {
	base   context.Context
	table  *Table
	chain  middleware.Middleware
	codec  codec.Codec
	sender Sender
	logger *logrus.Entry

	mu     sync.Mutex
	active map[string]*running
	wg     sync.WaitGroup
}

// New creates a dispatcher. Handler contexts derive from base, so cancelling
// base cancels every running handler.
func New(base context.Context, table *Table, c codec.Codec, sender Sender, logger *logrus.Entry, middlewares ...middleware.Middleware) *Dispatcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		base:   base,
		table:  table,
		chain:  middleware.Chain(middlewares...),
		codec:  c,
		sender: sender,
		logger: logger,
		active: make(map[string]*running),
	}
}

// Dispatch starts serving msg, which must be an Invocation or a
// StreamInvocation. It returns immediately.
func (d *Dispatcher) Dispatch(msg *message.Message) {
	ctx, cancel := context.WithCancel(d.base)
	id := msg.InvocationID
	if id != "" {
		d.mu.Lock()
		if _, dup := d.active[id]; dup {
			d.mu.Unlock()
			cancel()
			d.logger.WithField("invocationId", id).Warn(rpcerr.Violation("invocation id %s is already running", id))
			return
		}
		d.active[id] = &running{cancel: cancel}
		d.mu.Unlock()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		d.serve(ctx, msg)
	}()
}

// Cancel stops the handler running for id. Once the handler returns, a single
// Completion carrying rpcerr.ErrInvocationCanceled closes the id for the peer,
// whatever the handler returned. Cancel reports whether such a handler was
// running.
func (d *Dispatcher) Cancel(id string) bool {
	d.mu.Lock()
	r, ok := d.active[id]
	if ok {
		r.cancelledByPeer = true
	}
	d.mu.Unlock()
	if ok {
		r.cancel()
	}
	return ok
}

// Active returns the number of handlers currently running with an id.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Wait blocks until every started handler has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) serve(ctx context.Context, msg *message.Message) {
	id := msg.InvocationID
	log := d.logger.WithFields(logrus.Fields{"target": msg.Target, "invocationId": id})

	var emit func(any) error
	if msg.Type == message.TypeStreamInvocation {
		emit = func(item any) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := d.codec.MarshalValue(item)
			if err != nil {
				return err
			}
			return d.sender.SendMessage(ctx, message.NewStreamItem(id, raw))
		}
	}
	call := message.NewCall(msg, emit)

	var (
		result any
		err    error
	)
	if h, ok := d.table.Lookup(msg.Target); ok {
		result, err = d.run(ctx, d.chain(h), call)
	} else {
		err = rpcerr.ErrUnknownTarget
		log.Warn("invocation of unknown target")
	}

	cancelledByPeer := d.finish(id)
	if call.FireAndForget() {
		if err != nil {
			log.WithError(err).Debug("fire-and-forget invocation failed")
		}
		return
	}
	if d.base.Err() != nil {
		return
	}
	if cancelledByPeer {
		result, err = nil, rpcerr.ErrInvocationCanceled
	}

	reply := d.completion(id, result, err)
	if sendErr := d.sender.SendMessage(d.base, reply); sendErr != nil {
		log.WithError(sendErr).Debug("completion not delivered")
	}
}

func (d *Dispatcher) run(ctx context.Context, h middleware.HandlerFunc, call *message.Call) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.WithField("target", call.Target()).Errorf("handler panicked: %v", p)
			result, err = nil, fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h(ctx, call)
}

func (d *Dispatcher) completion(id string, result any, err error) *message.Message {
	if err != nil {
		return message.NewError(id, err.Error())
	}
	if result == nil {
		return message.NewResult(id, nil)
	}
	raw, err := d.codec.MarshalValue(result)
	if err != nil {
		return message.NewError(id, err.Error())
	}
	return message.NewResult(id, raw)
}

func (d *Dispatcher) finish(id string) (cancelledByPeer bool) {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.active[id]; ok {
		cancelledByPeer = r.cancelledByPeer
		delete(d.active, id)
	}
	return cancelledByPeer
}
