package router

import (
	"errors"
	"fmt"

	beepit "github.com/julianarecha/beepit-server"
	"github.com/julianarecha/beepit-server/internal/events"
	"github.com/julianarecha/beepit-server/internal/protocol"
	"github.com/julianarecha/beepit-server/internal/ratelimit"
)

var (
	// ErrRateLimited is returned when the origin exceeded its budget for the
	// target channel. The message was not delivered to anyone.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnknownRecipient is returned when a direct message targets a
	// connection that does not exist.
	ErrUnknownRecipient = errors.New("unknown recipient")
)

// Recipient is a connection that can receive routed messages.
type Recipient interface {
	ID() string
	// EnqueueOutbound queues d without blocking. A non-nil error means d was
	// dropped for this recipient only.
	EnqueueOutbound(d protocol.Delivery) error
}

// Registry resolves topic subscribers.
type Registry interface {
	Subscribers(topic string) []string
}

// Limiter performs admission control.
type Limiter interface {
	TryAcquire(key ratelimit.Key) ratelimit.Decision
}

// Directory resolves live connections by id.
type Directory interface {
	Lookup(connID string) (Recipient, bool)
}

// Result describes the outcome of a dispatch.
type Result struct {
	Delivered int
	Dropped   int
}

// Router decides where inbound messages go and applies admission control
// before fan-out.
//
// Dispatch never blocks on recipients: every enqueue is non-blocking, and a
// failed enqueue is a drop for that recipient alone. A caller that dispatches
// its messages one at a time, in order, gets that order preserved at every
// recipient.
type Router struct {
	registry  Registry
	limiter   Limiter
	directory Directory
	sink      events.Sink
}

// New creates a router. A nil sink discards events.
func New(registry Registry, limiter Limiter, directory Directory, sink events.Sink) *Router {
	if sink == nil {
		sink = events.Discard
	}
	return &Router{
		registry:  registry,
		limiter:   limiter,
		directory: directory,
		sink:      sink,
	}
}

// Dispatch routes msg to its topic subscribers or to its direct recipient.
func (r *Router) Dispatch(msg *protocol.Message) (Result, error) {
	channel := msg.Topic
	if msg.IsDirect() {
		channel = beepit.DirectChannel
	}

	if r.limiter.TryAcquire(ratelimit.Key{Client: msg.Client, Channel: channel}) == ratelimit.Rejected {
		r.sink.Emit(events.Event{
			Kind:     events.RateLimited,
			ConnID:   msg.Origin,
			ClientID: msg.Client,
			Topic:    channel,
			Reason:   events.ReasonRateLimited,
			Seq:      msg.Seq,
		})
		return Result{}, ErrRateLimited
	}

	data, err := msg.Encode()
	if err != nil {
		return Result{}, fmt.Errorf("dispatch seq %d: %w", msg.Seq, err)
	}
	d := protocol.Delivery{Origin: msg.Origin, Seq: msg.Seq, Topic: msg.Topic, Data: data}

	if msg.IsDirect() {
		return r.direct(msg, d)
	}
	return r.fanOut(msg, d), nil
}

func (r *Router) direct(msg *protocol.Message, d protocol.Delivery) (Result, error) {
	rcpt, ok := r.directory.Lookup(msg.To)
	if !ok {
		r.dropped(msg, msg.To, events.ReasonUnknownRecipient)
		return Result{Dropped: 1}, fmt.Errorf("%w: %s", ErrUnknownRecipient, msg.To)
	}

	if err := rcpt.EnqueueOutbound(d); err != nil {
		return Result{Dropped: 1}, nil
	}
	r.routed(msg, 1)
	return Result{Delivered: 1}, nil
}

func (r *Router) fanOut(msg *protocol.Message, d protocol.Delivery) Result {
	var res Result
	for _, id := range r.registry.Subscribers(msg.Topic) {
		if id == msg.Origin {
			continue
		}

		rcpt, ok := r.directory.Lookup(id)
		if !ok {
			// Disconnected between snapshot and lookup.
			res.Dropped++
			r.dropped(msg, id, events.ReasonRecipientClosed)
			continue
		}
		if err := rcpt.EnqueueOutbound(d); err != nil {
			res.Dropped++
			continue
		}
		res.Delivered++
	}

	if res.Delivered > 0 {
		r.routed(msg, res.Delivered)
	}
	return res
}

func (r *Router) routed(msg *protocol.Message, n int) {
	r.sink.Emit(events.Event{
		Kind:     events.MessageRouted,
		ConnID:   msg.Origin,
		ClientID: msg.Client,
		Topic:    msg.Topic,
		Seq:      msg.Seq,
		Count:    n,
	})
}

func (r *Router) dropped(msg *protocol.Message, recipient, reason string) {
	r.sink.Emit(events.Event{
		Kind:     events.MessageDropped,
		ConnID:   recipient,
		ClientID: msg.Client,
		Topic:    msg.Topic,
		Reason:   reason,
		Seq:      msg.Seq,
	})
}
