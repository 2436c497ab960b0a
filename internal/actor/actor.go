package actor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	beepit "github.com/julianarecha/beepit-server"
	"github.com/julianarecha/beepit-server/internal/events"
	"github.com/julianarecha/beepit-server/internal/protocol"
	"github.com/julianarecha/beepit-server/internal/queue"
	"github.com/julianarecha/beepit-server/internal/router"
)

var (
	// ErrNotOpen is returned for operations that require the Open state.
	ErrNotOpen = errors.New("connection is not open")
	// ErrClosed is returned once the actor stopped accepting work.
	ErrClosed = errors.New(beepit.ErrConnectionClosed)
	// ErrQueueOverflow is returned by EnqueueOutbound when a drop_new queue is full.
	ErrQueueOverflow = errors.New("outbound queue overflow")
	// ErrPanic wraps a panic recovered inside an actor.
	ErrPanic = errors.New("actor panic")
)

// Transport is the outbound capability supplied by the transport layer.
// Close must unblock a concurrent Write.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dispatcher routes messages; implemented by *router.Router.
type Dispatcher interface {
	Dispatch(msg *protocol.Message) (router.Result, error)
}

// Subscriptions is the topic registry; implemented by *registry.Registry.
type Subscriptions interface {
	Subscribe(topic, connID string) bool
	Unsubscribe(topic, connID string) bool
	UnsubscribeAll(connID string, topics []string) int
	Members(topic string) []string
}

// Config holds per-connection settings.
type Config struct {
	// QueueCapacity bounds the outbound queue.
	QueueCapacity int
	// Overflow is applied when the outbound queue is full.
	Overflow queue.Policy
	// DrainGrace bounds the flush of queued messages on graceful close.
	DrainGrace time.Duration
	// MailboxSize bounds the inbound command mailbox.
	MailboxSize int
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 256,
		Overflow:      queue.DropOldest,
		DrainGrace:    5 * time.Second,
		MailboxSize:   64,
	}
}

// Deps are the shared services an actor talks to.
type Deps struct {
	Router   Dispatcher
	Registry Subscriptions
	Sink     events.Sink
	// OnExit is called once from the actor's goroutine after it reached
	// Closed. failure is non-nil if the actor failed.
	OnExit func(a *Actor, failure error)
}

type cmdKind int

const (
	cmdInbound cmdKind = iota
	cmdSubscribe
	cmdUnsubscribe
)

type command struct {
	kind  cmdKind
	raw   []byte
	topic string
	reply chan error
}

// Actor owns one connection: its outbound queue, its subscription set, its
// sequence counter and its lifecycle.
//
// Two goroutines serve an open actor. The run goroutine processes the mailbox
// one command at a time, which serializes every state change and gives each
// inbound message its sequence number in arrival order. The write goroutine
// drains the outbound queue to the transport. Other components reach an
// actor only through EnqueueOutbound, which never blocks.
type Actor struct {
	id        string
	clientID  string
	cfg       Config
	transport Transport
	deps      Deps

	state    atomic.Int32
	outbound *queue.Bounded[protocol.Delivery]
	mailbox  chan command

	quit        chan struct{}
	done        chan struct{}
	writerDone  chan struct{}
	writeCtx    context.Context
	cancelWrite context.CancelFunc

	closeOnce sync.Once
	reason    CloseReason
	graceful  bool
	failure   atomic.Pointer[error]

	// owned by the run goroutine
	subs map[string]struct{}
	seq  uint64
}

// New creates an actor in the Connecting state.
func New(id, clientID string, transport Transport, cfg Config, deps Deps) *Actor {
	if clientID == "" {
		clientID = id
	}
	if cfg.MailboxSize < 1 {
		cfg.MailboxSize = 1
	}
	if deps.Sink == nil {
		deps.Sink = events.Discard
	}

	writeCtx, cancel := context.WithCancel(context.Background())
	a := &Actor{
		id:          id,
		clientID:    clientID,
		cfg:         cfg,
		transport:   transport,
		deps:        deps,
		outbound:    queue.New[protocol.Delivery](cfg.QueueCapacity, cfg.Overflow),
		mailbox:     make(chan command, cfg.MailboxSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
		writeCtx:    writeCtx,
		cancelWrite: cancel,
		subs:        make(map[string]struct{}),
	}
	a.state.Store(int32(Connecting))
	return a
}

// ID returns the connection id.
func (a *Actor) ID() string { return a.id }

// ClientID returns the authenticated client id.
func (a *Actor) ClientID() string { return a.clientID }

// State returns the current lifecycle state.
func (a *Actor) State() State { return State(a.state.Load()) }

// Done is closed once the actor reached Closed and released its resources.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Wait blocks until the actor is Closed or ctx is done.
func (a *Actor) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reason returns the close reason. Valid after Done is closed.
func (a *Actor) Reason() CloseReason {
	<-a.done
	return a.reason
}

// QueueStats returns statistics of the outbound queue.
func (a *Actor) QueueStats() queue.Stats { return a.outbound.Stats() }

// Open completes the handshake: Connecting -> Open. It starts the actor's
// goroutines and queues a welcome frame.
func (a *Actor) Open() error {
	if !a.state.CompareAndSwap(int32(Connecting), int32(Open)) {
		return fmt.Errorf("%w: %s", ErrNotOpen, a.State())
	}

	go a.writeLoop()
	go a.run()

	a.deps.Sink.Emit(events.Event{Kind: events.Connected, ConnID: a.id, ClientID: a.clientID})
	a.reply(protocol.WelcomeFrame(a.id, a.clientID))
	return nil
}

// ReceiveInbound hands a raw client frame to the actor. Frames are processed
// in the order they are received. It blocks while the mailbox is full.
func (a *Actor) ReceiveInbound(ctx context.Context, raw []byte) error {
	if a.State() != Open {
		return ErrNotOpen
	}
	select {
	case a.mailbox <- command{kind: cmdInbound, raw: raw}:
		return nil
	case <-a.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers the connection with topic. Idempotent.
func (a *Actor) Subscribe(ctx context.Context, topic string) error {
	return a.call(ctx, command{kind: cmdSubscribe, topic: topic})
}

// Unsubscribe removes the connection from topic. Idempotent.
func (a *Actor) Unsubscribe(ctx context.Context, topic string) error {
	return a.call(ctx, command{kind: cmdUnsubscribe, topic: topic})
}

func (a *Actor) call(ctx context.Context, cmd command) error {
	if a.State() != Open {
		return ErrNotOpen
	}
	cmd.reply = make(chan error, 1)

	select {
	case a.mailbox <- cmd:
	case <-a.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueOutbound queues d for delivery without blocking. It fails with
// ErrClosed unless the actor is Open, and with ErrQueueOverflow when the
// queue is full under the drop_new policy. Under drop_oldest the oldest
// queued frame is dropped instead and the call succeeds.
func (a *Actor) EnqueueOutbound(d protocol.Delivery) error {
	if a.State() != Open {
		a.dropped(d, events.ReasonRecipientClosed, 1)
		return ErrClosed
	}
	return a.push(d)
}

func (a *Actor) push(d protocol.Delivery) error {
	evicted, dropped, err := a.outbound.Push(d)
	switch {
	case errors.Is(err, queue.ErrClosed):
		a.dropped(d, events.ReasonRecipientClosed, 1)
		return ErrClosed
	case errors.Is(err, queue.ErrOverflow):
		a.dropped(d, events.ReasonQueueOverflow, 1)
		return ErrQueueOverflow
	case dropped:
		a.dropped(evicted, events.ReasonQueueOverflow, 1)
	}
	return nil
}

func (a *Actor) dropped(d protocol.Delivery, reason string, n int) {
	a.deps.Sink.Emit(events.Event{
		Kind:     events.MessageDropped,
		ConnID:   a.id,
		ClientID: a.clientID,
		Topic:    d.Topic,
		Reason:   reason,
		Seq:      d.Seq,
		Count:    n,
	})
}

// reply queues a control frame for this connection.
func (a *Actor) reply(f *protocol.Outbound) {
	data, err := protocol.Encode(f)
	if err != nil {
		a.fail(err)
		return
	}
	a.push(protocol.Delivery{Origin: a.id, Data: data})
}

// Close starts a graceful close: Open -> Draining -> Closed. Queued frames are
// flushed within the drain grace period, then the connection is released.
// Close never blocks; use Done or Wait to observe completion.
func (a *Actor) Close(reason CloseReason) {
	a.beginClose(reason, true)
}

// Abort closes the connection without flushing queued frames.
func (a *Actor) Abort(reason CloseReason) {
	a.beginClose(reason, false)
}

func (a *Actor) beginClose(reason CloseReason, graceful bool) {
	a.closeOnce.Do(func() {
		a.reason = reason.truncated()
		a.graceful = graceful

		if a.state.CompareAndSwap(int32(Connecting), int32(Closed)) {
			// Never opened: no goroutines, no subscriptions.
			a.cancelWrite()
			a.transport.Close(a.reason.Code, a.reason.Text)
			close(a.writerDone)
			close(a.quit)
			close(a.done)
			a.exit()
			return
		}

		next := Closed
		if graceful {
			next = Draining
		}
		a.state.CompareAndSwap(int32(Open), int32(next))
		a.outbound.Close()
		close(a.quit)
	})
}

// Violation records a protocol violation and aborts the connection with a
// protocol error close code. Other connections are unaffected.
func (a *Actor) Violation(err error) {
	a.deps.Sink.Emit(events.Event{
		Kind:     events.ProtocolViolated,
		ConnID:   a.id,
		ClientID: a.clientID,
		Err:      err,
	})
	reason := reasonProtocolBase
	reason.Text = err.Error()
	a.Abort(reason)
}

// fail records the first failure and aborts the actor.
func (a *Actor) fail(err error) {
	a.failure.CompareAndSwap(nil, &err)
	a.Abort(ReasonInternal)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrPanic, r)
}

func (a *Actor) run() {
	defer func() {
		if r := recover(); r != nil {
			a.fail(panicError(r))
		}
		a.finish()
	}()

	for {
		select {
		case <-a.quit:
			return
		case cmd := <-a.mailbox:
			a.handle(cmd)
		}
	}
}

func (a *Actor) handle(cmd command) {
	// Commands still queued when the actor left Open are dropped.
	if a.State() != Open {
		if cmd.reply != nil {
			cmd.reply <- ErrClosed
		}
		return
	}

	switch cmd.kind {
	case cmdInbound:
		a.receive(cmd.raw)
	case cmdSubscribe:
		err := protocol.ValidateTopic(cmd.topic)
		if err == nil {
			a.subscribe(cmd.topic)
		}
		cmd.reply <- err
	case cmdUnsubscribe:
		a.unsubscribe(cmd.topic)
		cmd.reply <- nil
	}
}

// receive parses one inbound frame and acts on it.
func (a *Actor) receive(raw []byte) {
	in, err := protocol.Decode(raw)
	if err != nil {
		a.Violation(err)
		return
	}

	switch in.Type {
	case protocol.TypeSubscribe:
		a.subscribe(in.Topic)
		a.reply(protocol.SubscribedFrame(in.Topic, a.deps.Registry.Members(in.Topic)))
	case protocol.TypeUnsubscribe:
		a.unsubscribe(in.Topic)
		a.reply(protocol.UnsubscribedFrame(in.Topic))
	case protocol.TypeMembers:
		a.reply(protocol.MembersFrame(in.Topic, a.deps.Registry.Members(in.Topic)))
	case protocol.TypePublish, protocol.TypeDirect:
		a.send(in)
	}
}

func (a *Actor) send(in *protocol.Inbound) {
	a.seq++
	seq := a.seq

	msg, err := protocol.NewMessage(a.id, a.clientID, seq, in)
	if err != nil {
		a.reply(protocol.ErrorFrame(beepit.CodeInternal, seq, in.Topic, err.Error()))
		return
	}

	res, err := a.deps.Router.Dispatch(msg)
	switch {
	case err == nil:
		a.reply(protocol.AckFrame(msg.ID, seq, res.Delivered))
	case errors.Is(err, router.ErrRateLimited):
		a.reply(protocol.ErrorFrame(beepit.CodeRateLimited, seq, in.Topic, "rate limit exceeded"))
	case errors.Is(err, router.ErrUnknownRecipient):
		a.reply(protocol.ErrorFrame(beepit.CodeUnknownRecipient, seq, "", err.Error()))
	default:
		a.reply(protocol.ErrorFrame(beepit.CodeInternal, seq, in.Topic, err.Error()))
	}
}

func (a *Actor) subscribe(topic string) {
	if _, ok := a.subs[topic]; ok {
		return
	}
	a.deps.Registry.Subscribe(topic, a.id)
	a.subs[topic] = struct{}{}
}

func (a *Actor) unsubscribe(topic string) {
	if _, ok := a.subs[topic]; !ok {
		return
	}
	a.deps.Registry.Unsubscribe(topic, a.id)
	delete(a.subs, topic)
}

// Topics returns the topics the connection is subscribed to, sorted.
// Valid after Done is closed; use the registry while the actor is live.
func (a *Actor) Topics() []string {
	<-a.done
	return a.topics()
}

func (a *Actor) topics() []string {
	out := make([]string, 0, len(a.subs))
	for t := range a.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// finish runs on the run goroutine once the mailbox loop has stopped.
func (a *Actor) finish() {
	if a.graceful {
		timer := time.NewTimer(a.cfg.DrainGrace)
		select {
		case <-a.writerDone:
		case <-timer.C:
		}
		timer.Stop()
	}

	if n := a.outbound.Discard(); n > 0 {
		reason := events.ReasonConnectionClosed
		if a.graceful {
			reason = events.ReasonDrainTimeout
		}
		a.dropped(protocol.Delivery{}, reason, n)
	}

	a.cancelWrite()
	a.transport.Close(a.reason.Code, a.reason.Text)
	<-a.writerDone

	a.deps.Registry.UnsubscribeAll(a.id, a.topics())
	a.state.Store(int32(Closed))

	a.deps.Sink.Emit(events.Event{
		Kind:     events.Disconnected,
		ConnID:   a.id,
		ClientID: a.clientID,
		Reason:   a.reason.String(),
		Err:      a.failureErr(),
	})
	close(a.done)
	a.exit()
}

func (a *Actor) failureErr() error {
	if p := a.failure.Load(); p != nil {
		return *p
	}
	return nil
}

func (a *Actor) exit() {
	if a.deps.OnExit != nil {
		a.deps.OnExit(a, a.failureErr())
	}
}

// writeLoop drains the outbound queue to the transport in FIFO order.
func (a *Actor) writeLoop() {
	defer close(a.writerDone)
	defer func() {
		if r := recover(); r != nil {
			a.fail(panicError(r))
		}
	}()

	for {
		for {
			if a.writeCtx.Err() != nil {
				return
			}
			d, ok := a.outbound.TryPop()
			if !ok {
				break
			}
			if err := a.transport.Write(a.writeCtx, d.Data); err != nil {
				if a.writeCtx.Err() == nil {
					a.Abort(ReasonWriteFailed)
				}
				return
			}
		}

		if a.outbound.Closed() && a.outbound.Len() == 0 {
			return
		}

		select {
		case <-a.outbound.Ready():
		case <-a.writeCtx.Done():
			return
		}
	}
}
