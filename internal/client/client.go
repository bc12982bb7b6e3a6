// Package client runs a chat session on its own goroutine.
//
// The Client is the single owner of a session.Session: user intents submitted
// from any goroutine and events coming from the transport are applied one at a
// time, in arrival order, by the run loop.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/omochice/roomchat/internal/flood"
	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/internal/transport"
)

const tracerName = "roomchat"

// ErrClosed is returned for intents submitted after Close.
var ErrClosed = errors.New("client closed")

// Transport is a transport.Transport that can be torn down for good.
type Transport interface {
	transport.Transport
	Shutdown()
}

// IntentObserver is told how long each user intent took.
type IntentObserver interface {
	ObserveIntent(op string, d time.Duration)
}

type command struct {
	fn  func() error
	res chan error
}

// Client serializes access to a session.
type Client struct {
	tr       Transport
	sess     *session.Session
	log      *zap.Logger
	tracer   trace.Tracer
	observer IntentObserver
	autoJoin int64

	cmds     chan command
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	mu             sync.Mutex
	started        bool
	last           session.Snapshot
	lastDisconnect *session.DisconnectInfo
	changed        chan struct{}
}

type options struct {
	sessionOpts []session.Option
	log         *zap.Logger
	tracer      trace.Tracer
	observer    IntentObserver
	autoJoin    int64
}

// Option configures a Client.
type Option func(*options)

// WithSessionOptions passes options to the underlying session.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// WithLogger sets the logger for the client and its session.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithTracer sets the tracer. Default: the global provider's "roomchat" tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithIntentObserver reports intent durations, e.g. to metrics.
func WithIntentObserver(obs IntentObserver) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithAutoJoin joins roomID as soon as a connection opens.
func WithAutoJoin(roomID int64) Option {
	return func(o *options) {
		o.autoJoin = roomID
	}
}

// New creates a Client on top of tr. Call Start to begin processing.
func New(tr Transport, opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	sessOpts := append([]session.Option{session.WithLogger(o.log)}, o.sessionOpts...)
	c := &Client{
		tr:       tr,
		sess:     session.New(tr, sessOpts...),
		log:      o.log.Named("client"),
		tracer:   o.tracer,
		observer: o.observer,
		autoJoin: o.autoJoin,
		cmds:     make(chan command),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		changed:  make(chan struct{}),
	}
	c.last = c.sess.Snapshot()
	return c
}

// Start launches the run loop.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	go c.run()
}

// Close disconnects if needed, waits for the close to complete or ctx to
// end, and stops the run loop and the transport.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	var err error
	if started {
		err = c.Disconnect(ctx)
		if err == nil {
			err = c.WaitFor(ctx, func(s session.Snapshot) bool {
				return s.Status == session.Disconnected
			})
		} else if errors.Is(err, session.ErrNotConnected) || errors.Is(err, ErrClosed) {
			err = nil
		}
	}

	c.quitOnce.Do(func() {
		close(c.quit)
	})
	if started {
		<-c.done
	}
	c.tr.Shutdown()
	return err
}

// Connect starts connecting to url as name.
func (c *Client) Connect(ctx context.Context, url, name string) error {
	return c.do(ctx, "connect", func() error {
		return c.sess.Connect(url, name)
	}, attribute.String("roomchat.url", url))
}

// Join enters roomID.
func (c *Client) Join(ctx context.Context, roomID int64) error {
	return c.do(ctx, "join", func() error {
		return c.sess.Join(roomID)
	}, attribute.Int64("roomchat.room_id", roomID))
}

// Leave exits the current room.
func (c *Client) Leave(ctx context.Context) error {
	return c.do(ctx, "leave", c.sess.Leave)
}

// Send sends text to the current room.
func (c *Client) Send(ctx context.Context, text string) (flood.Decision, error) {
	var d flood.Decision
	err := c.do(ctx, "send", func() error {
		var err error
		d, err = c.sess.SendMessage(text)
		return err
	})
	return d, err
}

// Disconnect asks for a normal closure.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, "disconnect", c.sess.Disconnect)
}

// History returns the chat events of the current room.
func (c *Client) History(ctx context.Context) ([]session.HistoryEntry, error) {
	var h []session.HistoryEntry
	err := c.do(ctx, "history", func() error {
		h = c.sess.History()
		return nil
	})
	return h, err
}

// Snapshot returns the state as of the last processed intent or event.
// It never blocks on the run loop.
func (c *Client) Snapshot() session.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// LastDisconnect describes how the previous connection ended, or nil.
func (c *Client) LastDisconnect() *session.DisconnectInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDisconnect
}

// WaitFor blocks until cond holds for the current snapshot.
func (c *Client) WaitFor(ctx context.Context, cond func(session.Snapshot) bool) error {
	for {
		c.mu.Lock()
		s, changed := c.last, c.changed
		c.mu.Unlock()

		if cond(s) {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		}
	}
}

func (c *Client) do(ctx context.Context, op string, fn func() error, attrs ...attribute.KeyValue) error {
	ctx, span := c.tracer.Start(ctx, "roomchat."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()
	start := time.Now()

	err := c.submit(ctx, fn)

	if c.observer != nil {
		c.observer.ObserveIntent(op, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("roomchat.error_code", session.ErrorCode(err)))
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func (c *Client) submit(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, res: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// The run loop answers every command it accepted.
	return <-cmd.res
}

func (c *Client) run() {
	defer close(c.done)

	events := c.tr.Events()
	for {
		select {
		case <-c.quit:
			return
		case cmd := <-c.cmds:
			cmd.res <- cmd.fn()
		case ev := <-events:
			c.handle(ev)
		}
		c.publish()
	}
}

func (c *Client) handle(ev transport.Event) {
	if err := c.sess.HandleEvent(ev); err != nil {
		c.log.Warn("connection ended", zap.Stringer("event", ev), zap.Error(err))
	}

	if ev.Kind == transport.EventOpened && c.autoJoin > 0 {
		if err := c.sess.Join(c.autoJoin); err != nil {
			c.log.Warn("auto-join failed", zap.Int64("room_id", c.autoJoin), zap.Error(err))
		}
	}
}

func (c *Client) publish() {
	s := c.sess.Snapshot()
	info := c.sess.LastDisconnect()

	c.mu.Lock()
	c.last = s
	c.lastDisconnect = info
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}
