// Package ws provides the WebSocket transport for the chat client.
package ws

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/omochice/roomchat/internal/transport"
)

// Config tunes the transport.
type Config struct {
	// ConnectTimeout bounds dialing plus the handshake. Zero disables it.
	ConnectTimeout time.Duration
	// WriteTimeout bounds a single frame write. Zero disables it.
	WriteTimeout time.Duration
	// CloseGrace is how long to wait for the peer to answer a close frame.
	CloseGrace time.Duration
	// QueueSize is the capacity of the outgoing frame queue.
	QueueSize int
	// Header is sent with the handshake request.
	Header http.Header
}

// DefaultConfig returns the settings used by the CLI.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		CloseGrace:     2 * time.Second,
		QueueSize:      16,
	}
}

// Transport is a transport.Transport over gorilla/websocket.
// It holds at most one connection at a time.
type Transport struct {
	cfg      Config
	dialer   *websocket.Dialer
	log      *zap.Logger
	events   chan transport.Event
	quit     chan struct{}
	quitOnce sync.Once

	mu     sync.Mutex
	active *conn
}

var _ transport.Transport = (*Transport)(nil)

type outFrame struct {
	data  []byte
	close bool
}

type conn struct {
	url      string
	ctx      context.Context
	cancel   context.CancelFunc
	ws       *websocket.Conn
	outgoing chan outFrame
	done     chan struct{}
	doneOnce sync.Once

	// guarded by Transport.mu
	closeCode   int
	closeReason string
	failed      bool
}

func (c *conn) stop() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// New creates a Transport. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) *Transport {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		log:    log.Named("transport"),
		events: make(chan transport.Event, 64),
		quit:   make(chan struct{}),
	}
}

// Events returns the channel for receiving transport events
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Open starts dialing url in the background
func (t *Transport) Open(url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.quit:
		return transport.ErrNotOpen
	default:
	}
	if t.active != nil {
		return transport.ErrBusy
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if t.cfg.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	c := &conn{
		url:      url,
		ctx:      ctx,
		cancel:   cancel,
		outgoing: make(chan outFrame, t.cfg.QueueSize),
		done:     make(chan struct{}),
	}
	t.active = c

	t.log.Debug("dialing", zap.String("url", url))
	go t.run(c)
	return nil
}

// Send queues a text frame for the writer goroutine
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.active
	if c == nil || c.ws == nil || c.closeCode != 0 || c.failed {
		return transport.ErrNotOpen
	}

	select {
	case c.outgoing <- outFrame{data: frame}:
		return nil
	default:
		return transport.ErrQueueFull
	}
}

// Close starts the close handshake, or aborts a dial in progress
func (t *Transport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.active
	if c == nil {
		return transport.ErrNotOpen
	}
	if c.closeCode != 0 {
		return nil
	}
	c.closeCode = code
	c.closeReason = reason

	if c.ws == nil {
		c.cancel()
		return nil
	}

	select {
	case c.outgoing <- outFrame{close: true}:
	default:
		// Queue is full: control frames may bypass the writer.
		go t.writeClose(c, code, reason)
	}
	return nil
}

// Shutdown drops the current connection and stops emitting events.
func (t *Transport) Shutdown() {
	t.quitOnce.Do(func() {
		close(t.quit)
	})

	t.mu.Lock()
	c := t.active
	var wsConn *websocket.Conn
	if c != nil {
		wsConn = c.ws
	}
	t.mu.Unlock()
	if c == nil {
		return
	}
	c.cancel()
	c.stop()
	if wsConn != nil {
		wsConn.Close()
	}
}

func (t *Transport) run(c *conn) {
	wsConn, _, err := t.dialer.DialContext(c.ctx, c.url, t.cfg.Header)
	if err != nil {
		ev := t.dialFailure(c, err)
		c.cancel()
		t.finish(c, ev)
		return
	}

	t.mu.Lock()
	c.ws = wsConn
	pending := c.closeCode
	t.mu.Unlock()
	c.cancel()

	t.log.Debug("connected", zap.String("url", c.url))
	t.emit(transport.Event{Kind: transport.EventOpened})
	if pending != 0 {
		c.outgoing <- outFrame{close: true}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.writeLoop(c)
	}()

	ev := t.readLoop(c)
	c.stop()
	wg.Wait()
	wsConn.Close()
	t.finish(c, ev)
}

func (t *Transport) finish(c *conn, ev transport.Event) {
	t.mu.Lock()
	if t.active == c {
		t.active = nil
	}
	t.mu.Unlock()

	t.log.Debug("connection finished",
		zap.String("url", c.url),
		zap.Int("code", ev.Code),
		zap.Error(ev.Err),
	)
	t.emit(ev)
}

func (t *Transport) dialFailure(c *conn, err error) transport.Event {
	t.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	t.mu.Unlock()

	switch {
	case code != 0:
		// The dial was aborted on request.
		return transport.Event{Kind: transport.EventClosed, Code: code, Reason: reason}
	case isTimeout(c.ctx, err):
		return transport.Event{
			Kind: transport.EventClosed,
			Code: transport.CloseAbnormal,
			Err:  errors.Wrapf(transport.ErrConnectTimeout, "dial %s", c.url),
		}
	default:
		return transport.Event{
			Kind: transport.EventClosed,
			Code: transport.CloseAbnormal,
			Err:  errors.Wrap(err, "failed to connect to server"),
		}
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readLoop continuously receives messages and returns the closing event
func (t *Transport) readLoop(c *conn) transport.Event {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return t.closeEvent(c, err)
		}
		if !t.emit(transport.Event{Kind: transport.EventMessage, Payload: data}) {
			return transport.Event{Kind: transport.EventClosed, Code: transport.CloseGoingAway}
		}
	}
}

func (t *Transport) closeEvent(c *conn, err error) transport.Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return transport.Event{Kind: transport.EventClosed, Code: ce.Code, Reason: ce.Text}
	}

	t.mu.Lock()
	code, reason, failed := c.closeCode, c.closeReason, c.failed
	t.mu.Unlock()

	if code != 0 {
		// We asked to close and the peer dropped the connection or never answered.
		return transport.Event{Kind: transport.EventClosed, Code: code, Reason: reason}
	}

	err = errors.Wrap(err, "failed to read from server")
	if !failed {
		t.emit(transport.Event{Kind: transport.EventError, Err: err})
	}
	return transport.Event{Kind: transport.EventClosed, Code: transport.CloseAbnormal, Err: err}
}

func (t *Transport) writeLoop(c *conn) {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.outgoing:
			if f.close {
				t.mu.Lock()
				code, reason := c.closeCode, c.closeReason
				t.mu.Unlock()
				t.writeClose(c, code, reason)
				continue
			}

			if t.cfg.WriteTimeout > 0 {
				c.ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, f.data); err != nil {
				if errors.Is(err, websocket.ErrCloseSent) {
					continue
				}
				t.mu.Lock()
				c.failed = true
				t.mu.Unlock()
				t.emit(transport.Event{Kind: transport.EventError, Err: errors.Wrap(err, "failed to send message")})
				c.ws.Close()
				return
			}
		}
	}
}

func (t *Transport) writeClose(c *conn, code int, reason string) {
	var deadline time.Time
	if t.cfg.CloseGrace > 0 {
		deadline = time.Now().Add(t.cfg.CloseGrace)
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		t.log.Debug("failed to write close frame", zap.Error(err))
		c.ws.Close()
		return
	}
	if !deadline.IsZero() {
		c.ws.SetReadDeadline(deadline)
	}
}

func (t *Transport) emit(ev transport.Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.quit:
		return false
	}
}
