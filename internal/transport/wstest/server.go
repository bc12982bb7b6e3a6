// Package wstest provides a scriptable WebSocket server for tests.
//
// Each accepted connection is handed to the test as a Peer that can read the
// client's frames, write server frames and close with any status code.
package wstest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"
)

// Server accepts WebSocket connections and queues them as peers.
type Server struct {
	srv   *httptest.Server
	peers chan *Peer

	// OnConnect, if set, runs for every peer before it is queued.
	OnConnect func(*Peer)
}

// NewServer starts a Server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{peers: make(chan *Peer, 8)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Accept waits for the next client connection.
func (s *Server) Accept(t testing.TB) *Peer {
	t.Helper()

	select {
	case p := <-s.peers:
		t.Cleanup(func() { p.conn.Close() })
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

// Close stops the server.
func (s *Server) Close() {
	s.srv.CloseClientConnections()
	s.srv.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	p := &Peer{conn: conn, remoteAddr: r.RemoteAddr}
	if s.OnConnect != nil {
		s.OnConnect(p)
	}
	s.peers <- p
}

// Peer is the server side of one client connection.
type Peer struct {
	conn       net.Conn
	remoteAddr string
	mu         sync.Mutex
}

// RemoteAddr returns the client address as seen by the server.
func (p *Peer) RemoteAddr() string {
	return p.remoteAddr
}

// Read returns the next data frame sent by the client.
// A client close frame is answered and reported as wsutil.ClosedError.
func (p *Peer) Read(timeout time.Duration) ([]byte, error) {
	p.conn.SetReadDeadline(time.Now().Add(timeout))
	defer p.conn.SetReadDeadline(time.Time{})

	data, _, err := wsutil.ReadClientData(p.conn)
	return data, err
}

// ReadJSON reads one frame and decodes it into v.
func (p *Peer) ReadJSON(v any, timeout time.Duration) error {
	data, err := p.Read(timeout)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decode %q", data)
}

// ExpectClose reads until the client sends a close frame and returns its code.
func (p *Peer) ExpectClose(timeout time.Duration) (ws.StatusCode, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_, err := p.Read(time.Until(deadline))
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return closed.Code, nil
		}
		if err != nil {
			return 0, err
		}
	}
	return 0, errors.New("timeout waiting for close frame")
}

// WriteText sends a text frame.
func (p *Peer) WriteText(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return wsutil.WriteServerText(p.conn, []byte(text))
}

// WriteJSON encodes v and sends it as a text frame.
func (p *Peer) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.WriteText(string(data))
}

// CloseWith sends a close frame with code and drops the connection.
func (p *Peer) CloseWith(code ws.StatusCode, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	body := ws.NewCloseFrameBody(code, reason)
	err := wsutil.WriteServerMessage(p.conn, ws.OpClose, body)
	p.conn.Close()
	return err
}

// Drop closes the TCP connection without a close frame.
func (p *Peer) Drop() error {
	return p.conn.Close()
}
