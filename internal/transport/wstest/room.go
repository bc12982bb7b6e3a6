package wstest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	// WelcomeText is sent to every new connection.
	WelcomeText = "WebSocket 연결 완료"
	// ReplacedText is sent to a connection replaced by a newer one from the
	// same origin, right before it is closed with 1008.
	ReplacedText = "다른 곳에서 접속하여 연결이 종료됩니다."
)

// chatFrame is the chat message exchanged with clients.
type chatFrame struct {
	MeetingType string `json:"meetingType"`
	ChatRoomID  int64  `json:"chatRoomId"`
	Username    string `json:"username"`
	Message     string `json:"message"`
	ClientIP    string `json:"clientIp,omitempty"`
}

type roomCountFrame struct {
	Type       string `json:"type"`
	ChatRoomID int64  `json:"chatRoomId"`
	Count      int    `json:"count"`
}

type outFrame struct {
	op      ws.OpCode
	payload []byte
}

// roomClient is one connection held by a RoomServer.
type roomClient struct {
	conn net.Conn
	ip   string

	mu       sync.Mutex
	closed   bool
	outgoing chan outFrame
}

func (c *roomClient) send(f outFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.outgoing <- f:
	default:
	}
}

func (c *roomClient) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.outgoing)
	}
}

// RoomServer is an in-process chat server for end-to-end tests. It keeps
// room membership, fans chat frames out to every member of a room, the
// sender included, and publishes member counts after each change.
type RoomServer struct {
	srv *httptest.Server

	// originKey groups connections that count as the same origin.
	originKey func(*http.Request) string

	mu      sync.RWMutex
	clients map[*roomClient]bool
	rooms   map[int64]map[*roomClient]bool
	origins map[string]*roomClient
	wg      sync.WaitGroup
}

// RoomOption configures a RoomServer.
type RoomOption func(*RoomServer)

// WithOriginKey makes a new connection replace an older one with the same
// key: the old one gets ReplacedText and a 1008 close.
func WithOriginKey(key func(*http.Request) string) RoomOption {
	return func(s *RoomServer) {
		s.originKey = key
	}
}

// NewRoomServer starts a RoomServer that is closed when the test ends.
func NewRoomServer(t testing.TB, opts ...RoomOption) *RoomServer {
	t.Helper()

	s := &RoomServer{
		clients: make(map[*roomClient]bool),
		rooms:   make(map[int64]map[*roomClient]bool),
		origins: make(map[string]*roomClient),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the server.
func (s *RoomServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/chat"
}

// ClientCount returns the number of open connections.
func (s *RoomServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// MemberCount returns the number of connections in a room.
func (s *RoomServer) MemberCount(roomID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID])
}

// Close disconnects every client and stops the server.
func (s *RoomServer) Close() {
	s.srv.CloseClientConnections()
	s.srv.Close()

	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *RoomServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	c := &roomClient{
		conn:     conn,
		ip:       ip,
		outgoing: make(chan outFrame, 64),
	}

	s.mu.Lock()
	if s.originKey != nil {
		key := s.originKey(r)
		if old, ok := s.origins[key]; ok {
			s.removeLocked(old)
			old.send(outFrame{op: ws.OpText, payload: []byte(ReplacedText)})
			old.send(outFrame{op: ws.OpClose, payload: ws.NewCloseFrameBody(ws.StatusPolicyViolation, "duplicate")})
		}
		s.origins[key] = c
	}
	s.clients[c] = true
	s.mu.Unlock()

	c.send(outFrame{op: ws.OpText, payload: []byte(WelcomeText)})

	s.wg.Add(2)
	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *RoomServer) writeLoop(c *roomClient) {
	defer s.wg.Done()
	for f := range c.outgoing {
		if err := wsutil.WriteServerMessage(c.conn, f.op, f.payload); err != nil {
			return
		}
		if f.op == ws.OpClose {
			c.conn.Close()
			return
		}
	}
}

func (s *RoomServer) readLoop(c *roomClient) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		counts := s.removeLocked(c)
		s.mu.Unlock()
		c.finish()
		s.publishCounts(counts)
	}()

	for {
		data, _, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}

		var msg chatFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		msg.ClientIP = c.ip
		s.handleMessage(c, msg)
	}
}

func (s *RoomServer) handleMessage(c *roomClient, msg chatFrame) {
	s.mu.Lock()
	room := s.rooms[msg.ChatRoomID]
	switch msg.MeetingType {
	case "JOIN":
		if room == nil {
			room = make(map[*roomClient]bool)
			s.rooms[msg.ChatRoomID] = room
		}
		room[c] = true
	case "LEAVE":
		delete(room, c)
	}
	count := len(room)
	members := make([]*roomClient, 0, count)
	for member := range room {
		members = append(members, member)
	}
	s.mu.Unlock()

	if msg.MeetingType == "JOIN" || msg.MeetingType == "LEAVE" {
		s.publishCounts(map[int64]int{msg.ChatRoomID: count})
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, member := range members {
		member.send(outFrame{op: ws.OpText, payload: data})
	}
}

// removeLocked drops c from the server and reports the new size of every
// room it was in.
func (s *RoomServer) removeLocked(c *roomClient) map[int64]int {
	if !s.clients[c] {
		return nil
	}
	delete(s.clients, c)
	for key, holder := range s.origins {
		if holder == c {
			delete(s.origins, key)
		}
	}

	counts := make(map[int64]int)
	for id, room := range s.rooms {
		if room[c] {
			delete(room, c)
			counts[id] = len(room)
		}
	}
	return counts
}

func (s *RoomServer) publishCounts(counts map[int64]int) {
	for id, count := range counts {
		data, err := json.Marshal(roomCountFrame{Type: "ROOM_COUNT_UPDATE", ChatRoomID: id, Count: count})
		if err != nil {
			continue
		}

		s.mu.RLock()
		for member := range s.rooms[id] {
			member.send(outFrame{op: ws.OpText, payload: data})
		}
		s.mu.RUnlock()
	}
}
