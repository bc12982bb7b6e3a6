package session_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/internal/transport"
	"github.com/omochice/roomchat/pkg/protocol"
)

const testURL = "ws://localhost:8080/ws/chat"

// mockTransport is a mock implementation of transport.Transport for testing.
// Events are injected by calling Session.HandleEvent directly.
type mockTransport struct {
	mu       sync.Mutex
	opened   []string
	written  [][]byte
	closes   []int
	openErr  error
	sendErr  error
	closeErr error
	events   chan transport.Event
}

func newMockTransport() *mockTransport {
	return &mockTransport{events: make(chan transport.Event)}
}

func (m *mockTransport) Open(url string) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, url)
	return nil
}

func (m *mockTransport) Send(frame []byte) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]byte, len(frame))
	copy(copied, frame)
	m.written = append(m.written, copied)
	return nil
}

func (m *mockTransport) Close(code int, reason string) error {
	if m.closeErr != nil {
		return m.closeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes = append(m.closes, code)
	return nil
}

func (m *mockTransport) Events() <-chan transport.Event {
	return m.events
}

func (m *mockTransport) GetWritten() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written
}

// Compile-time check that mockTransport implements transport.Transport
var _ transport.Transport = (*mockTransport)(nil)

type wireFrame struct {
	MeetingType string `json:"meetingType"`
	ChatRoomID  int64  `json:"chatRoomId"`
	Username    string `json:"username"`
	Message     string `json:"message"`
}

func (m *mockTransport) frame(t *testing.T, i int) wireFrame {
	t.Helper()
	written := m.GetWritten()
	if i >= len(written) {
		t.Fatalf("frame %d not written, only %d frames", i, len(written))
	}
	var f wireFrame
	if err := json.Unmarshal(written[i], &f); err != nil {
		t.Fatalf("frame %d is not JSON: %v", i, err)
	}
	return f
}

type logEntry struct {
	Message  string
	Category session.Category
	Detail   string
}

type chatEvent struct {
	Kind     protocol.MeetingType
	Username string
	Text     string
	Local    bool
}

// recordingSink keeps everything the session rendered.
type recordingSink struct {
	chats      []chatEvent
	notices    []string
	roomCounts []int
	logs       []logEntry
	states     []session.Snapshot
	clears     int
}

func (r *recordingSink) RenderChatEvent(kind protocol.MeetingType, username, text string, local bool, _ time.Time) {
	r.chats = append(r.chats, chatEvent{kind, username, text, local})
}

func (r *recordingSink) RenderNotice(text string) { r.notices = append(r.notices, text) }
func (r *recordingSink) RenderRoomCount(n int)    { r.roomCounts = append(r.roomCounts, n) }
func (r *recordingSink) RenderState(s session.Snapshot) {
	r.states = append(r.states, s)
}
func (r *recordingSink) ClearChat() { r.clears++ }

func (r *recordingSink) RenderLogEntry(message string, category session.Category, detail string) {
	r.logs = append(r.logs, logEntry{message, category, detail})
}

func (r *recordingSink) hasNotice(text string) bool {
	for _, n := range r.notices {
		if n == text {
			return true
		}
	}
	return false
}

func (r *recordingSink) hasLog(message string, category session.Category) bool {
	for _, l := range r.logs {
		if l.Message == message && l.Category == category {
			return true
		}
	}
	return false
}

func newSession(t *testing.T, opts ...session.Option) (*session.Session, *mockTransport, *recordingSink) {
	t.Helper()
	tr := newMockTransport()
	sink := &recordingSink{}
	opts = append([]session.Option{session.WithSink(sink)}, opts...)
	return session.New(tr, opts...), tr, sink
}

// connected returns a session that has completed the handshake as Alice.
func connected(t *testing.T, opts ...session.Option) (*session.Session, *mockTransport, *recordingSink) {
	t.Helper()
	s, tr, sink := newSession(t, opts...)
	if err := s.Connect(testURL, "Alice"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.HandleEvent(transport.Event{Kind: transport.EventOpened}); err != nil {
		t.Fatalf("HandleEvent(opened) error = %v", err)
	}
	return s, tr, sink
}

// inRoom returns a connected session that joined room.
func inRoom(t *testing.T, room int64, opts ...session.Option) (*session.Session, *mockTransport, *recordingSink) {
	t.Helper()
	s, tr, sink := connected(t, opts...)
	if err := s.Join(room); err != nil {
		t.Fatalf("Join(%d) error = %v", room, err)
	}
	return s, tr, sink
}

func message(payload string) transport.Event {
	return transport.Event{Kind: transport.EventMessage, Payload: []byte(payload)}
}

func talkFrom(user, text string) transport.Event {
	data, _ := json.Marshal(wireFrame{MeetingType: "TALK", ChatRoomID: 7, Username: user, Message: text})
	return transport.Event{Kind: transport.EventMessage, Payload: data}
}
