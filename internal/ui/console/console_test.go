package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/flood"
	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/internal/ui"
	"github.com/omochice/roomchat/pkg/protocol"
)

var fixedTime = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

type mockController struct {
	sent []string
}

func (m *mockController) Connect(context.Context, string, string) error { return nil }
func (m *mockController) Disconnect(context.Context) error              { return session.ErrNotConnected }
func (m *mockController) Join(context.Context, int64) error             { return nil }
func (m *mockController) Leave(context.Context) error                   { return nil }
func (m *mockController) Snapshot() session.Snapshot                    { return session.Snapshot{} }

func (m *mockController) Send(_ context.Context, text string) (flood.Decision, error) {
	m.sent = append(m.sent, text)
	return flood.Decision{Verdict: flood.Allow}, nil
}

func TestSink_Render(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, WithClock(fixedClock), WithLogEntries(true))

	s.RenderState(session.Snapshot{Status: session.Connected, DisplayName: "Alice", PeerIP: "10.0.0.9"})
	s.RenderState(session.Snapshot{Status: session.Connected, DisplayName: "Alice", PeerIP: "10.0.0.9", RoomID: 1, InRoom: true})
	s.RenderNotice("WebSocket 연결 완료")
	s.RenderChatEvent(protocol.MeetingTypeJoin, "Bob", "입장했습니다", false, fixedTime)
	s.RenderChatEvent(protocol.MeetingTypeTalk, "Alice", "hi", true, fixedTime)
	s.RenderRoomCount(2)
	s.RenderLogEntry("메시지 전송", session.CategorySend, `"hi"`)
	s.ClearChat()

	want := []string{
		"status: connected | name: Alice | room: none | ip: 10.0.0.9 | streak: 0",
		"*** WebSocket 연결 완료 ***",
		"*** Bob님이 입장했습니다 ***",
		"07:08:09 [Alice] (me): hi",
		"*** 현재 인원: 2명 ***",
		"[07:08:09] [10.0.0.9] [SEND] [Alice] 메시지 전송",
		`    └─ "hi"`,
		"----------------------------------------",
	}
	got := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("output:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestSink_LogEntriesHidden(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)

	s.RenderLogEntry("메시지 전송", session.CategorySend, "")
	if buf.Len() != 0 {
		t.Errorf("log entry printed without WithLogEntries: %q", buf.String())
	}
}

func TestRun(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)
	ctrl := &mockController{}
	d := ui.NewDispatcher(ctrl, "ws://host", "Alice", s.Println)

	in := strings.NewReader("hello\n\n/disconnect\n/bogus\n/quit\nnever sent\n")
	if err := Run(context.Background(), in, d, s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ctrl.sent) != 1 || ctrl.sent[0] != "hello" {
		t.Errorf("sent = %q, want [hello]", ctrl.sent)
	}
	out := buf.String()
	if !strings.Contains(out, "error: "+session.ErrNotConnected.Error()) {
		t.Errorf("output missing disconnect error:\n%s", out)
	}
	if !strings.Contains(out, "unknown command") {
		t.Errorf("output missing unknown command error:\n%s", out)
	}
}

func TestRun_EOF(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)
	ctrl := &mockController{}
	d := ui.NewDispatcher(ctrl, "ws://host", "Alice", s.Println)

	if err := Run(context.Background(), strings.NewReader("a\nb"), d, s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Join(ctrl.sent, ",") != "a,b" {
		t.Errorf("sent = %q", ctrl.sent)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf)
	d := ui.NewDispatcher(&mockController{}, "ws://host", "Alice", s.Println)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	// A reader that never returns keeps the scanner blocked.
	pr := blockingReader{}
	go func() { done <- Run(ctx, pr, d, s) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}
