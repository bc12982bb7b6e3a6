package session_test

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/omochice/roomchat/internal/flood"
	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/internal/transport"
	"github.com/omochice/roomchat/pkg/protocol"
)

func TestSession_ForcedClose(t *testing.T) {
	s, _, sink := inRoom(t, 7)
	s.SendMessage("hi")

	err := s.HandleEvent(transport.Event{
		Kind:   transport.EventClosed,
		Code:   transport.ClosePolicyViolation,
		Reason: "duplicate",
	})
	if !errors.Is(err, session.ErrForcedDisconnect) {
		t.Fatalf("HandleEvent(closed 1008) error = %v, want ErrForcedDisconnect", err)
	}

	snap := s.Snapshot()
	if snap.Status != session.Disconnected || snap.InRoom || snap.RoomID != 0 {
		t.Errorf("Snapshot() = %+v, want disconnected without room", snap)
	}
	if snap.Flood != (flood.State{}) {
		t.Errorf("Flood = %+v, want reset", snap.Flood)
	}
	info := s.LastDisconnect()
	if info == nil || info.Reason != session.ReasonForced || info.Code != transport.ClosePolicyViolation {
		t.Errorf("LastDisconnect() = %+v, want forced 1008", info)
	}
	if !sink.hasNotice(session.NoticeForced) {
		t.Errorf("notices = %v, want the forced notice", sink.notices)
	}
	if sink.hasNotice(session.NoticeClosed) {
		t.Error("forced close must not use the generic notice")
	}
}

func TestSession_CloseReasons(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T) *session.Session
		event   transport.Event
		reason  session.DisconnectReason
		wantErr error
		notice  string
	}{
		{
			name: "remote normal close",
			prepare: func(t *testing.T) *session.Session {
				s, _, _ := inRoom(t, 7)
				return s
			},
			event:  transport.Event{Kind: transport.EventClosed, Code: transport.CloseNormal},
			reason: session.ReasonRemote,
			notice: session.NoticeClosed,
		},
		{
			name: "abnormal close",
			prepare: func(t *testing.T) *session.Session {
				s, _, _ := connected(t)
				return s
			},
			event:  transport.Event{Kind: transport.EventClosed, Code: transport.CloseAbnormal, Err: errors.New("EOF")},
			reason: session.ReasonRemote,
			notice: session.NoticeClosed,
		},
		{
			name: "marker frame then normal close",
			prepare: func(t *testing.T) *session.Session {
				s, _, _ := inRoom(t, 7)
				s.HandleEvent(message("다른 곳에서 접속하여 연결이 종료됩니다."))
				return s
			},
			event:   transport.Event{Kind: transport.EventClosed, Code: transport.CloseNormal},
			reason:  session.ReasonForced,
			wantErr: session.ErrForcedDisconnect,
			notice:  session.NoticeForced,
		},
		{
			name: "forced wins over user close",
			prepare: func(t *testing.T) *session.Session {
				s, _, _ := connected(t)
				s.Disconnect()
				return s
			},
			event:   transport.Event{Kind: transport.EventClosed, Code: transport.ClosePolicyViolation},
			reason:  session.ReasonForced,
			wantErr: session.ErrForcedDisconnect,
			notice:  session.NoticeForced,
		},
		{
			name: "connect timeout",
			prepare: func(t *testing.T) *session.Session {
				s, _, _ := newSession(t)
				s.Connect(testURL, "Alice")
				return s
			},
			event: transport.Event{
				Kind: transport.EventClosed,
				Code: transport.CloseAbnormal,
				Err:  errors.Wrap(transport.ErrConnectTimeout, "dial"),
			},
			reason:  session.ReasonConnectTimeout,
			wantErr: session.ErrConnectTimeout,
			notice:  session.NoticeConnectTimeout,
		},
		{
			name: "connect refused",
			prepare: func(t *testing.T) *session.Session {
				s, _, _ := newSession(t)
				s.Connect(testURL, "Alice")
				return s
			},
			event:   transport.Event{Kind: transport.EventClosed, Code: transport.CloseAbnormal, Err: errors.New("connection refused")},
			reason:  session.ReasonConnectFailed,
			wantErr: session.ErrConnectFailed,
			notice:  session.NoticeConnectFailed,
		},
		{
			name: "connect aborted by user",
			prepare: func(t *testing.T) *session.Session {
				s, _, _ := newSession(t)
				s.Connect(testURL, "Alice")
				s.Disconnect()
				return s
			},
			event:  transport.Event{Kind: transport.EventClosed, Code: transport.CloseNormal},
			reason: session.ReasonUser,
			notice: session.NoticeClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.prepare(t)

			err := s.HandleEvent(tt.event)
			if tt.wantErr == nil && err != nil {
				t.Errorf("HandleEvent() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("HandleEvent() error = %v, want %v", err, tt.wantErr)
			}

			info := s.LastDisconnect()
			if info == nil || info.Reason != tt.reason {
				t.Fatalf("LastDisconnect() = %+v, want %v", info, tt.reason)
			}
			if got := s.Snapshot(); got.Status != session.Disconnected || got.InRoom || got.RoomCount != 0 {
				t.Errorf("Snapshot() = %+v, want reset", got)
			}
		})
	}
}

func TestSession_CloseNotices(t *testing.T) {
	s, _, sink := connected(t)
	s.HandleEvent(transport.Event{Kind: transport.EventClosed, Code: transport.CloseAbnormal})

	if !sink.hasNotice(session.NoticeClosed) {
		t.Errorf("notices = %v", sink.notices)
	}
	if !sink.hasLog("WebSocket 연결 종료", session.CategoryDisconnect) {
		t.Errorf("logs = %v", sink.logs)
	}
}

func TestSession_ReconnectAfterClose(t *testing.T) {
	s, tr, _ := inRoom(t, 7)
	s.HandleEvent(transport.Event{Kind: transport.EventClosed, Code: transport.ClosePolicyViolation})

	// A stale close for the finished connection is ignored.
	if err := s.HandleEvent(transport.Event{Kind: transport.EventClosed, Code: transport.CloseAbnormal}); err != nil {
		t.Errorf("stale close error = %v", err)
	}
	if got := s.LastDisconnect().Reason; got != session.ReasonForced {
		t.Errorf("LastDisconnect().Reason = %v, want forced", got)
	}

	if err := s.Connect(testURL, "Alice2"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	s.HandleEvent(transport.Event{Kind: transport.EventOpened})
	if err := s.Join(8); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if f := tr.frame(t, 1); f.Username != "Alice2" || f.ChatRoomID != 8 {
		t.Errorf("frame = %+v", f)
	}
}

func TestSession_TransportError(t *testing.T) {
	s, _, sink := inRoom(t, 7)

	if err := s.HandleEvent(transport.Event{Kind: transport.EventError, Err: errors.New("write: broken pipe")}); err != nil {
		t.Fatalf("HandleEvent(error) error = %v", err)
	}
	if got := s.Snapshot(); got.Status != session.Connected || !got.InRoom {
		t.Errorf("Snapshot() = %+v, want unchanged", got)
	}
	if !sink.hasLog("WebSocket 오류 발생", session.CategoryError) {
		t.Errorf("logs = %v", sink.logs)
	}
}

func TestSession_InboundFrames(t *testing.T) {
	s, _, sink := inRoom(t, 7)

	s.HandleEvent(message("WebSocket 연결 완료"))
	if !sink.hasNotice("WebSocket 연결 완료") {
		t.Errorf("notices = %v", sink.notices)
	}

	s.HandleEvent(message(`{"type":"ROOM_COUNT_UPDATE","chatRoomId":7,"count":4}`))
	if got := s.Snapshot().RoomCount; got != 4 {
		t.Errorf("RoomCount = %d, want 4", got)
	}
	s.HandleEvent(message(`{"type":"ROOM_COUNT_UPDATE","chatRoomId":9,"count":12}`))
	if got := s.Snapshot().RoomCount; got != 4 {
		t.Errorf("RoomCount = %d after another room's update, want 4", got)
	}

	s.HandleEvent(message(`{"meetingType":"JOIN","chatRoomId":7,"username":"Bob","message":"입장했습니다","clientIp":"10.0.0.9"}`))
	s.HandleEvent(talkFrom("Alice", "hi bob"))

	want := []chatEvent{
		{protocol.MeetingTypeJoin, "Bob", protocol.JoinText, false},
		{protocol.MeetingTypeTalk, "Alice", "hi bob", true},
	}
	if len(sink.chats) != len(want) {
		t.Fatalf("chats = %v, want %v", sink.chats, want)
	}
	for i := range want {
		if sink.chats[i] != want[i] {
			t.Errorf("chat %d = %+v, want %+v", i, sink.chats[i], want[i])
		}
	}
	if got := s.Snapshot().PeerIP; got != "10.0.0.9" {
		t.Errorf("PeerIP = %q, want 10.0.0.9", got)
	}

	history := s.History()
	if len(history) != 2 || !history[1].Local || history[0].Username != "Bob" {
		t.Errorf("History() = %+v", history)
	}
}

func TestSession_RoomCountAfterLeave(t *testing.T) {
	s, _, sink := inRoom(t, 7)
	s.HandleEvent(message(`{"type":"ROOM_COUNT_UPDATE","count":3}`))
	if got := s.Snapshot().RoomCount; got != 3 {
		t.Fatalf("RoomCount = %d, want 3 from a frame without a room id", got)
	}

	if err := s.Leave(); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	applied := len(sink.roomCounts)

	s.HandleEvent(message(`{"type":"ROOM_COUNT_UPDATE","count":4}`))
	s.HandleEvent(message(`{"type":"ROOM_COUNT_UPDATE","chatRoomId":7,"count":2}`))
	if got := s.Snapshot().RoomCount; got != 0 {
		t.Errorf("RoomCount = %d after Leave, want 0", got)
	}
	if len(sink.roomCounts) != applied {
		t.Errorf("room counts rendered after Leave: %v", sink.roomCounts[applied:])
	}
}

func TestSession_RoomCountLargeRoomID(t *testing.T) {
	s, _, _ := inRoom(t, protocol.MaxRoomID)
	s.HandleEvent(message(`{"type":"ROOM_COUNT_UPDATE","chatRoomId":9007199254740991,"count":5}`))
	if got := s.Snapshot().RoomCount; got != 5 {
		t.Errorf("RoomCount = %d, want 5", got)
	}
}

func TestSession_FramesIgnoredWhileDisconnected(t *testing.T) {
	s, _, sink := newSession(t)

	s.HandleEvent(message(`{"type":"ROOM_COUNT_UPDATE","count":4}`))
	if s.Snapshot().RoomCount != 0 || len(sink.roomCounts) != 0 {
		t.Error("room count applied while disconnected")
	}
}

func TestSession_ForeignTalkResetsStreak(t *testing.T) {
	s, _, sink := inRoom(t, 7)
	for i := 0; i < 45; i++ {
		s.SendMessage("me again")
	}

	// Our own echo and foreign membership events keep the streak.
	s.HandleEvent(talkFrom("Alice", "me again"))
	s.HandleEvent(message(`{"meetingType":"JOIN","username":"Bob","message":"입장했습니다"}`))
	if got := s.Snapshot().Flood; got.Count != 45 || got.LastSender != "Alice" {
		t.Fatalf("Flood = %+v, want 45 by Alice", got)
	}

	s.HandleEvent(talkFrom("Bob", "hey"))
	if got := s.Snapshot().Flood; got.Count != 0 || got.LastSender != "Bob" {
		t.Errorf("Flood = %+v, want 0 after Bob spoke", got)
	}
	if !sink.hasLog("연속 메시지 카운트 리셋", session.CategoryInfo) {
		t.Error("missing streak reset log entry")
	}

	d, err := s.SendMessage("back")
	if err != nil || d.Verdict != flood.Allow {
		t.Errorf("SendMessage() = %v, %v, want allow", d, err)
	}
	if got := s.Snapshot().Flood.Count; got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}

func TestSession_JoinClearsHistory(t *testing.T) {
	s, _, _ := inRoom(t, 7, session.WithHistoryLimit(2))

	for _, text := range []string{"a", "b", "c"} {
		s.HandleEvent(talkFrom("Bob", text))
	}
	history := s.History()
	if len(history) != 2 || history[0].Text != "b" || history[1].Text != "c" {
		t.Fatalf("History() = %+v, want the last two", history)
	}

	s.Leave()
	s.Join(8)
	if got := s.History(); len(got) != 0 {
		t.Errorf("History() after join = %+v, want empty", got)
	}
}

func TestSession_CustomGuardAndCodec(t *testing.T) {
	s, _, _ := inRoom(t, 7,
		session.WithGuard(flood.New(flood.WithLimit(2), flood.WithWarnAt(2))),
		session.WithCodec(protocol.NewCodec(protocol.WithMarkers("kicked"))),
	)

	s.SendMessage("1")
	if d, _ := s.SendMessage("2"); d.Verdict != flood.Warn || d.Remaining != 0 {
		t.Errorf("second send = %v, want warn(0)", d)
	}
	if _, err := s.SendMessage("3"); !errors.Is(err, session.ErrRateLimited) {
		t.Errorf("third send error = %v, want ErrRateLimited", err)
	}

	s.HandleEvent(message("you were kicked"))
	if err := s.HandleEvent(transport.Event{Kind: transport.EventClosed, Code: transport.CloseNormal}); !errors.Is(err, session.ErrForcedDisconnect) {
		t.Errorf("close after custom marker error = %v, want ErrForcedDisconnect", err)
	}
}
