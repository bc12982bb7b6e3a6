package session

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/omochice/roomchat/internal/transport"
	"github.com/omochice/roomchat/pkg/protocol"
)

// HandleEvent applies one transport event. Events must be passed in the order
// the transport delivered them. The returned error is non-nil when the event
// ended the connection abnormally: ErrForcedDisconnect, ErrConnectTimeout or
// ErrConnectFailed.
func (s *Session) HandleEvent(ev transport.Event) error {
	switch ev.Kind {
	case transport.EventOpened:
		s.handleOpened()
	case transport.EventMessage:
		s.handleMessage(ev.Payload)
	case transport.EventError:
		s.handleError(ev.Err)
	case transport.EventClosed:
		return s.handleClosed(ev)
	}
	return nil
}

func (s *Session) handleOpened() {
	if s.status != Connecting {
		s.log.Warn("ignoring opened event", zap.Stringer("status", s.status))
		return
	}
	s.setStatus(Connected)

	s.log.Info("connected", zap.String("username", s.displayName))
	s.sink.RenderLogEntry("WebSocket 연결 성공", CategoryConnect, "")
	s.sink.RenderState(s.Snapshot())
}

func (s *Session) handleError(err error) {
	s.log.Warn("transport error", zap.Error(err))
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	s.sink.RenderLogEntry("WebSocket 오류 발생", CategoryError, detail)
}

func (s *Session) handleMessage(payload []byte) {
	if s.status != Connected {
		s.log.Warn("dropping frame received while not connected", zap.Stringer("status", s.status))
		return
	}

	frame := s.codec.Classify(payload)
	s.recorder.FrameReceived(frame.Kind())

	switch f := frame.(type) {
	case protocol.RoomCountUpdate:
		s.applyRoomCount(f)
	case protocol.ChatEvent:
		s.applyChatEvent(f)
	case protocol.PlainNotice:
		s.sink.RenderNotice(f.Text)
		s.sink.RenderLogEntry("서버 메시지 수신", CategoryReceive, f.Text)
	case protocol.ForcedDisconnect:
		s.forcedPending = true
		s.log.Warn("server announced forced disconnect", zap.String("text", f.Text))
		s.sink.RenderNotice(NoticeForcedPending)
		s.sink.RenderLogEntry("IP 중복 접속으로 인한 연결 종료", CategoryWarning, f.Text)
	}
}

func (s *Session) applyRoomCount(f protocol.RoomCountUpdate) {
	// Updates for a room we are no longer in may still be in flight, and
	// frames without a room id can only be matched against being in one.
	if !s.inRoom || (f.ChatRoomID != 0 && f.ChatRoomID != s.roomID) {
		s.log.Debug("ignoring room count for another room", zap.Int64("frame_room_id", f.ChatRoomID), s.roomField())
		return
	}
	s.setRoomCount(f.Count)
	s.sink.RenderLogEntry("서버 메시지 수신", CategoryRoomUpdate, fmt.Sprintf("방 인원 수 업데이트: %d명", f.Count))
}

func (s *Session) applyChatEvent(f protocol.ChatEvent) {
	if f.ClientIP != "" && f.ClientIP != s.peerIP {
		s.peerIP = f.ClientIP
		s.sink.RenderState(s.Snapshot())
	}

	local := f.Username == s.displayName
	if f.Type == protocol.MeetingTypeTalk && !local {
		st := s.guard.State()
		if s.guard.ObserveForeignMessage(f.Username) && st.LastSender == s.displayName {
			s.sink.RenderLogEntry("연속 메시지 카운트 리셋", CategoryInfo,
				fmt.Sprintf("다른 사용자(%s)가 메시지를 보냄", f.Username))
		}
	}

	at := s.now()
	s.appendHistory(HistoryEntry{Type: f.Type, Username: f.Username, Text: f.Message, Local: local, At: at})
	s.sink.RenderChatEvent(f.Type, f.Username, f.Message, local, at)
	s.sink.RenderLogEntry("채팅 메시지 수신", CategoryChat, fmt.Sprintf("발신자: %s, 내용: %q", f.Username, f.Message))
}

func (s *Session) appendHistory(e HistoryEntry) {
	if len(s.history) >= s.historyLimit {
		n := copy(s.history, s.history[1:])
		s.history = s.history[:n]
	}
	s.history = append(s.history, e)
}

func (s *Session) handleClosed(ev transport.Event) error {
	if s.status == Disconnected {
		s.log.Debug("ignoring close of a finished connection", zap.Int("code", ev.Code))
		return nil
	}

	info := DisconnectInfo{Code: ev.Code, Text: ev.Reason, Err: ev.Err}
	switch {
	case ev.Code == transport.ClosePolicyViolation || s.forcedPending:
		info.Reason = ReasonForced
	case errors.Is(ev.Err, transport.ErrConnectTimeout):
		info.Reason = ReasonConnectTimeout
	case s.userClosing:
		info.Reason = ReasonUser
	case s.status == Connecting:
		info.Reason = ReasonConnectFailed
	default:
		info.Reason = ReasonRemote
	}

	roomID := s.roomID
	s.setStatus(Disconnected)
	s.roomID = 0
	s.inRoom = false
	s.guard.Reset()
	s.userClosing = false
	s.forcedPending = false
	s.lastDisconnect = &info
	s.recorder.Disconnected(info.Reason)

	s.log.Info("connection closed",
		zap.Stringer("reason", info.Reason),
		zap.Int("code", ev.Code),
		zap.String("close_reason", ev.Reason),
		zap.Int64("room_id", roomID),
		zap.Error(ev.Err),
	)

	var err error
	switch info.Reason {
	case ReasonForced:
		s.sink.RenderLogEntry("IP 중복 접속으로 인한 연결 종료", CategoryError, fmt.Sprintf("코드: %d", ev.Code))
		s.sink.RenderNotice(NoticeForced)
		err = ErrForcedDisconnect
	case ReasonConnectTimeout:
		s.sink.RenderLogEntry("연결 실패", CategoryError, errString(ev.Err))
		s.sink.RenderNotice(NoticeConnectTimeout)
		err = ErrConnectTimeout
	case ReasonConnectFailed:
		s.sink.RenderLogEntry("연결 실패", CategoryError, errString(ev.Err))
		s.sink.RenderNotice(NoticeConnectFailed)
		err = ErrConnectFailed
		if ev.Err != nil {
			err = errors.Wrap(ErrConnectFailed, ev.Err.Error())
		}
	default:
		reason := ev.Reason
		if reason == "" {
			reason = "알 수 없는 이유"
		}
		s.sink.RenderLogEntry("WebSocket 연결 종료", CategoryDisconnect, fmt.Sprintf("코드: %d, 사유: %s", ev.Code, reason))
		s.sink.RenderNotice(NoticeClosed)
	}

	s.setRoomCount(0)
	s.sink.RenderState(s.Snapshot())
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
