// Package session implements the chat client state machine.
//
// A Session tracks the connection status, the single room the user is in and
// the anti-flood streak. User intents are methods; transport events are fed in
// through HandleEvent. Every operation either succeeds with its side effects or
// fails with a sentinel error and leaves the state unchanged.
//
// A Session is not safe for concurrent use. One goroutine must own it.
package session

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/omochice/roomchat/internal/flood"
	"github.com/omochice/roomchat/internal/identity"
	"github.com/omochice/roomchat/internal/transport"
	"github.com/omochice/roomchat/pkg/protocol"
)

// UnknownPeerIP is reported until the server tells the client its address.
const UnknownPeerIP = "unknown"

// DefaultHistoryLimit bounds the chat events kept for the current room.
const DefaultHistoryLimit = 500

// Local notices shown in the chat view.
const (
	NoticeJoinedFormat   = "채팅방 %d에 입장했습니다."
	NoticeDisconnecting  = "연결을 해제합니다. 입장했던 모든 채팅방에서 자동으로 퇴장됩니다."
	NoticeClosed         = "서버와의 연결이 끊어졌습니다. 입장했던 모든 채팅방에서 자동으로 퇴장되었습니다."
	NoticeForcedPending  = "⚠️ 다른 곳에서 같은 IP로 접속하여 현재 연결이 종료됩니다."
	NoticeForced         = "다른 곳에서 같은 IP로 접속하여 연결이 종료되었습니다."
	NoticeConnectTimeout = "서버 연결 시간이 초과되었습니다."
	NoticeConnectFailed  = "서버에 연결하지 못했습니다."
)

// userCloseReason is sent with the normal closure frame.
const userCloseReason = "사용자 요청으로 연결 해제"

// Session is the client state machine.
type Session struct {
	tr       transport.Transport
	codec    *protocol.Codec
	guard    *flood.Guard
	sink     Sink
	recorder Recorder
	log      *zap.Logger
	now      func() time.Time

	clientID     string
	status       Status
	displayName  string
	roomID       int64
	inRoom       bool
	roomCount    int
	peerIP       string
	historyLimit int
	history      []HistoryEntry

	// per connection
	userClosing   bool
	forcedPending bool

	lastDisconnect *DisconnectInfo
}

// Option configures a Session.
type Option func(*Session)

// WithSink sets the presentation sink.
func WithSink(s Sink) Option {
	return func(ss *Session) {
		if s != nil {
			ss.sink = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithCodec sets the inbound frame classifier.
func WithCodec(c *protocol.Codec) Option {
	return func(s *Session) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithGuard sets the flood guard.
func WithGuard(g *flood.Guard) Option {
	return func(s *Session) {
		if g != nil {
			s.guard = g
		}
	}
}

// WithClock sets the time source used for chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHistoryLimit bounds the kept chat history.
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// New creates a disconnected Session on top of tr.
func New(tr transport.Transport, opts ...Option) *Session {
	s := &Session{
		tr:           tr,
		codec:        protocol.NewCodec(),
		guard:        flood.New(),
		sink:         Nop{},
		recorder:     nopRecorder{},
		log:          zap.NewNop(),
		now:          time.Now,
		clientID:     uuid.NewString(),
		peerIP:       UnknownPeerIP,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("session").With(zap.String("client_id", s.clientID))
	return s
}

// Connect validates name and url and starts connecting.
func (s *Session) Connect(url, name string) error {
	if err := identity.Validate(name); err != nil {
		return s.fail("connect", err)
	}
	if err := ValidateURL(url); err != nil {
		return s.fail("connect", err)
	}
	switch s.status {
	case Connecting:
		return s.fail("connect", ErrAlreadyConnecting)
	case Connected:
		return s.fail("connect", ErrAlreadyConnected)
	}

	if err := s.tr.Open(url); err != nil {
		return s.fail("connect", errors.Wrap(err, "failed to open connection"))
	}

	s.displayName = strings.TrimSpace(name)
	s.peerIP = UnknownPeerIP
	s.userClosing = false
	s.forcedPending = false
	s.setStatus(Connecting)

	s.log.Info("connecting", zap.String("url", url), zap.String("username", s.displayName))
	s.sink.RenderLogEntry("서버 연결 시도 중...", CategorySystem, url)
	s.sink.RenderState(s.Snapshot())
	return nil
}

// Disconnect asks the transport for a normal closure. The session becomes
// Disconnected when the transport reports the close.
func (s *Session) Disconnect() error {
	if s.status == Disconnected {
		return s.fail("disconnect", ErrNotConnected)
	}
	if s.userClosing {
		return nil
	}

	err := s.tr.Close(transport.CloseNormal, userCloseReason)
	if err != nil && !errors.Is(err, transport.ErrNotOpen) {
		return s.fail("disconnect", errors.Wrap(err, "failed to close connection"))
	}
	s.userClosing = true

	s.log.Info("disconnect requested", s.roomField())
	s.sink.RenderLogEntry("사용자가 연결 해제를 요청했습니다", CategoryDisconnect, "")
	s.sink.RenderNotice(NoticeDisconnecting)
	return nil
}

// Join enters roomID. The previous room must be left first.
func (s *Session) Join(roomID int64) error {
	if s.status != Connected {
		return s.fail("join", ErrTransportNotReady)
	}
	if roomID <= 0 || roomID > protocol.MaxRoomID {
		return s.fail("join", errors.Wrapf(ErrInvalidRoom, "got %d", roomID))
	}
	if s.inRoom {
		if s.roomID == roomID {
			return s.fail("join", errors.Wrapf(ErrAlreadyInRoom, "room %d", roomID))
		}
		return s.fail("join", errors.Wrapf(ErrRoomConflict, "in room %d", s.roomID))
	}

	if err := s.send(protocol.Join(roomID, s.displayName)); err != nil {
		return s.fail("join", err)
	}

	s.history = s.history[:0]
	s.sink.ClearChat()
	s.sink.RenderLogEntry("채팅 메시지 화면을 지웠습니다", CategorySystem, "")
	s.sink.RenderNotice(fmt.Sprintf(NoticeJoinedFormat, roomID))

	s.guard.Reset()
	s.roomID = roomID
	s.inRoom = true

	s.log.Info("joined room", s.roomField())
	s.sink.RenderLogEntry(fmt.Sprintf("채팅방 %d에 입장", roomID), CategoryJoin, "")
	s.sink.RenderState(s.Snapshot())
	return nil
}

// Leave exits the current room.
func (s *Session) Leave() error {
	if s.status != Connected {
		return s.fail("leave", ErrTransportNotReady)
	}
	if !s.inRoom {
		return s.fail("leave", ErrNotInRoom)
	}

	roomID := s.roomID
	if err := s.send(protocol.Leave(roomID, s.displayName)); err != nil {
		return s.fail("leave", err)
	}

	s.guard.Reset()
	s.roomID = 0
	s.inRoom = false
	s.setRoomCount(0)

	s.log.Info("left room", zap.Int64("room_id", roomID))
	s.sink.RenderLogEntry(fmt.Sprintf("채팅방 %d에서 퇴장", roomID), CategoryLeave, "")
	s.sink.RenderState(s.Snapshot())
	return nil
}

// SendMessage sends text to the current room. The returned decision carries
// the remaining count when the flood guard warns.
func (s *Session) SendMessage(text string) (flood.Decision, error) {
	if s.status != Connected {
		return flood.Decision{}, s.fail("send", ErrTransportNotReady)
	}
	if !s.inRoom {
		return flood.Decision{}, s.fail("send", ErrNotInRoom)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return flood.Decision{}, s.fail("send", ErrEmptyMessage)
	}
	if n := utf8.RuneCountInString(text); n > protocol.MaxMessageLength {
		return flood.Decision{}, s.fail("send",
			errors.Wrapf(ErrMessageTooLong, "%d characters, at most %d", n, protocol.MaxMessageLength))
	}

	before := s.guard.State()
	d := s.guard.Admit(s.displayName)
	s.recorder.Admitted(d.Verdict)

	switch d.Verdict {
	case flood.Reject:
		count := s.guard.State().Count
		s.sink.RenderLogEntry("연속 메시지 제한 도달", CategoryWarning, fmt.Sprintf("연속 %d개 전송 시도", count))
		return d, s.fail("send", errors.Wrapf(ErrRateLimited, "%d in a row", count))
	case flood.Warn:
		s.sink.RenderLogEntry("연속 메시지 경고", CategoryWarning, fmt.Sprintf("%d개 더 보내면 전송이 제한됩니다", d.Remaining))
	}

	if err := s.send(protocol.Talk(s.roomID, s.displayName, text)); err != nil {
		s.guard.Restore(before)
		return flood.Decision{}, s.fail("send", err)
	}

	s.log.Debug("message sent", s.roomField(), zap.Stringer("admission", d))
	s.sink.RenderLogEntry("메시지 전송", CategorySend, fmt.Sprintf("%q", text))
	return d, nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ClientID:    s.clientID,
		Status:      s.status,
		DisplayName: s.displayName,
		RoomID:      s.roomID,
		InRoom:      s.inRoom,
		RoomCount:   s.roomCount,
		PeerIP:      s.peerIP,
		Flood:       s.guard.State(),
	}
}

// History returns the chat events of the current room, oldest first.
func (s *Session) History() []HistoryEntry {
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// LastDisconnect describes how the previous connection ended, or nil.
func (s *Session) LastDisconnect() *DisconnectInfo {
	if s.lastDisconnect == nil {
		return nil
	}
	info := *s.lastDisconnect
	return &info
}

// send encodes and queues one intent.
func (s *Session) send(in protocol.Intent) error {
	data, err := in.Encode()
	if err != nil {
		return err
	}
	if err := s.tr.Send(data); err != nil {
		s.sink.RenderLogEntry("WebSocket 전송 실패", CategoryError, err.Error())
		return errors.Wrap(ErrTransportNotReady, err.Error())
	}
	s.recorder.FrameSent(in.Type)
	s.sink.RenderLogEntry("WebSocket 전송", CategoryWebSocket, string(data))
	return nil
}

func (s *Session) fail(op string, err error) error {
	code := ErrorCode(err)
	s.log.Warn("operation rejected",
		zap.String("op", op),
		zap.String("code", code),
		zap.Error(err),
	)
	category := CategoryError
	if errors.Is(err, ErrRateLimited) {
		category = CategoryWarning
	}
	s.sink.RenderLogEntry(op+" 실패", category, err.Error())
	s.recorder.OperationFailed(op, code)
	return err
}

func (s *Session) setStatus(to Status) {
	if s.status == to {
		return
	}
	from := s.status
	s.status = to
	s.recorder.StatusChanged(from, to)
}

func (s *Session) setRoomCount(n int) {
	s.roomCount = n
	s.recorder.RoomCountChanged(n)
	s.sink.RenderRoomCount(n)
}

func (s *Session) roomField() zap.Field {
	return zap.Int64("room_id", s.roomID)
}
