package session

import (
	"time"

	"github.com/omochice/roomchat/internal/flood"
	"github.com/omochice/roomchat/pkg/protocol"
)

// Status is the connection status of a Session.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Category classifies a log entry shown to the user.
type Category int

const (
	CategoryInfo Category = iota
	CategoryConnect
	CategoryDisconnect
	CategoryJoin
	CategoryLeave
	CategorySend
	CategoryReceive
	CategoryChat
	CategoryWarning
	CategoryError
	CategoryWebSocket
	CategoryRoomUpdate
	CategorySystem
)

var categoryNames = [...]string{
	CategoryInfo:       "INFO",
	CategoryConnect:    "CONNECT",
	CategoryDisconnect: "DISCONNECT",
	CategoryJoin:       "JOIN",
	CategoryLeave:      "LEAVE",
	CategorySend:       "SEND",
	CategoryReceive:    "RECEIVE",
	CategoryChat:       "CHAT",
	CategoryWarning:    "WARNING",
	CategoryError:      "ERROR",
	CategoryWebSocket:  "WEBSOCKET",
	CategoryRoomUpdate: "ROOM_UPDATE",
	CategorySystem:     "SYSTEM",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "INFO"
	}
	return categoryNames[c]
}

// ShowsUser reports whether entries of this category are attributed to the
// local user. Server and system traffic is not.
func (c Category) ShowsUser() bool {
	switch c {
	case CategorySystem, CategoryReceive, CategoryWebSocket:
		return false
	default:
		return true
	}
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	ClientID    string
	Status      Status
	DisplayName string
	// RoomID is zero when InRoom is false.
	RoomID    int64
	InRoom    bool
	RoomCount int
	// PeerIP is the client address reported by the server.
	PeerIP string
	Flood  flood.State
}

// HistoryEntry is one chat event received in the current room.
type HistoryEntry struct {
	Type     protocol.MeetingType
	Username string
	Text     string
	Local    bool
	At       time.Time
}

// Sink renders what the session decided. Implementations must not call back
// into the session.
type Sink interface {
	RenderChatEvent(kind protocol.MeetingType, username, text string, local bool, at time.Time)
	RenderNotice(text string)
	RenderRoomCount(count int)
	RenderLogEntry(message string, category Category, detail string)
	RenderState(s Snapshot)
	ClearChat()
}

// Nop is a Sink that renders nothing.
type Nop struct{}

func (Nop) RenderChatEvent(protocol.MeetingType, string, string, bool, time.Time) {}
func (Nop) RenderNotice(string)                                                   {}
func (Nop) RenderRoomCount(int)                                                   {}
func (Nop) RenderLogEntry(string, Category, string)                               {}
func (Nop) RenderState(Snapshot)                                                  {}
func (Nop) ClearChat()                                                            {}

// Recorder observes session activity for metrics.
type Recorder interface {
	StatusChanged(from, to Status)
	FrameSent(kind protocol.MeetingType)
	FrameReceived(kind protocol.FrameKind)
	Admitted(v flood.Verdict)
	Disconnected(reason DisconnectReason)
	RoomCountChanged(count int)
	OperationFailed(op, code string)
}

type nopRecorder struct{}

func (nopRecorder) StatusChanged(Status, Status)     {}
func (nopRecorder) FrameSent(protocol.MeetingType)   {}
func (nopRecorder) FrameReceived(protocol.FrameKind) {}
func (nopRecorder) Admitted(flood.Verdict)           {}
func (nopRecorder) Disconnected(DisconnectReason)    {}
func (nopRecorder) RoomCountChanged(int)             {}
func (nopRecorder) OperationFailed(string, string)   {}
