// Package protocol encodes outbound chat intents and classifies inbound frames.
package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// MeetingType represents the type of a chat message
type MeetingType int

const (
	MeetingTypeJoin MeetingType = iota
	MeetingTypeLeave
	MeetingTypeTalk
)

// Fixed message texts carried by JOIN and LEAVE frames.
const (
	JoinText  = "입장했습니다"
	LeaveText = "퇴장했습니다"
)

// MaxMessageLength is the longest TALK text accepted, in characters.
const MaxMessageLength = 200

// String returns the wire representation of MeetingType
func (mt MeetingType) String() string {
	switch mt {
	case MeetingTypeJoin:
		return "JOIN"
	case MeetingTypeLeave:
		return "LEAVE"
	case MeetingTypeTalk:
		return "TALK"
	default:
		return "UNKNOWN"
	}
}

// ParseMeetingType converts a wire value into a MeetingType.
func ParseMeetingType(s string) (MeetingType, bool) {
	switch s {
	case "JOIN":
		return MeetingTypeJoin, true
	case "LEAVE":
		return MeetingTypeLeave, true
	case "TALK":
		return MeetingTypeTalk, true
	default:
		return 0, false
	}
}

// Intent is a locally originated action waiting to be sent.
type Intent struct {
	Type       MeetingType
	ChatRoomID int64
	Username   string
	Message    string
}

// Join builds the intent for entering a room.
func Join(roomID int64, username string) Intent {
	return Intent{Type: MeetingTypeJoin, ChatRoomID: roomID, Username: username, Message: JoinText}
}

// Leave builds the intent for leaving a room.
func Leave(roomID int64, username string) Intent {
	return Intent{Type: MeetingTypeLeave, ChatRoomID: roomID, Username: username, Message: LeaveText}
}

// Talk builds the intent for a chat message.
func Talk(roomID int64, username, text string) Intent {
	return Intent{Type: MeetingTypeTalk, ChatRoomID: roomID, Username: username, Message: text}
}

// outboundFrame is the JSON shape the server expects.
type outboundFrame struct {
	MeetingType string `json:"meetingType"`
	ChatRoomID  int64  `json:"chatRoomId"`
	Username    string `json:"username"`
	Message     string `json:"message"`
}

// Encode serializes the intent into a JSON text frame
func (in Intent) Encode() ([]byte, error) {
	if in.Type.String() == "UNKNOWN" {
		return nil, errors.Errorf("failed to encode message: unknown meeting type %d", int(in.Type))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(outboundFrame{
		MeetingType: in.Type.String(),
		ChatRoomID:  in.ChatRoomID,
		Username:    in.Username,
		Message:     in.Message,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
