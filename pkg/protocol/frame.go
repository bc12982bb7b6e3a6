package protocol

import (
	"bytes"
	"strings"

	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// RoomCountUpdateType is the "type" value of a room population frame.
const RoomCountUpdateType = "ROOM_COUNT_UPDATE"

// MaxRoomID is the largest room id that decodes exactly. Inbound numbers
// are read as float64, which holds integers up to 2^53-1.
const MaxRoomID int64 = 1<<53 - 1

// DefaultMarkers are the phrases the server puts in the text it sends before
// closing a connection that lost to a newer one from the same address.
var DefaultMarkers = []string{"다른 곳에서 접속하여", "중복 접속"}

// FrameKind identifies the variant of an inbound Frame.
type FrameKind int

const (
	KindRoomCountUpdate FrameKind = iota
	KindChatEvent
	KindPlainNotice
	KindForcedDisconnect
)

// String returns the string representation of FrameKind
func (k FrameKind) String() string {
	switch k {
	case KindRoomCountUpdate:
		return "room_count_update"
	case KindChatEvent:
		return "chat_event"
	case KindPlainNotice:
		return "plain_notice"
	case KindForcedDisconnect:
		return "forced_disconnect"
	default:
		return "unknown"
	}
}

// Frame is one classified inbound message. The set of implementations is
// closed: RoomCountUpdate, ChatEvent, PlainNotice and ForcedDisconnect.
type Frame interface {
	Kind() FrameKind
	frame()
}

// RoomCountUpdate reports how many members the current room has.
type RoomCountUpdate struct {
	Count      int
	ChatRoomID int64
}

// ChatEvent is a JOIN, LEAVE or TALK broadcast by the server.
type ChatEvent struct {
	Type       MeetingType
	Username   string
	Message    string
	ChatRoomID int64
	// ClientIP is set when the server tells the client its own address.
	ClientIP string
}

// PlainNotice is free server text such as the welcome line.
type PlainNotice struct {
	Text string
}

// ForcedDisconnect announces that the server is about to drop this connection.
type ForcedDisconnect struct {
	Text string
}

func (RoomCountUpdate) Kind() FrameKind  { return KindRoomCountUpdate }
func (ChatEvent) Kind() FrameKind        { return KindChatEvent }
func (PlainNotice) Kind() FrameKind      { return KindPlainNotice }
func (ForcedDisconnect) Kind() FrameKind { return KindForcedDisconnect }

func (RoomCountUpdate) frame()  {}
func (ChatEvent) frame()        {}
func (PlainNotice) frame()      {}
func (ForcedDisconnect) frame() {}

// Codec classifies inbound payloads.
type Codec struct {
	markers         []string
	sniffStructured bool
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithMarkers replaces the forced-disconnect marker phrases.
func WithMarkers(markers ...string) CodecOption {
	return func(c *Codec) {
		c.markers = markers
	}
}

// WithStructuredSniffing makes markers win over structured decoding, so a chat
// message quoting a marker phrase is also treated as a forced disconnect.
func WithStructuredSniffing(on bool) CodecOption {
	return func(c *Codec) {
		c.sniffStructured = on
	}
}

// NewCodec creates a Codec using DefaultMarkers.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{markers: DefaultMarkers}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCodec = NewCodec()

// Classify maps a payload with the default codec.
func Classify(payload []byte) Frame {
	return defaultCodec.Classify(payload)
}

// Classify maps every payload to exactly one Frame; it never fails.
func (c *Codec) Classify(payload []byte) Frame {
	text := string(payload)

	if c.sniffStructured && c.hasMarker(text) {
		return ForcedDisconnect{Text: text}
	}
	if f, ok := decodeStructured(payload); ok {
		return f
	}
	if c.hasMarker(text) {
		return ForcedDisconnect{Text: text}
	}
	return PlainNotice{Text: text}
}

func (c *Codec) hasMarker(text string) bool {
	for _, m := range c.markers {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// inboundWire is the union of every structured inbound field.
type inboundWire struct {
	Type        string `json:"type"`
	Count       int    `json:"count"`
	ChatRoomID  int64  `json:"chatRoomId"`
	MeetingType string `json:"meetingType"`
	Username    string `json:"username"`
	Message     string `json:"message"`
	ClientIP    string `json:"clientIp"`
}

func decodeStructured(payload []byte) (Frame, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	st := &structpb.Struct{}
	if err := protojson.Unmarshal(trimmed, st); err != nil {
		return nil, false
	}
	fields := st.AsMap()

	var w inboundWire
	if err := decodeFields(fields, &w); err != nil {
		return nil, false
	}

	if _, ok := fields["type"]; ok && w.Type == RoomCountUpdateType {
		return RoomCountUpdate{Count: w.Count, ChatRoomID: w.ChatRoomID}, true
	}

	mt, ok := ParseMeetingType(w.MeetingType)
	if !ok {
		return nil, false
	}
	if _, ok := fields["username"]; !ok {
		return nil, false
	}
	return ChatEvent{
		Type:       mt,
		Username:   w.Username,
		Message:    w.Message,
		ChatRoomID: w.ChatRoomID,
		ClientIP:   w.ClientIP,
	}, true
}

// decodeFields copies the generic map produced by structpb into out.
// Numbers arrive as float64 and are narrowed by mapstructure.
func decodeFields(fields map[string]any, out *inboundWire) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(fields)
}
