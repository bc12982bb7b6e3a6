package session

import (
	"net/url"

	"github.com/pkg/errors"

	"github.com/omochice/roomchat/internal/identity"
)

var (
	// ErrValidation matches every display name rejected by the identity rules.
	// errors.As with *identity.ValidationError recovers the reason.
	ErrValidation = identity.ErrInvalidName

	ErrInvalidURL        = errors.New("server url must be ws:// or wss://")
	ErrAlreadyConnecting = errors.New("already connecting")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrNotConnected      = errors.New("not connected")
	ErrTransportNotReady = errors.New("websocket is not connected")

	ErrInvalidRoom   = errors.New("room id must be a positive integer no larger than 2^53-1")
	ErrRoomConflict  = errors.New("already in another room, leave it first")
	ErrAlreadyInRoom = errors.New("already in this room")
	ErrNotInRoom     = errors.New("not in a room")

	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrRateLimited    = errors.New("too many consecutive messages")

	ErrForcedDisconnect = errors.New("disconnected: same origin connected elsewhere")
	ErrConnectTimeout   = errors.New("connect timed out")
	ErrConnectFailed    = errors.New("connect failed")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrValidation, "validation"},
	{ErrInvalidURL, "invalid_url"},
	{ErrAlreadyConnecting, "already_connecting"},
	{ErrAlreadyConnected, "already_connected"},
	{ErrNotConnected, "not_connected"},
	{ErrTransportNotReady, "transport_not_ready"},
	{ErrInvalidRoom, "invalid_room"},
	{ErrRoomConflict, "room_conflict"},
	{ErrAlreadyInRoom, "already_in_room"},
	{ErrNotInRoom, "not_in_room"},
	{ErrEmptyMessage, "empty_message"},
	{ErrMessageTooLong, "message_too_long"},
	{ErrRateLimited, "rate_limited"},
	{ErrForcedDisconnect, "forced_disconnect"},
	{ErrConnectTimeout, "connect_timeout"},
	{ErrConnectFailed, "connect_failed"},
}

// ErrorCode returns a short stable name for err, suitable as a metric label.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "transport"
}

// ValidateURL accepts absolute ws:// and wss:// URLs.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(ErrInvalidURL, "%q: %v", raw, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.Wrapf(ErrInvalidURL, "%q", raw)
	}
	return nil
}

// DisconnectReason tells why a connection ended.
type DisconnectReason int

const (
	// ReasonUser means the user asked to disconnect.
	ReasonUser DisconnectReason = iota
	// ReasonRemote means the server or the network ended the connection.
	ReasonRemote
	// ReasonForced means the server dropped this client because the same
	// origin connected again. Retrying with the same identity will not help.
	ReasonForced
	// ReasonConnectTimeout means the server did not answer in time.
	ReasonConnectTimeout
	// ReasonConnectFailed means the connection was never established.
	ReasonConnectFailed
)

// String returns the string representation of DisconnectReason
func (r DisconnectReason) String() string {
	switch r {
	case ReasonUser:
		return "user"
	case ReasonRemote:
		return "remote"
	case ReasonForced:
		return "forced"
	case ReasonConnectTimeout:
		return "connect_timeout"
	case ReasonConnectFailed:
		return "connect_failed"
	default:
		return "unknown"
	}
}

// DisconnectInfo describes the end of the last connection.
type DisconnectInfo struct {
	Reason DisconnectReason
	Code   int
	Text   string
	Err    error
}
