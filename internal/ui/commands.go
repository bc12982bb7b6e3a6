// Package ui holds what the console and terminal front ends share: the
// slash-command dispatcher and the text layout of session output.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/omochice/roomchat/internal/flood"
	"github.com/omochice/roomchat/internal/session"
)

var (
	// ErrQuit is returned by Execute for /quit.
	ErrQuit = errors.New("quit")
	// ErrUnknownCommand is returned for a slash command nobody handles.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUsage is returned when a command gets the wrong arguments.
	ErrUsage = errors.New("invalid usage")
)

// HelpText lists the commands understood by Execute.
const HelpText = `Commands:
/connect [name]  - Connect to the server
/disconnect      - Close the connection
/join <room>     - Join a chat room by number
/leave           - Leave the current room
/status          - Show the session state
/help            - Show this help
/quit            - Exit
Anything else is sent to the current room.`

// Controller is the part of client.Client that commands drive.
type Controller interface {
	Connect(ctx context.Context, url, name string) error
	Disconnect(ctx context.Context) error
	Join(ctx context.Context, roomID int64) error
	Leave(ctx context.Context) error
	Send(ctx context.Context, text string) (flood.Decision, error)
	Snapshot() session.Snapshot
}

type commandFunc func(ctx context.Context, d *Dispatcher, args []string) error

var commands = map[string]commandFunc{
	"connect":    connectCommand,
	"disconnect": disconnectCommand,
	"join":       joinCommand,
	"leave":      leaveCommand,
	"status":     statusCommand,
	"help":       helpCommand,
	"quit":       quitCommand,
}

// Dispatcher turns input lines into client calls.
type Dispatcher struct {
	ctrl   Controller
	url    string
	notify func(string)

	mu   sync.Mutex
	name string
}

// NewDispatcher creates a Dispatcher that connects to url. name is used by a
// bare /connect; notify receives the lines commands print themselves.
func NewDispatcher(ctrl Controller, url, name string, notify func(string)) *Dispatcher {
	if notify == nil {
		notify = func(string) {}
	}
	return &Dispatcher{
		ctrl:   ctrl,
		url:    url,
		name:   name,
		notify: notify,
	}
}

// Name returns the display name a bare /connect would use.
func (d *Dispatcher) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// Execute runs one line of input. Lines starting with "/" are commands,
// anything else is a chat message.
func (d *Dispatcher) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return d.send(ctx, line)
	}

	parts := strings.Fields(line)
	name := strings.TrimPrefix(parts[0], "/")
	cmd, ok := commands[name]
	if !ok {
		return errors.Wrapf(ErrUnknownCommand, "/%s (type /help)", name)
	}
	return cmd(ctx, d, parts[1:])
}

func (d *Dispatcher) send(ctx context.Context, text string) error {
	decision, err := d.ctrl.Send(ctx, text)
	if err != nil {
		return err
	}
	if decision.Verdict == flood.Warn {
		d.notify(WarnLine(decision.Remaining))
	}
	return nil
}

func connectCommand(ctx context.Context, d *Dispatcher, args []string) error {
	name := d.Name()
	if len(args) > 0 {
		name = strings.Join(args, " ")
	}
	if err := d.ctrl.Connect(ctx, d.url, name); err != nil {
		return err
	}
	d.mu.Lock()
	d.name = name
	d.mu.Unlock()
	return nil
}

func disconnectCommand(ctx context.Context, d *Dispatcher, args []string) error {
	if len(args) != 0 {
		return errors.Wrap(ErrUsage, "/disconnect")
	}
	return d.ctrl.Disconnect(ctx)
}

func joinCommand(ctx context.Context, d *Dispatcher, args []string) error {
	if len(args) != 1 {
		return errors.Wrap(ErrUsage, "/join <room>")
	}
	roomID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.Wrapf(ErrUsage, "/join <room>: %q is not a room number", args[0])
	}
	return d.ctrl.Join(ctx, roomID)
}

func leaveCommand(ctx context.Context, d *Dispatcher, args []string) error {
	if len(args) != 0 {
		return errors.Wrap(ErrUsage, "/leave")
	}
	return d.ctrl.Leave(ctx)
}

func statusCommand(_ context.Context, d *Dispatcher, _ []string) error {
	d.notify(StatusLine(d.ctrl.Snapshot()))
	return nil
}

func helpCommand(_ context.Context, d *Dispatcher, _ []string) error {
	for _, line := range strings.Split(HelpText, "\n") {
		d.notify(line)
	}
	return nil
}

func quitCommand(context.Context, *Dispatcher, []string) error {
	return ErrQuit
}

// ErrorLine formats an error returned by Execute.
func ErrorLine(err error) string {
	return fmt.Sprintf("error: %v", err)
}
