// Package console renders a chat session as plain lines on a writer and
// reads commands from a reader.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/internal/ui"
	"github.com/omochice/roomchat/pkg/protocol"
)

// Sink writes session output as lines. It is safe for concurrent use.
type Sink struct {
	mu       sync.Mutex
	out      io.Writer
	now      func() time.Time
	showLog  bool
	state    session.Snapshot
	hasState bool
}

var _ session.Sink = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithLogEntries also prints the session log stream.
func WithLogEntries(on bool) Option {
	return func(s *Sink) {
		s.showLog = on
	}
}

// WithClock sets the time source for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		s.now = now
	}
}

// New creates a Sink writing to out.
func New(out io.Writer, opts ...Option) *Sink {
	s := &Sink{
		out: out,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Println writes one line.
func (s *Sink) Println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

// RenderChatEvent prints a join, leave or talk line.
func (s *Sink) RenderChatEvent(kind protocol.MeetingType, username, text string, local bool, at time.Time) {
	s.Println(ui.ChatLine(kind, username, text, local, at))
}

// RenderNotice prints a system notice.
func (s *Sink) RenderNotice(text string) {
	s.Println(ui.NoticeLine(text))
}

// RenderRoomCount prints the room population.
func (s *Sink) RenderRoomCount(count int) {
	s.Println(ui.RoomCountLine(count))
}

// RenderLogEntry prints a log entry when log entries are enabled.
func (s *Sink) RenderLogEntry(message string, category session.Category, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.showLog {
		return
	}
	for _, line := range ui.LogLines(s.now(), s.state, message, category, detail) {
		fmt.Fprintln(s.out, line)
	}
}

// RenderState remembers the snapshot for log prefixes and prints a status
// line when the connection status changes.
func (s *Sink) RenderState(snap session.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !s.hasState || snap.Status != s.state.Status
	s.state = snap
	s.hasState = true
	if changed {
		fmt.Fprintln(s.out, ui.StatusLine(snap))
	}
}

// ClearChat prints a separator, since written lines cannot be taken back.
func (s *Sink) ClearChat() {
	s.Println("----------------------------------------")
}

// Run feeds lines from in to d until EOF, /quit or ctx is done. Command
// errors are printed and do not stop the loop.
func Run(ctx context.Context, in io.Reader, d *ui.Dispatcher, s *Sink) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	s.Println("Type your messages (or /help for commands):")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return errors.Wrap(err, "failed to read input")
					}
				default:
				}
				return nil
			}
			err := d.Execute(ctx, line)
			if errors.Is(err, ui.ErrQuit) {
				return nil
			}
			if err != nil {
				s.Println(ui.ErrorLine(err))
			}
		}
	}
}
