// Package tui is a full-screen terminal front end built on gocui.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jroimartin/gocui"
	"github.com/pkg/errors"

	"github.com/omochice/roomchat/internal/identity"
	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/internal/ui"
	"github.com/omochice/roomchat/pkg/protocol"
)

const (
	messagesView = "messages"
	logsView     = "logs"
	statusView   = "status"
	inputView    = "input"
)

// UI renders a session into four views: chat messages, the log stream, a
// status bar and the input line. It implements session.Sink.
type UI struct {
	gui *gocui.Gui
	ctx context.Context
	now func() time.Time

	mu      sync.Mutex
	d       *ui.Dispatcher
	state   session.Snapshot
	hint    string
	pending []func(*gocui.Gui)
}

var _ session.Sink = (*UI)(nil)

// New opens the terminal. Commands run with ctx.
func New(ctx context.Context) (*UI, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open terminal")
	}
	g.Cursor = true

	u := &UI{
		gui: g,
		ctx: ctx,
		now: time.Now,
	}
	g.SetManagerFunc(u.layout)
	return u, nil
}

type rect struct {
	x0, y0, x1, y1 int
}

// panes splits a maxX by maxY screen: messages and logs side by side on
// top, a status bar, then the input line.
func panes(maxX, maxY int) map[string]rect {
	split := maxX * 3 / 5
	top := maxY - 7
	return map[string]rect{
		messagesView: {0, 0, split - 1, top},
		logsView:     {split, 0, maxX - 1, top},
		statusView:   {0, top + 1, maxX - 1, top + 3},
		inputView:    {0, top + 4, maxX - 1, maxY - 1},
	}
}

func (u *UI) layout(g *gocui.Gui) error {
	p := panes(g.Size())

	r := p[messagesView]
	if v, err := g.SetView(messagesView, r.x0, r.y0, r.x1, r.y1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	r = p[logsView]
	if v, err := g.SetView(logsView, r.x0, r.y0, r.x1, r.y1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Log"
		v.Wrap = true
		v.Autoscroll = true
	}

	r = p[statusView]
	if v, err := g.SetView(statusView, r.x0, r.y0, r.x1, r.y1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		u.drawStatus(v)
	}

	r = p[inputView]
	if v, err := g.SetView(inputView, r.x0, r.y0, r.x1, r.y1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Input (/help for commands, Ctrl-C to quit)"
		v.Editable = true
		v.Editor = gocui.EditorFunc(u.edit)

		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}
	return nil
}

func (u *UI) keybindings() error {
	if err := u.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(*gocui.Gui, *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}

	return u.gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone, u.handleInput)
}

// edit is the default editor plus live feedback on what is being typed.
func (u *UI) edit(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	gocui.DefaultEditor.Edit(v, key, ch, mod)

	u.mu.Lock()
	name := ""
	if u.d != nil {
		name = u.d.Name()
	}
	u.hint = inputHint(strings.TrimRight(v.Buffer(), "\n"), name)
	u.mu.Unlock()

	if sv, err := u.gui.View(statusView); err == nil {
		u.drawStatus(sv)
	}
}

// inputHint validates the draft as the user types: a /connect name
// against the display name rules, a chat line against the length limit.
func inputHint(draft, defaultName string) string {
	draft = strings.TrimLeft(draft, " ")
	switch {
	case strings.HasPrefix(draft, "/connect"):
		name := strings.TrimSpace(strings.TrimPrefix(draft, "/connect"))
		if name == "" {
			name = defaultName
		}
		if reason := identity.Check(name); reason != identity.ReasonNone {
			return "⚠️ " + reason.Message()
		}
		return fmt.Sprintf("name %q ok", strings.TrimSpace(name))
	case strings.HasPrefix(draft, "/"):
		return ""
	default:
		return ui.BudgetLine(session.MessageBudget(strings.TrimSpace(draft)))
	}
}

func (u *UI) handleInput(_ *gocui.Gui, v *gocui.View) error {
	line := strings.TrimSpace(v.Buffer())
	v.Clear()
	v.SetCursor(0, 0)
	v.SetOrigin(0, 0)

	u.mu.Lock()
	u.hint = ""
	d := u.d
	u.mu.Unlock()

	if line == "" || d == nil {
		return nil
	}
	// Execute blocks on the client run loop; keep it off the gocui main loop.
	go u.execute(d, line)
	return nil
}

func (u *UI) execute(d *ui.Dispatcher, line string) {
	err := d.Execute(u.ctx, line)
	switch {
	case errors.Is(err, ui.ErrQuit):
		u.Quit()
	case err != nil:
		u.Println(ui.ErrorLine(err))
	}
}

// Run processes input with d until the user quits.
func (u *UI) Run(d *ui.Dispatcher) error {
	u.mu.Lock()
	u.d = d
	u.mu.Unlock()

	if err := u.keybindings(); err != nil {
		return err
	}
	if err := u.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

// Quit makes Run return.
func (u *UI) Quit() {
	u.gui.Update(func(*gocui.Gui) error {
		return gocui.ErrQuit
	})
}

// Close restores the terminal.
func (u *UI) Close() {
	u.gui.Close()
}

// Println appends a line to the message view.
func (u *UI) Println(line string) {
	u.appendLines(messagesView, line)
}

func (u *UI) appendLines(view string, lines ...string) {
	u.enqueue(func(g *gocui.Gui) {
		v, err := g.View(view)
		if err != nil {
			return
		}
		for _, line := range lines {
			fmt.Fprintln(v, line)
		}
	})
}

// enqueue schedules op on the main loop. gocui delivers Update callbacks in
// no particular order, so ops are queued here and drained in order.
func (u *UI) enqueue(op func(*gocui.Gui)) {
	u.mu.Lock()
	u.pending = append(u.pending, op)
	u.mu.Unlock()
	u.gui.Update(u.flush)
}

func (u *UI) flush(g *gocui.Gui) error {
	u.mu.Lock()
	ops := u.pending
	u.pending = nil
	u.mu.Unlock()

	for _, op := range ops {
		op(g)
	}
	return nil
}

func (u *UI) drawStatus(v *gocui.View) {
	u.mu.Lock()
	line := ui.StatusLine(u.state)
	if u.hint != "" {
		line += " | " + u.hint
	}
	u.mu.Unlock()

	v.Clear()
	fmt.Fprint(v, line)
}

func (u *UI) refreshStatus() {
	u.enqueue(func(g *gocui.Gui) {
		if v, err := g.View(statusView); err == nil {
			u.drawStatus(v)
		}
	})
}

// RenderChatEvent appends a join, leave or talk line to the message view.
func (u *UI) RenderChatEvent(kind protocol.MeetingType, username, text string, local bool, at time.Time) {
	u.Println(ui.ChatLine(kind, username, text, local, at))
}

// RenderNotice appends a system notice to the message view.
func (u *UI) RenderNotice(text string) {
	u.Println(ui.NoticeLine(text))
}

// RenderRoomCount shows the room population in the status bar.
func (u *UI) RenderRoomCount(count int) {
	u.mu.Lock()
	u.state.RoomCount = count
	u.mu.Unlock()
	u.refreshStatus()
}

// RenderLogEntry appends an entry to the log view.
func (u *UI) RenderLogEntry(message string, category session.Category, detail string) {
	u.mu.Lock()
	lines := ui.LogLines(u.now(), u.state, message, category, detail)
	u.mu.Unlock()
	u.appendLines(logsView, lines...)
}

// RenderState redraws the status bar from s.
func (u *UI) RenderState(s session.Snapshot) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
	u.refreshStatus()
}

// ClearChat empties the message view.
func (u *UI) ClearChat() {
	u.enqueue(func(g *gocui.Gui) {
		if v, err := g.View(messagesView); err == nil {
			v.Clear()
			v.SetOrigin(0, 0)
		}
	})
}
