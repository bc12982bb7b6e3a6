package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/pkg/protocol"
)

const (
	// TimeLayout is used for every timestamp shown to the user.
	TimeLayout = "15:04:05"
	// AnonymousName stands in for a display name that is not set yet.
	AnonymousName = "익명"
)

// ChatLine formats a chat event for the message pane.
func ChatLine(kind protocol.MeetingType, username, text string, local bool, at time.Time) string {
	switch kind {
	case protocol.MeetingTypeJoin, protocol.MeetingTypeLeave:
		return fmt.Sprintf("*** %s님이 %s ***", username, text)
	default:
		if local {
			return fmt.Sprintf("%s [%s] (me): %s", at.Format(TimeLayout), username, text)
		}
		return fmt.Sprintf("%s [%s]: %s", at.Format(TimeLayout), username, text)
	}
}

// NoticeLine formats a server or session notice.
func NoticeLine(text string) string {
	return fmt.Sprintf("*** %s ***", text)
}

// RoomCountLine formats a room member count.
func RoomCountLine(count int) string {
	return fmt.Sprintf("*** 현재 인원: %d명 ***", count)
}

// WarnLine tells the user how many more consecutive sends are admitted.
func WarnLine(remaining int) string {
	return fmt.Sprintf("warning: %d more consecutive messages before sending is blocked", remaining)
}

// LogLines formats a log entry as "[time] [ip] [CATEGORY] [user] message",
// followed by an indented detail line when detail is set. The user is
// omitted for traffic not attributable to the local user.
func LogLines(at time.Time, s session.Snapshot, message string, category session.Category, detail string) []string {
	ip := s.PeerIP
	if ip == "" {
		ip = session.UnknownPeerIP
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] [%s]", at.Format(TimeLayout), ip, category)
	if category.ShowsUser() {
		name := s.DisplayName
		if name == "" {
			name = AnonymousName
		}
		fmt.Fprintf(&b, " [%s]", name)
	}
	b.WriteString(" ")
	b.WriteString(message)

	lines := []string{b.String()}
	if detail != "" {
		lines = append(lines, "    └─ "+detail)
	}
	return lines
}

// StatusLine summarizes a snapshot in one line.
func StatusLine(s session.Snapshot) string {
	room := "none"
	if s.InRoom {
		room = fmt.Sprintf("%d (%d명)", s.RoomID, s.RoomCount)
	}
	name := s.DisplayName
	if name == "" {
		name = AnonymousName
	}
	ip := s.PeerIP
	if ip == "" {
		ip = session.UnknownPeerIP
	}
	return fmt.Sprintf("status: %s | name: %s | room: %s | ip: %s | streak: %d",
		s.Status, name, room, ip, s.Flood.Count)
}

// BudgetLine formats the live length feedback for a message being typed.
func BudgetLine(b session.Budget) string {
	line := fmt.Sprintf("%d/%d", b.Used, b.Max)
	switch b.Level {
	case session.BudgetWarning:
		line += fmt.Sprintf(" (%d left)", b.Remaining)
	case session.BudgetDanger:
		line += " (limit reached)"
	}
	return line
}
