package session

import (
	"unicode/utf8"

	"github.com/omochice/roomchat/pkg/protocol"
)

// BudgetLevel grades how close a draft is to the length limit.
type BudgetLevel int

const (
	BudgetOK BudgetLevel = iota
	// BudgetWarning starts at 80% of the limit.
	BudgetWarning
	// BudgetDanger starts at the limit.
	BudgetDanger
)

func (l BudgetLevel) String() string {
	switch l {
	case BudgetWarning:
		return "warning"
	case BudgetDanger:
		return "danger"
	default:
		return "ok"
	}
}

// Budget is the length feedback for a message draft.
type Budget struct {
	Used      int
	Max       int
	Remaining int
	Level     BudgetLevel
}

// MessageBudget measures a draft while it is typed. Remaining goes negative
// once the draft is over the limit.
func MessageBudget(text string) Budget {
	used := utf8.RuneCountInString(text)
	b := Budget{
		Used:      used,
		Max:       protocol.MaxMessageLength,
		Remaining: protocol.MaxMessageLength - used,
	}
	switch {
	case used >= protocol.MaxMessageLength:
		b.Level = BudgetDanger
	case used*5 >= protocol.MaxMessageLength*4:
		b.Level = BudgetWarning
	}
	return b
}
