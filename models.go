package main

import (
	"strings"
	"time"
)

// Ticket states as reported by the helpdesk API.
const (
	StateNew               = "new"
	StateWaitingOnYou      = "waiting_on_you"
	StateWaitingOnCustomer = "waiting_on_customer"
	StateOnHold            = "on_hold"
	StateClosed            = "closed"
)

type Ticket struct {
	ID              string
	Number          int
	Title           string
	State           string
	CreatedAt       time.Time
	FirstResponseAt time.Time // zero when the ticket has no first response yet
	Link            string    // external helpdesk permalink, may be empty
	AccountID       string
	AccountName     string // present on some payloads, resolved lazily otherwise
	AssigneeID      string
	AssigneeEmail   string
	RequesterEmail  string
	SourceChannelID string // Slack channel the ticket originated from, may be empty
	SourceMessageTS string // Slack message timestamp of the origin thread
	Body            string
	AttachmentURLs  []string
}

// OnCallAssignment binds a responder to a team schedule for a time span.
// It is current only when [Start, End) covers now.
type OnCallAssignment struct {
	Team        string
	SlackUserID string
	Start       time.Time
	End         time.Time
}

func (a OnCallAssignment) CurrentAt(now time.Time) bool {
	return !now.Before(a.Start) && now.Before(a.End)
}

// FetchWindow returns [startOfToday-(days-1)d, startOfToday+1d) in now's location.
// A days value below 1 is treated as 1 (today only).
func FetchWindow(now time.Time, days int) (time.Time, time.Time) {
	if days < 1 {
		days = 1
	}
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return startOfToday.AddDate(0, 0, -(days - 1)), startOfToday.AddDate(0, 0, 1)
}

// FilterNew keeps tickets in the new state, preserving order.
func FilterNew(tickets []Ticket) []Ticket {
	var out []Ticket
	for _, t := range tickets {
		if t.State == StateNew {
			out = append(out, t)
		}
	}
	return out
}

// FilterWaitingOnResponder keeps tickets waiting on the support side.
func FilterWaitingOnResponder(tickets []Ticket) []Ticket {
	var out []Ticket
	for _, t := range tickets {
		if t.State == StateWaitingOnYou {
			out = append(out, t)
		}
	}
	return out
}

// FilterUnresponded keeps new tickets that have never received a first
// response. A "new" ticket with a first-response timestamp is a
// responder-initiated thread awaiting the customer, not an unanswered
// inbound, so it is excluded.
func FilterUnresponded(tickets []Ticket) []Ticket {
	var out []Ticket
	for _, t := range tickets {
		if t.State == StateNew && t.FirstResponseAt.IsZero() {
			out = append(out, t)
		}
	}
	return out
}

// FilterAssignedTo keeps open tickets whose assignee email matches the
// target, case-insensitively. AssigneeEmail must already be resolved;
// tickets with an unresolved assignee never match.
func FilterAssignedTo(tickets []Ticket, email string) []Ticket {
	var out []Ticket
	for _, t := range tickets {
		if t.State != StateNew && t.State != StateWaitingOnYou {
			continue
		}
		if t.AssigneeEmail == "" || !strings.EqualFold(t.AssigneeEmail, email) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isOpenState(state string) bool {
	switch state {
	case StateNew, StateWaitingOnYou, StateWaitingOnCustomer, StateOnHold:
		return true
	}
	return false
}
