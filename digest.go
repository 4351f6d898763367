package main

import (
	"fmt"
	"strings"
	"sync"
)

// DigestNames carries every resolution a digest needs, keyed by the raw
// ids found on the tickets. A missing key renders as the raw id or is
// omitted; the formatter never fails on a resolution miss.
type DigestNames struct {
	Accounts       map[string]string // account id -> name
	Channels       map[string]string // channel id -> channel name
	AssigneeSlacks map[string]string // helpdesk assignee id -> slack user id
}

// ResolveDigestNames runs the three independent resolution passes a digest
// needs in parallel and joins them.
func ResolveDigestNames(r *Resolvers, tickets []Ticket) DigestNames {
	var accountIDs, channelIDs, assigneeIDs []string
	for _, t := range tickets {
		if t.AccountID != "" && t.AccountName == "" {
			accountIDs = append(accountIDs, t.AccountID)
		}
		if t.SourceChannelID != "" {
			channelIDs = append(channelIDs, t.SourceChannelID)
		}
		if t.AssigneeID != "" {
			assigneeIDs = append(assigneeIDs, t.AssigneeID)
		}
	}

	var names DigestNames
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		names.Accounts = r.AccountNames(accountIDs)
	}()
	go func() {
		defer wg.Done()
		names.Channels = r.ChannelNames(channelIDs)
	}()
	go func() {
		defer wg.Done()
		names.AssigneeSlacks = r.AssigneeSlackIDs(assigneeIDs)
	}()
	wg.Wait()
	return names
}

// FormatDigest renders a deterministic text digest. ok is false when there
// is nothing to report, which callers must distinguish from an empty
// string: they branch on it to decide whether to post at all.
func FormatDigest(tickets []Ticket, names DigestNames, grouped bool) (string, bool) {
	if len(tickets) == 0 {
		return "", false
	}

	if !grouped {
		var lines []string
		for _, t := range tickets {
			lines = append(lines, ticketLine(t, names))
		}
		return strings.Join(lines, "\n"), true
	}

	type section struct {
		label   string
		tickets []Ticket
	}
	sections := []section{
		{label: "New", tickets: FilterNew(tickets)},
		{label: "Waiting on us", tickets: FilterWaitingOnResponder(tickets)},
	}
	var other []Ticket
	for _, t := range tickets {
		if t.State != StateNew && t.State != StateWaitingOnYou && isOpenState(t.State) {
			other = append(other, t)
		}
	}
	sections = append(sections, section{label: "Other open", tickets: other})

	var parts []string
	for _, sec := range sections {
		if len(sec.tickets) == 0 {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "*%s (%d)*", sec.label, len(sec.tickets))
		for _, t := range sec.tickets {
			b.WriteString("\n")
			b.WriteString(ticketLine(t, names))
		}
		parts = append(parts, b.String())
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n\n"), true
}

// ticketLine renders one digest line. The customer slot prefers the
// resolved account name, then #channel, then the requester email domain,
// and is omitted when none is available.
func ticketLine(t Ticket, names DigestNames) string {
	var b strings.Builder
	b.WriteString("• ")

	customer := customerSlot(t, names)
	if customer != "" {
		b.WriteString(customer)
		if t.Title != "" {
			b.WriteString(": ")
		}
	}
	if t.Title != "" {
		b.WriteString(t.Title)
	}

	var links []string
	if link := threadDeepLink(t.SourceChannelID, t.SourceMessageTS); link != "" {
		links = append(links, fmt.Sprintf("<%s|thread>", link))
	}
	if t.Link != "" {
		links = append(links, fmt.Sprintf("<%s|ticket>", t.Link))
	}
	if len(links) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(links, " · "))
	}

	if t.AssigneeID != "" {
		if slackID, ok := names.AssigneeSlacks[t.AssigneeID]; ok {
			fmt.Fprintf(&b, " <@%s>", slackID)
		}
	}
	return b.String()
}

func customerSlot(t Ticket, names DigestNames) string {
	if t.AccountName != "" {
		return t.AccountName
	}
	if name, ok := names.Accounts[t.AccountID]; ok && t.AccountID != "" {
		return name
	}
	if t.SourceChannelID != "" {
		if name, ok := names.Channels[t.SourceChannelID]; ok {
			return "#" + name
		}
	}
	if t.RequesterEmail != "" {
		if at := strings.LastIndex(t.RequesterEmail, "@"); at >= 0 && at < len(t.RequesterEmail)-1 {
			return t.RequesterEmail[at+1:]
		}
	}
	return ""
}

// threadDeepLink builds a Slack archive link from a channel id and message
// timestamp: the ts separator dot is stripped and the value prefixed with
// "p".
func threadDeepLink(channelID, messageTS string) string {
	if channelID == "" || messageTS == "" {
		return ""
	}
	return fmt.Sprintf("https://slack.com/archives/%s/p%s",
		channelID, strings.ReplaceAll(messageTS, ".", ""))
}

// FormatResponderPrefix renders the on-call mention line prepended to a
// tagged digest. Empty when there is nobody to mention.
func FormatResponderPrefix(responders []Responder) string {
	if len(responders) == 0 {
		return ""
	}
	mentions := make([]string, 0, len(responders))
	for _, r := range responders {
		mentions = append(mentions, r.Mention)
	}
	return "On call: " + strings.Join(mentions, " ")
}
