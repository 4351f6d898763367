package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
)

const triageInstructions = "New support ticket needs triage. " +
	"Please identify the owning team, draft a first response, and note any related known issues."

const triageRoutingInstructions = "Routing notes: reply in this thread with the owning team and a draft response. " +
	"If the ticket is misrouted or spam, say so and it will be closed out. " +
	"Keep the draft short and link any relevant runbook."

// DispatchTriage runs the full post-acknowledgment triage flow for one
// webhook payload. Every failure past payload parsing is logged and
// swallowed: the webhook caller was already acked and has no visibility
// into this flow.
func DispatchTriage(cfg Config, db *sql.DB, api *slack.Client, rawPayload []byte) {
	dispatchID := uuid.NewString()

	ticket, err := NormalizeTriagePayload(rawPayload)
	if err != nil {
		log.Printf("triage dispatch=%s payload parse error: %v", dispatchID, err)
		return
	}
	if ticket.ID == "" {
		log.Printf("triage dispatch=%s payload has no ticket id, dropping", dispatchID)
		return
	}

	if db != nil {
		exists, err := DispatchExists(db, ticket.ID)
		if err != nil {
			log.Printf("triage dispatch=%s dedup check error (continuing): %v", dispatchID, err)
		} else if exists {
			log.Printf("triage dispatch=%s ticket=%s already dispatched, skipping", dispatchID, ticket.ID)
			return
		}
	}

	// Hydrate missing fields from the helpdesk; webhook data wins on conflict.
	if fetched, err := FetchTicket(cfg, ticket.ID); err != nil {
		log.Printf("triage dispatch=%s hydration error (continuing with webhook fields): %v", dispatchID, err)
	} else {
		ticket = MergeHydrated(ticket, fetched)
	}

	summary := ""
	if cfg.LLMConfigured() {
		summary = SummarizeTicket(cfg, ticket)
	}

	message := BuildTriageMessage(cfg, ticket, summary)
	_, ts, err := api.PostMessage(cfg.TriageChannelID, slack.MsgOptionText(message, false))
	if err != nil {
		log.Printf("triage dispatch=%s post error: %v", dispatchID, err)
		return
	}
	log.Printf("triage dispatch=%s ticket=%s posted channel=%s ts=%s", dispatchID, ticket.ID, cfg.TriageChannelID, ts)

	// Routing notes go in the thread so the top-level message stays clean.
	postThreadBestEffort(api, cfg.TriageChannelID, ts, triageRoutingInstructions)

	if ticket.SourceChannelID != "" && ticket.SourceMessageTS != "" {
		link := triagePermalink(api, cfg.TriageChannelID, ts)
		postThreadBestEffort(api, ticket.SourceChannelID, ticket.SourceMessageTS,
			fmt.Sprintf("This ticket was sent to triage: %s", link))
		// Status emoji on the origin message: the intake tooling leaves an
		// hourglass, triage swaps it for eyes.
		removeReactionBestEffort(api, ticket.SourceChannelID, ticket.SourceMessageTS, "hourglass_flowing_sand")
		addReactionBestEffort(api, ticket.SourceChannelID, ticket.SourceMessageTS, "eyes")
	}

	if db != nil {
		if err := RecordDispatch(db, TriageDispatch{
			TicketID:   ticket.ID,
			DispatchID: dispatchID,
			ChannelID:  cfg.TriageChannelID,
			MessageTS:  ts,
		}); err != nil {
			log.Printf("triage dispatch=%s record error: %v", dispatchID, err)
		}
	}
}

// NormalizeTriagePayload unpacks a webhook body whose ticket fields may sit
// at the top level or nested under a "data" or "issue" key. Precedence is
// data, then issue, then top level; the first key present wins outright,
// with no field merging across envelopes. Fields carrying unresolved
// template syntax are stripped.
func NormalizeTriagePayload(raw []byte) (Ticket, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Ticket{}, fmt.Errorf("parsing webhook body: %w", err)
	}

	payload := raw
	if inner, ok := envelope["data"]; ok {
		payload = inner
	} else if inner, ok := envelope["issue"]; ok {
		payload = inner
	}

	var issue helpdeskIssue
	if err := json.Unmarshal(payload, &issue); err != nil {
		return Ticket{}, fmt.Errorf("parsing ticket payload: %w", err)
	}

	ticket := convertIssue(issue)
	stripUnresolvedTemplates(&ticket)
	return ticket, nil
}

// stripUnresolvedTemplates clears any string field whose value still
// contains template-substitution syntax. Upstream template rendering
// sometimes fails and would otherwise leak literal "{{issue.title}}" text
// into the triage prompt.
func stripUnresolvedTemplates(t *Ticket) {
	fields := []*string{
		&t.Title, &t.State, &t.Link, &t.AccountID, &t.AccountName,
		&t.AssigneeID, &t.AssigneeEmail, &t.RequesterEmail,
		&t.SourceChannelID, &t.SourceMessageTS, &t.Body,
	}
	for _, f := range fields {
		if hasUnresolvedTemplate(*f) {
			*f = ""
		}
	}
	var attachments []string
	for _, u := range t.AttachmentURLs {
		if !hasUnresolvedTemplate(u) {
			attachments = append(attachments, u)
		}
	}
	t.AttachmentURLs = attachments
}

func hasUnresolvedTemplate(s string) bool {
	open := strings.Index(s, "{{")
	return open >= 0 && strings.Contains(s[open:], "}}")
}

// MergeHydrated fills empty webhook fields from a freshly fetched ticket.
// Webhook-supplied values always win on conflict.
func MergeHydrated(webhook, fetched Ticket) Ticket {
	out := webhook
	if out.Number == 0 {
		out.Number = fetched.Number
	}
	if out.Title == "" {
		out.Title = fetched.Title
	}
	if out.State == "" {
		out.State = fetched.State
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = fetched.CreatedAt
	}
	if out.FirstResponseAt.IsZero() {
		out.FirstResponseAt = fetched.FirstResponseAt
	}
	if out.Link == "" {
		out.Link = fetched.Link
	}
	if out.AccountID == "" {
		out.AccountID = fetched.AccountID
	}
	if out.AccountName == "" {
		out.AccountName = fetched.AccountName
	}
	if out.AssigneeID == "" {
		out.AssigneeID = fetched.AssigneeID
	}
	if out.AssigneeEmail == "" {
		out.AssigneeEmail = fetched.AssigneeEmail
	}
	if out.RequesterEmail == "" {
		out.RequesterEmail = fetched.RequesterEmail
	}
	if out.SourceChannelID == "" {
		out.SourceChannelID = fetched.SourceChannelID
	}
	if out.SourceMessageTS == "" {
		out.SourceMessageTS = fetched.SourceMessageTS
	}
	if out.Body == "" {
		out.Body = fetched.Body
	}
	if len(out.AttachmentURLs) == 0 {
		out.AttachmentURLs = fetched.AttachmentURLs
	}
	return out
}

// BuildTriageMessage composes the fixed instruction template plus the
// structured ticket context into one message for the triage channel.
func BuildTriageMessage(cfg Config, t Ticket, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<@%s> %s\n", cfg.TriageAgentID, triageInstructions)

	if t.Title != "" {
		fmt.Fprintf(&b, "\n*Title:* %s", t.Title)
	}
	if t.AccountName != "" {
		fmt.Fprintf(&b, "\n*Account:* %s", t.AccountName)
	}
	if t.RequesterEmail != "" {
		fmt.Fprintf(&b, "\n*Requester:* %s", t.RequesterEmail)
	}
	if t.State != "" {
		fmt.Fprintf(&b, "\n*State:* %s", t.State)
	}
	if t.Link != "" {
		fmt.Fprintf(&b, "\n*Ticket:* %s", t.Link)
	}
	if link := threadDeepLink(t.SourceChannelID, t.SourceMessageTS); link != "" {
		fmt.Fprintf(&b, "\n*Thread:* %s", link)
	}
	if summary != "" {
		fmt.Fprintf(&b, "\n*Summary:* %s", summary)
	}
	if t.Body != "" {
		fmt.Fprintf(&b, "\n\n*Body:*\n%s", t.Body)
	}
	if len(t.AttachmentURLs) > 0 {
		b.WriteString("\n\n*Attachments:*")
		for _, u := range t.AttachmentURLs {
			fmt.Fprintf(&b, "\n• %s", u)
		}
	}
	return b.String()
}

// triagePermalink asks Slack for the canonical permalink, falling back to
// the constructed archive link when the lookup fails.
func triagePermalink(api *slack.Client, channelID, ts string) string {
	link, err := api.GetPermalink(&slack.PermalinkParameters{Channel: channelID, Ts: ts})
	if err != nil || link == "" {
		log.Printf("triage permalink lookup error channel=%s ts=%s: %v", channelID, ts, err)
		return threadDeepLink(channelID, ts)
	}
	return link
}
