package main

import (
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// Bot bundles the long-lived dependencies every command handler needs.
type Bot struct {
	cfg       Config
	db        *sql.DB
	api       *slack.Client
	resolvers *Resolvers
	oncall    responderResolver
}

func NewBot(cfg Config, db *sql.DB, api *slack.Client, resolvers *Resolvers, oncall responderResolver) *Bot {
	return &Bot{cfg: cfg, db: db, api: api, resolvers: resolvers, oncall: oncall}
}

func (b *Bot) Start() error {
	client := socketmode.New(b.api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Printf("Slash command received: %s %q from user=%s channel=%s", cmd.Command, cmd.Text, cmd.UserID, cmd.ChannelID)
				go b.handleSlashCommand(cmd)
			}
		}
	}()

	log.Println("Slack bot connected via Socket Mode")
	return client.Run()
}

func (b *Bot) handleSlashCommand(cmd slack.SlashCommand) {
	if cmd.Command != b.cfg.CommandName {
		return
	}

	fields := strings.Fields(cmd.Text)
	sub := ""
	if len(fields) > 0 {
		sub = strings.ToLower(fields[0])
	}

	switch sub {
	case "status":
		b.handleStatus(cmd)
	case "check":
		b.handleCheck(cmd, fields[1:])
	default:
		postEphemeral(b.api, cmd, b.helpText())
	}
}

func (b *Bot) helpText() string {
	name := b.cfg.CommandName
	return fmt.Sprintf("Usage:\n"+
		"• `%s status` — today's ticket counts\n"+
		"• `%s check [days] [new|open] [post] [tag] [mine]` — ticket digest over the last N days\n"+
		"    `new` new tickets only, `open` open tickets only, `post` post to channel instead of replying privately,\n"+
		"    `tag` mention the on-call responders, `mine` only tickets assigned to you",
		name, name)
}

func (b *Bot) handleStatus(cmd slack.SlashCommand) {
	tickets, err := FetchTickets(b.cfg, 1)
	if err != nil {
		postEphemeral(b.api, cmd, "Error fetching tickets from the helpdesk.")
		log.Printf("status fetch error user=%s: %v", cmd.UserID, err)
		return
	}

	msg := fmt.Sprintf("Today: %d new, %d waiting on us, %d unresponded.",
		len(FilterNew(tickets)),
		len(FilterWaitingOnResponder(tickets)),
		len(FilterUnresponded(tickets)))

	if b.db != nil {
		if last, err := LastDigestPost(b.db); err != nil {
			log.Printf("status last-digest lookup error (non-fatal): %v", err)
		} else if last != nil {
			msg += fmt.Sprintf("\nLast digest: %s (%s, %d tickets)",
				last.PostedAt.Format("Mon Jan 2 15:04"), last.Trigger, last.TicketCount)
		}
	}
	postEphemeral(b.api, cmd, msg)
}

type checkFlags struct {
	Days    int
	NewOnly bool
	Open    bool
	Post    bool
	Tag     bool
	Mine    bool
	Unknown []string
}

// parseCheckArgs reads an optional numeric day-count token plus boolean
// flags in any order.
func parseCheckArgs(args []string) checkFlags {
	flags := checkFlags{Days: 1}
	for _, arg := range args {
		arg = strings.ToLower(strings.TrimSpace(arg))
		if arg == "" {
			continue
		}
		if n, err := strconv.Atoi(arg); err == nil {
			if n >= 1 {
				flags.Days = n
			}
			continue
		}
		switch arg {
		case "new":
			flags.NewOnly = true
		case "open":
			flags.Open = true
		case "post":
			flags.Post = true
		case "tag":
			flags.Tag = true
		case "mine":
			flags.Mine = true
		default:
			flags.Unknown = append(flags.Unknown, arg)
		}
	}
	return flags
}

func (b *Bot) handleCheck(cmd slack.SlashCommand, args []string) {
	flags := parseCheckArgs(args)
	if len(flags.Unknown) > 0 {
		postEphemeral(b.api, cmd, fmt.Sprintf("Unknown option(s): %s\n\n%s",
			strings.Join(flags.Unknown, ", "), b.helpText()))
		return
	}

	tickets, err := FetchTickets(b.cfg, flags.Days)
	if err != nil {
		postEphemeral(b.api, cmd, "Error fetching tickets from the helpdesk.")
		log.Printf("check fetch error user=%s: %v", cmd.UserID, err)
		return
	}

	switch {
	case flags.NewOnly:
		tickets = FilterNew(tickets)
	case flags.Open:
		var open []Ticket
		for _, t := range tickets {
			if isOpenState(t.State) {
				open = append(open, t)
			}
		}
		tickets = open
	}

	if flags.Mine {
		tickets = b.filterMine(cmd, tickets)
	}

	names := ResolveDigestNames(b.resolvers, tickets)
	text, ok := FormatDigest(tickets, names, true)
	if !ok {
		postEphemeral(b.api, cmd, fmt.Sprintf("Nothing to report for the last %d day(s).", flags.Days))
		return
	}

	if flags.Tag {
		if prefix := FormatResponderPrefix(b.oncall.Current()); prefix != "" {
			text = prefix + "\n\n" + text
		}
	}

	if flags.Post {
		_, _, err := b.api.PostMessage(cmd.ChannelID, slack.MsgOptionText(text, false))
		if err != nil {
			postEphemeral(b.api, cmd, "Error posting digest to this channel. Check bot permissions.")
			log.Printf("check post error user=%s channel=%s: %v", cmd.UserID, cmd.ChannelID, err)
			return
		}
		if b.db != nil {
			if err := RecordDigestPost(b.db, DigestPost{Trigger: "command", TicketCount: len(tickets), ChannelID: cmd.ChannelID}); err != nil {
				log.Printf("check digest record error (non-fatal): %v", err)
			}
		}
		return
	}
	postEphemeral(b.api, cmd, text)
}

// filterMine narrows the set to tickets assigned to the invoking user.
// Tickets carry only an opaque assignee id, so a second resolution pass
// fills in assignee emails before filtering.
func (b *Bot) filterMine(cmd slack.SlashCommand, tickets []Ticket) []Ticket {
	user, err := b.api.GetUserInfo(cmd.UserID)
	if err != nil || user.Profile.Email == "" {
		log.Printf("check mine: email lookup failed user=%s: %v", cmd.UserID, err)
		return nil
	}

	var assigneeIDs []string
	for _, t := range tickets {
		if t.AssigneeID != "" && t.AssigneeEmail == "" {
			assigneeIDs = append(assigneeIDs, t.AssigneeID)
		}
	}
	emails := b.resolvers.UserEmails(assigneeIDs)
	for i := range tickets {
		if tickets[i].AssigneeEmail == "" && tickets[i].AssigneeID != "" {
			tickets[i].AssigneeEmail = emails[tickets[i].AssigneeID]
		}
	}
	return FilterAssignedTo(tickets, user.Profile.Email)
}

// PostScheduledDigest runs one scheduled digest flow: fetch, resolve,
// format with on-call tagging and post to the digest channel. A window
// with nothing to report posts nothing.
func (b *Bot) PostScheduledDigest(trigger string) {
	if b.cfg.DigestChannelID == "" {
		log.Printf("scheduled digest (%s) skipped: digest_channel_id not set", trigger)
		return
	}

	tickets, err := FetchTickets(b.cfg, b.cfg.DigestDays)
	if err != nil {
		log.Printf("scheduled digest (%s) fetch error: %v", trigger, err)
		return
	}

	var open []Ticket
	for _, t := range tickets {
		if isOpenState(t.State) {
			open = append(open, t)
		}
	}

	names := ResolveDigestNames(b.resolvers, open)
	text, ok := FormatDigest(open, names, true)
	if !ok {
		log.Printf("scheduled digest (%s): nothing to report", trigger)
		return
	}

	if prefix := FormatResponderPrefix(b.oncall.Current()); prefix != "" {
		text = prefix + "\n\n" + text
	}

	_, _, err = b.api.PostMessage(b.cfg.DigestChannelID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("scheduled digest (%s) post error: %v", trigger, err)
		return
	}
	log.Printf("scheduled digest (%s) posted tickets=%d channel=%s", trigger, len(open), b.cfg.DigestChannelID)

	if b.db != nil {
		if err := RecordDigestPost(b.db, DigestPost{Trigger: trigger, TicketCount: len(open), ChannelID: b.cfg.DigestChannelID}); err != nil {
			log.Printf("scheduled digest (%s) record error (non-fatal): %v", trigger, err)
		}
	}
}
