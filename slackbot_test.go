package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slack-go/slack"
)

func TestParseCheckArgs(t *testing.T) {
	flags := parseCheckArgs(nil)
	if flags.Days != 1 || flags.NewOnly || flags.Open || flags.Post || flags.Tag || flags.Mine {
		t.Fatalf("unexpected defaults: %+v", flags)
	}

	flags = parseCheckArgs([]string{"7", "new", "post", "TAG", "mine"})
	if flags.Days != 7 {
		t.Fatalf("expected day count 7, got %d", flags.Days)
	}
	if !flags.NewOnly || !flags.Post || !flags.Tag || !flags.Mine {
		t.Fatalf("flags not parsed: %+v", flags)
	}

	flags = parseCheckArgs([]string{"open", "3"})
	if !flags.Open || flags.Days != 3 {
		t.Fatalf("order-independent parsing failed: %+v", flags)
	}

	flags = parseCheckArgs([]string{"0", "-2"})
	if flags.Days != 1 {
		t.Fatalf("non-positive day counts must be ignored, got %d", flags.Days)
	}

	flags = parseCheckArgs([]string{"bogus"})
	if len(flags.Unknown) != 1 || flags.Unknown[0] != "bogus" {
		t.Fatalf("unknown tokens must be reported: %+v", flags)
	}
}

type slackCallCounts struct {
	ephemeral int64
	posted    int64
	lastPost  atomic.Value // string: last chat.postMessage text
}

func newBotTestSlack(t *testing.T, counts *slackCallCounts) *slack.Client {
	t.Helper()
	return newMockSlackClient(t, func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		switch path {
		case "chat.postEphemeral":
			atomic.AddInt64(&counts.ephemeral, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		case "chat.postMessage":
			atomic.AddInt64(&counts.posted, 1)
			_ = r.ParseForm()
			counts.lastPost.Store(r.Form.Get("text"))
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1.2"})
		case "users.info":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"user": map[string]any{
					"id":      "U123",
					"profile": map[string]any{"email": "me@corp.io"},
				},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	})
}

func issuesResponse(issues ...map[string]any) []byte {
	out, _ := json.Marshal(map[string]any{"data": issues})
	return out
}

func newBotUnderTest(t *testing.T, helpdeskHandler http.HandlerFunc, counts *slackCallCounts) *Bot {
	t.Helper()
	helpdesk := httptest.NewServer(helpdeskHandler)
	t.Cleanup(helpdesk.Close)

	api := newBotTestSlack(t, counts)
	cfg := Config{
		HelpdeskURL:     helpdesk.URL,
		HelpdeskToken:   "hd-test",
		CommandName:     "/rooster",
		DigestChannelID: "C_DIGEST",
		DigestDays:      1,
		Location:        time.UTC,
	}
	resolvers := NewResolvers(cfg, api)
	oncall := &groupResolver{cfg: cfg, slack: api, groupIDs: newIDCache()}
	return NewBot(cfg, newTestDB(t), api, resolvers, oncall)
}

func TestHandleStatusCounts(t *testing.T) {
	var counts slackCallCounts
	bot := newBotUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(issuesResponse(
			map[string]any{"id": "t1", "state": "new"},
			map[string]any{"id": "t2", "state": "new", "first_response_time": "2026-03-12T09:30:00Z"},
			map[string]any{"id": "t3", "state": "waiting_on_you"},
		))
	}, &counts)

	bot.handleSlashCommand(slack.SlashCommand{
		Command: "/rooster", Text: "status", UserID: "U123", ChannelID: "C1",
	})

	if atomic.LoadInt64(&counts.ephemeral) != 1 {
		t.Fatalf("expected one ephemeral reply, got %d", counts.ephemeral)
	}
}

func TestHandleCheckPostsDigestToChannel(t *testing.T) {
	var counts slackCallCounts
	bot := newBotUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(issuesResponse(
			map[string]any{"id": "t1", "state": "new", "title": "Login broken"},
		))
	}, &counts)

	bot.handleSlashCommand(slack.SlashCommand{
		Command: "/rooster", Text: "check 3 post", UserID: "U123", ChannelID: "C1",
	})

	if atomic.LoadInt64(&counts.posted) != 1 {
		t.Fatalf("expected one channel post, got %d", counts.posted)
	}
	text, _ := counts.lastPost.Load().(string)
	if !strings.Contains(text, "Login broken") {
		t.Fatalf("digest text missing ticket line: %q", text)
	}

	last, err := LastDigestPost(bot.db)
	if err != nil {
		t.Fatalf("LastDigestPost failed: %v", err)
	}
	if last == nil || last.Trigger != "command" || last.TicketCount != 1 {
		t.Fatalf("expected recorded command digest, got %+v", last)
	}
}

func TestHandleCheckNothingToReport(t *testing.T) {
	var counts slackCallCounts
	bot := newBotUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(issuesResponse())
	}, &counts)

	bot.handleSlashCommand(slack.SlashCommand{
		Command: "/rooster", Text: "check post", UserID: "U123", ChannelID: "C1",
	})

	if atomic.LoadInt64(&counts.posted) != 0 {
		t.Fatal("null digest must not be posted to the channel")
	}
	if atomic.LoadInt64(&counts.ephemeral) != 1 {
		t.Fatalf("expected a quiet ephemeral reply, got %d", counts.ephemeral)
	}
}

func TestHandleCheckMineFiltersByInvokerEmail(t *testing.T) {
	var counts slackCallCounts
	bot := newBotUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/users/") {
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			email := "other@corp.io"
			if id == "hu_me" {
				email = "me@corp.io"
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"id": id, "email": email},
			})
			return
		}
		_, _ = w.Write(issuesResponse(
			map[string]any{"id": "t1", "state": "new", "title": "Mine", "assignee": map[string]any{"id": "hu_me"}},
			map[string]any{"id": "t2", "state": "new", "title": "Theirs", "assignee": map[string]any{"id": "hu_other"}},
		))
	}, &counts)

	bot.handleSlashCommand(slack.SlashCommand{
		Command: "/rooster", Text: "check mine post", UserID: "U123", ChannelID: "C1",
	})

	text, _ := counts.lastPost.Load().(string)
	if !strings.Contains(text, "Mine") || strings.Contains(text, "Theirs") {
		t.Fatalf("mine filter wrong: %q", text)
	}
}

func TestHandleUnknownSubcommandShowsHelp(t *testing.T) {
	var counts slackCallCounts
	bot := newBotUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(issuesResponse())
	}, &counts)

	bot.handleSlashCommand(slack.SlashCommand{
		Command: "/rooster", Text: "frobnicate", UserID: "U123", ChannelID: "C1",
	})

	if atomic.LoadInt64(&counts.ephemeral) != 1 {
		t.Fatalf("expected help reply, got %d ephemeral posts", counts.ephemeral)
	}

	// Commands for a different slash name are ignored entirely.
	bot.handleSlashCommand(slack.SlashCommand{Command: "/other", Text: "status"})
	if atomic.LoadInt64(&counts.ephemeral) != 1 {
		t.Fatal("foreign command must be ignored")
	}
}

func TestPostScheduledDigest(t *testing.T) {
	var counts slackCallCounts
	bot := newBotUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(issuesResponse(
			map[string]any{"id": "t1", "state": "new", "title": "Morning ticket"},
			map[string]any{"id": "t2", "state": "closed", "title": "Done ticket"},
		))
	}, &counts)

	bot.PostScheduledDigest("morning")

	if atomic.LoadInt64(&counts.posted) != 1 {
		t.Fatalf("expected one digest post, got %d", counts.posted)
	}
	text, _ := counts.lastPost.Load().(string)
	if !strings.Contains(text, "Morning ticket") || strings.Contains(text, "Done ticket") {
		t.Fatalf("scheduled digest should include only open tickets: %q", text)
	}

	last, err := LastDigestPost(bot.db)
	if err != nil {
		t.Fatalf("LastDigestPost failed: %v", err)
	}
	if last == nil || last.Trigger != "morning" || last.TicketCount != 1 {
		t.Fatalf("expected recorded morning digest, got %+v", last)
	}
}
