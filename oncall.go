package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

// Responder is a mentionable on-call identity.
type Responder struct {
	Mention string // Slack mention markup, or plain "@handle" fallback
	Key     string // dedup key
}

// responderResolver determines the current on-call responders. A single
// team or handle failing to resolve degrades to omission or a plain-text
// fallback; Current never returns an error.
type responderResolver interface {
	Current() []Responder
}

// NewResponderResolver picks the implementation selected by oncall_mode.
func NewResponderResolver(cfg Config, api *slack.Client) responderResolver {
	if cfg.OnCallMode == "schedule" {
		return &scheduleResolver{cfg: cfg}
	}
	return &groupResolver{cfg: cfg, slack: api, groupIDs: newIDCache()}
}

// scheduleResolver queries the on-call schedule API per team with a narrow
// [now, now+60s) window and takes the first returned entry as current.
type scheduleResolver struct {
	cfg Config
}

type oncallScheduleResponse struct {
	Data []oncallEntry `json:"data"`
}

type oncallEntry struct {
	Team        string `json:"team"`
	SlackUserID string `json:"slack_user_id"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

func (r *scheduleResolver) Current() []Responder {
	now := time.Now().In(r.cfg.Location)
	var responders []Responder
	for _, team := range r.cfg.OnCallTeams {
		entry, err := fetchCurrentShift(r.cfg, team, now)
		if err != nil {
			log.Printf("oncall schedule team=%s error: %v", team, err)
			continue
		}
		if entry == nil {
			log.Printf("oncall schedule team=%s has no current shift", team)
			continue
		}
		slackID := entry.SlackUserID
		if slackID == "" {
			slackID = r.cfg.teamSlackID(team)
		}
		if slackID == "" {
			log.Printf("oncall schedule team=%s has no slack id configured, skipping", team)
			continue
		}
		responders = append(responders, Responder{
			Mention: fmt.Sprintf("<@%s>", slackID),
			Key:     slackID,
		})
	}
	return dedupeResponders(responders)
}

func fetchCurrentShift(cfg Config, team string, now time.Time) (*oncallEntry, error) {
	apiURL := fmt.Sprintf("%s/schedules?team=%s&start_time=%s&end_time=%s",
		cfg.OnCallURL,
		url.QueryEscape(team),
		url.QueryEscape(now.UTC().Format(time.RFC3339)),
		url.QueryEscape(now.Add(60*time.Second).UTC().Format(time.RFC3339)))

	body, err := bearerGet(apiURL, cfg.OnCallToken, "oncall")
	if err != nil {
		return nil, err
	}

	var result oncallScheduleResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing schedule response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, nil
	}
	return &result.Data[0], nil
}

// groupResolver mentions a fixed set of Slack user-group handles. The
// handle->group-id mapping is fetched once per process; a handle that
// cannot be resolved falls back to plain "@handle" text.
type groupResolver struct {
	cfg      Config
	slack    *slack.Client
	groupIDs *idCache
	loadOnce sync.Once
}

func (r *groupResolver) Current() []Responder {
	r.loadOnce.Do(r.loadGroups)

	var responders []Responder
	for _, handle := range r.cfg.OnCallGroups {
		handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
		if handle == "" {
			continue
		}
		if id, ok := r.groupIDs.get(handle); ok {
			responders = append(responders, Responder{
				Mention: fmt.Sprintf("<!subteam^%s>", id),
				Key:     id,
			})
		} else {
			responders = append(responders, Responder{
				Mention: "@" + handle,
				Key:     "@" + handle,
			})
		}
	}
	return dedupeResponders(responders)
}

func (r *groupResolver) loadGroups() {
	groups, err := r.slack.GetUserGroups()
	if err != nil {
		log.Printf("oncall group list error: %v", err)
		return
	}
	for _, g := range groups {
		if g.Handle != "" {
			r.groupIDs.put(g.Handle, g.ID)
		}
	}
	log.Printf("oncall groups loaded=%d", r.groupIDs.len())
}

func dedupeResponders(responders []Responder) []Responder {
	seen := make(map[string]bool)
	var out []Responder
	for _, resp := range responders {
		if resp.Key == "" || seen[resp.Key] {
			continue
		}
		seen[resp.Key] = true
		out = append(out, resp)
	}
	return out
}
