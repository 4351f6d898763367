package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestScheduleResolverCurrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer oc-test" {
			t.Fatalf("expected bearer token auth header, got %q", got)
		}
		start := r.URL.Query().Get("start_time")
		end := r.URL.Query().Get("end_time")
		from, err := time.Parse(time.RFC3339, start)
		if err != nil {
			t.Fatalf("bad start_time %q: %v", start, err)
		}
		to, err := time.Parse(time.RFC3339, end)
		if err != nil {
			t.Fatalf("bad end_time %q: %v", end, err)
		}
		if window := to.Sub(from); window != 60*time.Second {
			t.Fatalf("expected a 60s query window, got %s", window)
		}

		switch r.URL.Query().Get("team") {
		case "platform":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"team": "platform", "slack_user_id": "U_PLAT"}},
			})
		case "support":
			// Same responder on two teams: result must dedupe.
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"team": "support", "slack_user_id": "U_PLAT"}},
			})
		case "unmapped":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"team": "unmapped"}},
			})
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
		}
	}))
	defer server.Close()

	cfg := Config{
		OnCallMode:  "schedule",
		OnCallURL:   server.URL,
		OnCallToken: "oc-test",
		OnCallTeams: []string{"platform", "support", "unmapped", "broken", "idle"},
		Location:    time.UTC,
	}
	resolver := &scheduleResolver{cfg: cfg}

	responders := resolver.Current()
	if len(responders) != 1 {
		t.Fatalf("expected one deduped responder, got %+v", responders)
	}
	if responders[0].Mention != "<@U_PLAT>" {
		t.Fatalf("unexpected mention: %q", responders[0].Mention)
	}
}

func TestScheduleResolverConfigMappingFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Entry with no embedded slack id; config mapping supplies it.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"team": "platform"}},
		})
	}))
	defer server.Close()

	cfg := Config{
		OnCallMode:      "schedule",
		OnCallURL:       server.URL,
		OnCallToken:     "oc-test",
		OnCallTeams:     []string{"platform"},
		OnCallTeamSlack: []string{"U_CFG"},
		Location:        time.UTC,
	}
	responders := (&scheduleResolver{cfg: cfg}).Current()
	if len(responders) != 1 || responders[0].Mention != "<@U_CFG>" {
		t.Fatalf("expected config-mapped responder, got %+v", responders)
	}
}

func TestGroupResolverCurrent(t *testing.T) {
	var listCalls int
	api := newMockSlackClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "usergroups.list") {
			listCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"usergroups": []map[string]any{
					{"id": "S1", "handle": "support-oncall"},
					{"id": "S2", "handle": "platform-oncall"},
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	cfg := Config{
		OnCallMode:   "groups",
		OnCallGroups: []string{"@support-oncall", "ghost-team", "support-oncall"},
	}
	resolver := &groupResolver{cfg: cfg, slack: api, groupIDs: newIDCache()}

	responders := resolver.Current()
	if len(responders) != 2 {
		t.Fatalf("expected deduped resolved+fallback responders, got %+v", responders)
	}
	if responders[0].Mention != "<!subteam^S1>" {
		t.Fatalf("expected group mention markup, got %q", responders[0].Mention)
	}
	if responders[1].Mention != "@ghost-team" {
		t.Fatalf("unresolvable handle must fall back to plain text, got %q", responders[1].Mention)
	}

	// Handle mapping is fetched once per process.
	resolver.Current()
	if listCalls != 1 {
		t.Fatalf("expected a single usergroups.list call, got %d", listCalls)
	}
}

func TestDedupeResponders(t *testing.T) {
	in := []Responder{
		{Mention: "<@U1>", Key: "U1"},
		{Mention: "<@U1>", Key: "U1"},
		{Mention: "", Key: ""},
		{Mention: "<@U2>", Key: "U2"},
	}
	out := dedupeResponders(in)
	if len(out) != 2 || out[0].Key != "U1" || out[1].Key != "U2" {
		t.Fatalf("unexpected dedupe result: %+v", out)
	}
}
