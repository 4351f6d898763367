package main

import (
	"fmt"
	"log"
	"sync"

	"github.com/slack-go/slack"
)

// idCache is a process-lifetime cache of positive id resolutions. Failed
// lookups are never stored, so a transient failure is retried on the next
// reference. Concurrent duplicate misses are tolerated; the redundant
// lookup is idempotent and last write wins.
type idCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newIDCache() *idCache {
	return &idCache{entries: make(map[string]string)}
}

func (c *idCache) get(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.entries[id]
	return val, ok
}

func (c *idCache) put(id, val string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = val
}

func (c *idCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Resolvers owns every identity cache and the clients behind them. One
// instance is built in main and shared by all flows.
type Resolvers struct {
	cfg   Config
	slack *slack.Client

	accountNames   *idCache // helpdesk account id -> account name
	userEmails     *idCache // helpdesk user id -> email
	slackNames     *idCache // slack user id -> display name
	slackIDByEmail *idCache // email -> slack user id
	channelNames   *idCache // slack channel id -> channel name
}

func NewResolvers(cfg Config, api *slack.Client) *Resolvers {
	return &Resolvers{
		cfg:            cfg,
		slack:          api,
		accountNames:   newIDCache(),
		userEmails:     newIDCache(),
		slackNames:     newIDCache(),
		slackIDByEmail: newIDCache(),
		channelNames:   newIDCache(),
	}
}

// resolveMany partitions ids into cache hits and misses, looks up every
// miss in parallel, caches positive results and silently omits failures.
// Callers treat "missing from map" as "render the raw id".
func resolveMany(kind string, cache *idCache, ids []string, lookup func(id string) (string, error)) map[string]string {
	out := make(map[string]string)
	var misses []string
	for _, id := range uniqueStrings(ids) {
		if val, ok := cache.get(id); ok {
			out[id] = val
		} else {
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return out
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range misses {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			val, err := lookup(id)
			if err != nil {
				log.Printf("resolve %s miss id=%s: %v", kind, id, err)
				return
			}
			cache.put(id, val)
			mu.Lock()
			out[id] = val
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	log.Printf("resolve %s misses=%d resolved=%d", kind, len(misses), len(out))
	return out
}

// AccountNames resolves helpdesk account ids to display names.
func (r *Resolvers) AccountNames(ids []string) map[string]string {
	return resolveMany("account", r.accountNames, ids, func(id string) (string, error) {
		return FetchAccountName(r.cfg, id)
	})
}

// UserEmails resolves helpdesk user ids to email addresses.
func (r *Resolvers) UserEmails(ids []string) map[string]string {
	return resolveMany("helpdesk-user", r.userEmails, ids, func(id string) (string, error) {
		return FetchUserEmail(r.cfg, id)
	})
}

// SlackNames resolves Slack user ids to display names.
func (r *Resolvers) SlackNames(ids []string) map[string]string {
	return resolveMany("slack-user", r.slackNames, ids, func(id string) (string, error) {
		user, err := r.slack.GetUserInfo(id)
		if err != nil {
			return "", err
		}
		if user.Profile.DisplayName != "" {
			return user.Profile.DisplayName, nil
		}
		if user.RealName != "" {
			return user.RealName, nil
		}
		return user.Name, nil
	})
}

// SlackIDsByEmail resolves email addresses to Slack user ids.
func (r *Resolvers) SlackIDsByEmail(emails []string) map[string]string {
	return resolveMany("slack-email", r.slackIDByEmail, emails, func(email string) (string, error) {
		user, err := r.slack.GetUserByEmail(email)
		if err != nil {
			return "", err
		}
		if user.ID == "" {
			return "", fmt.Errorf("no slack user for %s", email)
		}
		return user.ID, nil
	})
}

// ChannelNames resolves Slack channel ids to channel names.
func (r *Resolvers) ChannelNames(ids []string) map[string]string {
	return resolveMany("channel", r.channelNames, ids, func(id string) (string, error) {
		ch, err := r.slack.GetConversationInfo(&slack.GetConversationInfoInput{ChannelID: id})
		if err != nil {
			return "", err
		}
		if ch.Name == "" {
			return "", fmt.Errorf("channel %s has no name", id)
		}
		return ch.Name, nil
	})
}

// AssigneeSlackIDs chains helpdesk-user -> email -> slack-id resolution for
// a set of assignee ids. Each hop uses its own cache; any miss along the
// chain simply drops that assignee from the result.
func (r *Resolvers) AssigneeSlackIDs(assigneeIDs []string) map[string]string {
	emails := r.UserEmails(assigneeIDs)

	var emailList []string
	for _, email := range emails {
		emailList = append(emailList, email)
	}
	slackIDs := r.SlackIDsByEmail(emailList)

	out := make(map[string]string)
	for id, email := range emails {
		if slackID, ok := slackIDs[email]; ok {
			out[id] = slackID
		}
	}
	return out
}

func uniqueStrings(vals []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range vals {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
