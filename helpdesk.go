package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// UpstreamError is a non-2xx response from an external REST dependency.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Service, e.Status, e.Body)
}

type helpdeskIssueList struct {
	Data []helpdeskIssue `json:"data"`
}

type helpdeskIssueDetail struct {
	Data *helpdeskIssue `json:"data"`
}

type helpdeskIssue struct {
	ID                string              `json:"id"`
	Number            int                 `json:"number"`
	Title             string              `json:"title"`
	State             string              `json:"state"`
	CreatedAt         string              `json:"created_at"`
	FirstResponseTime string              `json:"first_response_time"`
	Link              string              `json:"link"`
	Account           *helpdeskAccountRef `json:"account"`
	Assignee          *helpdeskUserRef    `json:"assignee"`
	Requester         *helpdeskUserRef    `json:"requester"`
	Source            *helpdeskSource     `json:"source"`
	Body              string              `json:"body"`
	Attachments       []string            `json:"attachments"`
}

type helpdeskAccountRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type helpdeskUserRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type helpdeskSource struct {
	ChannelID string `json:"channel_id"`
	MessageTS string `json:"message_ts"`
}

type helpdeskAccountDetail struct {
	Data *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

type helpdeskUserDetail struct {
	Data *struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"data"`
}

// FetchTickets lists helpdesk issues created in the window
// [startOfToday-(days-1)d, startOfToday+1d). A response without the
// expected list field degrades to an empty result, not an error.
func FetchTickets(cfg Config, days int) ([]Ticket, error) {
	from, to := FetchWindow(time.Now().In(cfg.Location), days)

	apiURL := fmt.Sprintf("%s/issues?start_time=%s&end_time=%s",
		cfg.HelpdeskURL,
		url.QueryEscape(from.UTC().Format(time.RFC3339)),
		url.QueryEscape(to.UTC().Format(time.RFC3339)))
	log.Printf("helpdesk fetch window %s - %s", from.Format("2006-01-02"), to.Format("2006-01-02"))

	body, err := helpdeskGet(cfg, apiURL)
	if err != nil {
		return nil, err
	}

	var result helpdeskIssueList
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing issue list: %w", err)
	}
	if result.Data == nil {
		log.Printf("helpdesk fetch malformed response (no data field), treating as empty")
		return nil, nil
	}

	tickets := make([]Ticket, 0, len(result.Data))
	for _, issue := range result.Data {
		tickets = append(tickets, convertIssue(issue))
	}
	log.Printf("helpdesk fetch done total=%d", len(tickets))
	return tickets, nil
}

// FetchTicket retrieves a single issue by id, used to hydrate webhook
// payloads that arrive with missing fields.
func FetchTicket(cfg Config, id string) (Ticket, error) {
	apiURL := fmt.Sprintf("%s/issues/%s", cfg.HelpdeskURL, url.PathEscape(id))
	body, err := helpdeskGet(cfg, apiURL)
	if err != nil {
		return Ticket{}, err
	}

	var result helpdeskIssueDetail
	if err := json.Unmarshal(body, &result); err != nil {
		return Ticket{}, fmt.Errorf("parsing issue %s: %w", id, err)
	}
	if result.Data == nil {
		return Ticket{}, fmt.Errorf("issue %s: response has no data field", id)
	}
	return convertIssue(*result.Data), nil
}

// FetchAccountName looks up an account's display name. An empty name in a
// 2xx response is reported as an error so the caller never caches it.
func FetchAccountName(cfg Config, id string) (string, error) {
	apiURL := fmt.Sprintf("%s/accounts/%s", cfg.HelpdeskURL, url.PathEscape(id))
	body, err := helpdeskGet(cfg, apiURL)
	if err != nil {
		return "", err
	}

	var result helpdeskAccountDetail
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parsing account %s: %w", id, err)
	}
	if result.Data == nil || result.Data.Name == "" {
		return "", fmt.Errorf("account %s: no usable name in response", id)
	}
	return result.Data.Name, nil
}

// FetchUserEmail looks up a helpdesk user's email address.
func FetchUserEmail(cfg Config, id string) (string, error) {
	apiURL := fmt.Sprintf("%s/users/%s", cfg.HelpdeskURL, url.PathEscape(id))
	body, err := helpdeskGet(cfg, apiURL)
	if err != nil {
		return "", err
	}

	var result helpdeskUserDetail
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parsing user %s: %w", id, err)
	}
	if result.Data == nil || result.Data.Email == "" {
		return "", fmt.Errorf("user %s: no usable email in response", id)
	}
	return result.Data.Email, nil
}

func helpdeskGet(cfg Config, apiURL string) ([]byte, error) {
	return bearerGet(apiURL, cfg.HelpdeskToken, "helpdesk")
}

func bearerGet(apiURL, token, service string) ([]byte, error) {
	req, err := http.NewRequest("GET", apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Service: service, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func convertIssue(issue helpdeskIssue) Ticket {
	createdAt, _ := time.Parse(time.RFC3339, issue.CreatedAt)

	var firstResponse time.Time
	if issue.FirstResponseTime != "" {
		firstResponse, _ = time.Parse(time.RFC3339, issue.FirstResponseTime)
	}

	t := Ticket{
		ID:              issue.ID,
		Number:          issue.Number,
		Title:           issue.Title,
		State:           issue.State,
		CreatedAt:       createdAt,
		FirstResponseAt: firstResponse,
		Link:            issue.Link,
		Body:            issue.Body,
		AttachmentURLs:  issue.Attachments,
	}
	if issue.Account != nil {
		t.AccountID = issue.Account.ID
		t.AccountName = issue.Account.Name
	}
	if issue.Assignee != nil {
		t.AssigneeID = issue.Assignee.ID
		t.AssigneeEmail = issue.Assignee.Email
	}
	if issue.Requester != nil {
		t.RequesterEmail = issue.Requester.Email
	}
	if issue.Source != nil {
		t.SourceChannelID = issue.Source.ChannelID
		t.SourceMessageTS = issue.Source.MessageTS
	}
	return t
}
