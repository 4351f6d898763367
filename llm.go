package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const maxSummaryBodyChars = 6000

const summarySystemPrompt = "You summarize helpdesk support tickets for a triage channel. " +
	"Reply with a single plain-text sentence describing what the customer needs. " +
	"No markdown, no preamble, no trailing punctuation commentary."

// SummarizeTicket produces a one-line summary for the triage context.
// Purely additive: any failure returns an empty string and the triage
// message goes out without a summary line.
func SummarizeTicket(cfg Config, t Ticket) string {
	body := t.Body
	if len(body) > maxSummaryBodyChars {
		body = body[:maxSummaryBodyChars]
	}

	var b strings.Builder
	if t.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", t.Title)
	}
	if t.AccountName != "" {
		fmt.Fprintf(&b, "Account: %s\n", t.AccountName)
	}
	if t.State != "" {
		fmt.Fprintf(&b, "State: %s\n", t.State)
	}
	if body != "" {
		fmt.Fprintf(&b, "Body:\n%s\n", body)
	}
	if b.Len() == 0 {
		return ""
	}

	model := cfg.LLMModel
	if model == "" {
		model = defaultAnthropicModel
	}

	summary, err := callAnthropic(cfg.AnthropicAPIKey, model, summarySystemPrompt, b.String())
	if err != nil {
		log.Printf("llm summary error (continuing without summary): %v", err)
		return ""
	}
	return strings.TrimSpace(summary)
}

func callAnthropic(apiKey, model, systemPrompt, userPrompt string) (string, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	message, err := client.Messages.New(context.Background(), anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm summary model=%s tokens_in=%d tokens_out=%d", model, message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}
