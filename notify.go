package main

import (
	"log"

	"github.com/slack-go/slack"
)

// Best-effort Slack side effects. Each helper carries its own error
// boundary: failures are logged and swallowed so cosmetic steps can never
// abort a main flow.

func postThreadBestEffort(api *slack.Client, channelID, threadTS, text string) {
	_, _, err := api.PostMessage(channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Printf("thread post error channel=%s ts=%s: %v", channelID, threadTS, err)
	}
}

func addReactionBestEffort(api *slack.Client, channelID, ts, emoji string) {
	err := api.AddReaction(emoji, slack.ItemRef{Channel: channelID, Timestamp: ts})
	if err != nil {
		log.Printf("add reaction error channel=%s ts=%s emoji=%s: %v", channelID, ts, emoji, err)
	}
}

func removeReactionBestEffort(api *slack.Client, channelID, ts, emoji string) {
	err := api.RemoveReaction(emoji, slack.ItemRef{Channel: channelID, Timestamp: ts})
	if err != nil {
		log.Printf("remove reaction error channel=%s ts=%s emoji=%s: %v", channelID, ts, emoji, err)
	}
}

func postEphemeral(api *slack.Client, cmd slack.SlashCommand, text string) {
	_, err := api.PostEphemeral(cmd.ChannelID, cmd.UserID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("ephemeral post error user=%s channel=%s: %v", cmd.UserID, cmd.ChannelID, err)
	}
}
