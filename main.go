package main

import (
	"log"

	"github.com/slack-go/slack"
)

func main() {
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	api := slack.New(
		cfg.SlackBotToken,
		slack.OptionAppLevelToken(cfg.SlackAppToken),
	)

	resolvers := NewResolvers(cfg, api)
	oncall := NewResponderResolver(cfg, api)
	bot := NewBot(cfg, db, api, resolvers, oncall)

	StartDigestSchedulers(cfg, bot)

	go func() {
		if err := StartWebhookServer(cfg, db, api); err != nil {
			log.Fatalf("Webhook server error: %v", err)
		}
	}()

	log.Println("Starting Rooster support bot...")
	if err := bot.Start(); err != nil {
		log.Fatalf("Slack bot error: %v", err)
	}
}
