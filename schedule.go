package main

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StartDigestSchedulers runs the morning and evening digest schedules.
// Expressions are standard 5-field cron (minute hour day-of-month month
// day-of-week), validated at config load. Each run catches its own errors;
// a failed digest never stops the scheduler.
func StartDigestSchedulers(cfg Config, bot *Bot) {
	if cfg.DigestChannelID == "" {
		log.Println("Scheduled digests disabled (digest_channel_id not set)")
		return
	}
	startDigestLoop(cfg, bot, "morning", cfg.MorningSchedule)
	startDigestLoop(cfg, bot, "evening", cfg.EveningSchedule)
}

func startDigestLoop(cfg Config, bot *Bot, trigger, schedule string) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid %s schedule '%s': %v, digest disabled", trigger, schedule, err)
		return
	}
	log.Printf("Digest (%s) scheduled (cron: %s)", trigger, schedule)

	go func() {
		for {
			now := time.Now().In(cfg.Location)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next %s digest at %s (in %s)", trigger, next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)
			bot.PostScheduledDigest(trigger)
		}
	}()
}
