package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/slack-go/slack"
)

const (
	headerTimestamp = "X-Rooster-Timestamp"
	headerSignature = "X-Rooster-Signature"
)

// NewWebhookApp builds the HTTP listener for helpdesk webhooks. The ticket
// endpoint acks immediately after authentication; all triage work happens
// after the response is on the wire, so caller timeouts never affect
// dispatch and dispatch failures never reach the caller.
func NewWebhookApp(cfg Config, db *sql.DB, api *slack.Client) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	app.Post("/webhook/ticket", func(c *fiber.Ctx) error {
		timestamp := c.Get(headerTimestamp)
		signature := c.Get(headerSignature)
		if !VerifyWebhookSignature(cfg.WebhookSecret, timestamp, c.Body(), signature) {
			log.Printf("webhook auth failure ip=%s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"ok": false})
		}

		// c.Body() is only valid for the lifetime of the handler.
		payload := make([]byte, len(c.Body()))
		copy(payload, c.Body())
		go DispatchTriage(cfg, db, api, payload)

		return c.JSON(fiber.Map{"ok": true})
	})

	return app
}

// VerifyWebhookSignature checks a timestamped HMAC signature:
// v0=hex(HMAC-SHA256(secret, timestamp + "." + body)). This is the sole
// supported scheme. The comparison is constant time.
func VerifyWebhookSignature(secret, timestamp string, body []byte, signature string) bool {
	if secret == "" || timestamp == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// StartWebhookServer runs the listener; it blocks until the server exits.
func StartWebhookServer(cfg Config, db *sql.DB, api *slack.Client) error {
	app := NewWebhookApp(cfg, db, api)
	log.Printf("Webhook server listening on %s", fmtPort(cfg.ListenPort))
	return app.Listen(fmtPort(cfg.ListenPort))
}
