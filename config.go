package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	SlackBotToken string `yaml:"slack_bot_token"`
	SlackAppToken string `yaml:"slack_app_token"`

	HelpdeskURL   string `yaml:"helpdesk_url"`
	HelpdeskToken string `yaml:"helpdesk_token"`

	OnCallMode      string   `yaml:"oncall_mode"` // "schedule" or "groups"
	OnCallURL       string   `yaml:"oncall_url"`
	OnCallToken     string   `yaml:"oncall_token"`
	OnCallTeams     []string `yaml:"oncall_teams"`
	OnCallTeamSlack []string `yaml:"oncall_team_slack_ids"` // parallel to oncall_teams, empty entry = unmapped
	OnCallGroups    []string `yaml:"oncall_group_handles"`

	TriageChannelID string `yaml:"triage_channel_id"`
	TriageAgentID   string `yaml:"triage_agent_id"`
	DigestChannelID string `yaml:"digest_channel_id"`

	WebhookSecret string `yaml:"webhook_secret"`
	ListenPort    int    `yaml:"listen_port"`

	CommandName     string `yaml:"command_name"`
	MorningSchedule string `yaml:"morning_schedule"`
	EveningSchedule string `yaml:"evening_schedule"`
	DigestDays      int    `yaml:"digest_days"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	LLMModel        string `yaml:"llm_model"`

	DBPath   string `yaml:"db_path"`
	Timezone string `yaml:"timezone"`

	Location *time.Location `yaml:"-"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.HelpdeskURL, "HELPDESK_URL")
	envOverride(&cfg.HelpdeskToken, "HELPDESK_TOKEN")
	envOverride(&cfg.OnCallMode, "ONCALL_MODE")
	envOverride(&cfg.OnCallURL, "ONCALL_URL")
	envOverride(&cfg.OnCallToken, "ONCALL_TOKEN")
	envOverrideList(&cfg.OnCallTeams, "ONCALL_TEAMS")
	envOverrideList(&cfg.OnCallTeamSlack, "ONCALL_TEAM_SLACK_IDS")
	envOverrideList(&cfg.OnCallGroups, "ONCALL_GROUP_HANDLES")
	envOverride(&cfg.TriageChannelID, "TRIAGE_CHANNEL_ID")
	envOverride(&cfg.TriageAgentID, "TRIAGE_AGENT_ID")
	envOverride(&cfg.DigestChannelID, "DIGEST_CHANNEL_ID")
	envOverride(&cfg.WebhookSecret, "WEBHOOK_SECRET")
	envOverrideInt(&cfg.ListenPort, "LISTEN_PORT")
	envOverride(&cfg.CommandName, "COMMAND_NAME")
	envOverride(&cfg.MorningSchedule, "MORNING_SCHEDULE")
	envOverride(&cfg.EveningSchedule, "EVENING_SCHEDULE")
	envOverrideInt(&cfg.DigestDays, "DIGEST_DAYS")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.Timezone, "TIMEZONE")

	// Defaults
	if cfg.OnCallMode == "" {
		cfg.OnCallMode = "groups"
	}
	if cfg.CommandName == "" {
		cfg.CommandName = "/rooster"
	}
	if !strings.HasPrefix(cfg.CommandName, "/") {
		cfg.CommandName = "/" + cfg.CommandName
	}
	if cfg.MorningSchedule == "" {
		cfg.MorningSchedule = "0 9 * * 1-5"
	}
	if cfg.EveningSchedule == "" {
		cfg.EveningSchedule = "0 17 * * 1-5"
	}
	if cfg.DigestDays == 0 {
		cfg.DigestDays = 1
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 8090
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./rooster.db"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	// Validate required fields
	required := map[string]string{
		"slack_bot_token":   cfg.SlackBotToken,
		"slack_app_token":   cfg.SlackAppToken,
		"helpdesk_url":      cfg.HelpdeskURL,
		"helpdesk_token":    cfg.HelpdeskToken,
		"triage_channel_id": cfg.TriageChannelID,
		"triage_agent_id":   cfg.TriageAgentID,
		"webhook_secret":    cfg.WebhookSecret,
	}
	for name, val := range required {
		if val == "" {
			log.Fatalf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}

	switch cfg.OnCallMode {
	case "schedule":
		if cfg.OnCallURL == "" || cfg.OnCallToken == "" {
			log.Fatalf("oncall_url and oncall_token are required when oncall_mode=schedule")
		}
		if len(cfg.OnCallTeams) == 0 {
			log.Fatalf("oncall_teams is required when oncall_mode=schedule")
		}
		if len(cfg.OnCallTeamSlack) > 0 && len(cfg.OnCallTeamSlack) != len(cfg.OnCallTeams) {
			log.Fatalf("oncall_team_slack_ids must match oncall_teams length (%d != %d)",
				len(cfg.OnCallTeamSlack), len(cfg.OnCallTeams))
		}
	case "groups":
		// Group handles may be empty; on-call tagging just resolves to nothing.
	default:
		log.Fatalf("oncall_mode must be 'schedule' or 'groups', got '%s'", cfg.OnCallMode)
	}

	if cfg.DigestDays < 1 {
		log.Fatalf("invalid digest_days '%d': must be >= 1", cfg.DigestDays)
	}
	if cfg.ListenPort < 1 || cfg.ListenPort > 65535 {
		log.Fatalf("invalid listen_port '%d'", cfg.ListenPort)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(cfg.MorningSchedule); err != nil {
		log.Fatalf("invalid morning_schedule '%s': %v", cfg.MorningSchedule, err)
	}
	if _, err := parser.Parse(cfg.EveningSchedule); err != nil {
		log.Fatalf("invalid evening_schedule '%s': %v", cfg.EveningSchedule, err)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
		cfg.Timezone = time.Local.String()
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	cfg.HelpdeskURL = strings.TrimRight(cfg.HelpdeskURL, "/")
	cfg.OnCallURL = strings.TrimRight(cfg.OnCallURL, "/")

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideList(field *[]string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = nil
		for _, entry := range strings.Split(val, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				*field = append(*field, entry)
			}
		}
	}
}

// teamSlackID returns the Slack user id mapped to a schedule team, or ""
// when the team has no mapping.
func (c Config) teamSlackID(team string) string {
	for i, t := range c.OnCallTeams {
		if t == team && i < len(c.OnCallTeamSlack) {
			return strings.TrimSpace(c.OnCallTeamSlack[i])
		}
	}
	return ""
}

func (c Config) LLMConfigured() bool {
	return c.AnthropicAPIKey != ""
}

func fmtPort(port int) string {
	return fmt.Sprintf(":%d", port)
}
