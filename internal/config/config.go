package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Notification transports.
const (
	TransportLog     = "log"
	TransportSMTP    = "smtp"
	TransportKafka   = "kafka"
	TransportWebhook = "webhook"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port              string
	DBURL             string
	ReadTimeoutSecs   int
	WriteTimeoutSecs  int
	IdleTimeoutSecs   int
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int

	CORSAllowedOrigin string
	MaxVotesPerClient int
	StrictVoteLimit   bool

	NotifyTransport   string
	NotifyTimeoutSecs int
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	SMTPSSL           bool
	MailFrom          string
	MailFromName      string
	MailAdminAddress  string
	MailVoteOverride  string
	MailBcc           []string
	KafkaBrokers      []string
	KafkaTopic        string
	WebhookURL        string
	WebhookAPIKey     string
	ScoreboardURL     string
}

// Load reads an optional .env file, then configuration from environment
// variables, applying defaults and validation.
func Load() (Config, error) {
	if path := getEnv("ENV_FILE", ".env"); path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		DBURL:             os.Getenv("DB_URL"),
		ReadTimeoutSecs:   getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:  getEnvInt("SERVER_WRITE_TIMEOUT", 30),
		IdleTimeoutSecs:   getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 1),
		DBMaxIdleSecs:     getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:     getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs: getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:  getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),

		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "https://form.actiiva.org"),
		MaxVotesPerClient: getEnvInt("MAX_VOTES_PER_CLIENT", 3),
		StrictVoteLimit:   getEnvBool("STRICT_VOTE_LIMIT", false),

		NotifyTransport:   strings.ToLower(getEnv("NOTIFY_TRANSPORT", TransportLog)),
		NotifyTimeoutSecs: getEnvInt("NOTIFY_TIMEOUT_SECS", 15),
		SMTPHost:          os.Getenv("SMTP_HOST"),
		SMTPPort:          getEnvInt("SMTP_PORT", 465),
		SMTPUsername:      os.Getenv("SMTP_USERNAME"),
		SMTPPassword:      os.Getenv("SMTP_PASSWORD"),
		SMTPSSL:           getEnvBool("SMTP_SSL", true),
		MailFrom:          os.Getenv("MAIL_FROM"),
		MailFromName:      getEnv("MAIL_FROM_NAME", "Institution Awards"),
		MailAdminAddress:  os.Getenv("MAIL_ADMIN_ADDRESS"),
		MailVoteOverride:  os.Getenv("MAIL_VOTE_OVERRIDE"),
		MailBcc:           getEnvList("MAIL_BCC"),
		KafkaBrokers:      getEnvList("KAFKA_BROKERS"),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "institution-notifications"),
		WebhookURL:        os.Getenv("NOTIFY_WEBHOOK_URL"),
		WebhookAPIKey:     os.Getenv("NOTIFY_WEBHOOK_API_KEY"),
		ScoreboardURL:     os.Getenv("SCOREBOARD_URL"),
	}

	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if cfg.MaxVotesPerClient <= 0 {
		return Config{}, fmt.Errorf("MAX_VOTES_PER_CLIENT must be positive")
	}
	if cfg.NotifyTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("NOTIFY_TIMEOUT_SECS must be positive")
	}

	switch cfg.NotifyTransport {
	case TransportLog:
	case TransportSMTP:
		if cfg.SMTPHost == "" {
			return Config{}, fmt.Errorf("SMTP_HOST is required for the smtp transport")
		}
		if cfg.MailFrom == "" {
			return Config{}, fmt.Errorf("MAIL_FROM is required for the smtp transport")
		}
	case TransportKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return Config{}, fmt.Errorf("KAFKA_BROKERS is required for the kafka transport")
		}
	case TransportWebhook:
		if cfg.WebhookURL == "" {
			return Config{}, fmt.Errorf("NOTIFY_WEBHOOK_URL is required for the webhook transport")
		}
	default:
		return Config{}, fmt.Errorf("NOTIFY_TRANSPORT must be one of log, smtp, kafka, webhook")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
