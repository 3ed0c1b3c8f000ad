package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// SMTP holds the outbound summary mailer settings.
type SMTP struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

type Config struct {
	DBPath   string
	LogLevel string
	SMTP     SMTP
}

// Load reads the optional .env file and the environment. A missing .env is
// not an error.
func Load(log *logrus.Logger) Config {
	if err := godotenv.Load(); err != nil {
		log.WithError(err).Debug("no .env file loaded, using environment variables")
	}

	return Config{
		DBPath:   getenv("STRIDE_DB_PATH", ".stride/stride.db"),
		LogLevel: getenv("STRIDE_LOG_LEVEL", "info"),
		SMTP: SMTP{
			Host:     os.Getenv("STRIDE_SMTP_HOST"),
			Port:     getenvInt("STRIDE_SMTP_PORT", 587),
			User:     os.Getenv("STRIDE_SMTP_USER"),
			Password: os.Getenv("STRIDE_SMTP_PASSWORD"),
			From:     os.Getenv("STRIDE_SMTP_FROM"),
			To:       os.Getenv("STRIDE_SMTP_TO"),
		},
	}
}

// NewLogger builds the process logger.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
