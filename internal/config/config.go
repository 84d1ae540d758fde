package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OrderAPIBaseURL string
	DataDir         string
	AuthToken       string
	AppEnv          string
	PollInterval    time.Duration
}

const defaultPollInterval = 15 * time.Second

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		OrderAPIBaseURL: os.Getenv("ORDER_API_BASE_URL"),
		DataDir:         os.Getenv("DATA_DIR"),
		AuthToken:       os.Getenv("AUTH_TOKEN"),
		AppEnv:          os.Getenv("APP_ENV"),
		PollInterval:    defaultPollInterval,
	}

	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			log.Fatalf("invalid POLL_INTERVAL_SECONDS: %q", v)
		}
		cfg.PollInterval = time.Duration(secs) * time.Second
	}

	if cfg.DataDir == "" {
		cfg.DataDir = ".usada-checkout"
	}

	if cfg.OrderAPIBaseURL == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}
