package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		InstanceID     string   `yaml:"instance_id"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		// ClockSync is how often the game clock is re-anchored to Redis TIME.
		ClockSync string `yaml:"clock_sync"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Game struct {
		Countdown            string `yaml:"countdown"`
		QuestionDuration     string `yaml:"question_duration"`
		AutoAdvance          *bool  `yaml:"auto_advance"`
		MaxReactions         int    `yaml:"max_reactions"`
		ReactionsPerQuestion int    `yaml:"reactions_per_question"`
		MaxNameLength        int    `yaml:"max_name_length"`
	} `yaml:"game"`
	Limits struct {
		Join     Limit `yaml:"join"`
		Answer   Limit `yaml:"answer"`
		Reaction Limit `yaml:"reaction"`
	} `yaml:"limits"`
}

// Limit is a rate limit as written in YAML, e.g. {max: 3, window: 1m}.
type Limit struct {
	Max    int    `yaml:"max"`
	Window string `yaml:"window"`
}

// Load reads YAML config from path and applies environment overrides.
// A missing file is not an error: the service then runs from defaults and env alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides connection settings and secrets from the environment.
func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.InstanceID, "INSTANCE_ID")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Postgres.URL, "DATABASE_URL")
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		c.Server.AllowedOrigins = strings.Split(raw, ",")
	}
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	if raw := os.Getenv("LOG_JSON"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("LOG_JSON: %w", err)
		}
		c.Log.JSON = v
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
