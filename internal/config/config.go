package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr        string
	DBDSN           string
	JWTIssuer       string
	JWTSecret       string
	JWTTTL          time.Duration
	InternalToken   string
	WebSocketOrigin string
	Mode            string
	FeedInterval    time.Duration
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		missing = append(missing, "WS_ORIGIN")
	}
	c.Mode = strings.ToLower(strings.TrimSpace(os.Getenv("APP_MODE")))
	if c.Mode == "" {
		c.Mode = "development"
	}
	if c.Mode != "development" && c.Mode != "production" {
		return c, errors.New("invalid APP_MODE: use development or production")
	}
	feedInterval := os.Getenv("FEED_INTERVAL")
	if feedInterval == "" {
		c.FeedInterval = 2 * time.Second
	} else {
		d, err := time.ParseDuration(feedInterval)
		if err != nil {
			return c, err
		}
		c.FeedInterval = d
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + join(missing))
	}
	return c, nil
}

func join(items []string) string {
	if len(items) == 0 {
		return ""
	}
	out := items[0]
	for i := 1; i < len(items); i++ {
		out += "," + items[i]
	}
	return out
}
