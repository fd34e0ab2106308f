package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"
)

const DefaultTokenExpiration = 24 * time.Hour

type Config struct {
	DatabaseDSN     string
	ServerAddr      string
	SigningKey      []byte
	AllowedOrigins  []string
	RedisURL        string
	TokenExpiration time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}

	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret, redisURL string, allowedOrigins []string, tokenExpiration time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if redisURL != "" {
		if _, err := url.Parse(redisURL); err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	}

	if tokenExpiration < 0 {
		return nil, fmt.Errorf("token expiration cannot be negative")
	}
	if tokenExpiration == 0 {
		tokenExpiration = DefaultTokenExpiration
	}

	return &Config{
		DatabaseDSN:     databaseDSN,
		ServerAddr:      serverAddr,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		RedisURL:        redisURL,
		TokenExpiration: tokenExpiration,
	}, nil
}
