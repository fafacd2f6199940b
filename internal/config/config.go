package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultServerAddr   = "localhost:8000"
	defaultDSN          = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
	defaultWriteTimeout = 5 * time.Second
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	LogEnv         string
	LogLevel       string
	RedisAddr      string
	Migrate        bool
	// WriteTimeout bounds a single persistence write made by the signaling core.
	WriteTimeout time.Duration
}

// Params is the raw, unvalidated configuration as read from flags or a YAML file.
type Params struct {
	ServerAddr     string   `yaml:"addr"`
	DatabaseDSN    string   `yaml:"dsn"`
	SigningKey     string   `yaml:"signing_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogEnv         string   `yaml:"log_env"`
	LogLevel       string   `yaml:"log_level"`
	RedisAddr      string   `yaml:"redis_addr"`
	Migrate        bool     `yaml:"migrate"`
	WriteTimeout   string   `yaml:"write_timeout"`
}

func DefaultParams() Params {
	return Params{
		ServerAddr:   defaultServerAddr,
		DatabaseDSN:  defaultDSN,
		LogEnv:       "dev",
		LogLevel:     "info",
		WriteTimeout: defaultWriteTimeout.String(),
	}
}

func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("read config file: %w", err)
	}

	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("parse config file: %w", err)
	}

	return p, nil
}

// Override returns p with every non-zero field of o applied on top.
func (p Params) Override(o Params) Params {
	if o.ServerAddr != "" {
		p.ServerAddr = o.ServerAddr
	}
	if o.DatabaseDSN != "" {
		p.DatabaseDSN = o.DatabaseDSN
	}
	if o.SigningKey != "" {
		p.SigningKey = o.SigningKey
	}
	if len(o.AllowedOrigins) > 0 {
		p.AllowedOrigins = o.AllowedOrigins
	}
	if o.LogEnv != "" {
		p.LogEnv = o.LogEnv
	}
	if o.LogLevel != "" {
		p.LogLevel = o.LogLevel
	}
	if o.RedisAddr != "" {
		p.RedisAddr = o.RedisAddr
	}
	if o.Migrate {
		p.Migrate = true
	}
	if o.WriteTimeout != "" {
		p.WriteTimeout = o.WriteTimeout
	}
	return p
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

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if p.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if p.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(p.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	writeTimeout := defaultWriteTimeout
	if p.WriteTimeout != "" {
		writeTimeout, err = time.ParseDuration(p.WriteTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse write timeout: %w", err)
		}
		if writeTimeout <= 0 {
			return nil, fmt.Errorf("write timeout must be positive")
		}
	}

	return &Config{
		DatabaseDSN:    p.DatabaseDSN,
		ServerAddr:     p.ServerAddr,
		SigningKey:     signingKey,
		AllowedOrigins: p.AllowedOrigins,
		LogEnv:         p.LogEnv,
		LogLevel:       p.LogLevel,
		RedisAddr:      p.RedisAddr,
		Migrate:        p.Migrate,
		WriteTimeout:   writeTimeout,
	}, nil
}
