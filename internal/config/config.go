package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Mock   MockConfig   `yaml:"mock"`
}

type ServerConfig struct {
	Port           int             `yaml:"port"`
	Host           string          `yaml:"host"`
	Users          map[string]User `yaml:"users"` // keyed by token
	AllowedOrigins []string        `yaml:"allowed_origins"`
}

// User is an account known to the dev server.
type User struct {
	ID     int64  `yaml:"id"`
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar"`
}

type ClientConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Token            string        `yaml:"token"`
	RetryBudget      int           `yaml:"retry_budget"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	ProbePayload     string        `yaml:"probe_payload"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

type MockConfig struct {
	Interval    time.Duration `yaml:"interval"`
	AnswerDelay time.Duration `yaml:"answer_delay"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
			Users: map[string]User{
				"dev-token-alice": {ID: 1, Name: "alice"},
				"dev-token-bob":   {ID: 2, Name: "bob"},
			},
		},
		Client: ClientConfig{
			BaseURL:          "http://127.0.0.1:8080/api",
			Token:            "dev-token-alice",
			RetryBudget:      5,
			RetryDelay:       3 * time.Second,
			ProbeInterval:    30 * time.Second,
			ProbePayload:     "ping",
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			RequestTimeout:   10 * time.Second,
		},
		Mock: MockConfig{
			Interval:    4 * time.Second,
			AnswerDelay: 60 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults. A missing file at DefaultPath is not an
// error; any other missing file is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate rejects values the client and server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Client.RetryBudget < 0 {
		return errors.Errorf("client.retry_budget must not be negative, got %d", c.Client.RetryBudget)
	}
	durations := map[string]time.Duration{
		"client.retry_delay":       c.Client.RetryDelay,
		"client.probe_interval":    c.Client.ProbeInterval,
		"client.write_timeout":     c.Client.WriteTimeout,
		"client.handshake_timeout": c.Client.HandshakeTimeout,
		"client.request_timeout":   c.Client.RequestTimeout,
		"mock.interval":            c.Mock.Interval,
	}
	for name, d := range durations {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Mock.AnswerDelay < 0 {
		return errors.Errorf("mock.answer_delay must not be negative, got %s", c.Mock.AnswerDelay)
	}
	if _, err := c.Client.WebsocketURL(); err != nil {
		return err
	}
	return nil
}

// WebsocketURL derives the notification push endpoint from BaseURL:
// http becomes ws, https becomes wss, and /ws/notification is appended.
func (c ClientConfig) WebsocketURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", errors.Wrap(err, "client.base_url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("client.base_url must be http or https, got %q", c.BaseURL)
	}
	if u.Host == "" {
		return "", errors.Errorf("client.base_url has no host: %q", c.BaseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/notification"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// UserByToken looks up the dev server account for token.
func (s ServerConfig) UserByToken(token string) (User, bool) {
	if token == "" {
		return User{}, false
	}
	u, ok := s.Users[token]
	return u, ok
}
