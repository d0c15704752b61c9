package global

import (
	"crypto/ed25519"
	"os"

	"github.com/go-redis/redis_rate/v10"
	"gopkg.in/yaml.v2"
)

// Conf global config
var Conf Config

// Public and Private signing key of the server (loaded from serverKeysPath in conf.yaml).
// Used only for issuing and verifying session tokens, never for message content.
var ServerPublicKey ed25519.PublicKey
var ServerPrivateKey ed25519.PrivateKey
var ServerKeysCreated int64

// Global rate limiter
var RateLimiter *redis_rate.Limiter

type Config struct {
	Version    string           `yaml:"version"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	Scheme     string           `yaml:"scheme"`
	Mode       string           `yaml:"mode"` // debug or release
	CouchDB    CouchDBConfig    `yaml:"couchdb"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      Queue            `yaml:"queue"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Cryptalk   CryptalkConfig   `yaml:"cryptalk"`
}

type CouchDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Scheme   string `yaml:"scheme"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type CryptalkConfig struct {
	ServerKeysPath     string `yaml:"serverKeysPath"`     // ed25519 signing keys for session tokens
	TokenExpiryHours   int    `yaml:"tokenExpiryHours"`   // session token lifetime (default 720)
	NonceExpiryMinutes int    `yaml:"nonceExpiryMinutes"` // login challenge lifetime (default 5)
}

type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
}

type Queue struct {
	Concurrency int `yaml:"concurrency"`
}

// LoadConfig reads a yaml configuration file into cfg
func LoadConfig(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(content, cfg)
}
