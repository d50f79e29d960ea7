/*
Package config loads the configuration of the item service.

The configuration is assembled in layers, later layers win:

 1. the preset of the service mode, selected with SERVICE_MODE
    (Development, Production or Testing; default Development)
 2. the YAML file named by SERVICE_CONFIG, if set
 3. environment variables, which may come from .env files

Environment files are loaded before anything else: ENV_FILE if set, otherwise
.env.local and .env from the working directory. Variables which are already
set in the environment are not overwritten by the files.

Example SERVICE_CONFIG file:

	DATABASE_URI: postgres://items@localhost/items?sslmode=disable
	DOMAIN_MODEL: s3://models/item.yaml
	SERVER_PORT: 9000
*/
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode is the service mode
type Mode string

// the available service modes
const (
	Development Mode = "Development"
	Production  Mode = "Production"
	Testing     Mode = "Testing"
)

// the available server backends
const (
	ServerHTTP   = "http"
	ServerLambda = "lambda"
)

// Config holds the configuration of the service
type Config struct {
	Mode           Mode   `yaml:"-"`
	DatabaseURI    string `yaml:"DATABASE_URI" env:"DATABASE_URI" description:"database uri, postgres://... or sqlite://..."`
	DatabaseDriver string `yaml:"DATABASE_DRIVER" env:"DATABASE_DRIVER" description:"postgres, pgx or sqlite, detected from the uri if empty"`
	DatabaseSchema string `yaml:"DATABASE_SCHEMA" env:"DATABASE_SCHEMA" description:"postgres schema of the item table"`
	DomainModel    string `yaml:"DOMAIN_MODEL" env:"DOMAIN_MODEL" description:"path or s3:// location of the domain model"`
	APIConfig      string `yaml:"API_CONFIG" env:"API_CONFIG" description:"path or s3:// location of the base API description"`
	ServerPort     int    `yaml:"SERVER_PORT" env:"SERVER_PORT,strict" description:"port of the http server"`
	Server         string `yaml:"SERVER" env:"SERVER" description:"http or lambda"`
	Debug          bool   `yaml:"DEBUG" env:"DEBUG,strict" description:"enables debug logging"`
	KafkaBrokers   string `yaml:"KAFKA_BROKERS" env:"KAFKA_BROKERS" description:"comma separated kafka brokers, no notifications if empty"`
	KafkaTopic     string `yaml:"KAFKA_TOPIC" env:"KAFKA_TOPIC" description:"kafka topic for change notifications"`
	AWSRegion      string `yaml:"AWS_REGION" env:"AWS_REGION" description:"region for s3:// locations"`
}

var presets = map[Mode]Config{
	Development: {
		DatabaseURI: "sqlite://items.db",
		ServerPort:  8080,
		Server:      ServerHTTP,
		Debug:       true,
		KafkaTopic:  "item-changes",
	},
	Production: {
		ServerPort: 8080,
		Server:     ServerHTTP,
		KafkaTopic: "item-changes",
	},
	Testing: {
		DatabaseURI: "sqlite://file::memory:?cache=shared",
		ServerPort:  8081,
		Server:      ServerHTTP,
		Debug:       true,
		KafkaTopic:  "item-changes-test",
	},
}

// Load loads the configuration
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	mode := Mode(os.Getenv("SERVICE_MODE"))
	if mode == "" {
		mode = Development
	}
	preset, ok := presets[mode]
	if !ok {
		return nil, fmt.Errorf("unknown SERVICE_MODE '%s'", mode)
	}
	cfg := preset
	cfg.Mode = mode

	if path := os.Getenv("SERVICE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read service config %s: %w", path, err)
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse service config %s: %w", path, err)
		}
	}

	err := envdecode.Decode(&cfg)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Server {
	case ServerHTTP, ServerLambda:
	default:
		return fmt.Errorf("unknown SERVER '%s', must be %s or %s", c.Server, ServerHTTP, ServerLambda)
	}
	if c.Server == ServerHTTP && (c.ServerPort <= 0 || c.ServerPort > 65535) {
		return fmt.Errorf("invalid SERVER_PORT %d", c.ServerPort)
	}
	if c.DatabaseURI == "" {
		return fmt.Errorf("DATABASE_URI is not configured")
	}
	return nil
}

// loadEnvFiles loads ENV_FILE if set, otherwise .env.local and .env. Missing files are ignored.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}
