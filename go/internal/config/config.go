package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/potgame/go/internal/models"
)

const (
	DefaultPath = "potgame.yaml"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	LedgerMemory = "memory"
	LedgerHTTP   = "http"
)

// Config is the server configuration. Values come from an optional YAML file and are
// then overridden by environment variables.
type Config struct {
	Game struct {
		ID               string         `yaml:"id"`
		BeneficiaryToken models.Token   `yaml:"beneficiary_token"`
		EscrowAccount    models.Account `yaml:"escrow_account"`
	} `yaml:"game"`

	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`

	Ledger struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`

		// Seed balances minted into the in-memory ledger at startup
		Balances map[models.Account]models.Amount `yaml:"balances"`
	} `yaml:"ledger"`

	Server struct {
		Port        string `yaml:"port"`
		MailboxSize int    `yaml:"mailbox_size"`

		// Purchases per second per account; 0 disables the limit
		BuyRateLimit float64 `yaml:"buy_rate_limit"`
		BuyRateBurst int     `yaml:"buy_rate_burst"`
	} `yaml:"server"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"nats"`

	Outbox struct {
		// EmbeddedRelay runs the outbox relay inside the server. Turn it off when a
		// separate relay worker publishes the Postgres outbox to NATS.
		EmbeddedRelay bool `yaml:"embedded_relay"`
	} `yaml:"outbox"`

	Gateway struct {
		TickInterval time.Duration `yaml:"tick_interval"`
	} `yaml:"gateway"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	var c Config
	c.Game.BeneficiaryToken = "VARA"
	c.Game.EscrowAccount = "potgame-escrow"
	c.Storage.Driver = StorageMemory
	c.Ledger.Driver = LedgerMemory
	c.Server.Port = "8080"
	c.Server.BuyRateBurst = 1
	c.Server.MailboxSize = 64
	c.NATS.URL = "nats://localhost:4222"
	c.Outbox.EmbeddedRelay = true
	c.Gateway.TickInterval = time.Second
	c.LogLevel = "info"
	return &c
}

// Load reads path if it exists, then applies environment overrides and validates the result
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	c.Game.ID = getEnv("GAME_ID", c.Game.ID)
	c.Game.BeneficiaryToken = models.Token(getEnv("GAME_TOKEN", string(c.Game.BeneficiaryToken)))
	c.Game.EscrowAccount = models.Account(getEnv("GAME_ESCROW_ACCOUNT", string(c.Game.EscrowAccount)))
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Ledger.Driver = getEnv("LEDGER_DRIVER", c.Ledger.Driver)
	c.Ledger.URL = getEnv("LEDGER_URL", c.Ledger.URL)
	c.Ledger.APIKey = getEnv("LEDGER_API_KEY", c.Ledger.APIKey)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("NATS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid NATS_ENABLED: %w", err)
		}
		c.NATS.Enabled = b
	}
	if v := os.Getenv("OUTBOX_EMBEDDED_RELAY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid OUTBOX_EMBEDDED_RELAY: %w", err)
		}
		c.Outbox.EmbeddedRelay = b
	}
	if v := os.Getenv("GATEWAY_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GATEWAY_TICK_INTERVAL: %w", err)
		}
		c.Gateway.TickInterval = d
	}
	if v := os.Getenv("BUY_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid BUY_RATE_LIMIT: %w", err)
		}
		c.Server.BuyRateLimit = f
	}
	return nil
}

// Validate checks the fields the server cannot start without
func (c *Config) Validate() error {
	if c.Game.BeneficiaryToken == "" {
		return errors.New("game.beneficiary_token is required")
	}
	if c.Game.EscrowAccount == models.NoAccount {
		return errors.New("game.escrow_account is required")
	}
	if _, err := c.GameID(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Ledger.Driver {
	case LedgerMemory:
	case LedgerHTTP:
		if c.Ledger.URL == "" {
			return errors.New("ledger.url is required for the http ledger")
		}
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	if !c.Outbox.EmbeddedRelay && (c.Storage.Driver != StoragePostgres || !c.NATS.Enabled) {
		return errors.New("an external outbox relay needs postgres storage and NATS")
	}
	if c.Gateway.TickInterval <= 0 {
		return errors.New("gateway.tick_interval must be positive")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// GameID returns the configured game ID. An unset ID is derived from the token and escrow
// account so restarts find the same game.
func (c *Config) GameID() (uuid.UUID, error) {
	if c.Game.ID == "" {
		name := string(c.Game.BeneficiaryToken) + "/" + string(c.Game.EscrowAccount)
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte("potgame:"+name)), nil
	}
	id, err := uuid.Parse(c.Game.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid game.id: %w", err)
	}
	return id, nil
}

// Level returns the configured log level
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
