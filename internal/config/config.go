// Package config reads the settings of the egdoc binaries from the
// environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/kevinxiao27/egdoc/internal/store"
	"github.com/kevinxiao27/egdoc/types"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

type Config struct {
	Addr          string `env:"EGDOC_ADDR"            envDefault:":8080"`
	StorePath     string `env:"EGDOC_STORE_PATH"      envDefault:"egdoc-data"`
	StoreInMemory bool   `env:"EGDOC_STORE_IN_MEMORY"`
	SyncWrites    bool   `env:"EGDOC_SYNC_WRITES"     envDefault:"true"`

	// Actor is a hex actor id. Empty means a fresh actor per process.
	Actor string `env:"EGDOC_ACTOR"`
}

func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Store returns the change store settings.
func (c Config) Store() store.Config {
	if c.StoreInMemory {
		return store.InMemoryConfig()
	}
	cfg := store.DefaultConfig()
	cfg.Path = c.StorePath
	cfg.SyncWrites = c.SyncWrites
	return cfg
}

// ActorId parses Actor, or generates an actor when it is empty.
func (c Config) ActorId() (types.ActorId, error) {
	if c.Actor == "" {
		return types.NewActorId(), nil
	}
	a, err := types.ParseActorId(c.Actor)
	if err != nil {
		return types.ActorId{}, fmt.Errorf("EGDOC_ACTOR: %w", err)
	}
	return a, nil
}
