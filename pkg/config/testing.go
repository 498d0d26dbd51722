package config

import (
	"github.com/creasty/defaults"
)

// NewForTest returns a Config with defaults applied and an in-memory
// database, suitable for unit tests. It does not read the config file or
// the environment.
func NewForTest() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(err)
	}
	cfg.DatabaseFilePath = ":memory:"
	cfg.Hostname = "test"
	return cfg
}
