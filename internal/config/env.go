package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable datakit reads.
const EnvPrefix = "DATAKIT"

// Keys shared by flags, environment variables and Override.
const (
	KeyConfig      = "config"
	KeyDataDir     = "data-dir"
	KeyDriver      = "driver"
	KeyBusyTimeout = "busy-timeout-ms"
	KeyJournalMode = "journal-mode"
)

// LoadDotEnv loads .env style files into the process environment. Missing
// files are skipped and variables already set win.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}
	return nil
}

// NewViper returns a viper instance reading DATAKIT_* variables, so that
// DATAKIT_DATA_DIR backs the data-dir key.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Override applies the keys set in v, from bound flags or the environment,
// on top of c.
func (c *Config) Override(v *viper.Viper) {
	if s := v.GetString(KeyDataDir); v.IsSet(KeyDataDir) && s != "" {
		c.DataDir = s
	}
	if s := v.GetString(KeyDriver); v.IsSet(KeyDriver) && s != "" {
		c.Driver = s
	}
	if v.IsSet(KeyBusyTimeout) {
		c.BusyTimeoutMS = v.GetInt(KeyBusyTimeout)
	}
	if s := v.GetString(KeyJournalMode); v.IsSet(KeyJournalMode) && s != "" {
		c.JournalMode = strings.ToUpper(s)
	}
}
