package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/modelvc/internal/db"
	"github.com/rpattn/modelvc/internal/domain"
	"github.com/spf13/viper"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

// Config is the full runtime configuration.
type Config struct {
	Database db.Config
	Store    StoreConfig
	Log      LogConfig
	// AllowedActions receive AllRoles on new entities; the rest are Disabled.
	AllowedActions []domain.EntityAction
	// File is the config file that was read, empty when none was found.
	File string
}

type StoreConfig struct {
	Driver string
}

type LogConfig struct {
	Level       string
	Development bool
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Database:       db.DefaultConfig(),
		Store:          StoreConfig{Driver: StoreDriverPostgres},
		Log:            LogConfig{Level: "info"},
		AllowedActions: domain.EntityActions(),
	}
}

// Load reads config.yaml from configPath (optional) and applies MODELVC_*
// environment overrides, e.g. MODELVC_DATABASE_HOST or MODELVC_STORE_DRIVER.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("MODELVC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"database.host", "database.port", "database.user", "database.password",
		"database.dbname", "database.sslmode",
		"store.driver", "log.level", "log.development", "permissions.allowed_actions",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("store.driver") {
		cfg.Store.Driver = strings.ToLower(v.GetString("store.driver"))
	}
	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.development") {
		cfg.Log.Development = v.GetBool("log.development")
	}
	if v.IsSet("permissions.allowed_actions") {
		actions, err := parseActions(v.GetStringSlice("permissions.allowed_actions"))
		if err != nil {
			return Config{}, err
		}
		cfg.AllowedActions = actions
	}

	switch cfg.Store.Driver {
	case StoreDriverMemory, StoreDriverPostgres:
	default:
		return Config{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	return cfg, nil
}

func parseActions(values []string) ([]domain.EntityAction, error) {
	actions := make([]domain.EntityAction, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			action := domain.EntityAction(part)
			if !action.IsValid() {
				return nil, fmt.Errorf("unknown entity action %q in permissions.allowed_actions", part)
			}
			actions = append(actions, action)
		}
	}
	return actions, nil
}
