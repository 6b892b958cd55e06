// Package config loads service settings from config.yaml and DATAFORGE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/rpattn/dataforge/internal/db"
	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/geo"
	"github.com/rpattn/dataforge/internal/reconcile"
)

// EnvPrefix is prepended to every environment override, e.g. DATAFORGE_SERVER_ADDR.
const EnvPrefix = "DATAFORGE"

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	db.Config `mapstructure:",squash"`
}

type ReconcileConfig struct {
	DefaultProjection string            `mapstructure:"default_projection"`
	Projections       map[string]string `mapstructure:"projections"`
	IdentifierFields  []string          `mapstructure:"identifier_fields"`
	Aliases           reconcile.Aliases `mapstructure:"aliases"`
	ConflictPolicy    string            `mapstructure:"conflict_policy"`
}

type AssistConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Assist    AssistConfig    `mapstructure:"assist"`

	// Source is the config file that was read, empty when none was found.
	Source string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("reconcile.default_projection", "")
	v.SetDefault("reconcile.projections", map[string]string{})
	v.SetDefault("reconcile.identifier_fields", reconcile.DefaultIdentifierFields)
	v.SetDefault("reconcile.conflict_policy", string(reconcile.KeepExistingOnConflict))
	aliases := reconcile.DefaultAliases()
	v.SetDefault("reconcile.aliases.latitude", aliases.Latitude)
	v.SetDefault("reconcile.aliases.longitude", aliases.Longitude)
	v.SetDefault("reconcile.aliases.easting", aliases.Easting)
	v.SetDefault("reconcile.aliases.northing", aliases.Northing)
	v.SetDefault("reconcile.aliases.group_key", aliases.GroupKey)
	v.SetDefault("reconcile.aliases.group_value", aliases.GroupValue)
	v.SetDefault("assist.api_key", "")
	v.SetDefault("assist.model", "")
}

// Load reads config.yaml from configPath when present. Environment variables
// override file values, and every key has a default.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		cfg.Source = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if _, err := reconcile.ParseConflictPolicy(cfg.Reconcile.ConflictPolicy); err != nil {
		return Config{}, err
	}
	if _, err := domain.ParseProjectionSpec(cfg.Reconcile.DefaultProjection); err != nil {
		return Config{}, fmt.Errorf("reconcile.default_projection: %w", err)
	}
	return cfg, nil
}

// EngineOptions turns the reconcile section into engine options.
func (c Config) EngineOptions(converter geo.Converter) (reconcile.Options, error) {
	table, err := geo.DefaultProjectionTable().With(c.Reconcile.Projections)
	if err != nil {
		return reconcile.Options{}, err
	}
	defaultProjection, err := domain.ParseProjectionSpec(c.Reconcile.DefaultProjection)
	if err != nil {
		return reconcile.Options{}, fmt.Errorf("reconcile.default_projection: %w", err)
	}
	policy, err := reconcile.ParseConflictPolicy(c.Reconcile.ConflictPolicy)
	if err != nil {
		return reconcile.Options{}, err
	}
	return reconcile.Options{
		Aliases:           c.Reconcile.Aliases,
		IdentifierFields:  c.Reconcile.IdentifierFields,
		Projections:       table,
		DefaultProjection: defaultProjection,
		Converter:         converter,
		ConflictPolicy:    policy,
	}, nil
}
