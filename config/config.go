// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/shardexport/internal/export"
	"github.com/cardinalhq/shardexport/internal/objstore"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Source SourceConfig    `mapstructure:"source"`
	Export export.Config   `mapstructure:"export"`
	Upload objstore.Config `mapstructure:"upload"`
}

// SourceConfig locates the database the shards are read from.
type SourceConfig struct {
	// Driver is a database/sql driver name: mysql, pgx or sqlite.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Schema string `mapstructure:"schema"`
	// EnvPrefix names the PREFIX_HOST, PREFIX_USER, ... variables used to
	// build a DSN when none is configured.
	EnvPrefix string `mapstructure:"env_prefix"`
}

func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{Driver: "mysql", EnvPrefix: "SHARDEXPORT_SOURCE"},
		Export: export.DefaultConfig(),
		Upload: objstore.DefaultConfig(),
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "SHARDEXPORT" and the dot character
// in keys is replaced by an underscore. For example, "export.order_by" becomes
// "SHARDEXPORT_EXPORT_ORDER_BY". When file is empty, shardexport.yaml in the
// working directory is read if present.
func Load(file string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("shardexport")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("SHARDEXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.Export.Schema == "" {
		cfg.Export.Schema = cfg.Source.Schema
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	return errors.Join(c.Export.Validate(), c.Upload.Validate())
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
