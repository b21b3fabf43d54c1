// Package svcconfig loads disksrv/fssrv/fsclient configuration: a
// viper-backed server config (TOML, with flag overrides merged over
// file config over built-in defaults) and a plain TOML dotfile for
// the client, both anchored under the user's home directory — the
// same load-or-default shape as pkg/vconvert's viper config and
// cmd/vorteil's conf.toml dotfile.
package svcconfig

import (
	"fmt"
	"path/filepath"

	"github.com/imdario/mergo"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// ServerConfig configures disksrv and fssrv.
type ServerConfig struct {
	DiskHost      string `mapstructure:"disk_host"`
	DiskPort      int    `mapstructure:"disk_port"`
	FSPort        int    `mapstructure:"fs_port"`
	DiskImage     string `mapstructure:"disk_image"`
	Cylinders     int    `mapstructure:"cylinders"`
	Sectors       int    `mapstructure:"sectors"`
	CacheCap      int    `mapstructure:"cache_cap"`
	FlushInterval int    `mapstructure:"flush_interval"`
}

func serverDefaults() ServerConfig {
	return ServerConfig{
		DiskHost:      "127.0.0.1",
		DiskPort:      9001,
		FSPort:        9002,
		DiskImage:     "drumfs.img",
		Cylinders:     64,
		Sectors:       64,
		CacheCap:      256,
		FlushInterval: 16,
	}
}

// LoadServerConfig reads server.toml from configDir (defaulting to
// ~/.drumfs when empty), falling back to built-in defaults when the
// file is absent, then merges overrides on top — the zero value of
// each override field means "caller didn't set this flag".
func LoadServerConfig(configDir string, overrides ServerConfig) (*ServerConfig, error) {
	cfg := serverDefaults()

	if configDir == "" {
		if home, err := homedir.Dir(); err == nil {
			configDir = filepath.Join(home, ".drumfs")
		}
	}

	v := viper.New()
	v.SetConfigName("server")
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	if err := v.ReadInConfig(); err == nil {
		var fileCfg ServerConfig
		if err := v.Unmarshal(&fileCfg); err != nil {
			return nil, fmt.Errorf("svcconfig: parsing server config: %w", err)
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, err
		}
	}

	if err := mergo.Merge(&cfg, overrides, mergo.WithOverride); err != nil {
		return nil, err
	}
	return &cfg, nil
}
