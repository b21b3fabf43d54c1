package svcconfig

import (
	"io/ioutil"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sisatech/toml"
)

// ClientConfig is the fsclient dotfile, ~/.drumfs/client.toml.
type ClientConfig struct {
	Server   string `toml:"server"`
	Username string `toml:"username"`
}

func clientDefaults() ClientConfig {
	return ClientConfig{Server: "127.0.0.1:9002", Username: "root"}
}

func clientConfigPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".drumfs", "client.toml"), nil
}

// LoadClientConfig reads the client dotfile, returning built-in
// defaults if it does not exist.
func LoadClientConfig() (*ClientConfig, error) {
	cfg := clientDefaults()

	path, err := clientConfigPath()
	if err != nil {
		return &cfg, nil
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveClientConfig writes cfg to the client dotfile, creating its
// parent directory if necessary.
func SaveClientConfig(cfg *ClientConfig) error {
	path, err := clientConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return err
	}

	data, err := toml.Marshal(*cfg)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, data, 0o644)
}
