package config

import (
	"encoding/json"
	"os"

	"chainctl/log"
)

const (
	DefaultConfigFile = "/etc/chainctl/chainctl.json"
	DefaultChainFile  = "/etc/chainctl/chain.yaml"
	DefaultAPIListen  = "127.0.0.1:4028"
)

// Config is the daemon level configuration. Chain parameters live in
// their own YAML profile so factory tooling can swap them without
// touching the daemon settings.
type Config struct {
	APIListen  string `json:"api_listen"`
	Debug      bool   `json:"debug"`
	ChassisDir string `json:"chassis_dir"`
	ChainFile  string `json:"chain_file"`

	Chain ChainConfig `json:"-"`
}

func defaults() *Config {
	return &Config{
		APIListen: DefaultAPIListen,
		ChainFile: DefaultChainFile,
	}
}

// Load reads the daemon config and the chain profile it points at.
// A missing daemon config is not an error, the defaults stand.
func Load(fileName string) (*Config, error) {
	cfg := defaults()

	if fileName == "" {
		fileName = DefaultConfigFile
	}

	data, err := os.ReadFile(fileName)
	if err == nil {
		if err = json.Unmarshal(data, cfg); err != nil {
			log.Errorf("Cannot parse config %s: %s", fileName, err)
			return nil, err
		}
	} else {
		log.Infof("Config %s not found, using defaults", fileName)
	}

	chain, err := LoadChainConfig(cfg.ChainFile)
	if err != nil {
		return nil, err
	}
	cfg.Chain = *chain

	return cfg, nil
}
