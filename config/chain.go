package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"chainctl/log"
)

// ChainConfig describes the chips on one chain. Every board in the
// chassis runs the same profile.
type ChainConfig struct {
	Chip           string  `yaml:"chip"`
	Domains        uint8   `yaml:"domains"`
	ChipsPerDomain uint8   `yaml:"chips_per_domain"`
	AddrInterval   uint16  `yaml:"addr_interval"`
	Baud           uint32  `yaml:"baud"`
	FrequencyMHz   float64 `yaml:"frequency_mhz"`
	Difficulty     uint32  `yaml:"difficulty"`
	VersionRolling bool    `yaml:"version_rolling"`
	VersionMask    uint32  `yaml:"version_mask"`
}

// BM1370 full chain as shipped. Used when no profile file exists so a
// bench board comes up without any provisioning.
func defaultChain() *ChainConfig {
	return &ChainConfig{
		Chip:           "BM1370",
		Domains:        13,
		ChipsPerDomain: 7,
		AddrInterval:   2,
		Baud:           1000000,
		FrequencyMHz:   525,
		Difficulty:     256,
		VersionRolling: true,
		VersionMask:    0x1FFFE000,
	}
}

func LoadChainConfig(fileName string) (*ChainConfig, error) {
	cfg := defaultChain()

	if fileName == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(fileName)
	if err != nil {
		log.Infof("Chain profile %s not found, using %s defaults", fileName, cfg.Chip)
		return cfg, nil
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse chain profile %s: %w", fileName, err)
	}

	if err = cfg.Check(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Check rejects profiles the sequencer could not drive.
func (my *ChainConfig) Check() error {
	if my.Chip == "" {
		return fmt.Errorf("chain profile has no chip model")
	}
	if my.Domains == 0 || my.ChipsPerDomain == 0 {
		return fmt.Errorf("chain profile has empty topology %dx%d", my.Domains, my.ChipsPerDomain)
	}
	chips := int(my.Domains) * int(my.ChipsPerDomain)
	if my.AddrInterval == 0 {
		return fmt.Errorf("chain profile has zero address interval for %d chips", chips)
	}
	if (chips-1)*int(my.AddrInterval) > 0xFF {
		return fmt.Errorf("address interval %d overflows the bus with %d chips", my.AddrInterval, chips)
	}
	if my.VersionRolling && my.VersionMask == 0 {
		return fmt.Errorf("version rolling needs a nonzero mask")
	}
	return nil
}
