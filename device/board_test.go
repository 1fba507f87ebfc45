package device

import (
	"errors"
	"testing"

	"chainctl/config"
	"chainctl/device/asic"
)

func chainCfg() config.ChainConfig {
	return config.ChainConfig{
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

func TestNewHashBoard(t *testing.T) {
	hb, err := NewHashBoard(1, "/dev/null", chainCfg())
	if err != nil {
		t.Fatalf("NewHashBoard: %v", err)
	}
	if got := hb.Topology().Chips(); got != 91 {
		t.Errorf("chips = %d, want 91", got)
	}
}

func TestNewHashBoardUnknownChip(t *testing.T) {
	cfg := chainCfg()
	cfg.Chip = "BM9999"
	if _, err := NewHashBoard(1, "/dev/null", cfg); !errors.Is(err, asic.ErrUnknownChip) {
		t.Errorf("err = %v, want ErrUnknownChip", err)
	}
}

func TestNewHashBoardAddrIntervalFill(t *testing.T) {
	cfg := chainCfg()
	cfg.AddrInterval = 0
	hb, err := NewHashBoard(1, "/dev/null", cfg)
	if err != nil {
		t.Fatalf("NewHashBoard: %v", err)
	}
	// 256/91 = 2
	if got := hb.Topology().AddrInterval; got != 2 {
		t.Errorf("interval = %d, want 2", got)
	}
}

func TestNewHashBoardBadTopology(t *testing.T) {
	cfg := chainCfg()
	cfg.AddrInterval = 3 // 90*3 > 255
	if _, err := NewHashBoard(1, "/dev/null", cfg); !errors.Is(err, asic.ErrBadTopology) {
		t.Errorf("err = %v, want ErrBadTopology", err)
	}
}

func TestDecodeOnlyBoardInitialize(t *testing.T) {
	cfg := chainCfg()
	cfg.Chip = "BM1397"
	cfg.Domains = 4
	cfg.ChipsPerDomain = 16
	cfg.AddrInterval = 4
	cfg.VersionRolling = false
	hb, err := NewHashBoard(1, "/dev/null", cfg)
	if err != nil {
		t.Fatalf("NewHashBoard: %v", err)
	}
	if _, err := hb.initializeSteps(); !errors.Is(err, asic.ErrNotSupported) {
		t.Errorf("initializeSteps err = %v, want ErrNotSupported", err)
	}
}

func TestPollNonceClosedBoard(t *testing.T) {
	hb, err := NewHashBoard(1, "/dev/null", chainCfg())
	if err != nil {
		t.Fatal(err)
	}
	if hit := hb.PollNonce(); hit != nil {
		t.Errorf("PollNonce on unopened board = %+v", hit)
	}
}
