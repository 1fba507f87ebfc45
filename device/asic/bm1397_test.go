package asic

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestBM1397Defaults(t *testing.T) {
	bm := NewBM1397()
	if bm.ChipID() != 0x1397 {
		t.Fatalf("chip id %#x", bm.ChipID())
	}
	if bm.CoreCount() != 168 || bm.SmallCoreCount() != 672 || bm.SmallCoresPerCore() != 4 {
		t.Fatalf("geometry %d/%d/%d", bm.CoreCount(), bm.SmallCoreCount(), bm.SmallCoresPerCore())
	}
	if bm.DomainCount() != 4 || bm.PllCount() != 4 {
		t.Fatalf("domains %d plls %d", bm.DomainCount(), bm.PllCount())
	}
	if bm.Pll(0).Parameter() != 0xC0600161 || bm.Pll(0).Divider() != 0x03040607 {
		t.Fatalf("pll0 %#08x/%#08x", bm.Pll(0).Parameter(), bm.Pll(0).Divider())
	}
	if bm.Pll(3).Parameter() != 0x00700111 || bm.Pll(3).Divider() != 0x03040506 {
		t.Fatalf("pll3 %#08x/%#08x", bm.Pll(3).Parameter(), bm.Pll(3).Divider())
	}
}

func TestBM1397Decode(t *testing.T) {
	bm := NewBM1397()
	// 8 core bits on this generation
	if got := bm.CoreID(0x12345678); got != 0x12 {
		t.Errorf("core id %#x, want 0x12", got)
	}
	if got := bm.SmallCoreID(0x12345678); got != 0 {
		t.Errorf("small core id %d, want 0", got)
	}
	for want := 0; want < 4; want++ {
		nonce := 0x12045678 + uint32(want)<<22
		if got := bm.SmallCoreID(nonce); got != want {
			t.Errorf("small core of %#08x: %d, want %d", nonce, got, want)
		}
	}
	// no version rolling in this silicon, ever
	if bm.VersionRollingEnabled() || bm.VersionMask() != 0 {
		t.Fatal("rolling reported on a non rolling generation")
	}
	if got := bm.VersionSmallCoreID(0x1FFFE000); got != 0 {
		t.Errorf("version small core %d, want 0", got)
	}
	if bm.RollingDuration() <= 0 {
		t.Fatal("rolling duration not positive")
	}
}

func TestBM1397SequencesNotSupported(t *testing.T) {
	bm := NewBM1397()
	if _, err := bm.Initialize(256, 1, 1, 1); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Initialize: err %v, want ErrNotSupported", err)
	}
	if _, err := bm.SetBaudRate(3125000, 1, 1, 1); !errors.Is(err, ErrNotSupported) {
		t.Errorf("SetBaudRate: err %v, want ErrNotSupported", err)
	}
	if _, err := bm.ResetCore(OneChip(0)); !errors.Is(err, ErrNotSupported) {
		t.Errorf("ResetCore: err %v, want ErrNotSupported", err)
	}
	if _, err := bm.RampHashFrequency(75 * physic.MegaHertz); !errors.Is(err, ErrNotSupported) {
		t.Errorf("RampHashFrequency: err %v, want ErrNotSupported", err)
	}
	if _, err := bm.EnableVersionRolling(0x1FFFE000, 1, 1, 1); !errors.Is(err, ErrNotSupported) {
		t.Errorf("EnableVersionRolling: err %v, want ErrNotSupported", err)
	}
	if _, err := bm.PostResetConditioning(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("PostResetConditioning: err %v, want ErrNotSupported", err)
	}
}

func TestNewChip(t *testing.T) {
	for _, name := range []string{"BM1366", "BM1370", "BM1397"} {
		c, err := NewChip(name)
		if err != nil {
			t.Fatalf("NewChip(%s): %v", name, err)
		}
		if c == nil {
			t.Fatalf("NewChip(%s): nil chip", name)
		}
	}
	if _, err := NewChip("BM1380"); !errors.Is(err, ErrUnknownChip) {
		t.Fatalf("unknown model: err %v, want ErrUnknownChip", err)
	}
}
