package asic

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestBM1366Defaults(t *testing.T) {
	bm := NewBM1366()
	if bm.ChipID() != 0x1366 {
		t.Fatalf("chip id %#x", bm.ChipID())
	}
	if bm.CoreCount() != 112 || bm.SmallCoreCount() != 894 || bm.SmallCoresPerCore() != 8 {
		t.Fatalf("geometry %d/%d/%d", bm.CoreCount(), bm.SmallCoreCount(), bm.SmallCoresPerCore())
	}
	if bm.DomainCount() != 1 || bm.PllCount() != 2 {
		t.Fatalf("domains %d plls %d", bm.DomainCount(), bm.PllCount())
	}
	if got := bm.HashFrequency(); got != 50*physic.MegaHertz {
		t.Fatalf("power-on hash frequency %s", got)
	}
	if bm.Pll(1).Parameter() != 0x20500174 {
		t.Fatalf("pll1 word %#08x", bm.Pll(1).Parameter())
	}
}

func TestBM1366Decode(t *testing.T) {
	bm := NewBM1366()
	if got := bm.CoreID(0x12345678); got != 9 {
		t.Errorf("core id %d, want 9", got)
	}
	if got := bm.ChipAddress(0x12345678); got != 0xD1 {
		t.Errorf("chip address %#x, want 0xd1", got)
	}
	for want := 0; want < 8; want++ {
		nonce := 0x12045678 + uint32(want)<<22
		if got := bm.SmallCoreID(nonce); got != want {
			t.Errorf("small core of %#08x: %d, want %d", nonce, got, want)
		}
	}
	if bm.VersionRollingEnabled() {
		t.Fatal("rolling enabled at power-on")
	}

	// firmware owned bring-up reports rolling after the fact
	bm.SetVersionRolling(0x1FFFE000)
	if !bm.VersionRollingEnabled() || bm.VersionMask() != 0x1FFFE000 {
		t.Fatalf("rolling=%v mask=%#08x", bm.VersionRollingEnabled(), bm.VersionMask())
	}
	if got := bm.ChipAddress(0x12345679); got != 0x1A {
		t.Errorf("rolled chip address %#x, want 0x1a", got)
	}
	if got := bm.VersionSmallCoreID(0x1FFFE000); got != 7 {
		t.Errorf("version small core %d, want 7", got)
	}
	if bm.RollingDuration() <= 0 {
		t.Fatal("rolling duration not positive")
	}
}

func TestBM1366SequencesNotSupported(t *testing.T) {
	bm := NewBM1366()
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
