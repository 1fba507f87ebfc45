package asic

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
)

func frameChip(f []byte) uint8 {
	return f[4]
}

func frameReg(f []byte) uint8 {
	return f[5]
}

func frameValue(f []byte) uint32 {
	return binary.BigEndian.Uint32(f[6:10])
}

func TestBM1370Defaults(t *testing.T) {
	bm := NewBM1370()
	if bm.ChipID() != 0x1370 {
		t.Fatalf("chip id %#x", bm.ChipID())
	}
	if bm.CoreCount() != 128 || bm.SmallCoreCount() != 2040 || bm.SmallCoresPerCore() != 16 {
		t.Fatalf("geometry %d/%d/%d", bm.CoreCount(), bm.SmallCoreCount(), bm.SmallCoresPerCore())
	}
	if bm.DomainCount() != 4 || bm.PllCount() != 4 {
		t.Fatalf("domains %d plls %d", bm.DomainCount(), bm.PllCount())
	}
	if got := bm.HashFrequency(); got != 50*physic.MegaHertz {
		t.Fatalf("power-on hash frequency %s", got)
	}
	// 2040 small cores at 50 MHz
	if hr := bm.TheoreticalHashrate(); math.Abs(hr-102.0) > 1e-9 {
		t.Fatalf("theoretical hashrate %f GH/s", hr)
	}
	if bm.VersionRollingEnabled() {
		t.Fatal("rolling enabled at power-on")
	}
	if bm.VersionMask() != 0x1FFFE000 {
		t.Fatalf("default version mask %#08x", bm.VersionMask())
	}
	if got := bm.Register(ADDR_FAST_UART); got != 0x01301A00 {
		t.Fatalf("fast uart power-on %#08x", got)
	}
	if got := bm.Register(ADDR_MISC_CONTROL); got != 0x0000C100 {
		t.Fatalf("misc power-on %#08x", got)
	}
	if got := bm.CoreRegister(CORE_REG_CLK_DELAY_CTRL); got != 0x98 {
		t.Fatalf("clock delay power-on %#02x", got)
	}
	if got := bm.Register(ADDR_ANALOG_MUX); got != 0 {
		t.Fatalf("analog mux power-on %#08x", got)
	}
}

func TestBM1370Decode(t *testing.T) {
	bm := NewBM1370()
	if got := bm.CoreID(0x12345678); got != 9 {
		t.Errorf("core id %d, want 9", got)
	}
	if got := bm.CoreID(0x906732C8); got != 72 {
		t.Errorf("core id %d, want 72", got)
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
	tests := []struct {
		version uint32
		want    int
	}{
		{0x1FFF0000, 0},
		{0x1FFFE000, 7},
		{0x00F94000, 2},
	}
	for _, tc := range tests {
		if got := bm.VersionSmallCoreID(tc.version); got != tc.want {
			t.Errorf("version small core of %#08x: %d, want %d", tc.version, got, tc.want)
		}
	}

	// rolling moves the chip address up past the freed small core bits
	if _, err := bm.EnableVersionRolling(0x1FFFE000, 1, 1, 1); err != nil {
		t.Fatalf("enable rolling: %v", err)
	}
	if got := bm.ChipAddress(0x12345679); got != 0x1A {
		t.Errorf("rolled chip address %#x, want 0x1a", got)
	}
}

func TestBM1370RollingDuration(t *testing.T) {
	bm := NewBM1370()
	plain := bm.RollingDuration()
	if plain != 327680*time.Nanosecond {
		t.Fatalf("duration without rolling %s, want 327.68µs", plain)
	}
	if _, err := bm.EnableVersionRolling(0x1FFFE000, 1, 1, 1); err != nil {
		t.Fatalf("enable rolling: %v", err)
	}
	rolled := bm.RollingDuration()
	if rolled != 21474836480*time.Nanosecond {
		t.Fatalf("duration with rolling %s", rolled)
	}
	if rolled <= plain {
		t.Fatal("rolling must extend the work duration")
	}
}

func TestBM1370Initialize(t *testing.T) {
	bm := NewBM1370()
	steps, err := bm.Initialize(256, 13, 7, 2)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(steps) != 593 {
		t.Fatalf("%d steps, want 593", len(steps))
	}

	pinned := []struct {
		idx   int
		frame []byte
		delay time.Duration
	}{
		{0, []byte{0x55, 0xAA, 0x51, 0x09, 0x00, 0x3C, 0x80, 0x00, 0x8B, 0x00, 0x12}, 10 * time.Millisecond},
		{1, []byte{0x55, 0xAA, 0x51, 0x09, 0x00, 0x3C, 0x80, 0x00, 0x80, 0x10, 0x12}, 10 * time.Millisecond},
		{2, []byte{0x55, 0xAA, 0x51, 0x09, 0x00, 0x14, 0x00, 0x00, 0x00, 0xFF, 0x08}, 10 * time.Millisecond},
		{3, []byte{0x55, 0xAA, 0x51, 0x09, 0x00, 0x54, 0x00, 0x00, 0x00, 0x03, 0x1D}, 10 * time.Millisecond},
		{4, []byte{0x55, 0xAA, 0x51, 0x09, 0x00, 0x58, 0x00, 0x01, 0x11, 0x11, 0x0D}, 0},
		{5, []byte{0x55, 0xAA, 0x41, 0x09, 0xB4, 0x58, 0x00, 0x01, 0x31, 0x11, 0x00}, 0},
		{17, []byte{0x55, 0xAA, 0x41, 0x09, 0x0C, 0x58, 0x00, 0x01, 0x31, 0x11, 0x0E}, 0},
		{18, []byte{0x55, 0xAA, 0x51, 0x09, 0x00, 0x68, 0x5A, 0xA5, 0x5A, 0xA5, 0x1C}, 0},
		{19, []byte{0x55, 0xAA, 0x41, 0x09, 0xA8, 0x2C, 0x00, 0x15, 0x00, 0x03, 0x14}, 0},
		{20, []byte{0x55, 0xAA, 0x41, 0x09, 0xB4, 0x2C, 0x00, 0x15, 0x00, 0x03, 0x1F}, 0},
		{44, []byte{0x55, 0xAA, 0x41, 0x09, 0x0C, 0x2C, 0x00, 0x69, 0x00, 0x03, 0x05}, 0},
		{45, []byte{0x55, 0xAA, 0x51, 0x09, 0x00, 0x28, 0x01, 0x30, 0x00, 0x00, 0x1A}, 0},
		{46, []byte{0x55, 0xAA, 0x53, 0x05, 0x00, 0x00, 0x03}, 10 * time.Millisecond},
		{47, []byte{0x55, 0xAA, 0x40, 0x05, 0x00, 0x00, 0x1C}, 10 * time.Millisecond},
		{48, []byte{0x55, 0xAA, 0x40, 0x05, 0x02, 0x00, 0x01}, 10 * time.Millisecond},
		{137, []byte{0x55, 0xAA, 0x40, 0x05, 0xB4, 0x00, 0x1F}, 10 * time.Millisecond},
		{138, []byte{0x55, 0xAA, 0x41, 0x09, 0x00, 0xA8, 0x00, 0x07, 0x01, 0xF0, 0x15}, 10 * time.Millisecond},
		{139, []byte{0x55, 0xAA, 0x41, 0x09, 0x00, 0x18, 0xF0, 0x00, 0xC1, 0x00, 0x0C}, 10 * time.Millisecond},
	}
	for _, p := range pinned {
		got := steps[p.idx]
		if !bytes.Equal(got.Frame, p.frame) {
			t.Errorf("step %d frame:\n got  %x\n want %x", p.idx, got.Frame, p.frame)
		}
		if got.Delay != p.delay {
			t.Errorf("step %d delay %s, want %s", p.idx, got.Delay, p.delay)
		}
	}

	// shadows after the full pass
	if got := bm.Register(ADDR_TICKET_MASK); got != 0x000000FF {
		t.Errorf("ticket mask shadow %#08x", got)
	}
	if got := bm.Register(ADDR_IO_DRIVER_STRENGTH); got != 0x00011111 {
		t.Errorf("io driver shadow %#08x", got)
	}
	if got := bm.Register(ADDR_PLL3_PARAM); got != 0x5AA55AA5 {
		t.Errorf("pll3 shadow %#08x", got)
	}
	if got := bm.Pll(3).Parameter(); got != 0x5AA55AA5 {
		t.Errorf("uart pll model %#08x", got)
	}
	if got := bm.Register(ADDR_FAST_UART); got != 0x01300000 {
		t.Errorf("fast uart shadow %#08x", got)
	}
	// the reset pass leaves the core regs in their reset state
	if got := bm.CoreRegister(CORE_REG_CLK_DELAY_CTRL); got != 0x0C {
		t.Errorf("clock delay shadow %#02x", got)
	}
	if got := bm.CoreRegister(CORE_REG_2); got != 0xAA {
		t.Errorf("core reg 2 shadow %#02x", got)
	}
	if got := bm.Register(ADDR_REG_A8); got != 0x000701F0 {
		t.Errorf("reg a8 shadow %#08x", got)
	}
	if got := bm.Register(ADDR_MISC_CONTROL); got != 0xF000C100 {
		t.Errorf("misc shadow %#08x", got)
	}
}

func TestBM1370InitializeBadTopology(t *testing.T) {
	tests := []struct {
		domains  uint8
		chips    uint8
		interval uint16
	}{
		{0, 7, 2},
		{13, 0, 2},
		{13, 7, 0},
		{13, 7, 3}, // last address 270 does not fit the bus
	}
	for _, tc := range tests {
		bm := NewBM1370()
		if _, err := bm.Initialize(256, tc.domains, tc.chips, tc.interval); !errors.Is(err, ErrBadTopology) {
			t.Errorf("Initialize(%d,%d,%d): err %v, want ErrBadTopology",
				tc.domains, tc.chips, tc.interval, err)
		}
	}
}

func TestBM1370SetBaudRateLow(t *testing.T) {
	bm := NewBM1370()
	steps, err := bm.SetBaudRate(3125000, 1, 1, 1)
	if err != nil {
		t.Fatalf("set baud rate: %v", err)
	}
	if len(steps) != 6 {
		t.Fatalf("%d steps, want 6", len(steps))
	}
	want := [][]byte{
		{0x55, 0xAA, 0x51, 0x09, 0x00, 0x58, 0x00, 0x01, 0x11, 0x11, 0x0D},
		{0x55, 0xAA, 0x41, 0x09, 0x00, 0x58, 0x00, 0x01, 0x31, 0x11, 0x06},
		{0x55, 0xAA, 0x51, 0x09, 0x00, 0x68, 0x5A, 0xA5, 0x5A, 0xA5, 0x1C},
		{0x55, 0xAA, 0x41, 0x09, 0x00, 0x2C, 0x00, 0x0F, 0x00, 0x03, 0x0B},
		{0x55, 0xAA, 0x41, 0x09, 0x00, 0x2C, 0x00, 0x0F, 0x00, 0x03, 0x0B},
		{0x55, 0xAA, 0x51, 0x09, 0x00, 0x28, 0x01, 0x30, 0x00, 0x00, 0x1A},
	}
	for i, w := range want {
		if !bytes.Equal(steps[i].Frame, w) {
			t.Errorf("step %d:\n got  %x\n want %x", i, steps[i].Frame, w)
		}
		if steps[i].Delay != 0 {
			t.Errorf("step %d delay %s, want 0", i, steps[i].Delay)
		}
	}
	if got := bm.Register(ADDR_FAST_UART); got != 0x01300000 {
		t.Fatalf("fast uart shadow %#08x", got)
	}
	if !bm.Pll(3).Enabled() {
		t.Fatal("uart pll not reporting enabled")
	}
}

func TestBM1370SetBaudRateHigh(t *testing.T) {
	bm := NewBM1370()
	steps, err := bm.SetBaudRate(6250000, 1, 1, 1)
	if err != nil {
		t.Fatalf("set baud rate: %v", err)
	}
	if len(steps) != 6 {
		t.Fatalf("%d steps, want 6", len(steps))
	}
	last := steps[len(steps)-1]
	wantLast := []byte{0x55, 0xAA, 0x51, 0x09, 0x00, 0x68, 0xD0, 0x70, 0x01, 0x00, 0x1B}
	if !bytes.Equal(last.Frame, wantLast) {
		t.Fatalf("pll3 step:\n got  %x\n want %x", last.Frame, wantLast)
	}
	if got := bm.Register(ADDR_PLL3_PARAM); got != 0xD0700100 {
		t.Fatalf("pll3 shadow %#08x", got)
	}
	if got := bm.Pll(3).Parameter(); got != 0xD0700100 {
		t.Fatalf("uart pll word %#08x", got)
	}
	if got := bm.Pll(3).Frequency(4); got != 400*physic.MegaHertz {
		t.Fatalf("uart tap %s, want 400MHz", got)
	}
	// the divider change is the whole switch; FastUART stays untouched
	for _, s := range steps {
		if frameReg(s.Frame) == ADDR_FAST_UART {
			t.Fatal("unexpected fast uart write on the pll path")
		}
	}
	if got := bm.Register(ADDR_FAST_UART); got != 0x01301A00 {
		t.Fatalf("fast uart shadow %#08x", got)
	}

	if _, err := bm.SetBaudRate(0, 1, 1, 1); !errors.Is(err, ErrBadBaudRate) {
		t.Fatalf("zero baud: err %v, want ErrBadBaudRate", err)
	}
}

func TestBM1370ResetCore(t *testing.T) {
	bm := NewBM1370()
	if _, err := bm.ResetCore(All()); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("broadcast reset: err %v, want ErrNotSupported", err)
	}

	steps, err := bm.ResetCore(OneChip(0))
	if err != nil {
		t.Fatalf("reset core: %v", err)
	}
	want := [][]byte{
		{0x55, 0xAA, 0x41, 0x09, 0x00, 0xA8, 0x00, 0x07, 0x01, 0xF0, 0x15},
		{0x55, 0xAA, 0x41, 0x09, 0x00, 0x18, 0xF0, 0x00, 0xC1, 0x00, 0x0C},
		{0x55, 0xAA, 0x41, 0x09, 0x00, 0x3C, 0x80, 0x00, 0x8B, 0x00, 0x1A},
		{0x55, 0xAA, 0x41, 0x09, 0x00, 0x3C, 0x80, 0x00, 0x80, 0x0C, 0x19},
		{0x55, 0xAA, 0x41, 0x09, 0x00, 0x3C, 0x80, 0x00, 0x82, 0xAA, 0x05},
	}
	if len(steps) != len(want) {
		t.Fatalf("%d steps, want %d", len(steps), len(want))
	}
	for i, w := range want {
		if !bytes.Equal(steps[i].Frame, w) {
			t.Errorf("step %d:\n got  %x\n want %x", i, steps[i].Frame, w)
		}
		if steps[i].Delay != 10*time.Millisecond {
			t.Errorf("step %d delay %s", i, steps[i].Delay)
		}
	}

	if got := bm.Register(ADDR_REG_A8); got != 0x000701F0 {
		t.Errorf("reg a8 shadow %#08x", got)
	}
	if got := bm.Register(ADDR_MISC_CONTROL); got != 0xF000C100 {
		t.Errorf("misc shadow %#08x", got)
	}
	if got := bm.CoreRegister(CORE_REG_11); got != 0 {
		t.Errorf("core reg 11 shadow %#02x", got)
	}
	if got := bm.CoreRegister(CORE_REG_CLK_DELAY_CTRL); got != 0x0C {
		t.Errorf("clock delay shadow %#02x", got)
	}
	if got := bm.CoreRegister(CORE_REG_2); got != 0xAA {
		t.Errorf("core reg 2 shadow %#02x", got)
	}
	// chip addressed core writes do not touch the control register shadow
	if got := bm.Register(ADDR_CORE_REG_CONTROL); got != 0 {
		t.Errorf("core reg control shadow %#08x", got)
	}
}

func TestBM1370RampHashFrequency(t *testing.T) {
	bm := NewBM1370()
	steps, err := bm.RampHashFrequency(75 * physic.MegaHertz)
	if err != nil {
		t.Fatalf("ramp: %v", err)
	}
	wantWords := []uint32{0xC0A20255, 0xC0AF0264, 0xC0A50254, 0xC0A80263}
	if len(steps) != len(wantWords) {
		t.Fatalf("%d steps, want %d", len(steps), len(wantWords))
	}
	for i, w := range wantWords {
		if frameReg(steps[i].Frame) != ADDR_PLL0_PARAM {
			t.Errorf("step %d writes reg %#02x", i, frameReg(steps[i].Frame))
		}
		if got := frameValue(steps[i].Frame); got != w {
			t.Errorf("step %d word %#08x, want %#08x", i, got, w)
		}
		if steps[i].Delay != 400*time.Millisecond {
			t.Errorf("step %d delay %s", i, steps[i].Delay)
		}
	}
	if got := bm.Pll(0).Parameter(); got != 0xC0A80263 {
		t.Fatalf("final pll word %#08x", got)
	}
	if got := bm.HashFrequency(); got != 75*physic.MegaHertz {
		t.Fatalf("hash frequency %s", got)
	}
	if got := bm.Register(ADDR_PLL0_PARAM); got != 0xC0A80263 {
		t.Fatalf("pll0 shadow %#08x", got)
	}

	// at target already: nothing to emit
	steps, err = bm.RampHashFrequency(75 * physic.MegaHertz)
	if err != nil || len(steps) != 0 {
		t.Fatalf("ramp in place: %d steps, err %v", len(steps), err)
	}
}

func TestBM1370RampLongDelays(t *testing.T) {
	bm := NewBM1370()
	if _, err := bm.RampHashFrequency(375 * physic.MegaHertz); err != nil {
		t.Fatalf("ramp to 375: %v", err)
	}
	steps, err := bm.RampHashFrequency(400 * physic.MegaHertz)
	if err != nil {
		t.Fatalf("ramp to 400: %v", err)
	}
	want := []time.Duration{
		2300 * time.Millisecond,
		400 * time.Millisecond,
		2300 * time.Millisecond,
		400 * time.Millisecond,
	}
	if len(steps) != len(want) {
		t.Fatalf("%d steps, want %d", len(steps), len(want))
	}
	for i, d := range want {
		if steps[i].Delay != d {
			t.Errorf("step %d delay %s, want %s", i, steps[i].Delay, d)
		}
	}
}

func TestBM1370EnableVersionRolling(t *testing.T) {
	bm := NewBM1370()
	steps, err := bm.EnableVersionRolling(0x1FFFE000, 1, 1, 1)
	if err != nil {
		t.Fatalf("enable rolling: %v", err)
	}
	want := [][]byte{
		{0x55, 0xAA, 0x51, 0x09, 0x00, 0x10, 0x00, 0x00, 0x1E, 0xB5, 0x0F},
		{0x55, 0xAA, 0x51, 0x09, 0x00, 0xA4, 0x90, 0x00, 0xFF, 0xFF, 0x1C},
	}
	if len(steps) != len(want) {
		t.Fatalf("single chip: %d steps, want %d", len(steps), len(want))
	}
	for i, w := range want {
		if !bytes.Equal(steps[i].Frame, w) {
			t.Errorf("step %d:\n got  %x\n want %x", i, steps[i].Frame, w)
		}
		if steps[i].Delay != time.Millisecond {
			t.Errorf("step %d delay %s", i, steps[i].Delay)
		}
	}
	if !bm.VersionRollingEnabled() || bm.VersionMask() != 0x1FFFE000 {
		t.Fatalf("model state rolling=%v mask=%#08x", bm.VersionRollingEnabled(), bm.VersionMask())
	}
	if got := bm.Register(ADDR_VERSION_ROLLING); got != 0x9000FFFF {
		t.Fatalf("version rolling shadow %#08x", got)
	}
}

func TestBM1370EnableVersionRollingChain(t *testing.T) {
	bm := NewBM1370()
	steps, err := bm.EnableVersionRolling(0x1FFFE000, 13, 7, 2)
	if err != nil {
		t.Fatalf("enable rolling: %v", err)
	}
	if len(steps) != 93 {
		t.Fatalf("%d steps, want 93", len(steps))
	}
	// 91 chips split the 64Ki rolled window
	offsets := []struct {
		idx   int
		chip  uint8
		value uint32
	}{
		{0, 0x00, 0x80000000},
		{1, 0x02, 0x800002D0},
		{90, 0xB4, 0x8000FD20},
	}
	for _, o := range offsets {
		f := steps[o.idx].Frame
		if frameChip(f) != o.chip || frameReg(f) != ADDR_CHIP_NONCE_OFFSET {
			t.Errorf("step %d targets chip %#02x reg %#02x", o.idx, frameChip(f), frameReg(f))
		}
		if got := frameValue(f); got != o.value {
			t.Errorf("step %d offset %#08x, want %#08x", o.idx, got, o.value)
		}
		if steps[o.idx].Delay != 0 {
			t.Errorf("step %d delay %s, want 0", o.idx, steps[o.idx].Delay)
		}
	}
}

func TestBM1370PostResetConditioning(t *testing.T) {
	bm := NewBM1370()
	steps, err := bm.PostResetConditioning()
	if err != nil {
		t.Fatalf("conditioning: %v", err)
	}
	want := []struct {
		reg   uint8
		value uint32
		delay time.Duration
	}{
		{ADDR_REG_B9, 0x00004480, 20 * time.Millisecond},
		{ADDR_ANALOG_MUX, 0x00000002, 100 * time.Millisecond},
		{ADDR_REG_B9, 0x00004480, 20 * time.Millisecond},
		{ADDR_CORE_REG_CONTROL, 0x80008DEE, 100 * time.Millisecond},
	}
	if len(steps) != len(want) {
		t.Fatalf("%d steps, want %d", len(steps), len(want))
	}
	for i, w := range want {
		f := steps[i].Frame
		if frameReg(f) != w.reg || frameValue(f) != w.value {
			t.Errorf("step %d: reg %#02x value %#08x", i, frameReg(f), frameValue(f))
		}
		if steps[i].Delay != w.delay {
			t.Errorf("step %d delay %s, want %s", i, steps[i].Delay, w.delay)
		}
	}
	// strobes stay out of the shadow
	if got := bm.Register(ADDR_REG_B9); got != 0 {
		t.Errorf("reg b9 shadow %#08x", got)
	}
	if got := bm.Register(ADDR_ANALOG_MUX); got != 0 {
		t.Errorf("analog mux shadow %#08x", got)
	}
}
