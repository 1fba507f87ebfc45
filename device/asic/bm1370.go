package asic

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

const CHIP_ID_BM1370 uint16 = 0x1370

const (
	bm1370VersionMask = 0x1FFFE000

	// relay training pattern written to PLL3 ahead of the per domain
	// relay setup
	uartPllSyncWord = 0x5AA55AA5
	// PLL3 output tap feeding the fast UART
	uartPllTap = 4

	// CLKI crystal rate in Hz; baud rates at or below CLKI/8 divide it
	// directly, anything faster clocks from PLL3
	clkiFreq = 25000000

	rampStep           = 6250 * physic.KiloHertz
	longDelayThreshold = 380 * physic.MegaHertz
)

// BM1370 is the fourth generation chip: 128 cores of 16 small cores in 4
// voltage domains, four PLLs, version rolling. It is the only generation
// the sequence engine fully drives; the older models are decode only.
type BM1370 struct {
	geometry
	addr      uint8
	rolling   bool
	verMask   uint32
	longDelay bool
	plls      [4]Pll
	registers map[uint8]uint32
	coreRegs  map[uint8]uint8
}

var (
	_ Chip      = (*BM1370)(nil)
	_ Sequencer = (*BM1370)(nil)
)

// NewBM1370 returns a model in power-on state. Registers not listed reset
// to zero.
func NewBM1370() *BM1370 {
	bm := &BM1370{
		geometry: geometry{coreBits: 7, smallBits: 3},
		verMask:  bm1370VersionMask,
	}
	bm.registers = map[uint8]uint32{
		ADDR_CHIP_ID:                0x13700000,
		ADDR_PLL0_PARAM:             0xC0540165,
		ADDR_PLL1_PARAM:             0x20500174,
		ADDR_PLL2_PARAM:             0x20500174,
		ADDR_FAST_UART:              0x01301A00,
		ADDR_UART_RELAY:             0x000F0000,
		ADDR_IO_DRIVER_STRENGTH:     0x00012111,
		ADDR_MISC_CONTROL:           0x0000C100,
		ADDR_HASH_COUNTING:          0x00001EB5,
		ADDR_TIMEOUT:                0x0000FFFF,
		ADDR_NONCE_RETURNED_TIMEOUT: 0x00F70073,
		ADDR_VERSION_ROLLING:        0x0000FFFF,
		ADDR_REG_A8:                 0x00070000,
		ADDR_REG_B8:                 0x20000000,
		ADDR_REG_BC:                 0x00003313,
		ADDR_REG_C0:                 0x00002000,
		ADDR_REG_C4:                 0x0000B850,
	}
	bm.coreRegs = map[uint8]uint8{
		CORE_REG_CLK_DELAY_CTRL: 0x98,
		CORE_REG_2:              0x55,
		CORE_REG_HASH_CLK_CTRL:  0x40,
		CORE_REG_HASH_CLK_COUNT: 0x08,
		CORE_REG_SWEEP_CLK_CTRL: 0x11,
	}
	bm.plls[0].SetParameter(0xC0540165)
	bm.plls[1].SetParameter(0x20500174)
	bm.plls[2].SetParameter(0x20500174)
	return bm
}

func (bm *BM1370) ChipID() uint16 {
	return CHIP_ID_BM1370
}

func (bm *BM1370) CoreCount() int {
	return 128
}

func (bm *BM1370) SmallCoreCount() int {
	return 2040
}

func (bm *BM1370) SmallCoresPerCore() int {
	return 16
}

func (bm *BM1370) DomainCount() int {
	return 4
}

func (bm *BM1370) PllCount() int {
	return len(bm.plls)
}

// HashFrequency is the hash clock: PLL0 tap 0.
func (bm *BM1370) HashFrequency() physic.Frequency {
	return bm.plls[0].Frequency(0)
}

func (bm *BM1370) TheoreticalHashrate() float64 {
	return theoreticalHashrate(bm.HashFrequency(), bm.SmallCoreCount())
}

func (bm *BM1370) RollingDuration() time.Duration {
	return rollingDuration(bm.rollingSpace(bm.rolling, bm.verMask), bm.HashFrequency())
}

func (bm *BM1370) CoreID(nonce uint32) int {
	return bm.coreID(nonce)
}

func (bm *BM1370) SmallCoreID(nonce uint32) int {
	return bm.smallCoreID(nonce)
}

// VersionSmallCoreID recovers the small core from the rolled version when
// version rolling has moved it out of the nonce.
func (bm *BM1370) VersionSmallCoreID(version uint32) int {
	return bm.versionSmallCoreID(version, bm.verMask)
}

func (bm *BM1370) ChipAddress(nonce uint32) int {
	return bm.chipAddress(nonce, bm.rolling)
}

func (bm *BM1370) SetChipAddress(addr uint8) {
	bm.addr = addr
}

func (bm *BM1370) BusAddress() uint8 {
	return bm.addr
}

func (bm *BM1370) VersionRollingEnabled() bool {
	return bm.rolling
}

func (bm *BM1370) VersionMask() uint32 {
	return bm.verMask
}

// Register reads the shadow copy of a chip register.
func (bm *BM1370) Register(addr uint8) uint32 {
	return bm.registers[addr]
}

// CoreRegister reads the shadow copy of a core register.
func (bm *BM1370) CoreRegister(id uint8) uint8 {
	return bm.coreRegs[id]
}

func (bm *BM1370) Pll(i int) *Pll {
	if i < 0 || i >= len(bm.plls) {
		return nil
	}
	return &bm.plls[i]
}

// bcastWrite emits a broadcast register write and tracks it in the shadow.
// Chip addressed writes go through seq.chipWrite and leave the shadow
// alone unless the caller knows better.
func (bm *BM1370) bcastWrite(seq *sequence, reg uint8, val uint32, delay time.Duration) {
	seq.bcastWrite(reg, val, delay)
	bm.registers[reg] = val
}

func (bm *BM1370) bcastCoreWrite(seq *sequence, regID uint8, val uint8, delay time.Duration) {
	bm.bcastWrite(seq, ADDR_CORE_REG_CONTROL, CoreRegValue(0, regID, val), delay)
	bm.coreRegs[regID] = val
}

func (bm *BM1370) chipCoreWrite(seq *sequence, chip uint8, regID uint8, val uint8, delay time.Duration) {
	seq.chipWrite(chip, ADDR_CORE_REG_CONTROL, CoreRegValue(0, regID, val), delay)
	bm.coreRegs[regID] = val
}

func chainAddrs(domains, chipsPerDomain uint8, addrInterval uint16) ([]uint8, error) {
	if domains == 0 || chipsPerDomain == 0 || addrInterval == 0 {
		return nil, ErrBadTopology
	}
	total := int(domains) * int(chipsPerDomain)
	if (total-1)*int(addrInterval) > 0xFF {
		return nil, ErrBadTopology
	}
	addrs := make([]uint8, total)
	for i := range addrs {
		addrs[i] = uint8(i * int(addrInterval))
	}
	return addrs, nil
}

func domainFirstChip(dom int, chipsPerDomain uint8, addrInterval uint16) uint8 {
	return uint8(dom * int(chipsPerDomain) * int(addrInterval))
}

func domainLastChip(dom int, chipsPerDomain uint8, addrInterval uint16) uint8 {
	return uint8((dom*int(chipsPerDomain) + int(chipsPerDomain) - 1) * int(addrInterval))
}

// ioDriverSetup drops every pad to the low drive strength, then raises the
// strength of each domain's last chip, which has the longest trace to
// drive. Domains go in descending order so the far end settles first.
func (bm *BM1370) ioDriverSetup(seq *sequence, domains, chipsPerDomain uint8, addrInterval uint16) {
	bm.bcastWrite(seq, ADDR_IO_DRIVER_STRENGTH, 0x00011111, 0)
	for dom := int(domains) - 1; dom >= 0; dom-- {
		seq.chipWrite(domainLastChip(dom, chipsPerDomain, addrInterval),
			ADDR_IO_DRIVER_STRENGTH, 0x00013111, 0)
	}
}

// uartRelaySetup programs the response relay on the edge chips of every
// domain. The gap count grows toward domain 0 so relayed bytes from the
// far domains never collide.
func (bm *BM1370) uartRelaySetup(seq *sequence, domains, chipsPerDomain uint8, addrInterval uint16) {
	bm.bcastWrite(seq, ADDR_PLL3_PARAM, uartPllSyncWord, 0)
	bm.plls[3].SetParameter(uartPllSyncWord)
	for dom := int(domains) - 1; dom >= 0; dom-- {
		gap := uint32(int(chipsPerDomain)*(int(domains)-dom) + 14)
		relay := UARTRelay(bm.registers[ADDR_UART_RELAY]).
			SetGapCnt(gap).EnableRORelay().EnableCORelay()
		seq.chipWrite(domainFirstChip(dom, chipsPerDomain, addrInterval),
			ADDR_UART_RELAY, uint32(relay), 0)
		seq.chipWrite(domainLastChip(dom, chipsPerDomain, addrInterval),
			ADDR_UART_RELAY, uint32(relay), 0)
	}
}

// resetCore emits the per chip core reset. Every value derives from the
// shadow and the shadow tracks all five writes: the reset is applied
// chain wide, one chip at a time.
func (bm *BM1370) resetCore(seq *sequence, chip uint8) {
	a8 := RegA8(bm.registers[ADDR_REG_A8]).SetB8().SetB7_4(0xF)
	seq.chipWrite(chip, ADDR_REG_A8, uint32(a8), resetStepDelay)
	bm.registers[ADDR_REG_A8] = uint32(a8)

	misc := MiscControl(bm.registers[ADDR_MISC_CONTROL]).
		SetCoreReturnNonce(0xF).SetB27_26(0).SetB25_24(0).SetB19_16(0)
	seq.chipWrite(chip, ADDR_MISC_CONTROL, uint32(misc), resetStepDelay)
	bm.registers[ADDR_MISC_CONTROL] = uint32(misc)

	bm.chipCoreWrite(seq, chip, CORE_REG_11, 0, resetStepDelay)
	bm.chipCoreWrite(seq, chip, CORE_REG_CLK_DELAY_CTRL, 0x0C, resetStepDelay)
	bm.chipCoreWrite(seq, chip, CORE_REG_2, 0xAA, resetStepDelay)
}

// Initialize produces the full chain bring-up: global core and ticket
// configuration, per domain io and relay tuning, re-addressing of every
// chip and a core reset per chip.
func (bm *BM1370) Initialize(difficulty uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error) {
	addrs, err := chainAddrs(domains, chipsPerDomain, addrInterval)
	if err != nil {
		return nil, err
	}
	var seq sequence

	bm.bcastCoreWrite(&seq, CORE_REG_11, 0, initStepDelay)
	clkDly := ClockDelayCtrl(bm.coreRegs[CORE_REG_CLK_DELAY_CTRL]).
		SetCcdly(0).SetPwth(2).DisableSweep()
	bm.bcastCoreWrite(&seq, CORE_REG_CLK_DELAY_CTRL, uint8(clkDly), initStepDelay)
	bm.bcastWrite(&seq, ADDR_TICKET_MASK, TicketMaskFromDifficulty(difficulty), initStepDelay)
	bm.bcastWrite(&seq, ADDR_ANALOG_MUX, 0x00000003, initStepDelay)

	bm.ioDriverSetup(&seq, domains, chipsPerDomain, addrInterval)
	bm.uartRelaySetup(&seq, domains, chipsPerDomain, addrInterval)

	fast := FastUARTConfiguration(bm.registers[ADDR_FAST_UART]).SetBclkSel(false).SetBt8d(0)
	bm.bcastWrite(&seq, ADDR_FAST_UART, uint32(fast), 0)

	seq.chainInactive(initStepDelay)
	for _, addr := range addrs {
		seq.setChipAddr(addr, initStepDelay)
	}
	for _, addr := range addrs {
		bm.resetCore(&seq, addr)
	}
	return seq.steps, nil
}

// SetBaudRate reruns the io and relay setup at the current rate, then
// points the chip UART divider at the new one. The caller switches the
// host tty after the sequence has gone out.
func (bm *BM1370) SetBaudRate(baud uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error) {
	if baud == 0 {
		return nil, ErrBadBaudRate
	}
	if _, err := chainAddrs(domains, chipsPerDomain, addrInterval); err != nil {
		return nil, err
	}
	var seq sequence
	bm.ioDriverSetup(&seq, domains, chipsPerDomain, addrInterval)
	bm.uartRelaySetup(&seq, domains, chipsPerDomain, addrInterval)

	if baud <= clkiFreq/8 {
		bt8d := clkiFreq/(8*baud) - 1
		fast := FastUARTConfiguration(bm.registers[ADDR_FAST_UART]).
			SetBclkSel(false).SetBt8d(bt8d)
		bm.bcastWrite(&seq, ADDR_FAST_UART, uint32(fast), 0)
	} else {
		// overdrive rates clock the UART from PLL3; the FastUART source
		// select keeps pointing at CLKI until the link is proven
		pll3 := &bm.plls[3]
		pll3.Lock().Enable().
			SetFbDiv(112).SetRefDiv(1).SetPost1Div(1).SetPost2Div(1).
			SetOutDiv(uartPllTap, 6)
		bm.bcastWrite(&seq, ADDR_PLL3_PARAM, pll3.Parameter(), 0)
	}
	return seq.steps, nil
}

// ResetCore resets the hash cores of one chip. There is no broadcast
// variant; resets go chip by chip so the relay path stays alive.
func (bm *BM1370) ResetCore(dest Destination) ([]Step, error) {
	if dest.IsAll() {
		return nil, ErrNotSupported
	}
	var seq sequence
	bm.resetCore(&seq, dest.Chip())
	return seq.steps, nil
}

// RampHashFrequency walks PLL0 from its current rate to target in 6.25 MHz
// steps, one broadcast parameter write per step. Above the threshold every
// other step takes the long settle delay.
func (bm *BM1370) RampHashFrequency(target physic.Frequency) ([]Step, error) {
	var seq sequence
	freq := bm.HashFrequency()
	for freq < target {
		freq += rampStep
		if freq > target {
			freq = target
		}
		if err := bm.plls[0].SetFrequency(freq); err != nil {
			return nil, err
		}
		delay := rampStepDelay
		if freq > longDelayThreshold {
			bm.longDelay = !bm.longDelay
			if bm.longDelay {
				delay = rampLongDelay
			}
		}
		bm.bcastWrite(&seq, ADDR_PLL0_PARAM, bm.plls[0].Parameter(), delay)
	}
	return seq.steps, nil
}

// EnableVersionRolling gives every chip its slice of the rolled space,
// then switches rolling on chain wide. A single chip needs no nonce
// offsets and gets only the two broadcast writes.
func (bm *BM1370) EnableVersionRolling(mask uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error) {
	addrs, err := chainAddrs(domains, chipsPerDomain, addrInterval)
	if err != nil {
		return nil, err
	}
	var seq sequence
	if total := len(addrs); total > 1 {
		window := uint32(65536 / total)
		for i, addr := range addrs {
			seq.chipWrite(addr, ADDR_CHIP_NONCE_OFFSET, 0x80000000+window*uint32(i), 0)
		}
	}
	bm.bcastWrite(&seq, ADDR_HASH_COUNTING, 0x00001EB5, vrStepDelay)
	vr := VersionRolling(bm.registers[ADDR_VERSION_ROLLING]).Enable().SetMask(mask)
	bm.bcastWrite(&seq, ADDR_VERSION_ROLLING, uint32(vr), vrStepDelay)
	bm.rolling = true
	bm.verMask = mask
	return seq.steps, nil
}

// PostResetConditioning settles the cores between the reset pass and the
// frequency ramp. The writes are transient strobes and stay out of the
// shadow.
func (bm *BM1370) PostResetConditioning() ([]Step, error) {
	var seq sequence
	seq.bcastWrite(ADDR_REG_B9, 0x00004480, condShortDelay)
	seq.bcastWrite(ADDR_ANALOG_MUX, 0x00000002, condLongDelay)
	seq.bcastWrite(ADDR_REG_B9, 0x00004480, condShortDelay)
	seq.bcastWrite(ADDR_CORE_REG_CONTROL, 0x80008DEE, condLongDelay)
	return seq.steps, nil
}
