package asic

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

const CHIP_ID_BM1366 uint16 = 0x1366

// BM1366 is the third generation chip: 112 cores of 8 small cores on a
// single voltage domain, two PLLs. The model is decode only; bring-up of
// BM1366 boards is owned by the stock firmware and the sequence calls
// answer ErrNotSupported.
type BM1366 struct {
	geometry
	addr    uint8
	rolling bool
	verMask uint32
	plls    [2]Pll
}

var (
	_ Chip      = (*BM1366)(nil)
	_ Sequencer = (*BM1366)(nil)
)

func NewBM1366() *BM1366 {
	bm := &BM1366{
		geometry: geometry{coreBits: 7, smallBits: 3},
		verMask:  bm1370VersionMask,
	}
	bm.plls[0].SetParameter(0xC0540165)
	bm.plls[1].SetParameter(0x20500174)
	return bm
}

func (bm *BM1366) ChipID() uint16 {
	return CHIP_ID_BM1366
}

func (bm *BM1366) CoreCount() int {
	return 112
}

func (bm *BM1366) SmallCoreCount() int {
	return 894
}

func (bm *BM1366) SmallCoresPerCore() int {
	return 8
}

func (bm *BM1366) DomainCount() int {
	return 1
}

func (bm *BM1366) PllCount() int {
	return len(bm.plls)
}

func (bm *BM1366) HashFrequency() physic.Frequency {
	return bm.plls[0].Frequency(0)
}

func (bm *BM1366) TheoreticalHashrate() float64 {
	return theoreticalHashrate(bm.HashFrequency(), bm.SmallCoreCount())
}

func (bm *BM1366) RollingDuration() time.Duration {
	return rollingDuration(bm.rollingSpace(bm.rolling, bm.verMask), bm.HashFrequency())
}

func (bm *BM1366) CoreID(nonce uint32) int {
	return bm.coreID(nonce)
}

func (bm *BM1366) SmallCoreID(nonce uint32) int {
	return bm.smallCoreID(nonce)
}

func (bm *BM1366) VersionSmallCoreID(version uint32) int {
	return bm.versionSmallCoreID(version, bm.verMask)
}

func (bm *BM1366) ChipAddress(nonce uint32) int {
	return bm.chipAddress(nonce, bm.rolling)
}

func (bm *BM1366) SetChipAddress(addr uint8) {
	bm.addr = addr
}

func (bm *BM1366) BusAddress() uint8 {
	return bm.addr
}

func (bm *BM1366) VersionRollingEnabled() bool {
	return bm.rolling
}

func (bm *BM1366) VersionMask() uint32 {
	return bm.verMask
}

func (bm *BM1366) Pll(i int) *Pll {
	if i < 0 || i >= len(bm.plls) {
		return nil
	}
	return &bm.plls[i]
}

// SetVersionRolling records that the firmware has switched rolling on, so
// the decode path picks the rolled nonce layout. It emits no bus traffic.
func (bm *BM1366) SetVersionRolling(mask uint32) {
	bm.rolling = true
	bm.verMask = mask
}

func (bm *BM1366) Initialize(difficulty uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error) {
	return nil, ErrNotSupported
}

func (bm *BM1366) SetBaudRate(baud uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error) {
	return nil, ErrNotSupported
}

func (bm *BM1366) ResetCore(dest Destination) ([]Step, error) {
	return nil, ErrNotSupported
}

func (bm *BM1366) RampHashFrequency(target physic.Frequency) ([]Step, error) {
	return nil, ErrNotSupported
}

func (bm *BM1366) EnableVersionRolling(mask uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error) {
	return nil, ErrNotSupported
}

func (bm *BM1366) PostResetConditioning() ([]Step, error) {
	return nil, ErrNotSupported
}
