package asic

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

const CHIP_ID_BM1397 uint16 = 0x1397

// BM1397 is the oldest supported generation: 168 cores of 4 small cores,
// four PLLs with per tap output dividers, no version rolling in silicon.
// Decode only, like the BM1366.
type BM1397 struct {
	geometry
	addr uint8
	plls [4]Pll
}

var (
	_ Chip      = (*BM1397)(nil)
	_ Sequencer = (*BM1397)(nil)
)

func NewBM1397() *BM1397 {
	bm := &BM1397{
		geometry: geometry{coreBits: 8, smallBits: 2},
	}
	bm.plls[0].SetParameter(0xC0600161).SetDivider(0x03040607)
	bm.plls[1].SetParameter(0x00640111).SetDivider(0x03040506)
	bm.plls[2].SetParameter(0x00680111).SetDivider(0x03040506)
	bm.plls[3].SetParameter(0x00700111).SetDivider(0x03040506)
	return bm
}

func (bm *BM1397) ChipID() uint16 {
	return CHIP_ID_BM1397
}

func (bm *BM1397) CoreCount() int {
	return 168
}

func (bm *BM1397) SmallCoreCount() int {
	return 672
}

func (bm *BM1397) SmallCoresPerCore() int {
	return 4
}

func (bm *BM1397) DomainCount() int {
	return 4
}

func (bm *BM1397) PllCount() int {
	return len(bm.plls)
}

func (bm *BM1397) HashFrequency() physic.Frequency {
	return bm.plls[0].Frequency(0)
}

func (bm *BM1397) TheoreticalHashrate() float64 {
	return theoreticalHashrate(bm.HashFrequency(), bm.SmallCoreCount())
}

func (bm *BM1397) RollingDuration() time.Duration {
	return rollingDuration(bm.rollingSpace(false, 0), bm.HashFrequency())
}

func (bm *BM1397) CoreID(nonce uint32) int {
	return bm.coreID(nonce)
}

func (bm *BM1397) SmallCoreID(nonce uint32) int {
	return bm.smallCoreID(nonce)
}

func (bm *BM1397) VersionSmallCoreID(version uint32) int {
	return 0
}

func (bm *BM1397) ChipAddress(nonce uint32) int {
	return bm.chipAddress(nonce, false)
}

func (bm *BM1397) SetChipAddress(addr uint8) {
	bm.addr = addr
}

func (bm *BM1397) BusAddress() uint8 {
	return bm.addr
}

func (bm *BM1397) VersionRollingEnabled() bool {
	return false
}

func (bm *BM1397) VersionMask() uint32 {
	return 0
}

func (bm *BM1397) Pll(i int) *Pll {
	if i < 0 || i >= len(bm.plls) {
		return nil
	}
	return &bm.plls[i]
}

func (bm *BM1397) Initialize(difficulty uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error) {
	return nil, ErrNotSupported
}

func (bm *BM1397) SetBaudRate(baud uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error) {
	return nil, ErrNotSupported
}

func (bm *BM1397) ResetCore(dest Destination) ([]Step, error) {
	return nil, ErrNotSupported
}

func (bm *BM1397) RampHashFrequency(target physic.Frequency) ([]Step, error) {
	return nil, ErrNotSupported
}

func (bm *BM1397) EnableVersionRolling(mask uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error) {
	return nil, ErrNotSupported
}

func (bm *BM1397) PostResetConditioning() ([]Step, error) {
	return nil, ErrNotSupported
}
