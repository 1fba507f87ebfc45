package asic

import (
	"errors"
	"math/bits"
	"time"

	"periph.io/x/conn/v3/physic"
)

var (
	ErrNotSupported = errors.New("ErrNotSupported")
	ErrBadTopology  = errors.New("ErrBadTopology")
	ErrBadBaudRate  = errors.New("ErrBadBaudRate")
	ErrUnknownChip  = errors.New("ErrUnknownChip")
)

// NewChip maps a chip model name, as it appears in board configuration, to
// a fresh model in power-on state.
func NewChip(model string) (Chip, error) {
	switch model {
	case "BM1366":
		return NewBM1366(), nil
	case "BM1370":
		return NewBM1370(), nil
	case "BM1397":
		return NewBM1397(), nil
	}
	return nil, ErrUnknownChip
}

// Chip is the generation independent view of one chip model: identity,
// geometry and the nonce decode path.
type Chip interface {
	ChipID() uint16
	CoreCount() int
	SmallCoreCount() int
	SmallCoresPerCore() int
	DomainCount() int
	PllCount() int
	HashFrequency() physic.Frequency
	TheoreticalHashrate() float64
	RollingDuration() time.Duration
	CoreID(nonce uint32) int
	SmallCoreID(nonce uint32) int
	VersionSmallCoreID(version uint32) int
	ChipAddress(nonce uint32) int
	SetChipAddress(addr uint8)
	BusAddress() uint8
	VersionRollingEnabled() bool
	VersionMask() uint32
}

// Sequencer generates the bus command sequences. Only the BM1370 model
// implements them; the earlier generations answer ErrNotSupported and are
// decode only.
type Sequencer interface {
	Initialize(difficulty uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error)
	SetBaudRate(baud uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error)
	ResetCore(dest Destination) ([]Step, error)
	RampHashFrequency(target physic.Frequency) ([]Step, error)
	EnableVersionRolling(mask uint32, domains, chipsPerDomain uint8, addrInterval uint16) ([]Step, error)
	PostResetConditioning() ([]Step, error)
}

// Destination addresses a sequence operation at the whole chain or at one
// chip.
type Destination struct {
	all  bool
	chip uint8
}

func All() Destination {
	return Destination{all: true}
}

func OneChip(addr uint8) Destination {
	return Destination{chip: addr}
}

func (d Destination) IsAll() bool {
	return d.all
}

func (d Destination) Chip() uint8 {
	return d.chip
}

// geometry is the nonce bit layout of one generation: the top coreBits
// address a core, the next smallBits a small core inside it, the 8 below
// that the chip. Version rolling frees the small core bits into the
// version word and moves the chip address up.
type geometry struct {
	coreBits  uint
	smallBits uint
}

func (g geometry) coreID(nonce uint32) int {
	return int(nonce >> (32 - g.coreBits))
}

func (g geometry) smallCoreID(nonce uint32) int {
	return int(nonce>>(32-g.coreBits-g.smallBits)) & (1<<g.smallBits - 1)
}

func (g geometry) versionSmallCoreID(version, mask uint32) int {
	if mask == 0 {
		return 0
	}
	return int(version>>uint(bits.TrailingZeros32(mask))) & (1<<g.smallBits - 1)
}

func (g geometry) chipAddress(nonce uint32, rolling bool) int {
	if rolling {
		return int(nonce>>(32-g.coreBits-8)) & 0xFF
	}
	return int(nonce>>(32-g.coreBits-g.smallBits-8)) & 0xFF
}

// rollingSpace is how many hashes one chip covers before its nonce range
// wraps: the free nonce bits, plus the rolled version bits net of the
// small core id they carry.
func (g geometry) rollingSpace(rolling bool, mask uint32) uint64 {
	if rolling {
		return 1 << (32 - g.coreBits - 8 + uint(bits.OnesCount32(mask)) - g.smallBits)
	}
	return 1 << (32 - g.coreBits - g.smallBits - 8)
}

func rollingDuration(space uint64, hashFreq physic.Frequency) time.Duration {
	hz := uint64(hashFreq / physic.Hertz)
	if hz == 0 {
		return 0
	}
	return time.Duration(space * uint64(time.Second) / hz)
}

func theoreticalHashrate(hashFreq physic.Frequency, smallCores int) float64 {
	return float64(hashFreq) / float64(physic.GigaHertz) * float64(smallCores)
}
