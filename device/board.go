package device

import (
	"context"
	"errors"
	"math/bits"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"chainctl/config"
	"chainctl/device/asic"
	"chainctl/device/asicio"
	"chainctl/log"
)

const (
	// chips come out of reset listening at this rate
	initialBaudRate = 115200

	// host side settle after a baud switch
	baudSettle = 50 * time.Millisecond

	defaultVersionMask = 0x1FFFE000
)

// NonceHit is one decoded result frame, with the producing core worked
// out from the nonce bit layout.
type NonceHit struct {
	Nonce     uint32
	Version   uint32
	JobId     uint8
	Midstate  uint8
	ChipAddr  int
	Core      int
	SmallCore int
}

// HashBoard drives one chain: the tty, the chip model and the command
// sequences. The mutex serializes sequence execution; nonce polling is
// lock free against the reply queue.
type HashBoard struct {
	mu sync.Mutex

	brd      uint8
	uartName string
	cfg      config.ChainConfig

	chip  asic.Chip
	seq   asic.Sequencer
	topo  Topology
	cio   *asicio.ChainIO
	exec  *Executor
	found int
}

func NewHashBoard(brd uint8, uartName string, cfg config.ChainConfig) (*HashBoard, error) {
	chip, err := asic.NewChip(cfg.Chip)
	if err != nil {
		return nil, err
	}

	topo := Topology{
		Domains:        cfg.Domains,
		ChipsPerDomain: cfg.ChipsPerDomain,
		AddrInterval:   cfg.AddrInterval,
	}
	if topo.AddrInterval == 0 {
		topo.AddrInterval = AddrIntervalFor(topo.Chips())
	}
	if err = topo.Validate(); err != nil {
		return nil, err
	}

	hb := &HashBoard{
		brd:      brd,
		uartName: uartName,
		cfg:      cfg,
		chip:     chip,
		topo:     topo,
	}
	hb.seq, _ = chip.(asic.Sequencer)
	return hb, nil
}

// Open claims the tty at the power-on baud rate and starts the reader.
func (hb *HashBoard) Open() error {
	cio, err := asicio.NewChainIO(initialBaudRate, hb.uartName, hb.brd)
	if err != nil {
		return err
	}
	cio.EnableAsyncRW()
	hb.cio = cio
	hb.exec = NewExecutor(cio, hb.chip, hb.brd)
	return nil
}

// BringUp runs the full post power-on flow: initialize, enumerate,
// conditioning, baud switch, version rolling and the frequency ramp.
// Chip generations without a sequencer come up under their own firmware;
// for those the board is left in monitor only mode.
func (hb *HashBoard) BringUp(ctx context.Context) error {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	steps, err := hb.initializeSteps()
	if errors.Is(err, asic.ErrNotSupported) {
		log.Infof("Brd %d %s bring-up owned by firmware, monitor only", hb.brd, hb.cfg.Chip)
		return nil
	}
	if err != nil {
		return err
	}
	if err = hb.exec.Run(ctx, steps); err != nil {
		return err
	}

	found, err := hb.exec.Enumerate(ctx)
	if err != nil {
		return err
	}
	hb.found = found
	if found != hb.topo.Chips() {
		log.Errorf("Brd %d found %d chips, topology says %d", hb.brd, found, hb.topo.Chips())
	}

	if steps, err = hb.seq.PostResetConditioning(); err != nil {
		return err
	}
	if err = hb.exec.Run(ctx, steps); err != nil {
		return err
	}

	if err = hb.switchBaudRate(ctx); err != nil {
		return err
	}

	if hb.cfg.VersionRolling {
		if err = hb.enableVersionRolling(ctx, hb.cfg.VersionMask); err != nil {
			return err
		}
	}

	if hb.cfg.FrequencyMHz > 0 {
		if err = hb.ramp(ctx, hb.cfg.FrequencyMHz); err != nil {
			return err
		}
	}

	log.Infof("Brd %d up: %d chips at %s, %.2f TH/s theoretical",
		hb.brd, hb.found, hb.chip.HashFrequency(), hb.chip.TheoreticalHashrate()/1e12)
	return nil
}

func (hb *HashBoard) initializeSteps() ([]asic.Step, error) {
	if hb.seq == nil {
		return nil, asic.ErrNotSupported
	}
	return hb.seq.Initialize(hb.cfg.Difficulty, hb.topo.Domains, hb.topo.ChipsPerDomain, hb.topo.AddrInterval)
}

// switchBaudRate moves the chips to the configured rate first and the
// host side after, then flushes anything that arrived garbled in between.
func (hb *HashBoard) switchBaudRate(ctx context.Context) error {
	baud := hb.cfg.Baud
	if baud == 0 || baud == initialBaudRate {
		return nil
	}

	steps, err := hb.seq.SetBaudRate(baud, hb.topo.Domains, hb.topo.ChipsPerDomain, hb.topo.AddrInterval)
	if err != nil {
		return err
	}
	if err = hb.exec.Run(ctx, steps); err != nil {
		return err
	}
	if err = hb.cio.SetBaudRate(baud); err != nil {
		return err
	}
	time.Sleep(baudSettle)
	hb.cio.ClearReplies()
	log.Infof("Brd %d chain now at %d baud", hb.brd, baud)
	return nil
}

func (hb *HashBoard) ramp(ctx context.Context, mhz float64) error {
	target := physic.Frequency(mhz * float64(physic.MegaHertz))
	steps, err := hb.seq.RampHashFrequency(target)
	if err != nil {
		return err
	}
	return hb.exec.Run(ctx, steps)
}

// SetFrequency ramps the chain to a new hash frequency at runtime. Only
// upward ramps generate steps; a target at or below the current rate is a
// no-op.
func (hb *HashBoard) SetFrequency(ctx context.Context, mhz float64) error {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if hb.seq == nil {
		return asic.ErrNotSupported
	}
	return hb.ramp(ctx, mhz)
}

func (hb *HashBoard) enableVersionRolling(ctx context.Context, mask uint32) error {
	if mask == 0 {
		mask = defaultVersionMask
	}
	steps, err := hb.seq.EnableVersionRolling(mask, hb.topo.Domains, hb.topo.ChipsPerDomain, hb.topo.AddrInterval)
	if err != nil {
		return err
	}
	return hb.exec.Run(ctx, steps)
}

// EnableVersionRolling turns on version rolling across the chain at
// runtime. A zero mask selects the default rolling mask.
func (hb *HashBoard) EnableVersionRolling(ctx context.Context, mask uint32) error {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if hb.seq == nil {
		return asic.ErrNotSupported
	}
	return hb.enableVersionRolling(ctx, mask)
}

// ResetChipCore reissues the per chip core reset pass for one bus address.
func (hb *HashBoard) ResetChipCore(ctx context.Context, addr uint8) error {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if hb.seq == nil {
		return asic.ErrNotSupported
	}
	steps, err := hb.seq.ResetCore(asic.OneChip(addr))
	if err != nil {
		return err
	}
	return hb.exec.Run(ctx, steps)
}

// PollNonce pops one result frame and decodes its origin. Returns nil
// when the queue is empty.
func (hb *HashBoard) PollNonce() *NonceHit {
	if hb.cio == nil {
		return nil
	}
	r := hb.cio.PopNonceReply()
	if r == nil {
		return nil
	}

	hit := &NonceHit{
		Nonce:    r.Nonce,
		JobId:    r.JobId,
		Midstate: r.Midstate,
		ChipAddr: hb.chip.ChipAddress(r.Nonce),
		Core:     hb.chip.CoreID(r.Nonce),
	}
	if hb.chip.VersionRollingEnabled() {
		mask := hb.chip.VersionMask()
		hit.Version = uint32(r.Version) << uint(bits.TrailingZeros32(mask))
		hit.SmallCore = hb.chip.VersionSmallCoreID(hit.Version)
	} else {
		hit.SmallCore = hb.chip.SmallCoreID(r.Nonce)
	}
	return hit
}

func (hb *HashBoard) Chip() asic.Chip {
	return hb.chip
}

func (hb *HashBoard) Found() int {
	return hb.found
}

func (hb *HashBoard) Topology() Topology {
	return hb.topo
}

// IOStats reports chain traffic since open.
func (hb *HashBoard) IOStats() (rxFrames, rxBad, txFrames uint64) {
	if hb.cio == nil {
		return 0, 0, 0
	}
	return hb.cio.Stats()
}

func (hb *HashBoard) Close() error {
	if hb.cio == nil {
		return nil
	}
	return hb.cio.Close()
}
